package cmd

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/example/kiderace/internal/credential"
	"github.com/example/kiderace/internal/race"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"KIDERACE_CONFIG", "KIDE_API_BASE", "KIDE_CREDENTIAL_FILE", "KIDE_TOKEN_KEY",
		"KIDE_POLL_INTERVAL_MS", "KIDE_RACE_TIMEOUT_SECONDS", "KIDE_REQUEST_TIMEOUT_SECONDS",
		"KIDE_MAX_CONNS", "DATABASE_URL", "METRICS_ADDR", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.Execute()
	return out.String(), err
}

type vendor struct {
	reservations atomic.Int64
	reserveCode  int
}

func (v *vendor) start(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/authentication/user":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, `{"model":{"fullName":"Maija"}}`)
		case "/api/products/ev1":
			_, _ = io.WriteString(w, `{"model":{"product":{"id":"ev1","name":"Wappu","dateSalesFrom":"2020-01-01T10:00:00Z"},"variants":[
				{"inventoryId":"A","name":"Opiskelija","productVariantMaximumReservableQuantity":2},
				{"inventoryId":"B","name":"Normaali","productVariantMaximumReservableQuantity":1}]}}`)
		case "/api/reservations":
			v.reservations.Add(1)
			code := v.reserveCode
			if code == 0 {
				code = http.StatusOK
			}
			w.WriteHeader(code)
			_, _ = io.WriteString(w, `{"model":{}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/api"
}

func setupRace(t *testing.T, v *vendor) {
	t.Helper()
	isolateEnv(t)
	credFile := filepath.Join(t.TempDir(), "user.txt")
	require.NoError(t, os.WriteFile(credFile, []byte("tok\n"), 0o600))
	t.Setenv("KIDE_API_BASE", v.start(t))
	t.Setenv("KIDE_CREDENTIAL_FILE", credFile)
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "kiderace dev (commit=none, built=unknown)\n", out)
}

func TestKeysCmd(t *testing.T) {
	out, err := run(t, "", "keys")
	require.NoError(t, err)

	v, ok := strings.CutPrefix(strings.TrimSpace(out), "export KIDE_TOKEN_KEY=")
	require.True(t, ok, out)
	key, err := base64.StdEncoding.DecodeString(v)
	require.NoError(t, err)
	assert.Len(t, key, credential.KeySize)
}

func TestTokenSealCmd(t *testing.T) {
	isolateEnv(t)
	key := bytes.Repeat([]byte{3}, credential.KeySize)
	t.Setenv("KIDE_TOKEN_KEY", base64.StdEncoding.EncodeToString(key))
	path := filepath.Join(t.TempDir(), "sealed.txt")

	_, err := run(t, "raw-token\n", "token", "seal", "--out", path)
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "raw-token")

	s, err := credential.NewSealer(key)
	require.NoError(t, err)
	cred, err := credential.Load(path, s)
	require.NoError(t, err)
	assert.Equal(t, race.Credential("Bearer raw-token"), cred)
}

func TestTokenSealCmd_NeedsKey(t *testing.T) {
	isolateEnv(t)
	_, err := run(t, "raw-token\n", "token", "seal", "--out", filepath.Join(t.TempDir(), "x"))
	assert.ErrorContains(t, err, "KIDE_TOKEN_KEY")
}

func TestValidateCmd(t *testing.T) {
	v := &vendor{}
	setupRace(t, v)

	out, err := run(t, "", "validate", "https://kide.app/events/ev1")
	require.NoError(t, err)
	assert.Contains(t, out, "user:        Maija")
	assert.Contains(t, out, "event:       Wappu (ev1)")
}

func TestRaceCmd_Reserves(t *testing.T) {
	v := &vendor{}
	setupRace(t, v)

	out, err := run(t, "", "race", "ev1", "--yes", "--tag", "opiskelija",
		"--interval", "5ms", "--timeout", "2s", "--format", "json", "--log-level", "error")
	require.NoError(t, err)

	assert.Contains(t, out, `"result": "reserved"`)
	assert.Contains(t, out, `"succeeded": 3`)
	assert.Equal(t, int64(3), v.reservations.Load())
}

func TestRaceCmd_NothingReservedExitsNonZero(t *testing.T) {
	v := &vendor{reserveCode: http.StatusConflict}
	setupRace(t, v)

	out, err := run(t, "", "race", "ev1", "--yes", "--interval", "5ms", "--timeout", "2s", "--log-level", "error")
	assert.ErrorIs(t, err, errNothingReserved)
	assert.Contains(t, out, "unreserved (0 reserved, 2 failed)")
	assert.Equal(t, int64(2), v.reservations.Load())
}

func TestRaceCmd_ConfirmationDeclined(t *testing.T) {
	v := &vendor{}
	setupRace(t, v)

	out, err := run(t, "n\n", "race", "ev1", "--log-level", "error")
	assert.ErrorIs(t, err, errAborted)
	assert.Contains(t, out, "Start the race? [y/N]")
	assert.Equal(t, int64(0), v.reservations.Load())
}

func TestRaceCmd_BadCredential(t *testing.T) {
	v := &vendor{}
	setupRace(t, v)
	credFile := filepath.Join(t.TempDir(), "user.txt")
	require.NoError(t, os.WriteFile(credFile, []byte("Bearer wrong\n"), 0o600))
	t.Setenv("KIDE_CREDENTIAL_FILE", credFile)

	_, err := run(t, "", "race", "ev1", "--yes", "--log-level", "error")
	assert.Error(t, err)
	assert.Equal(t, int64(0), v.reservations.Load())
}

func TestRootCmd_BadFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "log level", args: []string{"version", "--log-level", "loud"}},
		{name: "log format", args: []string{"version", "--log-format", "xml"}},
		{name: "output format", args: []string{"race", "ev1", "--format", "yaml"}},
		{name: "history without database", args: []string{"history"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			_, err := run(t, "", tt.args...)
			assert.Error(t, err)
		})
	}
}
