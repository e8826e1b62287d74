package credential

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/example/kiderace/internal/race"
)

// DefaultFile is read from the working directory when no path is configured.
const DefaultFile = "user.txt"

var (
	ErrEmpty  = errors.New("credential: token is empty")
	ErrSealed = errors.New("credential: token file is sealed; set KIDE_TOKEN_KEY")
)

// Load reads a token file. Sealed files need a sealer. A token without an
// auth scheme is sent as a bearer token.
func Load(path string, sealer *Sealer) (race.Credential, error) {
	if path == "" {
		path = DefaultFile
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("credential: read %s: %w", path, err)
	}

	token := strings.TrimSpace(string(b))
	if strings.HasPrefix(token, SealedPrefix) {
		if sealer == nil {
			return "", ErrSealed
		}
		if token, err = sealer.Unseal(token); err != nil {
			return "", err
		}
	}
	return Parse(token)
}

// Parse normalises a raw token string into a credential.
func Parse(token string) (race.Credential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrEmpty
	}
	if !hasScheme(token) {
		token = "Bearer " + token
	}
	return race.Credential(token), nil
}

func hasScheme(token string) bool {
	scheme, rest, ok := strings.Cut(token, " ")
	return ok && strings.TrimSpace(rest) != "" && strings.EqualFold(scheme, "bearer")
}
