package config

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvFile names the environment variable holding the config file path.
const EnvFile = "KIDERACE_CONFIG"

type Config struct {
	APIBaseURL     string
	CredentialFile string
	// TokenKey unseals a sealed credential file (32 bytes, base64).
	TokenKey []byte

	PollInterval   time.Duration
	RaceTimeout    time.Duration
	RequestTimeout time.Duration
	MaxConns       int

	// DatabaseURL enables race history when set.
	DatabaseURL string
	// MetricsAddr enables the metrics listener when set.
	MetricsAddr string
	LogLevel    string
}

// file mirrors Config in the YAML file. Zero values leave the default alone.
type file struct {
	APIBaseURL            string `yaml:"api_base_url"`
	CredentialFile        string `yaml:"credential_file"`
	TokenKey              string `yaml:"token_key"`
	PollIntervalMS        int    `yaml:"poll_interval_ms"`
	RaceTimeoutSeconds    int    `yaml:"race_timeout_seconds"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	MaxConns              int    `yaml:"max_conns"`
	DatabaseURL           string `yaml:"database_url"`
	MetricsAddr           string `yaml:"metrics_addr"`
	LogLevel              string `yaml:"log_level"`
}

func Default() Config {
	return Config{
		APIBaseURL:     "https://api.kide.app/api",
		CredentialFile: "user.txt",
		PollInterval:   50 * time.Millisecond,
		RaceTimeout:    30 * time.Second,
		RequestTimeout: 30 * time.Second,
		MaxConns:       10,
		LogLevel:       "info",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path (or $KIDERACE_CONFIG), and the environment, in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvFile))
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := cfg.applyFile(b); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(b []byte) error {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	setString(&c.APIBaseURL, f.APIBaseURL)
	setString(&c.CredentialFile, f.CredentialFile)
	setString(&c.DatabaseURL, f.DatabaseURL)
	setString(&c.MetricsAddr, f.MetricsAddr)
	setString(&c.LogLevel, f.LogLevel)
	if f.TokenKey != "" {
		k, err := decodeKey(f.TokenKey)
		if err != nil {
			return fmt.Errorf("token_key: %w", err)
		}
		c.TokenKey = k
	}
	if f.PollIntervalMS != 0 {
		c.PollInterval = time.Duration(f.PollIntervalMS) * time.Millisecond
	}
	if f.RaceTimeoutSeconds != 0 {
		c.RaceTimeout = time.Duration(f.RaceTimeoutSeconds) * time.Second
	}
	if f.RequestTimeoutSeconds != 0 {
		c.RequestTimeout = time.Duration(f.RequestTimeoutSeconds) * time.Second
	}
	if f.MaxConns != 0 {
		c.MaxConns = f.MaxConns
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.APIBaseURL, envString("KIDE_API_BASE"))
	setString(&c.CredentialFile, envString("KIDE_CREDENTIAL_FILE"))
	setString(&c.DatabaseURL, envString("DATABASE_URL"))
	setString(&c.MetricsAddr, envString("METRICS_ADDR"))
	setString(&c.LogLevel, envString("LOG_LEVEL"))

	if v := envString("KIDE_TOKEN_KEY"); v != "" {
		k, err := decodeKey(v)
		if err != nil {
			return fmt.Errorf("KIDE_TOKEN_KEY: %w", err)
		}
		c.TokenKey = k
	}

	var err error
	if c.PollInterval, err = envDuration("KIDE_POLL_INTERVAL_MS", time.Millisecond, c.PollInterval); err != nil {
		return err
	}
	if c.RaceTimeout, err = envDuration("KIDE_RACE_TIMEOUT_SECONDS", time.Second, c.RaceTimeout); err != nil {
		return err
	}
	if c.RequestTimeout, err = envDuration("KIDE_REQUEST_TIMEOUT_SECONDS", time.Second, c.RequestTimeout); err != nil {
		return err
	}
	if v := envString("KIDE_MAX_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid KIDE_MAX_CONNS %q", v)
		}
		c.MaxConns = n
	}
	return nil
}

func (c Config) validate() error {
	switch {
	case c.PollInterval <= 0:
		return errors.New("config: poll interval must be positive")
	case c.RaceTimeout <= 0:
		return errors.New("config: race timeout must be positive")
	case c.RequestTimeout <= 0:
		return errors.New("config: request timeout must be positive")
	case c.MaxConns < 1:
		return errors.New("config: max conns must be at least 1")
	case c.TokenKey != nil && len(c.TokenKey) != 32:
		return fmt.Errorf("config: token key must decode to 32 bytes (got %d)", len(c.TokenKey))
	}
	return nil
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.TokenKey != nil {
		c.TokenKey = []byte("[redacted]")
	}
	if c.DatabaseURL != "" {
		c.DatabaseURL = redactURL(c.DatabaseURL)
	}
	return c
}

func redactURL(s string) string {
	at := strings.LastIndex(s, "@")
	scheme := strings.Index(s, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return s
	}
	userinfo := s[scheme+3 : at]
	if user, _, ok := strings.Cut(userinfo, ":"); ok {
		return s[:scheme+3] + user + ":xxxxx" + s[at:]
	}
	return s
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func envString(k string) string {
	return strings.TrimSpace(os.Getenv(k))
}

func envDuration(k string, unit, def time.Duration) (time.Duration, error) {
	v := envString(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", k, v)
	}
	return time.Duration(n) * unit, nil
}

// decodeKey accepts base64 or a path to a file holding it (secret mounts).
func decodeKey(v string) ([]byte, error) {
	if b, err := os.ReadFile(v); err == nil {
		v = string(b)
	}
	v = strings.TrimSpace(v)
	if b, err := base64.StdEncoding.DecodeString(v); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(v)
}
