package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/example/kiderace/internal/config"
	"github.com/example/kiderace/internal/credential"
	"github.com/example/kiderace/internal/kide"
	"github.com/example/kiderace/internal/race"
	"github.com/example/kiderace/internal/report"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	format     string

	logOut io.Writer
	cfg    *config.Config
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "kiderace",
		Short:         "Race the Kide.app ticket sale: detect inventory the moment it opens and reserve it",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.logOut = cmd.ErrOrStderr()
			return opts.setLogger(opts.logLevel)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "YAML config file (default $"+config.EnvFile+")")
	f.StringVar(&opts.logLevel, "log-level", "", "debug|info|warn|error (default from config)")
	f.StringVar(&opts.logFormat, "log-format", "console", "console|json")
	f.StringVar(&opts.format, "format", "text", "output format: text|json")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newKeysCmd())
	root.AddCommand(newTokenCmd(opts))
	root.AddCommand(newValidateCmd(opts))
	root.AddCommand(newRaceCmd(opts))
	root.AddCommand(newHistoryCmd(opts))

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *rootOptions) setLogger(level string) error {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)

	out := o.logOut
	if out == nil {
		out = os.Stderr
	}
	switch o.logFormat {
	case "json":
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	case "console", "":
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}).With().Timestamp().Logger()
	default:
		return fmt.Errorf("invalid log format %q (want console or json)", o.logFormat)
	}
	return nil
}

// config loads the configuration once per invocation. A log level from the
// config applies unless --log-level was given.
func (o *rootOptions) config() (config.Config, error) {
	if o.cfg != nil {
		return *o.cfg, nil
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.logLevel == "" {
		if err := o.setLogger(cfg.LogLevel); err != nil {
			return config.Config{}, err
		}
	}
	log.Debug().Interface("config", cfg.Redacted()).Msg("config loaded")
	o.cfg = &cfg
	return cfg, nil
}

func (o *rootOptions) outputFormat() (report.Format, error) {
	return report.ParseFormat(o.format)
}

func sealerFor(cfg config.Config) (*credential.Sealer, error) {
	if cfg.TokenKey == nil {
		return nil, nil
	}
	return credential.NewSealer(cfg.TokenKey)
}

func loadCredential(cfg config.Config) (race.Credential, error) {
	s, err := sealerFor(cfg)
	if err != nil {
		return "", err
	}
	return credential.Load(cfg.CredentialFile, s)
}

func newClient(cfg config.Config) *kide.Client {
	return kide.New(kide.Options{
		BaseURL:  cfg.APIBaseURL,
		Timeout:  cfg.RequestTimeout,
		MaxConns: cfg.MaxConns,
	})
}
