package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/example/kiderace/internal/application/usecases"
	"github.com/example/kiderace/internal/clock"
	"github.com/example/kiderace/internal/config"
	"github.com/example/kiderace/internal/db"
	"github.com/example/kiderace/internal/health"
	"github.com/example/kiderace/internal/history"
	"github.com/example/kiderace/internal/metrics"
	"github.com/example/kiderace/internal/migrate"
	"github.com/example/kiderace/internal/race"
	"github.com/example/kiderace/internal/report"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// errNothingReserved makes the process exit non-zero.
var errNothingReserved = errors.New("no reservation succeeded")

var errAborted = errors.New("aborted")

type raceFlags struct {
	tag       string
	timeout   time.Duration
	lead      time.Duration
	interval  time.Duration
	yes       bool
	noHistory bool
}

func newRaceCmd(opts *rootOptions) *cobra.Command {
	var fl raceFlags

	c := &cobra.Command{
		Use:   "race <event id or url>",
		Short: "Wait for the sale, poll for inventory and reserve every variant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			format, err := opts.outputFormat()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("timeout") {
				fl.timeout = cfg.RaceTimeout
			}
			if !cmd.Flags().Changed("interval") {
				fl.interval = cfg.PollInterval
			}
			if fl.interval <= 0 || fl.timeout <= 0 {
				return errors.New("--interval and --timeout must be positive")
			}

			cred, err := loadCredential(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := newClient(cfg)
			vctx, vcancel := context.WithTimeout(ctx, cfg.RequestTimeout)
			session, err := usecases.ValidateSession{Client: client}.Execute(vctx, cred, args[0])
			vcancel()
			if err != nil {
				return err
			}
			printSession(cmd, session)

			if !fl.yes {
				ok, err := confirm(cmd, "Start the race?")
				if err != nil {
					return err
				}
				if !ok {
					return errAborted
				}
			}

			ready := &health.Readiness{}
			if cfg.MetricsAddr != "" {
				mux := http.NewServeMux()
				metrics.Register(mux)
				health.Register(mux, ready)
				go func() {
					if err := health.Serve(ctx, cfg.MetricsAddr, mux); err != nil {
						log.Error().Err(err).Msg("metrics server failed")
					}
				}()
			}

			u := usecases.RaceEvent{
				Poller: &race.Poller{
					Source:   client,
					Interval: fl.interval,
					OnStart:  ready.MarkReady,
				},
				Dispatcher: &race.Dispatcher{Allocator: client},
				Clock:      clock.System,
			}
			if !fl.noHistory {
				if rec, closeFn := openRecorder(ctx, cfg); rec != nil {
					defer closeFn()
					u.Recorder = rec
				}
			}

			rep, err := u.Execute(ctx, usecases.RaceInput{
				EventID:    session.Product.ID,
				EventName:  session.Product.Name,
				SalesFrom:  session.Product.SalesFrom,
				Credential: cred,
				Tag:        fl.tag,
				Lead:       fl.lead,
				Timeout:    fl.timeout,
			})
			if err != nil {
				return err
			}
			if err := report.Write(cmd.OutOrStdout(), rep, format); err != nil {
				return err
			}
			if rep.Succeeded() == 0 {
				return errNothingReserved
			}
			return nil
		},
	}

	f := c.Flags()
	f.StringVar(&fl.tag, "tag", "", "reserve variants whose name contains this first (case-insensitive)")
	f.DurationVar(&fl.timeout, "timeout", config.Default().RaceTimeout, "how long to poll for inventory")
	f.DurationVar(&fl.lead, "lead", 0, "start polling this long before the sale opens")
	f.DurationVar(&fl.interval, "interval", config.Default().PollInterval, "poll launch interval")
	f.BoolVarP(&fl.yes, "yes", "y", false, "do not ask for confirmation")
	f.BoolVar(&fl.noHistory, "no-history", false, "do not record the race in the database")
	return c
}

// openRecorder connects the history store. History is best effort: any
// failure is logged and the race runs without it.
func openRecorder(ctx context.Context, cfg config.Config) (usecases.Recorder, func()) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	d, err := db.Open(ctx, cfg.DatabaseURL)
	if err == nil {
		err = d.Ping(ctx)
		if err == nil {
			err = migrate.Up(ctx, d)
		}
		if err != nil {
			d.Close()
		}
	}
	if err != nil {
		log.Warn().Err(err).Msg("history disabled")
		return nil, nil
	}
	return history.NewRepo(d), d.Close
}

func confirm(cmd *cobra.Command, question string) (bool, error) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N] ", question)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
