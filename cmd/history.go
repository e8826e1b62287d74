package cmd

import (
	"errors"
	"fmt"

	"github.com/example/kiderace/internal/db"
	"github.com/example/kiderace/internal/history"
	"github.com/example/kiderace/internal/kide"
	"github.com/example/kiderace/internal/migrate"
	"github.com/example/kiderace/internal/report"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		eventRef string
		limit    int
		runID    string
	)

	c := &cobra.Command{
		Use:   "history",
		Short: "List recorded races, or the outcomes of one run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			format, err := opts.outputFormat()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required for history")
			}

			ctx := cmd.Context()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := migrate.Up(ctx, d); err != nil {
				return err
			}
			repo := history.NewRepo(d)

			if runID != "" {
				id, err := uuid.Parse(runID)
				if err != nil {
					return fmt.Errorf("invalid --run: %w", err)
				}
				outs, err := repo.Outcomes(ctx, id)
				if err != nil {
					return err
				}
				return report.WriteOutcomes(cmd.OutOrStdout(), outs, format)
			}

			var eventID string
			if eventRef != "" {
				if eventID, err = kide.ParseEventID(eventRef); err != nil {
					return err
				}
			}
			runs, err := repo.ListRecent(ctx, eventID, limit)
			if err != nil {
				return err
			}
			return report.WriteRuns(cmd.OutOrStdout(), runs, format)
		},
	}

	c.Flags().StringVar(&eventRef, "event", "", "only races for this event (id or url)")
	c.Flags().IntVar(&limit, "limit", history.DefaultLimit, "maximum runs to list")
	c.Flags().StringVar(&runID, "run", "", "show the outcomes of this run id")
	return c
}
