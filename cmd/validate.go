package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/example/kiderace/internal/application/usecases"
	"github.com/spf13/cobra"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <event id or url>",
		Short: "Check the token and show the event's sale start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			cred, err := loadCredential(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
			defer cancel()

			s, err := usecases.ValidateSession{Client: newClient(cfg)}.Execute(ctx, cred, args[0])
			if err != nil {
				return err
			}
			printSession(cmd, s)
			return nil
		},
	}
}

func printSession(cmd *cobra.Command, s usecases.Session) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "user:        %s\n", s.UserName)
	fmt.Fprintf(out, "event:       %s (%s)\n", s.Product.Name, s.Product.ID)
	if s.Product.SalesFrom.IsZero() {
		fmt.Fprintln(out, "sales start: unknown")
		return
	}
	fmt.Fprintf(out, "sales start: %s\n", s.Product.SalesFrom.Local().Format(time.RFC1123))
}
