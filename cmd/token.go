package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/example/kiderace/internal/credential"
	"github.com/spf13/cobra"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the Kide.app token file",
	}
	cmd.AddCommand(newTokenSealCmd(opts))
	return cmd
}

func newTokenSealCmd(opts *rootOptions) *cobra.Command {
	var out string

	c := &cobra.Command{
		Use:   "seal",
		Short: "Read a token from stdin and write it sealed with KIDE_TOKEN_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			s, err := sealerFor(cfg)
			if err != nil {
				return err
			}
			if s == nil {
				return errors.New("KIDE_TOKEN_KEY is required; generate one with `kiderace keys`")
			}

			sc := bufio.NewScanner(cmd.InOrStdin())
			sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
			var token string
			if sc.Scan() {
				token = sc.Text()
			}
			if err := sc.Err(); err != nil {
				return err
			}
			// Normalise first so a raw token is sealed with its scheme.
			cred, err := credential.Parse(token)
			if err != nil {
				return err
			}
			sealed, err := s.Seal(string(cred))
			if err != nil {
				return err
			}

			if out == "" {
				out = cfg.CredentialFile
			}
			if err := os.WriteFile(out, []byte(sealed+"\n"), 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sealed token written to %s\n", out)
			return nil
		},
	}

	c.Flags().StringVar(&out, "out", "", "target file (default: configured credential file)")
	return c
}
