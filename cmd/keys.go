package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/example/kiderace/internal/credential"
	"github.com/spf13/cobra"
)

func newKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Generate a KIDE_TOKEN_KEY value (base64) for sealing the token file",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, credential.KeySize)
			if _, err := rand.Read(key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "export KIDE_TOKEN_KEY=%s\n", base64.StdEncoding.EncodeToString(key))
			return nil
		},
	}
}
