package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"forecast-sender/internal/logging"
)

var tokenForce bool

// tokenCmd acquires (or reuses) a bearer token and prints its expiry.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Acquire a bearer token and show its expiry",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if tokenForce {
			a.tokens.Invalidate()
		}
		reused := a.tokens.Valid()
		token, err := a.tokens.Ensure(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "token:      %s\n", logging.TokenPreview(token.Value))
		fmt.Fprintf(cmd.OutOrStdout(), "issued at:  %s\n", token.IssuedAt.Format(time.RFC3339))
		fmt.Fprintf(cmd.OutOrStdout(), "expires at: %s\n", token.ExpiresAt.Format(time.RFC3339))
		fmt.Fprintf(cmd.OutOrStdout(), "cached:     %t\n", reused)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().BoolVar(&tokenForce, "force", false, "Discard any cached token and acquire a new one")
}
