package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/assistant-relay/backend/internal/auth"
)

func newTokenCmd(load loadFunc) *cobra.Command {
	var (
		sub   string
		email string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed token for connecting to the WebSocket endpoint",
		Example: `  # Token for user-1 valid for a day
  server token --sub user-1 --ttl 24h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sub == "" {
				return errors.New("--sub is required")
			}
			cfg, err := load()
			if err != nil {
				return err
			}

			token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).
				Generate(auth.Principal{ID: sub, Email: email}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&sub, "sub", "", "User id placed in the sub claim")
	cmd.Flags().StringVar(&email, "email", "", "Optional email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime (0 for no expiry)")

	return cmd
}
