// Command server runs the assistant relay: a catalog API for threads and
// assistants plus a WebSocket endpoint that streams assistant turns to every
// connection watching a thread.
//
// Start the server:
//
//	server serve --config assistant-relay.yaml
//
// Mint a development token:
//
//	server token --sub user-1 --ttl 24h
//
// Configuration is read from an optional file and ASSISTANT_* environment
// variables, for example ASSISTANT_AUTH_JWT_SECRET and
// ASSISTANT_OPENAI_API_KEY.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/assistant-relay/backend/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "server",
		Short:         "Assistant relay server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to a config file (default ./assistant-relay.{yaml,toml,json})")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(v, configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}

	rootCmd.AddCommand(
		newServeCmd(v, load),
		newTokenCmd(load),
		newMigrateCmd(load),
	)

	return rootCmd
}

// loadFunc loads the configuration once flags have been parsed.
type loadFunc func() (*config.Config, error)

// bindFlag lets a command flag override its config key.
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}
