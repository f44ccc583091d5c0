package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/assistant-relay/backend/internal/db"
)

func newMigrateCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the catalog tables and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if _, err := openCatalog(cfg.Database); err != nil {
				return err
			}
			defer db.CloseDB()

			fmt.Fprintf(cmd.OutOrStdout(), "catalog schema is up to date (%s)\n", cfg.Database.Driver)
			return nil
		},
	}
}
