package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opencommander/opencommander/internal/config"
	"github.com/opencommander/opencommander/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the SQLite schema at the configured database path",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			st, err := store.NewSQLite(cfg.Paths.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Ping(context.Background()); err != nil {
				return err
			}

			fmt.Printf("schema is up to date at %s\n", cfg.Paths.DBPath)
			return nil
		},
	}
}
