package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opencommander/opencommander/internal/auth"
	"github.com/opencommander/opencommander/internal/config"
	"github.com/opencommander/opencommander/internal/domain"
	"github.com/opencommander/opencommander/internal/store"
)

func newCreateAdminCmd() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Provision an admin user and print a bearer API key for it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return fmt.Errorf("--username is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			st, err := store.NewSQLite(cfg.Paths.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			apiKey, err := generateAPIKey()
			if err != nil {
				return err
			}
			hash, err := auth.HashAPIKey(apiKey)
			if err != nil {
				return err
			}

			user := &domain.User{Username: username, IsAdmin: true, APIKeyHash: hash}
			if err := st.CreateUser(context.Background(), user); err != nil {
				return err
			}

			fmt.Printf("created admin user %q (id: %s)\n", username, user.ID)
			fmt.Printf("API key (shown once, store it securely): %s\n", apiKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username for the new admin account")
	return cmd
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "oc_" + hex.EncodeToString(buf), nil
}
