package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"prism-board/config"
	"prism-board/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the tables, queues or SQL schema of the configured backend",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.StorageBackend == config.BackendSQL {
		_, closeStore, err := storage.Open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return closeStore()
	}
	if err := cfg.CheckStorage(); err != nil {
		return err
	}
	if err := storage.Provision(ctx, cfg.StorageConnStr, []string{cfg.BoardTable, cfg.ProjectsTable}, []string{cfg.EventsQueue}); err != nil {
		return fmt.Errorf("failed to provision: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "tables and queues ready")
	return nil
}
