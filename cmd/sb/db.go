package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/settings"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var (
		configPath string
		overwrite  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Switchboard database",
		Long: `Migrates all tables and seeds the platform settings table from the
platform section of the config. Settings an administrator already changed
are kept unless --overwrite-settings is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath, overwrite)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().BoolVar(&overwrite, "overwrite-settings", false, "replace stored platform settings with the config values")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string, overwrite bool) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s database\n", cfg.Database.Driver)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if err := settings.Seed(context.Background(), gormDB, cfg.Platform, overwrite); err != nil {
		return err
	}
	fmt.Fprintln(out, "Platform settings seeded")

	fmt.Fprintln(out, "\nSwitchboard database initialized successfully.")
	return nil
}
