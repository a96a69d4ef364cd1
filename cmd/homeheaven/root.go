// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/homeheaven/homeheaven/internal/config"
	"github.com/homeheaven/homeheaven/internal/xdg"
)

// NewRootCmd creates the root command for the HomeHeaven CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "homeheaven",
		Short: "HomeHeaven - account and session service",
		Long: `HomeHeaven serves account registration, login, bearer token
verification and password recovery for the HomeHeaven rental platform.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (YAML, default: $XDG_CONFIG_HOME/homeheaven/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewAdminCmd())
	cmd.AddCommand(NewHashPasswordCmd())

	return cmd
}

// loadConfig reads the --config file, or config.yaml in the XDG config
// directory when --config is not given, and the command's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		path = ""
	}
	if path == "" {
		path, err = xdg.DefaultConfigFile()
		if err != nil {
			return nil, err //nolint:wrapcheck // xdg errors carry codes
		}
	}
	//nolint:wrapcheck // config errors carry codes
	return config.Load(path, cmd.Flags())
}

// addDatabaseFlag registers only the database flag for commands that need
// nothing else from the configuration.
func addDatabaseFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL (default: $"+config.EnvDatabaseURL+")")
}
