// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/logging"
	"github.com/gatekeep/gatekeep/internal/xdg"
)

// serviceName identifies this binary in logs.
const serviceName = "gatekeep"

// Global flags available to all subcommands.
var (
	configFile string
	envFile    string
)

// NewRootCmd creates the root command for the gatekeep CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatekeep",
		Short: "gatekeep - username/password authentication service",
		Long: `gatekeep registers accounts and verifies credentials over a small
JSON HTTP API, storing salted password hashes in memory, SQLite or PostgreSQL.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML, default $XDG_CONFIG_HOME/gatekeep/config.yaml if present)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load (ignored if missing)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewAccountsCmd())
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewSmokeCmd())

	return cmd
}

// loadConfig resolves configuration for cmd from all sources.
// Without --config, the XDG config file is used when it exists.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	file := configFile
	if file == "" {
		path, ok, err := xdg.ConfigFile()
		if err != nil {
			return nil, err //nolint:wrapcheck // xdg errors already carry codes
		}
		if ok {
			file = path
		}
	}
	//nolint:wrapcheck // config errors already carry codes and context
	return config.Load(config.LoadOptions{
		File:    file,
		EnvFile: envFile,
		Flags:   cmd.Flags(),
	})
}

// newLogger builds the process logger from cfg. A nil w writes to stderr.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	return logging.Setup(serviceName, version, cfg.Log.Format, level, w)
}
