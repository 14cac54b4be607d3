// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the plughost CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plughost",
		Short: "plughost - a local HTTP host for native plugins",
		Long: `plughost discovers plugin packages in a directory, loads their
native libraries and exposes their routes and UI assets over local HTTP.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/plughost/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewPluginsCmd())

	return cmd
}
