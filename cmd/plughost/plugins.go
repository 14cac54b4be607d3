// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/plughost/plughost/internal/config"
	"github.com/plughost/plughost/internal/plugin"
)

// NewPluginsCmd creates the plugins subcommand group.
func NewPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect and validate plugin packages",
	}

	cmd.AddCommand(newPluginsListCmd())
	cmd.AddCommand(newPluginsValidateCmd())
	cmd.AddCommand(newPluginsSchemaCmd())

	return cmd
}

// listConfig holds configuration for the plugins list command.
type listConfig struct {
	jsonOutput bool
}

func newPluginsListCmd() *cobra.Command {
	cfg := &listConfig{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the plugins discovered in the plugins directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hostCfg, err := config.Load(config.Options{File: configFile, Flags: cmd.Flags()})
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runPluginsList(cmd, hostCfg, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output plugins as JSON")
	cmd.Flags().String("plugins-dir", "", "plugins directory (default: XDG_DATA_HOME/plughost/plugins)")
	cmd.Flags().StringSlice("ignore", plugin.DefaultIgnore, "glob patterns of plugin directories to skip")

	return cmd
}

// runPluginsList discovers plugins without loading any library.
func runPluginsList(cmd *cobra.Command, hostCfg *config.Config, cfg *listConfig) error {
	patterns, err := plugin.CompileIgnore(hostCfg.Plugins.Ignore)
	if err != nil {
		return err
	}
	manager := plugin.NewManager(hostCfg.Plugins.Dir, plugin.WithIgnore(patterns...))
	infos, err := manager.Discover(cmd.Context())
	if err != nil {
		return fmt.Errorf("discover plugins: %w", err)
	}
	if infos == nil {
		infos = []*plugin.Info{}
	}

	if cfg.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(infos); err != nil {
			return fmt.Errorf("failed to encode plugins: %w", err)
		}
		return nil
	}

	if len(infos) == 0 {
		cmd.Printf("no plugins found in %s\n", hostCfg.Plugins.Dir)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tBACKEND\tFRONTEND\tROUTES")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			info.ID, info.Version, yesNo(info.HasBackend), yesNo(info.HasFrontend), len(info.Routes))
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func newPluginsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plugin-dir>...",
		Short: "Validate plugin manifests against the manifest schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPluginsValidate(cmd, args)
		},
	}
}

// runPluginsValidate checks each directory's manifest and reports every
// failure before returning.
func runPluginsValidate(cmd *cobra.Command, dirs []string) error {
	failed := 0
	for _, dir := range dirs {
		if err := validatePluginDir(dir); err != nil {
			failed++
			cmd.PrintErrf("%s: %s\n", dir, plugin.FormatSchemaError(err))
			continue
		}
		cmd.Printf("%s: ok\n", dir)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d plugin(s) invalid", failed, len(dirs))
	}
	return nil
}

func validatePluginDir(dir string) error {
	mf, path, err := plugin.ReadManifest(dir)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from ReadManifest
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	if err := plugin.ValidateSchema(data); err != nil {
		return err
	}

	var missing []string
	if mf.HasBackend && findAny(dir, mf.LibraryCandidates()) == "" {
		missing = append(missing, "library ("+strings.Join(mf.LibraryCandidates(), " or ")+")")
	}
	if mf.HasFrontend {
		if st, err := os.Stat(filepath.Join(dir, mf.Frontend)); err != nil || !st.IsDir() {
			missing = append(missing, "frontend directory "+mf.Frontend)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func findAny(dir string, names []string) string {
	for _, name := range names {
		if st, err := os.Stat(filepath.Join(dir, name)); err == nil && st.Mode().IsRegular() {
			return name
		}
	}
	return ""
}

// schemaConfig holds configuration for the plugins schema command.
type schemaConfig struct {
	out string
}

func newPluginsSchemaCmd() *cobra.Command {
	cfg := &schemaConfig{}

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the plugin manifest JSON Schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPluginsSchema(cmd, cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.out, "out", "o", "", "write the schema to a file instead of stdout")

	return cmd
}

func runPluginsSchema(cmd *cobra.Command, cfg *schemaConfig) error {
	schema, err := plugin.GenerateSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	if cfg.out == "" {
		_, err := cmd.OutOrStdout().Write(append(schema, '\n'))
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.out), 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(cfg.out, schema, 0o600); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	cmd.Printf("Generated %s\n", cfg.out)
	return nil
}
