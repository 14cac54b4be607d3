// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

// Package xdg provides XDG Base Directory paths for plughost.
package xdg

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "plughost"

func base(envVar string, fallback ...string) (string, error) {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", envVar, err)
	}
	parts := append([]string{home}, fallback...)
	return filepath.Join(append(parts, appName)...), nil
}

// ConfigDir returns the config directory (XDG_CONFIG_HOME or ~/.config).
func ConfigDir() (string, error) {
	return base("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the data directory (XDG_DATA_HOME or ~/.local/share).
func DataDir() (string, error) {
	return base("XDG_DATA_HOME", ".local", "share")
}

// StateDir returns the state directory (XDG_STATE_HOME or ~/.local/state).
func StateDir() (string, error) {
	return base("XDG_STATE_HOME", ".local", "state")
}

// PluginsDir returns the default directory scanned for plugin packages.
func PluginsDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "plugins"), nil
}

// ConfigFile returns the default config file path.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}
