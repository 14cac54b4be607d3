// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plughost/plughost/internal/config"
	"github.com/plughost/plughost/pkg/errutil"
)

// isolate points the XDG directories at a temp dir and returns it.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	return dir
}

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoad_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := config.Load(config.Options{Flags: flags(t)})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:3030", cfg.HTTP.Addr)
	assert.Equal(t, int64(32<<20), cfg.HTTP.MaxBodyBytes)
	assert.Empty(t, cfg.HTTP.StaticDir)
	assert.Equal(t, filepath.Join(dir, "data", "plughost", "plugins"), cfg.Plugins.Dir)
	assert.Equal(t, []string{".*", "_*"}, cfg.Plugins.Ignore)
	assert.True(t, cfg.Plugins.Watch)
	assert.Zero(t, cfg.Bridge.CallTimeout)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_NilFlags(t *testing.T) {
	isolate(t)

	cfg, err := config.Load(config.Options{})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:3030", cfg.HTTP.Addr)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "plughost.yaml")
	writeConfig(t, path, `
http:
  addr: 127.0.0.1:4000
  max_body_bytes: 1024
plugins:
  dir: /opt/plugins
  ignore: ["disabled-*"]
  watch: false
bridge:
  call_timeout: 5s
metrics:
  addr: ""
log:
  format: text
  level: debug
`)

	cfg, err := config.Load(config.Options{File: path, Flags: flags(t)})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:4000", cfg.HTTP.Addr)
	assert.Equal(t, int64(1024), cfg.HTTP.MaxBodyBytes)
	assert.Equal(t, "/opt/plugins", cfg.Plugins.Dir)
	assert.Equal(t, []string{"disabled-*"}, cfg.Plugins.Ignore)
	assert.False(t, cfg.Plugins.Watch)
	assert.Equal(t, 5*time.Second, cfg.Bridge.CallTimeout)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "plughost.yaml")
	writeConfig(t, path, "http:\n  addr: 127.0.0.1:4000\nlog:\n  format: text\n")

	cfg, err := config.Load(config.Options{
		File:  path,
		Flags: flags(t, "--addr", "127.0.0.1:5000", "--call-timeout", "250ms", "--watch=false"),
	})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:5000", cfg.HTTP.Addr)
	assert.Equal(t, 250*time.Millisecond, cfg.Bridge.CallTimeout)
	assert.False(t, cfg.Plugins.Watch)
	assert.Equal(t, "text", cfg.Log.Format, "unset flags leave file values alone")
}

func TestLoad_DefaultFileFromXDG(t *testing.T) {
	dir := isolate(t)
	writeConfig(t, filepath.Join(dir, "config", "plughost", "config.yaml"), "log:\n  level: warn\n")

	cfg, err := config.Load(config.Options{})
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	dir := isolate(t)

	_, err := config.Load(config.Options{File: filepath.Join(dir, "nope.yaml")})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, config.CodeLoadFailed)
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "bad.yaml")
	writeConfig(t, path, "http: [unterminated\n")

	_, err := config.Load(config.Options{File: path})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, config.CodeLoadFailed)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"empty addr", []string{"--addr", ""}},
		{"zero body limit", []string{"--max-body-bytes", "0"}},
		{"negative timeout", []string{"--call-timeout", "-1s"}},
		{"bad log format", []string{"--log-format", "xml"}},
		{"bad log level", []string{"--log-level", "loud"}},
		{"bad ignore pattern", []string{"--ignore", "[unclosed"}},
		{"empty plugins dir", []string{"--plugins-dir", ""}},
		{"missing static dir", []string{"--static-dir", "/definitely/not/here"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			_, err := config.Load(config.Options{Flags: flags(t, tt.args...)})
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, config.CodeInvalid)
		})
	}
}
