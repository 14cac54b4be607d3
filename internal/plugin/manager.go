// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package plugin

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/plughost/plughost/pkg/errutil"
)

// DefaultIgnore lists directory name patterns skipped by discovery.
var DefaultIgnore = []string{".*", "_*"}

// Manager discovers plugin packages and loads their libraries.
type Manager struct {
	pluginsDir string
	ignore     []glob.Glob
	loader     Loader
	catalog    *Catalog
	logger     *slog.Logger
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithLoader sets the library loader used by LoadAll.
func WithLoader(l Loader) ManagerOption {
	return func(m *Manager) {
		m.loader = l
	}
}

// WithLogger sets the logger for discovery and load reports.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithCatalog publishes scan results to c instead of a private catalog.
func WithCatalog(c *Catalog) ManagerOption {
	return func(m *Manager) {
		m.catalog = c
	}
}

// WithIgnore replaces the directory name patterns skipped by discovery.
func WithIgnore(patterns ...glob.Glob) ManagerOption {
	return func(m *Manager) {
		m.ignore = patterns
	}
}

// CompileIgnore compiles glob patterns for WithIgnore.
func CompileIgnore(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, oops.Code("INVALID_IGNORE_PATTERN").With("pattern", p).Wrap(err)
		}
		out = append(out, g)
	}
	return out, nil
}

// NewManager creates a plugin manager for pluginsDir.
func NewManager(pluginsDir string, opts ...ManagerOption) *Manager {
	defaults, _ := CompileIgnore(DefaultIgnore)
	m := &Manager{
		pluginsDir: pluginsDir,
		ignore:     defaults,
		catalog:    &Catalog{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the scanned plugins directory.
func (m *Manager) Dir() string {
	return m.pluginsDir
}

// Catalog returns the catalog updated by LoadAll.
func (m *Manager) Catalog() *Catalog {
	return m.catalog
}

// Discover scans the plugins directory. Each subdirectory with a valid
// manifest yields one Info, in directory name order. A missing or
// unreadable plugins directory yields no plugins and no error. Invalid
// packages are logged and skipped; for duplicate ids the first wins.
func (m *Manager) Discover(ctx context.Context) ([]*Info, error) {
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			errutil.LogWarn(m.logger, "plugins directory unreadable",
				oops.Code(CodeDiscoveryFailed).With("dir", m.pluginsDir).Wrap(err))
		}
		return nil, nil
	}

	var infos []*Info
	seen := make(map[string]string)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, oops.Code(CodeDiscoveryFailed).Wrap(err)
		}
		if !entry.IsDir() || m.ignored(entry.Name()) {
			continue
		}

		dir := filepath.Join(m.pluginsDir, entry.Name())
		manifest, path, err := ReadManifest(dir)
		if err != nil {
			if errors.Is(err, ErrNoManifest) {
				m.logger.Debug("skipping directory without manifest", "dir", entry.Name())
				continue
			}
			errutil.LogWarn(m.logger.With("dir", entry.Name(), "manifest", path),
				"skipping plugin with invalid manifest", err)
			continue
		}

		if prev, dup := seen[manifest.ID]; dup {
			m.logger.Warn("skipping plugin with duplicate id",
				"plugin", manifest.ID,
				"dir", entry.Name(),
				"first", prev)
			continue
		}
		seen[manifest.ID] = entry.Name()

		infos = append(infos, m.newInfo(manifest, dir))
	}
	return infos, nil
}

func (m *Manager) ignored(name string) bool {
	for _, g := range m.ignore {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// newInfo resolves the on-disk artifacts a manifest declares. A declared
// backend without a library file, or a declared frontend without its
// directory, is reported as absent.
func (m *Manager) newInfo(mf *Manifest, dir string) *Info {
	info := &Info{
		ID:          mf.ID,
		Name:        mf.Name,
		Version:     mf.Version,
		Description: mf.Description,
		HasBackend:  mf.HasBackend,
		HasFrontend: mf.HasFrontend,
		Routes:      slices.Clone(mf.Routes),
		Dir:         dir,
	}
	if info.Routes == nil {
		info.Routes = []RouteSpec{}
	}

	if info.HasBackend {
		info.Library = findLibrary(dir, mf.LibraryCandidates())
		if info.Library == "" {
			m.logger.Warn("plugin declares a backend but no library was found",
				"plugin", mf.ID,
				"dir", dir,
				"candidates", mf.LibraryCandidates())
			info.HasBackend = false
		}
	}

	if info.HasFrontend {
		frontend := filepath.Join(dir, mf.Frontend)
		if st, err := os.Stat(frontend); err == nil && st.IsDir() {
			info.FrontendDir = frontend
		} else {
			m.logger.Warn("plugin declares a frontend but its directory is missing",
				"plugin", mf.ID,
				"frontend", frontend)
			info.HasFrontend = false
		}
	}
	return info
}

func findLibrary(dir string, candidates []string) string {
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		if st, err := os.Stat(path); err == nil && st.Mode().IsRegular() {
			return path
		}
	}
	return ""
}

// ScanResult summarizes a LoadAll pass.
type ScanResult struct {
	Plugins []*Info
	// Loaded counts plugins whose library opened.
	Loaded int
	// Failed maps plugin ids to their library load error.
	Failed map[string]error
	// Unloaded lists ids whose library was dropped because the plugin is
	// gone or no longer ships a backend.
	Unloaded []string
}

// LoadAll discovers plugins, opens every backend library and publishes the
// result to the catalog. A library that fails to open affects only its
// own plugin. Libraries of plugins that disappeared since the previous
// scan are unloaded.
func (m *Manager) LoadAll(ctx context.Context) (*ScanResult, error) {
	infos, err := m.Discover(ctx)
	if err != nil {
		return nil, err
	}

	result := &ScanResult{Plugins: infos, Failed: make(map[string]error)}
	keep := make(map[string]bool)

	for _, info := range infos {
		if !info.HasBackend || m.loader == nil {
			continue
		}
		if err := m.loader.Load(info.ID, info.Library); err != nil {
			errutil.LogWarn(m.logger.With("plugin", info.ID), "failed to load plugin library", err)
			result.Failed[info.ID] = err
			continue
		}
		info.Loaded = true
		keep[info.ID] = true
		result.Loaded++
	}

	if m.loader != nil {
		for _, id := range m.loader.Plugins() {
			if keep[id] {
				continue
			}
			if m.loader.Unload(id) {
				result.Unloaded = append(result.Unloaded, id)
			}
		}
	}

	m.catalog.Store(infos)
	m.logger.Info("plugin scan complete",
		"dir", m.pluginsDir,
		"plugins", len(infos),
		"loaded", result.Loaded,
		"failed", len(result.Failed),
		"unloaded", len(result.Unloaded))
	return result, nil
}
