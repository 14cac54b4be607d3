// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

// Package plugin discovers plugin packages on disk and tracks the result of
// the latest scan.
package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Manifest file names, in lookup order.
const (
	ManifestYAML = "plugin.yaml"
	ManifestJSON = "plugin.json"
)

// DefaultFrontendDir is the UI asset directory used when the manifest names none.
const DefaultFrontendDir = "frontend"

// Error codes for discovery failures.
const (
	CodeDiscoveryFailed = "DISCOVERY_FAILED"
	CodeManifestInvalid = "MANIFEST_INVALID"
)

// ErrNoManifest is returned when a plugin directory has no manifest file.
var ErrNoManifest = errors.New("no plugin manifest found")

// Manifest is the plugin.yaml (or plugin.json) file of a plugin package.
type Manifest struct {
	ID          string      `yaml:"id,omitempty" json:"id,omitempty" jsonschema:"pattern=^[a-z0-9]([a-z0-9_-]*[a-z0-9])?$,maxLength=64,description=Plugin id. Defaults to the directory name."`
	Name        string      `yaml:"name,omitempty" json:"name,omitempty" jsonschema:"description=Display name"`
	Version     string      `yaml:"version,omitempty" json:"version,omitempty" jsonschema:"description=Semantic version"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	HasBackend  bool        `yaml:"has_backend,omitempty" json:"has_backend,omitempty" jsonschema:"description=Plugin ships a native library"`
	HasFrontend bool        `yaml:"has_frontend,omitempty" json:"has_frontend,omitempty" jsonschema:"description=Plugin ships UI assets"`
	Library     string      `yaml:"library,omitempty" json:"library,omitempty" jsonschema:"description=Shared library file relative to the plugin directory"`
	Frontend    string      `yaml:"frontend,omitempty" json:"frontend,omitempty" jsonschema:"description=UI asset directory relative to the plugin directory"`
	Routes      []RouteSpec `yaml:"routes,omitempty" json:"routes,omitempty"`
}

// RouteSpec binds an HTTP method and path pattern to an exported handler.
// Path segments of the form ":name" bind a path parameter.
type RouteSpec struct {
	Method  string `yaml:"method" json:"method" jsonschema:"enum=GET,enum=POST,enum=PUT,enum=DELETE,enum=PATCH,enum=HEAD,enum=OPTIONS,enum=get,enum=post,enum=put,enum=delete,enum=patch,enum=head,enum=options"`
	Path    string `yaml:"path" json:"path" jsonschema:"pattern=^/"`
	Handler string `yaml:"handler" json:"handler" jsonschema:"pattern=^[A-Za-z_][A-Za-z0-9_]*$"`
}

const maxIDLength = 64

var (
	idPattern      = regexp.MustCompile(`^[a-z0-9]([a-z0-9_-]*[a-z0-9])?$`)
	handlerPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// reservedIDs collide with host routes that are matched before plugins.
var reservedIDs = map[string]bool{"api": true, "health": true}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// ParseManifest parses manifest data. An empty id is replaced by defaultID.
func ParseManifest(data []byte, defaultID string) (*Manifest, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, oops.Code(CodeManifestInvalid).Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.Code(CodeManifestInvalid).Wrapf(err, "invalid manifest syntax")
	}
	if m.ID == "" {
		m.ID = defaultID
	}
	if m.Frontend == "" {
		m.Frontend = DefaultFrontendDir
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ReadManifest loads the manifest of the plugin package in dir, preferring
// plugin.yaml over plugin.json. The directory name is the default id.
func ReadManifest(dir string) (*Manifest, string, error) {
	for _, name := range []string{ManifestYAML, ManifestJSON} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path) //nolint:gosec // path is built from a ReadDir entry
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, path, oops.Code(CodeManifestInvalid).With("path", path).Wrapf(err, "read manifest")
		}
		m, err := ParseManifest(data, filepath.Base(dir))
		if err != nil {
			return nil, path, oops.With("path", path).Wrap(err)
		}
		return m, path, nil
	}
	return nil, "", oops.Code(CodeManifestInvalid).With("dir", dir).Wrap(ErrNoManifest)
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if len(m.ID) > maxIDLength {
		return invalid("id must be %d characters or less, got %d", maxIDLength, len(m.ID))
	}
	if !idPattern.MatchString(m.ID) {
		return invalid("id %q must contain only a-z, 0-9, '-' or '_' and start and end with a letter or digit", m.ID)
	}
	if reservedIDs[m.ID] {
		return invalid("id %q is reserved", m.ID)
	}

	if m.Version != "" {
		if _, err := semver.NewVersion(m.Version); err != nil {
			return invalid("version %q is not a semantic version: %v", m.Version, err)
		}
	}

	if m.Library != "" && !filepath.IsLocal(m.Library) {
		return invalid("library %q must be a path inside the plugin directory", m.Library)
	}
	if m.Frontend != "" && !filepath.IsLocal(m.Frontend) {
		return invalid("frontend %q must be a path inside the plugin directory", m.Frontend)
	}

	for i, r := range m.Routes {
		if !validMethods[strings.ToUpper(r.Method)] {
			return invalid("routes[%d]: unsupported method %q", i, r.Method)
		}
		if !strings.HasPrefix(r.Path, "/") {
			return invalid("routes[%d]: path %q must start with '/'", i, r.Path)
		}
		if !handlerPattern.MatchString(r.Handler) {
			return invalid("routes[%d]: handler %q is not a valid symbol name", i, r.Handler)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return oops.Code(CodeManifestInvalid).Errorf(format, args...)
}

// LibraryExt returns the shared library extension for the running OS.
func LibraryExt() string {
	switch runtime.GOOS {
	case "darwin":
		return "dylib"
	case "windows":
		return "dll"
	default:
		return "so"
	}
}

// LibraryCandidates returns the file names probed for a plugin's shared
// library, in order.
func (m *Manifest) LibraryCandidates() []string {
	if m.Library != "" {
		return []string{m.Library}
	}
	ext := LibraryExt()
	return []string{
		fmt.Sprintf("lib%s.%s", m.ID, ext),
		fmt.Sprintf("%s.%s", m.ID, ext),
	}
}
