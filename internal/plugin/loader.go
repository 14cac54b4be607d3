// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package plugin

// Loader opens plugin libraries on behalf of the Manager.
// native.Loader is the production implementation.
type Loader interface {
	// Load opens the library at path for id, replacing any previous one.
	Load(id, path string) error

	// Unload forgets the library registered for id.
	Unload(id string) bool

	// Plugins returns the ids with a registered library.
	Plugins() []string
}
