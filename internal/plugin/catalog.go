// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package plugin

import (
	"slices"
	"sync/atomic"
)

// Info describes one discovered plugin package.
type Info struct {
	ID          string      `json:"id"`
	Name        string      `json:"name,omitempty"`
	Version     string      `json:"version,omitempty"`
	Description string      `json:"description,omitempty"`
	HasBackend  bool        `json:"has_backend"`
	HasFrontend bool        `json:"has_frontend"`
	Routes      []RouteSpec `json:"routes"`
	// Loaded is set when the native library was opened by the last scan.
	Loaded bool `json:"loaded"`

	Dir         string `json:"-"`
	Library     string `json:"-"`
	FrontendDir string `json:"-"`
}

// Catalog holds the plugin list produced by the latest scan. Each scan
// publishes a new slice; a published slice is never modified.
type Catalog struct {
	current atomic.Pointer[[]*Info]
}

// Store publishes infos as the current plugin list.
func (c *Catalog) Store(infos []*Info) {
	snapshot := slices.Clone(infos)
	c.current.Store(&snapshot)
}

// List returns the current plugin list. Callers must not modify it.
func (c *Catalog) List() []*Info {
	p := c.current.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Get returns the plugin with the given id.
func (c *Catalog) Get(id string) (*Info, bool) {
	for _, info := range c.List() {
		if info.ID == id {
			return info, true
		}
	}
	return nil, false
}

// Len returns the number of plugins in the current list.
func (c *Catalog) Len() int {
	return len(c.List())
}
