// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package router

import (
	"encoding/json"
	"maps"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Registry maps plugin ids to their routers.
//
// Reads go through an immutable snapshot held in an atomic pointer, so
// concurrent request goroutines never take a lock. Writers copy the map
// under a mutex and publish the copy.
type Registry struct {
	mu      sync.Mutex
	current atomic.Pointer[Table]
}

// Table is an immutable view of the registry at one point in time.
type Table struct {
	routers map[string]*Router
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&Table{routers: map[string]*Router{}})
	return r
}

// Register adds or replaces the router for pluginID.
func (r *Registry) Register(pluginID string, rt *Router) {
	r.update(func(m map[string]*Router) {
		m[pluginID] = rt
	})
}

// Unregister removes the router for pluginID.
func (r *Registry) Unregister(pluginID string) {
	r.update(func(m map[string]*Router) {
		delete(m, pluginID)
	})
}

// Replace swaps the whole table in one step. Used by rescans.
func (r *Registry) Replace(routers map[string]*Router) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current.Store(&Table{routers: maps.Clone(routers)})
}

func (r *Registry) update(fn func(map[string]*Router)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := maps.Clone(r.current.Load().routers)
	fn(next)
	r.current.Store(&Table{routers: next})
}

// Snapshot returns the current table. It stays valid and unchanged after
// later registrations.
func (r *Registry) Snapshot() *Table {
	return r.current.Load()
}

// Get returns the router for pluginID.
func (r *Registry) Get(pluginID string) (*Router, bool) {
	return r.Snapshot().Get(pluginID)
}

// PluginIDs returns the registered plugin ids, sorted.
func (r *Registry) PluginIDs() []string {
	return r.Snapshot().PluginIDs()
}

// Dispatch routes r to a plugin and reports whether a route served it.
func (r *Registry) Dispatch(w http.ResponseWriter, req *http.Request) bool {
	return r.Snapshot().Dispatch(w, req)
}

// ServeHTTP dispatches req and answers 404 when no plugin route matches.
// An unknown plugin and an unknown route inside a known plugin produce
// the same response.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !r.Dispatch(w, req) {
		NotFound(w)
	}
}

// Get returns the router for pluginID.
func (t *Table) Get(pluginID string) (*Router, bool) {
	rt, ok := t.routers[pluginID]
	return rt, ok
}

// PluginIDs returns the plugin ids in the table, sorted.
func (t *Table) PluginIDs() []string {
	ids := make([]string, 0, len(t.routers))
	for id := range t.routers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dispatch routes req using this table.
func (t *Table) Dispatch(w http.ResponseWriter, req *http.Request) bool {
	pluginID, rest := SplitPluginPath(req.URL.EscapedPath())
	if pluginID == "" {
		return false
	}
	rt, ok := t.routers[pluginID]
	if !ok {
		return false
	}
	return rt.Dispatch(w, req, rest)
}

// SplitPluginPath treats the first path segment as the plugin id and
// returns the remainder re-joined with a leading slash ("/" when empty).
func SplitPluginPath(path string) (pluginID, rest string) {
	trimmed := strings.TrimPrefix(path, "/")
	pluginID, remainder, _ := strings.Cut(trimmed, "/")
	return pluginID, "/" + remainder
}

// NotFound writes the JSON 404 used for every unrouted plugin path.
func NotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusNotFound)
	//nolint:errcheck // nothing to do if the client has gone away
	json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
}
