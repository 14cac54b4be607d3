// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

// Package router maps plugin HTTP routes to plugin handler symbols.
//
// A Router belongs to one plugin and matches (method, path) against the
// routes declared in that plugin's manifest. The Registry maps plugin ids
// to routers and splits incoming paths into the plugin id and the path
// handed to that plugin.
package router

import (
	"net/http"
	"strings"
)

// Route describes one manifest route. It carries no library handle: the
// handler symbol is resolved by plugin id at call time, so a rescan that
// replaces a library is seen by routers built before it.
type Route struct {
	PluginID string
	Method   string
	Pattern  string
	Symbol   string
}

// Match is a route matched against a concrete request path.
type Match struct {
	Route Route
	// Path is the request path below the plugin prefix, as received.
	Path   string
	Params map[string]string
}

// Handler serves a matched route.
type Handler interface {
	ServeRoute(w http.ResponseWriter, r *http.Request, m Match)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, m Match)

// ServeRoute calls f(w, r, m).
func (f HandlerFunc) ServeRoute(w http.ResponseWriter, r *http.Request, m Match) {
	f(w, r, m)
}

// Router holds the ordered routes of a single plugin.
type Router struct {
	pluginID string
	handler  Handler
	routes   []Route
}

// New creates an empty router for pluginID whose matches are served by h.
func New(pluginID string, h Handler) *Router {
	return &Router{pluginID: pluginID, handler: h}
}

// PluginID returns the plugin this router serves.
func (rt *Router) PluginID() string {
	return rt.pluginID
}

// Handle registers a route. Routes are tried in registration order.
func (rt *Router) Handle(method, pattern, symbol string) {
	rt.routes = append(rt.routes, Route{
		PluginID: rt.pluginID,
		Method:   strings.ToUpper(method),
		Pattern:  pattern,
		Symbol:   symbol,
	})
}

// Routes returns a copy of the registered routes in order.
func (rt *Router) Routes() []Route {
	out := make([]Route, len(rt.routes))
	copy(out, rt.routes)
	return out
}

// Match returns the first route whose method and pattern fit.
func (rt *Router) Match(method, path string) (Match, bool) {
	for _, route := range rt.routes {
		if !strings.EqualFold(route.Method, method) {
			continue
		}
		if !matchPattern(route.Pattern, path) {
			continue
		}
		return Match{
			Route:  route,
			Path:   path,
			Params: ExtractPathParams(route.Pattern, path),
		}, true
	}
	return Match{}, false
}

// Dispatch serves r if a route matches path and reports whether it did.
// path is the request path with the plugin prefix removed.
func (rt *Router) Dispatch(w http.ResponseWriter, r *http.Request, path string) bool {
	m, ok := rt.Match(r.Method, path)
	if !ok {
		return false
	}
	rt.handler.ServeRoute(w, r, m)
	return true
}
