// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package router

import (
	"net/url"
	"strings"
)

// ExtractPathParams binds ":name" segments of pattern to the matching
// segments of path. Pattern and path are compared positionally and only
// when they have the same number of '/'-separated segments; otherwise the
// result is empty. There is no wildcard or trailing-segment support.
// Bound values are percent-decoded when they decode cleanly.
func ExtractPathParams(pattern, path string) map[string]string {
	params := make(map[string]string)
	patternSegs := strings.Split(pattern, "/")
	pathSegs := strings.Split(path, "/")
	if len(patternSegs) != len(pathSegs) {
		return params
	}
	for i, seg := range patternSegs {
		if name, ok := strings.CutPrefix(seg, ":"); ok {
			params[name] = unescapeSegment(pathSegs[i])
		}
	}
	return params
}

// matchPattern reports whether path fits pattern: same segment count,
// literal segments equal, ":name" segments match anything.
func matchPattern(pattern, path string) bool {
	patternSegs := strings.Split(pattern, "/")
	pathSegs := strings.Split(path, "/")
	if len(patternSegs) != len(pathSegs) {
		return false
	}
	for i, seg := range patternSegs {
		if strings.HasPrefix(seg, ":") {
			continue
		}
		if seg != pathSegs[i] {
			return false
		}
	}
	return true
}

func unescapeSegment(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}
