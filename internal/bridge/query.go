// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package bridge

import (
	"net/url"
	"strings"
)

// ParseQuery splits a raw query string into a flat map.
//
// Pairs are split on '&' and then on the first '='. A key without '=' maps
// to "". Keys and values are percent-decoded only, so a literal '+' stays
// '+'. A piece that fails to decode is kept as received. Later duplicates
// win.
func ParseQuery(raw string) map[string]string {
	out := make(map[string]string)
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		out[unescape(key)] = unescape(value)
	}
	return out
}

func unescape(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}
