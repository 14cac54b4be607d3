// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err carries code as its deepest oops code,
// the one Code reports and the HTTP layer maps to a status.
func AssertErrorCode(t testing.TB, err error, code string) {
	t.Helper()
	require.Error(t, err)
	_, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	assert.Equal(t, code, Code(err), "error: %v", err)
}

// AssertErrorContext asserts that the merged oops context of err holds key
// with value.
func AssertErrorContext(t testing.TB, err error, key string, value any) {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	ctx := oopsErr.Context()
	if assert.Contains(t, ctx, key, "error: %v", err) {
		assert.Equal(t, value, ctx[key], "context %q", key)
	}
}

// AssertPluginError asserts that err wraps sentinel and is tagged with code.
// Plugin call failures carry both: the sentinel for errors.Is checks and the
// code for status mapping.
func AssertPluginError(t testing.TB, err, sentinel error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	AssertErrorCode(t, err, code)
}
