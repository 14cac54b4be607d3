// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

//go:build !darwin && !freebsd && !linux && !windows

package native

import (
	"errors"
	"runtime"
)

// ErrUnsupportedPlatform is returned by Open where no dynamic loader is wired.
var ErrUnsupportedPlatform = errors.New("native plugins are not supported on " + runtime.GOOS)

// Open always fails on this platform.
func Open(string) (Module, error) {
	return nil, ErrUnsupportedPlatform
}

func (m *dlModule) lookup(string) (uintptr, error) {
	return 0, ErrUnsupportedPlatform
}

// Close is a no-op.
func (m *dlModule) Close() error {
	return nil
}
