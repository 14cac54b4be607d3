// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

//go:build darwin || freebsd || linux

package native

import (
	"github.com/ebitengine/purego"

	"github.com/plughost/plughost/pkg/pluginsdk"
)

// Open loads the shared library at path with RTLD_NOW|RTLD_LOCAL so that
// missing dependencies fail here rather than on first call.
func Open(path string) (Module, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, err
	}
	m := &dlModule{path: path, handle: handle}
	if free, err := purego.Dlsym(handle, pluginsdk.FreeSymbol); err == nil {
		m.free = free
	}
	return m, nil
}

func (m *dlModule) lookup(name string) (uintptr, error) {
	return purego.Dlsym(m.handle, name)
}

// Close calls dlclose on the library handle.
func (m *dlModule) Close() error {
	return purego.Dlclose(m.handle)
}
