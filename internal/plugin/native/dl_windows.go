// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

//go:build windows

package native

import (
	"syscall"

	"github.com/plughost/plughost/pkg/pluginsdk"
)

// Open loads the DLL at path.
func Open(path string) (Module, error) {
	handle, err := syscall.LoadLibrary(path)
	if err != nil {
		return nil, err
	}
	m := &dlModule{path: path, handle: uintptr(handle)}
	if free, err := syscall.GetProcAddress(handle, pluginsdk.FreeSymbol); err == nil {
		m.free = free
	}
	return m, nil
}

func (m *dlModule) lookup(name string) (uintptr, error) {
	return syscall.GetProcAddress(syscall.Handle(m.handle), name)
}

// Close calls FreeLibrary on the module handle.
func (m *dlModule) Close() error {
	return syscall.FreeLibrary(syscall.Handle(m.handle))
}
