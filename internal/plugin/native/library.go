// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

// Package native loads plugin shared libraries into the host process and
// calls their exported request handlers over the C ABI:
//
//	const char* handler(const uint8_t* req, size_t len, const void* reserved);
//
// Libraries are opened with purego, so the host itself builds without cgo.
// A Go panic at the call boundary is recovered and reported as an error.
// A crash inside native code (a segfault, an abort) cannot be recovered and
// takes the process down; plugins run with full host privileges.
package native

import (
	"errors"
	"os"
	"sync"

	"github.com/samber/oops"

	"github.com/plughost/plughost/internal/bridge"
)

// Func is a resolved request handler. It returns a copy of the reply, or
// bridge.ErrNullResponse when the handler returned a null pointer.
type Func func(req []byte) ([]byte, error)

// Module is an opened shared library.
type Module interface {
	// Handler resolves an exported request handler by name.
	Handler(name string) (Func, error)
	// Close unloads the library from the process.
	Close() error
}

// Opener opens the shared library at path.
type Opener func(path string) (Module, error)

// ErrLibraryClosed is returned when resolving a symbol on a closed library.
var ErrLibraryClosed = errors.New("plugin library closed")

// Library is a loaded plugin library shared by in-flight calls.
//
// Each call holds a reference for its duration. The loader holds one more
// while the library is registered. A retired library is closed once the
// last reference is released; until then its code stays mapped.
type Library struct {
	id     string
	path   string
	module Module
	// info is the file as it was when opened; nil when it could not be read.
	info os.FileInfo

	mu      sync.Mutex
	symbols map[string]Func
	refs    int
	retired bool
	closed  bool
}

func newLibrary(id, path string, module Module) *Library {
	return &Library{
		id:      id,
		path:    path,
		module:  module,
		symbols: make(map[string]Func),
	}
}

// ID returns the plugin id the library was loaded for.
func (l *Library) ID() string {
	return l.id
}

// Path returns the file the library was opened from.
func (l *Library) Path() string {
	return l.path
}

// Symbol resolves a handler export, caching the result by name.
func (l *Library) Symbol(name string) (Func, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, oops.Code(bridge.CodePluginLibraryMissing).
			With("plugin", l.id).
			Wrap(errors.Join(bridge.ErrLibraryMissing, ErrLibraryClosed))
	}
	if fn, ok := l.symbols[name]; ok {
		return fn, nil
	}
	fn, err := l.module.Handler(name)
	if err != nil {
		return nil, oops.Code(bridge.CodeHandlerNotFound).
			With("plugin", l.id).
			With("handler", name).
			Wrap(errors.Join(bridge.ErrHandlerNotFound, err))
	}
	l.symbols[name] = fn
	return fn, nil
}

// Acquire takes a reference. It fails once the library has been closed.
func (l *Library) Acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.refs++
	return true
}

// Release drops a reference and closes a retired library when it was the
// last one.
func (l *Library) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refs > 0 {
		l.refs--
	}
	return l.closeIfIdleLocked()
}

// drop releases the loader's reference without retiring the library.
func (l *Library) drop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refs > 0 {
		l.refs--
	}
}

// retire marks the library for closing. It closes now when idle.
func (l *Library) retire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retired = true
	return l.closeIfIdleLocked()
}

// Refs reports the number of outstanding references.
func (l *Library) Refs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs
}

// Closed reports whether the library has been unloaded from the process.
func (l *Library) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Library) closeIfIdleLocked() error {
	if !l.retired || l.closed || l.refs > 0 {
		return nil
	}
	l.closed = true
	l.symbols = nil
	if err := l.module.Close(); err != nil {
		return oops.Code("LIBRARY_CLOSE_FAILED").
			With("plugin", l.id).
			With("path", l.path).
			Wrap(err)
	}
	return nil
}
