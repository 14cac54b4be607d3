// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package native

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/plughost/plughost/internal/bridge"
)

// CodeLoadFailed tags a library that could not be opened.
const CodeLoadFailed = "LOAD_FAILED"

// ErrLoaderClosed is returned when loading into a closed loader.
var ErrLoaderClosed = errors.New("loader is closed")

var _ bridge.Caller = (*Loader)(nil)

// Loader keeps one loaded library per plugin id.
//
// The map lock is held only for lookups and inserts. Calls run on a
// referenced Library without it, so a slow handler never blocks other
// plugins or a rescan.
//
// Replacing or unloading a plugin retires the old library. It is closed
// when its last in-flight call returns, and right away when none is running.
// Loading an unchanged file again keeps the library already registered.
type Loader struct {
	open   Opener
	logger *slog.Logger

	mu     sync.Mutex
	libs   map[string]*Library
	closed bool
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOpener replaces the OS dynamic loader. Used by tests.
func WithOpener(open Opener) LoaderOption {
	return func(l *Loader) { l.open = open }
}

// WithLogger sets the loader's logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates an empty loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		open:   Open,
		logger: slog.Default(),
		libs:   make(map[string]*Library),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load opens the library at path for pluginID, replacing any library
// already registered under that id. When the registered library came from
// the same file and the file has not changed since, Load is a no-op.
// A failure affects only this plugin.
func (l *Loader) Load(pluginID, path string) error {
	if l.isClosed() {
		return oops.Code(CodeLoadFailed).With("plugin", pluginID).Wrap(ErrLoaderClosed)
	}

	info, _ := os.Stat(path)
	if l.unchanged(pluginID, path, info) {
		l.logger.Debug("plugin library unchanged", "plugin", pluginID, "path", path)
		return nil
	}

	module, err := l.open(path)
	if err != nil {
		return oops.Code(CodeLoadFailed).
			With("plugin", pluginID).
			With("path", path).
			Wrapf(err, "open plugin library")
	}

	lib := newLibrary(pluginID, path, module)
	lib.info = info
	lib.refs = 1

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		//nolint:errcheck // the library was never published
		module.Close()
		return oops.Code(CodeLoadFailed).With("plugin", pluginID).Wrap(ErrLoaderClosed)
	}
	old := l.libs[pluginID]
	l.libs[pluginID] = lib
	l.mu.Unlock()

	if old != nil {
		l.retire(old)
		l.logger.Info("plugin library replaced", "plugin", pluginID, "path", path, "previous", old.Path())
	} else {
		l.logger.Info("plugin library loaded", "plugin", pluginID, "path", path)
	}
	return nil
}

// unchanged reports whether pluginID is already served from the file at path
// and that file still has the identity, size and modification time it had
// when it was opened.
func (l *Loader) unchanged(pluginID, path string, info os.FileInfo) bool {
	if info == nil {
		return false
	}
	l.mu.Lock()
	cur, ok := l.libs[pluginID]
	l.mu.Unlock()
	if !ok || cur.path != path || cur.info == nil {
		return false
	}
	return os.SameFile(cur.info, info) &&
		cur.info.Size() == info.Size() &&
		cur.info.ModTime().Equal(info.ModTime())
}

// retire drops the loader's reference to a library that is no longer
// registered and closes it once idle.
func (l *Loader) retire(lib *Library) {
	lib.drop()
	if err := lib.retire(); err != nil {
		l.logger.Warn("failed to close retired plugin library", "plugin", lib.ID(), "path", lib.Path(), "error", err)
	}
}

// Get returns the library registered for pluginID.
func (l *Loader) Get(pluginID string) (*Library, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lib, ok := l.libs[pluginID]
	return lib, ok
}

// Has reports whether a library is registered for pluginID.
func (l *Loader) Has(pluginID string) bool {
	_, ok := l.Get(pluginID)
	return ok
}

// Unload removes the library registered for pluginID. The library is
// closed once calls already running in it have returned.
func (l *Loader) Unload(pluginID string) bool {
	l.mu.Lock()
	lib, ok := l.libs[pluginID]
	if ok {
		delete(l.libs, pluginID)
	}
	l.mu.Unlock()

	if ok {
		l.retire(lib)
		l.logger.Info("plugin library unregistered", "plugin", pluginID)
	}
	return ok
}

// Plugins returns the ids with a registered library, sorted.
func (l *Loader) Plugins() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.libs))
	for id := range l.libs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Call invokes symbol in the library registered for pluginID.
func (l *Loader) Call(ctx context.Context, pluginID, symbol string, req []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.With("plugin", pluginID).With("handler", symbol).Wrapf(err, "request cancelled before call")
	}

	lib, ok := l.acquire(pluginID)
	if !ok {
		return nil, oops.Code(bridge.CodePluginLibraryMissing).
			With("plugin", pluginID).
			Wrap(bridge.ErrLibraryMissing)
	}
	defer func() {
		if err := lib.Release(); err != nil {
			l.logger.Warn("failed to close retired plugin library", "plugin", pluginID, "error", err)
		}
	}()

	fn, err := lib.Symbol(symbol)
	if err != nil {
		return nil, err
	}
	return invoke(pluginID, symbol, fn, req)
}

// acquire looks up and references a library under the map lock.
func (l *Loader) acquire(pluginID string) (*Library, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lib, ok := l.libs[pluginID]
	if !ok || !lib.Acquire() {
		return nil, false
	}
	return lib, true
}

// invoke runs fn, turning a panic at the call boundary into an error.
func invoke(pluginID, symbol string, fn Func, req []byte) (reply []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.Code(bridge.CodeHandlerPanic).
				With("plugin", pluginID).
				With("handler", symbol).
				With("panic", fmt.Sprint(r)).
				Wrap(bridge.ErrHandlerPanic)
		}
	}()

	reply, err = fn(req)
	if err == nil {
		return reply, nil
	}
	if errors.Is(err, bridge.ErrNullResponse) {
		return nil, oops.Code(bridge.CodeNullResponse).
			With("plugin", pluginID).
			With("handler", symbol).
			Wrap(err)
	}
	return nil, oops.With("plugin", pluginID).With("handler", symbol).Wrapf(err, "plugin call")
}

// Close unregisters every library and unloads each one once its in-flight
// calls have finished. Close is idempotent.
func (l *Loader) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	current := l.libs
	l.libs = make(map[string]*Library)
	l.mu.Unlock()

	var errs []error
	for _, lib := range current {
		lib.drop()
		if err := lib.retire(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Loader) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
