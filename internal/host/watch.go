// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package host

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/plughost/plughost/pkg/errutil"
)

// DefaultWatchDebounce coalesces the burst of file events produced by
// copying a plugin package in or removing it into one rescan.
const DefaultWatchDebounce = 250 * time.Millisecond

const (
	watchRestartBase = 250 * time.Millisecond
	watchRestartMax  = 5 * time.Second
)

// Watch rescans whenever the plugins directory or one of its plugin
// directories changes. It blocks until ctx is cancelled. A watcher that
// breaks is recreated with backoff.
func (h *Host) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if err := os.MkdirAll(h.cfg.PluginsDir, 0o750); err != nil {
		return oops.Code("WATCH_FAILED").With("dir", h.cfg.PluginsDir).Wrap(err)
	}

	for {
		var w *fsnotify.Watcher
		backoff := retry.WithCappedDuration(watchRestartMax, retry.NewExponential(watchRestartBase))
		err := retry.Do(ctx, backoff, func(_ context.Context) error {
			var err error
			w, err = h.newWatcher()
			if err != nil {
				errutil.LogWarn(h.logger, "plugin watcher init failed", err)
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		h.logger.Debug("plugin watcher started", "dir", h.cfg.PluginsDir)
		broken := h.watchLoop(ctx, w, debounce)
		//nolint:errcheck // watcher is being discarded
		w.Close()
		if !broken || ctx.Err() != nil {
			return nil
		}
		h.logger.Warn("plugin watcher stopped; restarting", "dir", h.cfg.PluginsDir)
	}
}

// newWatcher watches the plugins directory and each plugin directory in it.
func (h *Host) newWatcher() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, oops.Code("WATCH_FAILED").Wrap(err)
	}
	if err := w.Add(h.cfg.PluginsDir); err != nil {
		//nolint:errcheck // already failing
		w.Close()
		return nil, oops.Code("WATCH_FAILED").With("dir", h.cfg.PluginsDir).Wrap(err)
	}
	h.watchSubdirs(w)
	return w, nil
}

func (h *Host) watchSubdirs(w *fsnotify.Watcher) {
	entries, err := os.ReadDir(h.cfg.PluginsDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(h.cfg.PluginsDir, entry.Name())
		if err := w.Add(dir); err != nil {
			h.logger.Debug("cannot watch plugin directory", "dir", dir, "error", err)
		}
	}
}

// watchLoop runs until ctx is done or the watcher breaks, reporting
// whether it broke.
func (h *Host) watchLoop(ctx context.Context, w *fsnotify.Watcher, debounce time.Duration) bool {
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false

		case ev, ok := <-w.Events:
			if !ok {
				return true
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
					//nolint:errcheck // best effort; the rescan still sees the new plugin
					w.Add(ev.Name)
				}
			}
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return true
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				h.logger.Warn("plugin watcher overflow; forcing rescan")
				timer.Reset(debounce)
				continue
			}
			errutil.LogWarn(h.logger, "plugin watcher error", err)

		case <-timer.C:
			if _, err := h.Rescan(ctx); err != nil {
				errutil.LogError(h.logger, "plugin rescan failed", err)
				continue
			}
			h.watchSubdirs(w)
		}
	}
}
