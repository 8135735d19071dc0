// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package watch turns filesystem events into change notifications for
// the pipeline, keeping the content index honest: any external write to
// a tracked file resets its clean-run counter so the next run re-scans
// it.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/acetools/ace/services/ace/contentindex"
)

// DefaultDebounce is how long a path must stay quiet before its change
// is emitted. Editors often fire several events per save.
const DefaultDebounce = 300 * time.Millisecond

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the per-path quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithExtensions restricts events to files with the given extensions
// (including the dot, e.g. ".py"). Empty means all files.
func WithExtensions(exts ...string) Option {
	return func(w *Watcher) {
		w.exts = exts
	}
}

// Watcher observes directories and emits debounced change paths.
//
// # Thread Safety
//
// Run owns all internal state; Changes is safe to read from any
// goroutine.
type Watcher struct {
	index    *contentindex.Index
	logger   *slog.Logger
	debounce time.Duration
	exts     []string

	fsw     *fsnotify.Watcher
	changes chan string

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
}

// New creates a watcher over the given directories.
func New(index *contentindex.Index, dirs []string, logger *slog.Logger, opts ...Option) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		index:    index,
		logger:   logger.With(slog.String("component", "watch")),
		debounce: DefaultDebounce,
		fsw:      fsw,
		changes:  make(chan string, 64),
		pending:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Changes is the stream of debounced changed paths. Closed when Run
// returns.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Run pumps filesystem events until ctx is canceled.
//
// Write, Create, and Rename events on matching files reset the path's
// clean-run counter immediately and schedule a debounced emission;
// Remove events drop the path from the index without emitting.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	defer w.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

// handle classifies one event.
func (w *Watcher) handle(event fsnotify.Event) {
	if !w.matches(event.Name) {
		return
	}

	switch {
	case event.Op&fsnotify.Remove != 0:
		w.index.RemoveFile(event.Name)
		w.logger.Debug("file removed", slog.String("path", event.Name))

	case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
		w.index.ResetCleanRuns(event.Name)
		w.schedule(event.Name)
	}
}

// matches applies the extension filter.
func (w *Watcher) matches(path string) bool {
	if len(w.exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// schedule (re)arms the debounce timer for one path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.debounce)
		return
	}

	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		defer w.mu.Unlock()

		delete(w.pending, path)
		if w.closed {
			return
		}

		// Non-blocking send under the mutex; a full buffer drops the
		// event rather than wedging the timer goroutine.
		select {
		case w.changes <- path:
		default:
			w.logger.Warn("change buffer full, dropping event", slog.String("path", path))
		}
	})
}

// shutdown stops all armed debounce timers and closes the change
// stream.
func (w *Watcher) shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
	w.closed = true
	close(w.changes)
}
