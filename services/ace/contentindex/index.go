// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package contentindex maintains a persistent fingerprint of every
// scanned file so unchanged files can skip deep analysis after enough
// consecutive clean runs.
package contentindex

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/acetools/ace/pkg/atomicfile"
)

// DefaultSkipThreshold is how many consecutive clean runs a file needs
// before deep scans are skipped for it.
const DefaultSkipThreshold = 2

// Entry is the stored fingerprint for one file.
type Entry struct {
	Path           string `json:"path"`
	Size           int64  `json:"size"`
	SHA256         string `json:"sha256"`
	CleanRunsCount int    `json:"clean_runs_count"`
}

// Index maps absolute file paths to their fingerprints.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Index struct {
	path   string
	logger *slog.Logger

	loadOnce sync.Once
	mu       sync.RWMutex
	entries  map[string]*Entry
}

// New creates an index persisting to path, typically ".ace/index.json".
func New(path string, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		path:    path,
		logger:  logger.With(slog.String("component", "contentindex")),
		entries: make(map[string]*Entry),
	}
}

// hashFile fingerprints one file from disk.
func hashFile(path string) (*Entry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", abs, err)
	}
	sum := sha256.Sum256(data)
	return &Entry{
		Path:   abs,
		Size:   int64(len(data)),
		SHA256: hex.EncodeToString(sum[:]),
	}, nil
}

// AddFile fingerprints path and stores it. When preserveCleanRuns is
// true and the content is unchanged, the clean-run counter carries
// over; any content change resets it to zero.
func (ix *Index) AddFile(path string, preserveCleanRuns bool) error {
	entry, err := hashFile(path)
	if err != nil {
		return err
	}

	ix.ensureLoaded()
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if prev, ok := ix.entries[entry.Path]; ok && preserveCleanRuns && prev.SHA256 == entry.SHA256 {
		entry.CleanRunsCount = prev.CleanRunsCount
	}
	ix.entries[entry.Path] = entry
	return nil
}

// HasChanged reports whether path's current content differs from the
// indexed fingerprint. Unindexed or unreadable files count as changed.
// The index itself is never mutated.
func (ix *Index) HasChanged(path string) bool {
	entry, err := hashFile(path)
	if err != nil {
		return true
	}

	ix.ensureLoaded()
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	prev, ok := ix.entries[entry.Path]
	if !ok {
		return true
	}
	return prev.SHA256 != entry.SHA256
}

// IncrementCleanRuns bumps the clean-run counter for an indexed file.
// Unindexed paths are ignored.
func (ix *Index) IncrementCleanRuns(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	ix.ensureLoaded()
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if entry, ok := ix.entries[abs]; ok {
		entry.CleanRunsCount++
	}
}

// ResetCleanRuns zeroes the clean-run counter for an indexed file,
// typically after a write or an external modification.
func (ix *Index) ResetCleanRuns(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	ix.ensureLoaded()
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if entry, ok := ix.entries[abs]; ok {
		entry.CleanRunsCount = 0
	}
}

// ShouldSkipDeepScan reports whether path is unchanged and has at
// least threshold consecutive clean runs. A changed file never skips,
// regardless of its counter.
func (ix *Index) ShouldSkipDeepScan(path string, threshold int) bool {
	if ix.HasChanged(path) {
		return false
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	entry, ok := ix.entries[abs]
	return ok && entry.CleanRunsCount >= threshold
}

// GetChangedFiles filters paths down to those whose content differs
// from the index, preserving input order.
func (ix *Index) GetChangedFiles(paths []string) []string {
	changed := make([]string, 0, len(paths))
	for _, p := range paths {
		if ix.HasChanged(p) {
			changed = append(changed, p)
		}
	}
	return changed
}

// Rebuild discards all entries and re-fingerprints the given paths.
// All clean-run counters start from zero.
func (ix *Index) Rebuild(paths []string) error {
	fresh := make(map[string]*Entry, len(paths))
	for _, p := range paths {
		entry, err := hashFile(p)
		if err != nil {
			return err
		}
		fresh[entry.Path] = entry
	}

	ix.ensureLoaded()
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries = fresh
	return nil
}

// RemoveFile drops a path from the index.
func (ix *Index) RemoveFile(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	ix.ensureLoaded()
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.entries, abs)
}

// Entry returns a copy of the stored fingerprint for path.
func (ix *Index) Entry(path string) (Entry, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Entry{}, false
	}

	ix.ensureLoaded()
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if entry, ok := ix.entries[abs]; ok {
		return *entry, true
	}
	return Entry{}, false
}

// Stats summarizes the index for reporting.
type Stats struct {
	TotalFiles    int `json:"total_files"`
	SkipEligible  int `json:"skip_eligible"`
	TotalCleanRun int `json:"total_clean_runs"`
}

// Stats computes summary counts using the given skip threshold.
func (ix *Index) Stats(threshold int) Stats {
	ix.ensureLoaded()
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var s Stats
	s.TotalFiles = len(ix.entries)
	for _, e := range ix.entries {
		s.TotalCleanRun += e.CleanRunsCount
		if e.CleanRunsCount >= threshold {
			s.SkipEligible++
		}
	}
	return s
}

// document is the on-disk schema: entries keyed by absolute path under
// a single top-level key.
type document struct {
	Entries map[string]*Entry `json:"entries"`
}

// Save persists the index atomically.
func (ix *Index) Save() error {
	ix.ensureLoaded()
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	raw, err := json.MarshalIndent(document{Entries: ix.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := atomicfile.WriteFile(ix.path, raw, 0644); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	return nil
}

// Load forces the index to load from disk now instead of lazily.
func (ix *Index) Load() {
	ix.ensureLoaded()
}

// ensureLoaded lazily reads the persisted index exactly once. Missing
// or corrupted files reset to an empty index without raising.
func (ix *Index) ensureLoaded() {
	ix.loadOnce.Do(func() {
		raw, err := os.ReadFile(ix.path)
		if err != nil {
			if !os.IsNotExist(err) {
				ix.logger.Warn("index unreadable, starting empty", slog.String("error", err.Error()))
			}
			return
		}

		var doc document
		if err := json.Unmarshal(raw, &doc); err != nil {
			ix.logger.Warn("index corrupted, starting empty", slog.String("error", err.Error()))
			return
		}

		ix.mu.Lock()
		defer ix.mu.Unlock()
		if doc.Entries != nil {
			ix.entries = doc.Entries
		}
	})
}
