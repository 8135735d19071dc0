// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contentindex

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestHasChanged(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.py")
	writeFile(t, file, "x = 1\n")

	ix := New(filepath.Join(dir, "index.json"), nil)

	if !ix.HasChanged(file) {
		t.Error("unindexed file must count as changed")
	}

	if err := ix.AddFile(file, true); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if ix.HasChanged(file) {
		t.Error("freshly indexed file must not be changed")
	}

	writeFile(t, file, "x = 2\n")
	if !ix.HasChanged(file) {
		t.Error("modified file must be changed")
	}

	// HasChanged never mutates; the indexed hash still reflects the
	// old content.
	if !ix.HasChanged(file) {
		t.Error("repeat check must give the same answer")
	}
}

func TestCleanRunTransitions(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.py")
	writeFile(t, file, "x = 1\n")

	ix := New(filepath.Join(dir, "index.json"), nil)
	if err := ix.AddFile(file, true); err != nil {
		t.Fatal(err)
	}

	if ix.ShouldSkipDeepScan(file, 2) {
		t.Error("zero clean runs must not skip")
	}

	ix.IncrementCleanRuns(file)
	if ix.ShouldSkipDeepScan(file, 2) {
		t.Error("one clean run is below the threshold")
	}

	ix.IncrementCleanRuns(file)
	if !ix.ShouldSkipDeepScan(file, 2) {
		t.Error("two clean runs must skip at threshold 2")
	}

	t.Run("content change defeats the counter", func(t *testing.T) {
		writeFile(t, file, "x = 2\n")
		if ix.ShouldSkipDeepScan(file, 2) {
			t.Error("changed file must never skip, whatever its counter")
		}
	})

	t.Run("reset zeroes the counter", func(t *testing.T) {
		if err := ix.AddFile(file, false); err != nil {
			t.Fatal(err)
		}
		ix.IncrementCleanRuns(file)
		ix.IncrementCleanRuns(file)
		ix.ResetCleanRuns(file)
		if ix.ShouldSkipDeepScan(file, 2) {
			t.Error("reset counter must not skip")
		}
	})
}

func TestAddFilePreservesCleanRuns(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.py")
	writeFile(t, file, "x = 1\n")

	ix := New(filepath.Join(dir, "index.json"), nil)
	if err := ix.AddFile(file, true); err != nil {
		t.Fatal(err)
	}
	ix.IncrementCleanRuns(file)
	ix.IncrementCleanRuns(file)

	// Unchanged content keeps the counter.
	if err := ix.AddFile(file, true); err != nil {
		t.Fatal(err)
	}
	entry, ok := ix.Entry(file)
	if !ok || entry.CleanRunsCount != 2 {
		t.Errorf("counter = %d, want 2", entry.CleanRunsCount)
	}

	// Changed content resets it even with preserve set.
	writeFile(t, file, "x = 2\n")
	if err := ix.AddFile(file, true); err != nil {
		t.Fatal(err)
	}
	entry, _ = ix.Entry(file)
	if entry.CleanRunsCount != 0 {
		t.Errorf("counter = %d after change, want 0", entry.CleanRunsCount)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.py")
	writeFile(t, file, "x = 1\n")
	indexPath := filepath.Join(dir, "index.json")

	ix1 := New(indexPath, nil)
	if err := ix1.AddFile(file, true); err != nil {
		t.Fatal(err)
	}
	ix1.IncrementCleanRuns(file)
	if err := ix1.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// On-disk document wraps entries under a single top-level key.
	raw, err := os.ReadFile(indexPath)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]map[string]*Entry
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("index file not valid JSON: %v", err)
	}
	entries, ok := doc["entries"]
	if !ok {
		t.Fatalf("index file has no top-level entries key, got keys of %s", raw)
	}
	if _, ok := entries[file]; !ok {
		t.Errorf("entries not keyed by absolute path: %v", entries)
	}

	ix2 := New(indexPath, nil)
	entry, ok := ix2.Entry(file)
	if !ok {
		t.Fatal("entry lost across save/load")
	}
	if entry.CleanRunsCount != 1 {
		t.Errorf("counter = %d, want 1", entry.CleanRunsCount)
	}
	if ix2.HasChanged(file) {
		t.Error("unchanged file must not be changed after reload")
	}
}

func TestCorruptedIndexResetsToEmpty(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "index.json")
	writeFile(t, indexPath, "{broken")

	file := filepath.Join(dir, "a.py")
	writeFile(t, file, "x = 1\n")

	ix := New(indexPath, nil)
	if _, ok := ix.Entry(file); ok {
		t.Error("corrupted index must load empty")
	}
	if err := ix.AddFile(file, true); err != nil {
		t.Fatalf("AddFile after corruption: %v", err)
	}
	if err := ix.Save(); err != nil {
		t.Fatalf("Save after corruption: %v", err)
	}
}

func TestGetChangedFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.py")
	b := filepath.Join(dir, "b.py")
	writeFile(t, a, "a = 1\n")
	writeFile(t, b, "b = 1\n")

	ix := New(filepath.Join(dir, "index.json"), nil)
	if err := ix.AddFile(a, true); err != nil {
		t.Fatal(err)
	}
	if err := ix.AddFile(b, true); err != nil {
		t.Fatal(err)
	}

	writeFile(t, b, "b = 2\n")

	changed := ix.GetChangedFiles([]string{a, b})
	if len(changed) != 1 || changed[0] != b {
		t.Errorf("changed = %v, want [%s]", changed, b)
	}
}

func TestRebuildAndRemove(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.py")
	b := filepath.Join(dir, "b.py")
	writeFile(t, a, "a = 1\n")
	writeFile(t, b, "b = 1\n")

	ix := New(filepath.Join(dir, "index.json"), nil)
	if err := ix.AddFile(a, true); err != nil {
		t.Fatal(err)
	}
	ix.IncrementCleanRuns(a)

	if err := ix.Rebuild([]string{a, b}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	entry, ok := ix.Entry(a)
	if !ok || entry.CleanRunsCount != 0 {
		t.Errorf("rebuild must zero counters, got %+v ok=%v", entry, ok)
	}
	if _, ok := ix.Entry(b); !ok {
		t.Error("rebuild must pick up new files")
	}

	ix.RemoveFile(a)
	if _, ok := ix.Entry(a); ok {
		t.Error("removed file still present")
	}

	stats := ix.Stats(2)
	if stats.TotalFiles != 1 {
		t.Errorf("TotalFiles = %d, want 1", stats.TotalFiles)
	}
}
