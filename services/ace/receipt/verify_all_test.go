// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package receipt

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeJournal writes one success line carrying an embedded receipt,
// matching the journal package's wire shape.
func writeJournal(t *testing.T, dir, name string, file string, r *Receipt) {
	t.Helper()
	line, err := json.Marshal(map[string]any{
		"type":    "success",
		"file":    file,
		"receipt": r,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), append(line, '\n'), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestVerifyAll(t *testing.T) {
	root := t.TempDir()
	journalDir := filepath.Join(root, ".ace", "journals")
	if err := os.MkdirAll(journalDir, 0750); err != nil {
		t.Fatal(err)
	}

	content := []byte("x = 2\n")
	target := filepath.Join(root, "a.py")
	if err := os.WriteFile(target, content, 0644); err != nil {
		t.Fatal(err)
	}

	r := Create("plan-1", target, []byte("x = 1\n"), content, true, true, 0, time.Millisecond)
	writeJournal(t, journalDir, "run-1.jsonl", target, r)

	t.Run("clean receipts verify", func(t *testing.T) {
		failures, err := VerifyAll(root)
		if err != nil {
			t.Fatalf("VerifyAll: %v", err)
		}
		if len(failures) != 0 {
			t.Errorf("failures = %v", failures)
		}
	})

	t.Run("modified file reported as hash mismatch", func(t *testing.T) {
		if err := os.WriteFile(target, []byte("x = 999\n"), 0644); err != nil {
			t.Fatal(err)
		}
		failures, err := VerifyAll(root)
		if err != nil {
			t.Fatal(err)
		}
		if len(failures) != 1 || !strings.HasPrefix(failures[0], "Hash mismatch for ") {
			t.Errorf("failures = %v", failures)
		}
	})

	t.Run("deleted file reported as missing", func(t *testing.T) {
		if err := os.Remove(target); err != nil {
			t.Fatal(err)
		}
		failures, err := VerifyAll(root)
		if err != nil {
			t.Fatal(err)
		}
		if len(failures) != 1 || !strings.Contains(failures[0], "no longer exists") {
			t.Errorf("failures = %v", failures)
		}
	})
}

func TestVerifyAllMissingJournalDir(t *testing.T) {
	failures, err := VerifyAll(t.TempDir())
	if err != nil {
		t.Fatalf("VerifyAll: %v", err)
	}
	if failures != nil {
		t.Errorf("failures = %v, want nil", failures)
	}
}
