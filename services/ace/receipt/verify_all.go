// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package receipt

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// maxJournalLine bounds a single journal line; pre-images can be large.
const maxJournalLine = 64 * 1024 * 1024

// successEvent is the minimal journal shape VerifyAll needs. The full
// entry schema lives in the journal package; decoding a narrow local
// struct here avoids an import cycle.
type successEvent struct {
	Type    string   `json:"type"`
	File    string   `json:"file"`
	Receipt *Receipt `json:"receipt"`
}

// VerifyAll checks every sealed receipt under rootDir's journals.
//
// # Description
//
// Scans .ace/journals/*.jsonl for success events carrying an embedded
// receipt. For each, checks that the referenced file still exists and
// that its current content hash equals the receipt's after-hash. An
// empty or missing journal directory yields no failures — the absence
// of journals is not itself a fault.
//
// # Inputs
//
//   - rootDir: Project root containing the .ace directory.
//
// # Outputs
//
//   - []string: One message per integrity failure; empty when clean.
//   - error: Non-nil only on I/O errors reading the journals.
func VerifyAll(rootDir string) ([]string, error) {
	journalDir := filepath.Join(rootDir, ".ace", "journals")

	entries, err := os.ReadDir(journalDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".jsonl" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var failures []string
	for _, name := range names {
		fails, err := verifyJournal(rootDir, filepath.Join(journalDir, name))
		if err != nil {
			return nil, fmt.Errorf("verify %s: %w", name, err)
		}
		failures = append(failures, fails...)
	}
	return failures, nil
}

// verifyJournal checks every embedded receipt in one journal file.
func verifyJournal(rootDir, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var failures []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJournalLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev successEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			// A malformed line is a journal problem, not a receipt
			// integrity failure; skip it.
			continue
		}
		if ev.Type != "success" || ev.Receipt == nil {
			continue
		}

		target := ev.File
		if !filepath.IsAbs(target) {
			target = filepath.Join(rootDir, target)
		}

		current, err := os.ReadFile(target)
		if err != nil {
			if os.IsNotExist(err) {
				failures = append(failures, fmt.Sprintf("File %s no longer exists (receipt %s)", ev.File, ev.Receipt.ID))
				continue
			}
			return nil, err
		}

		if !Verify(ev.Receipt, current) {
			failures = append(failures, fmt.Sprintf("Hash mismatch for %s: expected %s, got %s",
				ev.File, ev.Receipt.AfterHash, HashContent(current)))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return failures, nil
}
