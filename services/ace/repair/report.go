// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repair

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/acetools/ace/pkg/atomicfile"
)

// Report diagnoses one repaired file for one run. Written once, read
// only afterward.
type Report struct {
	RunID              string   `json:"run_id"`
	File               string   `json:"file"`
	TotalEdits         int      `json:"total_edits"`
	SafeEdits          int      `json:"safe_edits"`
	FailedEdits        int      `json:"failed_edits"`
	SafeEditIndices    []int    `json:"safe_edit_indices"`
	FailedEditIndices  []int    `json:"failed_edit_indices"`
	GuardFailureReason string   `json:"guard_failure_reason,omitempty"`
	RepairSuggestions  []string `json:"repair_suggestions,omitempty"`
	Timestamp          string   `json:"timestamp"`
}

// Store writes repair reports under a directory, one file per
// (run, file) pair.
type Store struct {
	dir string
}

// NewStore creates a report store rooted at dir, typically
// ".ace/repairs". The directory is created on first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Write persists the report as sorted-key JSON named
// "<run_id>-<sanitized file>.json". Stamps the report's timestamp if
// unset.
func (s *Store) Write(report *Report) (string, error) {
	if report.Timestamp == "" {
		report.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	}

	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return "", fmt.Errorf("create repairs dir: %w", err)
	}

	// Round-trip through a map so keys marshal in sorted order.
	raw, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("normalize report: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	path := filepath.Join(s.dir, fmt.Sprintf("%s-%s.json", report.RunID, sanitizeFileName(report.File)))
	if err := atomicfile.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// sanitizeFileName flattens a path into a single file name component.
func sanitizeFileName(path string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return r.Replace(strings.TrimPrefix(path, "/"))
}
