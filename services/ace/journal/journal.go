// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package journal provides the append-only per-run log of intent,
// success, and revert events that makes every commit reconstructable
// and every applied change exactly revertible.
//
// Each run writes one JSON-Lines file named by its run ID. An intent
// entry carries the full pre-image, so a revert is possible even if the
// journal is the only surviving record. A run's lifecycle is
// open → LogIntent* → LogSuccess*/LogRevert* → Close; a journal is
// never reopened for writing after Close.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/acetools/ace/services/ace/receipt"
)

// ErrJournalClosed is returned when writing to a closed journal.
var ErrJournalClosed = errors.New("journal is closed")

// maxJournalLine bounds a single journal line; pre-images can be large.
const maxJournalLine = 64 * 1024 * 1024

// EntryType tags the journal entry variants.
type EntryType string

const (
	// EntryIntent is written before any byte of the target is modified.
	EntryIntent EntryType = "intent"

	// EntrySuccess is written only after the write is durably committed.
	EntrySuccess EntryType = "success"

	// EntryRevert records an executed rollback.
	EntryRevert EntryType = "revert"
)

// Entry is one journal line. Type-specific fields are omitted when
// empty so each variant serializes only what it carries.
type Entry struct {
	Type      EntryType `json:"type"`
	Timestamp string    `json:"ts"`
	File      string    `json:"file"`

	// intent fields. before_size and pre_image are legitimately zero
	// for an empty original, so they serialize unconditionally.
	BeforeSHA256 string   `json:"before_sha256,omitempty"`
	BeforeSize   int64    `json:"before_size"`
	RuleIDs      []string `json:"rule_ids,omitempty"`
	PlanID       string   `json:"plan_id,omitempty"`
	PreImage     string   `json:"pre_image"`

	// success fields
	AfterSHA256 string           `json:"after_sha256,omitempty"`
	AfterSize   int64            `json:"after_size,omitempty"`
	ReceiptID   string           `json:"receipt_id,omitempty"`
	Receipt     *receipt.Receipt `json:"receipt,omitempty"`

	// revert fields
	FromSHA256 string `json:"from_sha256,omitempty"`
	ToSHA256   string `json:"to_sha256,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Journal is the append-only writer for one run.
//
// # Thread Safety
//
// All methods are safe for concurrent use; writes are serialized by an
// internal mutex and fsynced individually.
type Journal struct {
	runID  string
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// Open creates (or opens for append) the journal file for runID under
// dir, creating dir as needed.
func Open(runID, dir string, logger *slog.Logger) (*Journal, error) {
	if runID == "" {
		return nil, errors.New("run_id must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	path := filepath.Join(dir, runID+".jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j := &Journal{
		runID:  runID,
		path:   path,
		file:   file,
		logger: logger.With(slog.String("component", "journal"), slog.String("run_id", runID)),
	}
	j.logger.Debug("journal opened", slog.String("path", path))
	return j, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// RunID returns the run this journal belongs to.
func (j *Journal) RunID() string {
	return j.runID
}

// LogIntent records that file is about to be modified. Must be written
// before any byte of the target changes; carries the full pre-image.
func (j *Journal) LogIntent(file, beforeSHA string, beforeSize int64, ruleIDs []string, planID, preImage string) error {
	return j.append(&Entry{
		Type:         EntryIntent,
		File:         file,
		BeforeSHA256: beforeSHA,
		BeforeSize:   beforeSize,
		RuleIDs:      ruleIDs,
		PlanID:       planID,
		PreImage:     preImage,
	})
}

// LogSuccess records a durably committed write, sealing the receipt
// into the entry for offline verification.
func (j *Journal) LogSuccess(file, afterSHA string, afterSize int64, r *receipt.Receipt) error {
	e := &Entry{
		Type:        EntrySuccess,
		File:        file,
		AfterSHA256: afterSHA,
		AfterSize:   afterSize,
		Receipt:     r,
	}
	if r != nil {
		e.ReceiptID = r.ID
	}
	return j.append(e)
}

// LogRevert records an executed rollback.
func (j *Journal) LogRevert(file, fromSHA, toSHA, reason string) error {
	return j.append(&Entry{
		Type:       EntryRevert,
		File:       file,
		FromSHA256: fromSHA,
		ToSHA256:   toSHA,
		Reason:     reason,
	})
}

// Close flushes and finalizes the journal. Further writes return
// ErrJournalClosed.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if err := j.file.Sync(); err != nil {
		j.file.Close()
		return fmt.Errorf("sync journal: %w", err)
	}
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	j.logger.Debug("journal closed")
	return nil
}

// append serializes the entry as one line and fsyncs it.
func (j *Journal) append(e *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}

	e.Timestamp = time.Now().UTC().Format(receipt.TimestampLayout)

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := j.file.Write(line); err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal entry: %w", err)
	}
	return nil
}

// Read returns all entries of a journal file in write order. A missing
// file yields an empty slice — that is not an error.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	entries := make([]Entry, 0, 16)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJournalLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return entries, nil
}

// FindLatest returns the journal file under dir with the most recent
// modification time, or "" when the directory is empty or missing.
func FindLatest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read journal dir: %w", err)
	}

	var latest string
	var latestMod time.Time
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = filepath.Join(dir, e.Name())
			latestMod = info.ModTime()
		}
	}
	return latest, nil
}
