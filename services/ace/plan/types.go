// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package plan defines the data model shared across the transformation
// pipeline: findings produced by analyzers, edit plans produced by
// codemods, and the line-based edit application primitive.
//
// All types serialize through encoding/json struct tags; that is the
// single serialization mechanism in the codebase.
package plan

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// EditOp identifies the kind of change a single Edit performs.
type EditOp string

const (
	// OpReplace replaces lines StartLine..EndLine (inclusive) with Payload.
	OpReplace EditOp = "replace"

	// OpInsert inserts Payload before StartLine. EndLine is ignored.
	OpInsert EditOp = "insert"

	// OpDelete removes lines StartLine..EndLine (inclusive).
	OpDelete EditOp = "delete"
)

// Edit is a single line-range operation against one file. Line numbers
// are 1-based and inclusive, and always refer to the content the edit
// set is applied to as a whole.
type Edit struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Op        EditOp `json:"op"`
	Payload   string `json:"payload,omitempty"`
}

// Validate checks line-range and operation sanity.
func (e *Edit) Validate() error {
	if e.StartLine < 1 {
		return fmt.Errorf("start_line must be >= 1, got %d", e.StartLine)
	}
	if e.Op != OpInsert && e.EndLine < e.StartLine {
		return fmt.Errorf("end_line %d before start_line %d", e.EndLine, e.StartLine)
	}
	switch e.Op {
	case OpReplace, OpInsert, OpDelete:
		return nil
	default:
		return fmt.Errorf("unknown edit op %q", e.Op)
	}
}

// Finding is one analyzer hit. The core never inspects why a finding
// was produced; it only carries findings into plans and reports.
type Finding struct {
	RuleID   string `json:"rule_id"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Snippet  string `json:"snippet,omitempty"`
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message,omitempty"`
}

// SortFindings orders findings by (file, line, rule) in place. The
// pipeline relies on this ordering to make multi-worker runs
// byte-identical to single-worker runs.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.RuleID < b.RuleID
	})
}

// EditPlan is an immutable proposal from a codemod: an ordered set of
// edits addressing one or more findings, plus the invariants the
// codemod claims the transformation preserves.
type EditPlan struct {
	ID            string    `json:"id"`
	Edits         []Edit    `json:"edits"`
	Findings      []Finding `json:"findings,omitempty"`
	Invariants    []string  `json:"invariants,omitempty"`
	EstimatedRisk float64   `json:"estimated_risk"`
}

// Validate checks the plan is well formed: at least one edit, all edits
// valid and targeting the same file, risk in [0,1].
func (p *EditPlan) Validate() error {
	if len(p.Edits) == 0 {
		return errors.New("plan has no edits")
	}
	file := p.Edits[0].File
	for i := range p.Edits {
		if err := p.Edits[i].Validate(); err != nil {
			return fmt.Errorf("edit %d: %w", i, err)
		}
		if p.Edits[i].File != file {
			return fmt.Errorf("edit %d targets %q, plan targets %q", i, p.Edits[i].File, file)
		}
	}
	if p.EstimatedRisk < 0 || p.EstimatedRisk > 1 {
		return fmt.Errorf("estimated_risk %v outside [0,1]", p.EstimatedRisk)
	}
	return nil
}

// File returns the file all of the plan's edits target.
func (p *EditPlan) File() string {
	if len(p.Edits) == 0 {
		return ""
	}
	return p.Edits[0].File
}

// PrimaryRule returns the rule ID of the first finding, or "" when the
// plan carries no findings. Used for policy and learning lookups.
func (p *EditPlan) PrimaryRule() string {
	if len(p.Findings) == 0 {
		return ""
	}
	return p.Findings[0].RuleID
}

// RuleIDs returns the distinct rule IDs across the plan's findings, in
// first-seen order.
func (p *EditPlan) RuleIDs() []string {
	seen := make(map[string]bool, len(p.Findings))
	ids := make([]string, 0, len(p.Findings))
	for _, f := range p.Findings {
		if f.RuleID != "" && !seen[f.RuleID] {
			seen[f.RuleID] = true
			ids = append(ids, f.RuleID)
		}
	}
	return ids
}

// ApplyEdits applies a set of edits to content and returns the result.
//
// # Description
//
// All line numbers refer to the content passed in, so edits are applied
// in descending start-line order: an edit at an earlier line never
// shifts the coordinates of a later one. The input is never modified.
//
// # Inputs
//
//   - content: Full file content the edit coordinates refer to.
//   - edits: Edits to apply. May be in any order.
//
// # Outputs
//
//   - string: The edited content.
//   - error: Non-nil if an edit is invalid or out of range.
func ApplyEdits(content string, edits []Edit) (string, error) {
	if len(edits) == 0 {
		return content, nil
	}

	ordered := make([]Edit, len(edits))
	copy(ordered, edits)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].StartLine != ordered[j].StartLine {
			return ordered[i].StartLine > ordered[j].StartLine
		}
		return ordered[i].EndLine > ordered[j].EndLine
	})

	lines := strings.Split(content, "\n")

	for _, e := range ordered {
		if err := e.Validate(); err != nil {
			return "", err
		}

		start := e.StartLine - 1 // 0-based
		switch e.Op {
		case OpInsert:
			if start > len(lines) {
				return "", fmt.Errorf("insert at line %d beyond end of %d-line file", e.StartLine, len(lines))
			}
			payload := splitPayload(e.Payload)
			next := make([]string, 0, len(lines)+len(payload))
			next = append(next, lines[:start]...)
			next = append(next, payload...)
			next = append(next, lines[start:]...)
			lines = next

		case OpReplace, OpDelete:
			end := e.EndLine // exclusive 0-based bound
			if start >= len(lines) || end > len(lines) {
				return "", fmt.Errorf("edit lines %d-%d beyond end of %d-line file", e.StartLine, e.EndLine, len(lines))
			}
			var payload []string
			if e.Op == OpReplace {
				payload = splitPayload(e.Payload)
			}
			next := make([]string, 0, len(lines)-(end-start)+len(payload))
			next = append(next, lines[:start]...)
			next = append(next, payload...)
			next = append(next, lines[end:]...)
			lines = next
		}
	}

	return strings.Join(lines, "\n"), nil
}

// splitPayload splits a payload into lines. An empty payload yields no
// lines, so replace-with-empty behaves like delete.
func splitPayload(payload string) []string {
	if payload == "" {
		return nil
	}
	return strings.Split(payload, "\n")
}
