// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

import (
	"errors"
	"fmt"
	"strings"
)

// Type identifies which verification stage a Result reports on.
type Type string

const (
	// TypeParse is syntactic validity of the transformed source.
	TypeParse Type = "parse"

	// TypeASTEquiv is structural equivalence of before and after,
	// ignoring formatting and quote style.
	TypeASTEquiv Type = "ast_equiv"

	// TypeCSTApply is the lossless round-trip of the transformed
	// source through the parse toolchain.
	TypeCSTApply Type = "cst_apply"
)

var (
	// ErrFileTooLarge is returned when source exceeds the verifier's limit.
	ErrFileTooLarge = errors.New("source exceeds maximum file size")

	// ErrInvalidContent is returned for non-UTF-8 source.
	ErrInvalidContent = errors.New("source is not valid UTF-8")
)

// Result is the outcome of guarding one proposed transformation.
// Produced fresh per check and never mutated afterward; a Result never
// partially passes — the first failing stage determines GuardType and
// Errors.
type Result struct {
	Passed        bool     `json:"passed"`
	File          string   `json:"file"`
	BeforeContent string   `json:"before_content,omitempty"`
	AfterContent  string   `json:"after_content,omitempty"`
	GuardType     Type     `json:"guard_type"`
	Errors        []string `json:"errors,omitempty"`
}

// FormatError renders a failed Result as a single human-readable string.
// Returns "" for a passing result.
func FormatError(r *Result) string {
	if r == nil || r.Passed {
		return ""
	}
	return fmt.Sprintf("guard %s failed for %s: %s", r.GuardType, r.File, strings.Join(r.Errors, "; "))
}

// Summary aggregates a batch of Results for reporting.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
}

// Summarize counts a batch of Results. Nil entries are ignored.
func Summarize(results []*Result) Summary {
	s := Summary{}
	for _, r := range results {
		if r == nil {
			continue
		}
		s.Total++
		if r.Passed {
			s.Passed++
		}
	}
	return s
}
