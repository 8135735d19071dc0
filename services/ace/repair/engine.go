// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package repair salvages the maximal safe subset of a failing edit set
// via deterministic bisection, using the guard verifier as its oracle.
//
// Edits are sorted by (start_line, end_line) before bisection — the
// only ordering ever used — so the same edit set, content, and guard
// function always produce the same safe/failed indices regardless of
// submission order. This is a hard correctness requirement.
package repair

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/acetools/ace/services/ace/guard"
	"github.com/acetools/ace/services/ace/plan"
)

// GuardFunc is the oracle the engine consults: it validates applying a
// candidate content against the original.
type GuardFunc func(ctx context.Context, before, after []byte) *guard.Result

// TryApplyResult reports the outcome of a repair attempt.
type TryApplyResult struct {
	// Success is false only when no edit at all is safe; Content then
	// equals the untouched original.
	Success bool

	// PartialApply is true when fewer than all edits were kept but at
	// least one was.
	PartialApply bool

	// Content is the result of applying every accepted edit.
	Content string

	// Report is non-nil whenever any edit was rejected.
	Report *Report
}

// Engine finds the maximal guard-passing subset of an edit set.
//
// # Thread Safety
//
// Engine is stateless apart from its logger and safe for concurrent use.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates a repair engine. A nil logger uses slog.Default().
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger.With(slog.String("component", "repair"))}
}

// TryApply applies edits to content, bisecting on guard failure.
//
// # Description
//
// Sorts edits by (start_line, end_line), then tests the whole set. On
// failure it bisects with an explicit work stack: each range is tested
// as accepted ∪ candidate against the ORIGINAL content; a passing range
// is accepted wholesale, a failing multi-edit range splits in half, and
// a failing single edit is marked failed and discarded. Every candidate
// application starts from the original content, so results do not
// depend on application order. Worst case O(n log n) guard calls.
//
// # Inputs
//
//   - ctx: Context for cancellation, checked between guard calls.
//   - runID: Run the report is attributed to.
//   - file: File the edits target (reporting only).
//   - content: Original file content.
//   - edits: Candidate edits; any order.
//   - guardFn: The verification oracle. Must not be nil.
//
// # Outputs
//
//   - *TryApplyResult: Never nil on success.
//   - error: Non-nil on cancellation or unappliable edit coordinates.
func (e *Engine) TryApply(ctx context.Context, runID, file, content string, edits []plan.Edit, guardFn GuardFunc) (*TryApplyResult, error) {
	if len(edits) == 0 {
		return &TryApplyResult{Success: true, Content: content}, nil
	}

	sorted := sortEdits(edits)

	accepted := make([]int, 0, len(sorted))
	failed := make([]int, 0)
	var failureReason string

	type span struct{ lo, hi int }
	stack := []span{{0, len(sorted)}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("repair canceled: %w", err)
		}

		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		candidate := append(append([]int{}, accepted...), indexRange(s.lo, s.hi)...)
		after, err := applyIndices(content, sorted, candidate)
		if err != nil {
			// The edit coordinates themselves are broken; treat the
			// whole range like a guard failure and keep bisecting.
			after = ""
		}

		var res *guard.Result
		if err == nil {
			res = guardFn(ctx, []byte(content), []byte(after))
		}

		if err == nil && res.Passed {
			accepted = append(accepted, indexRange(s.lo, s.hi)...)
			continue
		}

		if failureReason == "" {
			if res != nil {
				failureReason = guard.FormatError(res)
			} else {
				failureReason = err.Error()
			}
		}

		if s.hi-s.lo == 1 {
			failed = append(failed, s.lo)
			continue
		}

		mid := (s.lo + s.hi) / 2
		// Push the second half first so the first half is processed
		// next; earlier-line edits are always decided first.
		stack = append(stack, span{mid, s.hi})
		stack = append(stack, span{s.lo, mid})
	}

	sort.Ints(accepted)
	sort.Ints(failed)

	result := &TryApplyResult{}

	if len(failed) == 0 {
		final, err := applyIndices(content, sorted, accepted)
		if err != nil {
			return nil, fmt.Errorf("apply accepted edits: %w", err)
		}
		result.Success = true
		result.Content = final
		return result, nil
	}

	report := &Report{
		RunID:              runID,
		File:               file,
		TotalEdits:         len(sorted),
		SafeEdits:          len(accepted),
		FailedEdits:        len(failed),
		SafeEditIndices:    accepted,
		FailedEditIndices:  failed,
		GuardFailureReason: failureReason,
		RepairSuggestions:  buildSuggestions(sorted, failed),
	}
	result.Report = report

	if len(accepted) == 0 {
		result.Content = content
		e.logger.Warn("no safe edits found",
			slog.String("file", file),
			slog.Int("total_edits", len(sorted)))
		return result, nil
	}

	final, err := applyIndices(content, sorted, accepted)
	if err != nil {
		return nil, fmt.Errorf("apply accepted edits: %w", err)
	}

	result.Success = true
	result.PartialApply = true
	result.Content = final

	e.logger.Info("partial apply after repair",
		slog.String("file", file),
		slog.Int("safe_edits", len(accepted)),
		slog.Int("failed_edits", len(failed)))

	return result, nil
}

// sortEdits returns a copy ordered by (start_line, end_line) ascending.
func sortEdits(edits []plan.Edit) []plan.Edit {
	sorted := make([]plan.Edit, len(edits))
	copy(sorted, edits)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StartLine != sorted[j].StartLine {
			return sorted[i].StartLine < sorted[j].StartLine
		}
		return sorted[i].EndLine < sorted[j].EndLine
	})
	return sorted
}

// indexRange returns [lo, hi) as a slice.
func indexRange(lo, hi int) []int {
	out := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, i)
	}
	return out
}

// applyIndices applies the edits at the given sorted-order indices to
// the original content.
func applyIndices(content string, sorted []plan.Edit, indices []int) (string, error) {
	subset := make([]plan.Edit, 0, len(indices))
	for _, i := range indices {
		subset = append(subset, sorted[i])
	}
	return plan.ApplyEdits(content, subset)
}

// buildSuggestions names each rejected edit so the diagnosing human (or
// codemod) can re-propose it against the updated file.
func buildSuggestions(sorted []plan.Edit, failed []int) []string {
	suggestions := make([]string, 0, len(failed))
	for _, i := range failed {
		e := sorted[i]
		span := fmt.Sprintf("line %d", e.StartLine)
		if e.EndLine > e.StartLine {
			span = fmt.Sprintf("lines %d-%d", e.StartLine, e.EndLine)
		}
		suggestions = append(suggestions, fmt.Sprintf(
			"edit %d (%s %s) breaks verification; re-propose it against the updated file", i, e.Op, span))
	}
	return suggestions
}

// FormatSuggestions renders suggestions as a bulleted block for logs.
func FormatSuggestions(suggestions []string) string {
	if len(suggestions) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, s := range suggestions {
		sb.WriteString("  - ")
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	return sb.String()
}
