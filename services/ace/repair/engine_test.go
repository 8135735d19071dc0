// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repair

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/acetools/ace/services/ace/guard"
	"github.com/acetools/ace/services/ace/plan"
)

// markerGuard rejects any candidate containing "BROKEN". It stands in
// for the verifier so bisection behavior is tested in isolation.
func markerGuard(_ context.Context, _, after []byte) *guard.Result {
	if strings.Contains(string(after), "BROKEN") {
		return &guard.Result{
			Passed:    false,
			GuardType: guard.TypeParse,
			Errors:    []string{"marker found"},
		}
	}
	return &guard.Result{Passed: true, GuardType: guard.TypeParse}
}

func fiveEdits() (string, []plan.Edit) {
	content := "one\ntwo\nthree\nfour\nfive"
	edits := []plan.Edit{
		{File: "f.py", StartLine: 1, EndLine: 1, Op: plan.OpReplace, Payload: "ONE"},
		{File: "f.py", StartLine: 2, EndLine: 2, Op: plan.OpReplace, Payload: "BROKEN two"},
		{File: "f.py", StartLine: 3, EndLine: 3, Op: plan.OpReplace, Payload: "THREE"},
		{File: "f.py", StartLine: 4, EndLine: 4, Op: plan.OpReplace, Payload: "BROKEN four"},
		{File: "f.py", StartLine: 5, EndLine: 5, Op: plan.OpReplace, Payload: "FIVE"},
	}
	return content, edits
}

func TestTryApplySalvagesSafeSubset(t *testing.T) {
	engine := NewEngine(nil)
	content, edits := fiveEdits()

	result, err := engine.TryApply(context.Background(), "run-1", "f.py", content, edits, markerGuard)
	if err != nil {
		t.Fatalf("TryApply: %v", err)
	}

	if !result.Success {
		t.Fatal("expected partial success")
	}
	if !result.PartialApply {
		t.Error("expected PartialApply")
	}

	want := "ONE\ntwo\nTHREE\nfour\nFIVE"
	if result.Content != want {
		t.Errorf("content = %q, want %q", result.Content, want)
	}

	if result.Report == nil {
		t.Fatal("expected a repair report")
	}
	r := result.Report
	if r.TotalEdits != 5 || r.SafeEdits != 3 || r.FailedEdits != 2 {
		t.Errorf("counts = %d/%d/%d, want 5/3/2", r.TotalEdits, r.SafeEdits, r.FailedEdits)
	}
	if !reflect.DeepEqual(r.SafeEditIndices, []int{0, 2, 4}) {
		t.Errorf("safe indices = %v, want [0 2 4]", r.SafeEditIndices)
	}
	if !reflect.DeepEqual(r.FailedEditIndices, []int{1, 3}) {
		t.Errorf("failed indices = %v, want [1 3]", r.FailedEditIndices)
	}
	if r.GuardFailureReason == "" {
		t.Error("expected a guard failure reason")
	}
	if len(r.RepairSuggestions) != 2 {
		t.Errorf("suggestions = %d, want 2", len(r.RepairSuggestions))
	}
}

func TestTryApplyIsDeterministic(t *testing.T) {
	engine := NewEngine(nil)
	content, edits := fiveEdits()

	// Same edit set submitted in different orders, three runs each.
	orders := [][]int{
		{0, 1, 2, 3, 4},
		{4, 3, 2, 1, 0},
		{2, 0, 4, 1, 3},
	}

	var firstContent string
	var firstSafe, firstFailed []int

	for _, order := range orders {
		shuffled := make([]plan.Edit, len(edits))
		for i, j := range order {
			shuffled[i] = edits[j]
		}

		for run := 0; run < 3; run++ {
			result, err := engine.TryApply(context.Background(), "run-1", "f.py", content, shuffled, markerGuard)
			if err != nil {
				t.Fatalf("TryApply: %v", err)
			}
			if firstContent == "" {
				firstContent = result.Content
				firstSafe = result.Report.SafeEditIndices
				firstFailed = result.Report.FailedEditIndices
				continue
			}
			if result.Content != firstContent {
				t.Errorf("order %v run %d: content diverged", order, run)
			}
			if !reflect.DeepEqual(result.Report.SafeEditIndices, firstSafe) {
				t.Errorf("order %v run %d: safe indices diverged: %v vs %v",
					order, run, result.Report.SafeEditIndices, firstSafe)
			}
			if !reflect.DeepEqual(result.Report.FailedEditIndices, firstFailed) {
				t.Errorf("order %v run %d: failed indices diverged", order, run)
			}
		}
	}
}

func TestTryApplyAllEditsPass(t *testing.T) {
	engine := NewEngine(nil)
	content := "one\ntwo"
	edits := []plan.Edit{
		{File: "f.py", StartLine: 1, EndLine: 1, Op: plan.OpReplace, Payload: "ONE"},
	}

	result, err := engine.TryApply(context.Background(), "run-1", "f.py", content, edits, markerGuard)
	if err != nil {
		t.Fatalf("TryApply: %v", err)
	}
	if !result.Success || result.PartialApply {
		t.Errorf("Success=%v PartialApply=%v, want true/false", result.Success, result.PartialApply)
	}
	if result.Report != nil {
		t.Error("no report expected when everything passes")
	}
	if result.Content != "ONE\ntwo" {
		t.Errorf("content = %q", result.Content)
	}
}

func TestTryApplyNoSafeEdits(t *testing.T) {
	engine := NewEngine(nil)
	content := "one\ntwo"
	edits := []plan.Edit{
		{File: "f.py", StartLine: 1, EndLine: 1, Op: plan.OpReplace, Payload: "BROKEN"},
		{File: "f.py", StartLine: 2, EndLine: 2, Op: plan.OpReplace, Payload: "BROKEN"},
	}

	result, err := engine.TryApply(context.Background(), "run-1", "f.py", content, edits, markerGuard)
	if err != nil {
		t.Fatalf("TryApply: %v", err)
	}
	if result.Success {
		t.Error("expected failure when no edit is safe")
	}
	if result.Content != content {
		t.Error("content must be the untouched original")
	}
	if result.Report == nil || result.Report.SafeEdits != 0 || result.Report.FailedEdits != 2 {
		t.Errorf("report = %+v", result.Report)
	}
}

func TestTryApplyEmptyEditSet(t *testing.T) {
	engine := NewEngine(nil)
	result, err := engine.TryApply(context.Background(), "run-1", "f.py", "body", nil, markerGuard)
	if err != nil {
		t.Fatalf("TryApply: %v", err)
	}
	if !result.Success || result.Content != "body" {
		t.Errorf("empty edit set must trivially succeed, got %+v", result)
	}
}

func TestTryApplyCancellation(t *testing.T) {
	engine := NewEngine(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	content, edits := fiveEdits()
	if _, err := engine.TryApply(ctx, "run-1", "f.py", content, edits, markerGuard); err == nil {
		t.Error("expected cancellation error")
	}
}
