// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package learning

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acetools/ace/services/ace/plan"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(filepath.Join(t.TempDir(), "learn.json"), nil)
}

func record(t *testing.T, e *Engine, rule string, outcome Outcome, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, e.RecordOutcome(rule, outcome, "", ""))
	}
}

func TestTunedThresholdsDefaultsWithLittleData(t *testing.T) {
	e := newTestEngine(t)

	// Unknown rule.
	th := e.TunedThresholds("never-seen")
	assert.InDelta(t, 0.70, th.Auto, 1e-9)
	assert.InDelta(t, 0.50, th.Suggest, 1e-9)

	// Four outcomes is below the tuning minimum.
	record(t, e, "r1", OutcomeReverted, 4)
	th = e.TunedThresholds("r1")
	assert.InDelta(t, 0.70, th.Auto, 1e-9)
}

func TestTunedThresholdsCeiling(t *testing.T) {
	e := newTestEngine(t)

	// 50 reverts, zero applies: revert rate 1.0 pushes the raw value
	// far past the ceiling.
	record(t, e, "r1", OutcomeReverted, 50)

	th := e.TunedThresholds("r1")
	assert.InDelta(t, CeilMinAuto, th.Auto, 1e-9)
	assert.InDelta(t, 0.50, th.Suggest, 1e-9, "suggest is never adjusted")
}

func TestTunedThresholdsFloor(t *testing.T) {
	e := newTestEngine(t)

	// 50 applies, zero reverts: apply rate 1.0 lowers auto by exactly
	// (1.0-0.80)*0.5 = 0.10, landing on the floor.
	record(t, e, "r1", OutcomeApplied, 50)

	th := e.TunedThresholds("r1")
	assert.InDelta(t, FloorMinAuto, th.Auto, 1e-9)
}

func TestTunedThresholdsModerateRevertRate(t *testing.T) {
	e := newTestEngine(t)

	// 5 reverted of 10: revert rate 0.50 raises auto by 0.125.
	record(t, e, "r1", OutcomeApplied, 5)
	record(t, e, "r1", OutcomeReverted, 5)

	th := e.TunedThresholds("r1")
	assert.InDelta(t, 0.825, th.Auto, 1e-9)
}

func TestSuggestedOutcomesDoNotTune(t *testing.T) {
	e := newTestEngine(t)
	record(t, e, "r1", OutcomeSuggested, 50)

	th := e.TunedThresholds("r1")
	assert.InDelta(t, 0.70, th.Auto, 1e-9)
}

func TestShouldSkipFileForRule(t *testing.T) {
	e := newTestEngine(t)

	for i := 0; i < 2; i++ {
		require.NoError(t, e.RecordOutcome("r1", OutcomeReverted, "", "a.py"))
	}
	assert.False(t, e.ShouldSkipFileForRule("r1", "a.py"), "two reverts are not enough")

	require.NoError(t, e.RecordOutcome("r1", OutcomeReverted, "", "a.py"))
	assert.True(t, e.ShouldSkipFileForRule("r1", "a.py"))

	// Other files and rules are unaffected.
	assert.False(t, e.ShouldSkipFileForRule("r1", "b.py"))
	assert.False(t, e.ShouldSkipFileForRule("r2", "a.py"))

	// Any non-revert outcome resets the streak.
	require.NoError(t, e.RecordOutcome("r1", OutcomeApplied, "", "a.py"))
	assert.False(t, e.ShouldSkipFileForRule("r1", "a.py"))
}

func TestShouldSkipContext(t *testing.T) {
	e := newTestEngine(t)
	key := "a.py|r1|deadbeef"

	require.NoError(t, e.RecordOutcome("r1", OutcomeReverted, key, "a.py"))
	require.NoError(t, e.RecordOutcome("r1", OutcomeReverted, key, "a.py"))
	assert.False(t, e.ShouldSkipContext(key, 0.5), "two hits are below the minimum")

	require.NoError(t, e.RecordOutcome("r1", OutcomeApplied, key, "a.py"))
	// 3 hits, 2 reverts: rate 0.667 > 0.5.
	assert.True(t, e.ShouldSkipContext(key, 0.5))
	assert.False(t, e.ShouldSkipContext(key, 0.7))
	assert.False(t, e.ShouldSkipContext("unknown", 0.5))
}

func TestContextKeyDeterministic(t *testing.T) {
	p := &plan.EditPlan{
		ID:    "p1",
		Edits: []plan.Edit{{File: "a.py", StartLine: 1, EndLine: 1, Op: plan.OpDelete}},
		Findings: []plan.Finding{
			{RuleID: "r1", File: "a.py", Line: 1, Snippet: "import os"},
		},
	}
	same := &plan.EditPlan{
		ID:    "a-different-id",
		Edits: []plan.Edit{{File: "a.py", StartLine: 1, EndLine: 1, Op: plan.OpDelete}},
		Findings: []plan.Finding{
			{RuleID: "r1", File: "a.py", Line: 1, Snippet: "import os"},
		},
	}
	other := &plan.EditPlan{
		ID:    "p2",
		Edits: []plan.Edit{{File: "a.py", StartLine: 1, EndLine: 1, Op: plan.OpDelete}},
		Findings: []plan.Finding{
			{RuleID: "r1", File: "a.py", Line: 1, Snippet: "import sys"},
		},
	}

	assert.Equal(t, ContextKey(p), ContextKey(same), "plan IDs must not affect the key")
	assert.NotEqual(t, ContextKey(p), ContextKey(other), "snippet changes the key")
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "learn.json")

	e1 := NewEngine(path, nil)
	record(t, e1, "r1", OutcomeApplied, 7)
	record(t, e1, "r1", OutcomeReverted, 2)

	e2 := NewEngine(path, nil)
	stats := e2.RuleStatsFor("r1")
	assert.Equal(t, 7, stats.Applied)
	assert.Equal(t, 2, stats.Reverted)
}

func TestCorruptedDataResetsToEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "learn.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	e := NewEngine(path, nil)

	// Loads as empty and keeps working.
	assert.Equal(t, RuleStats{}, e.RuleStatsFor("r1"))
	require.NoError(t, e.RecordOutcome("r1", OutcomeApplied, "", "a.py"))
	assert.Equal(t, 1, e.RuleStatsFor("r1").Applied)
}

func TestMissingDataIsNotAnError(t *testing.T) {
	e := NewEngine(filepath.Join(t.TempDir(), "never-written.json"), nil)
	snap := e.Snapshot()
	assert.Empty(t, snap.Rules)
	assert.Empty(t, snap.Contexts)
}
