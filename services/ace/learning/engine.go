// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package learning records apply/revert/suggest outcomes per rule and
// per context fingerprint, persists them across runs, and derives
// adjusted policy thresholds bounded by a floor and ceiling.
package learning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/acetools/ace/pkg/atomicfile"
	"github.com/acetools/ace/services/ace/plan"
	"github.com/acetools/ace/services/ace/policy"
)

const (
	// FloorMinAuto is the lowest a tuned auto threshold may sink.
	FloorMinAuto = 0.60

	// CeilMinAuto is the highest a tuned auto threshold may climb.
	CeilMinAuto = 0.85

	// minOutcomesForTuning is the minimum applied+reverted outcomes
	// before a rule's thresholds are adjusted at all.
	minOutcomesForTuning = 5

	// consecutiveRevertLimit trips the per-(rule,file) auto-skip.
	consecutiveRevertLimit = 3

	// minContextHits is the minimum-data gate for context skipping.
	minContextHits = 3
)

// Engine is the learning store. State is loaded lazily from disk and
// persisted on every recorded outcome.
//
// # Thread Safety
//
// All methods are safe for concurrent use; in practice the pipeline
// calls them only from the single committing path.
type Engine struct {
	path   string
	logger *slog.Logger

	mu          sync.Mutex
	data        *Data
	loaded      bool
	consecutive map[string]int // (rule, file) -> consecutive reverts
}

// NewEngine creates a learning engine persisting to path, typically
// ".ace/learn.json".
func NewEngine(path string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		path:        path,
		logger:      logger.With(slog.String("component", "learning")),
		consecutive: make(map[string]int),
	}
}

// RecordOutcome increments the counters for a rule and, when given,
// its context fingerprint, then persists. Consecutive reverts are
// tracked independently per (rule, file) pair for auto-skip purposes.
func (e *Engine) RecordOutcome(ruleID string, outcome Outcome, contextKey, filePath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLoaded()

	stats, ok := e.data.Rules[ruleID]
	if !ok {
		stats = &RuleStats{}
		e.data.Rules[ruleID] = stats
	}

	switch outcome {
	case OutcomeApplied:
		stats.Applied++
	case OutcomeReverted:
		stats.Reverted++
	case OutcomeSuggested:
		stats.Suggested++
	default:
		return fmt.Errorf("unknown outcome %q", outcome)
	}

	if contextKey != "" {
		ctx, ok := e.data.Contexts[contextKey]
		if !ok {
			ctx = &ContextStats{}
			e.data.Contexts[contextKey] = ctx
		}
		ctx.Hits++
		if outcome == OutcomeReverted {
			ctx.Reverts++
		}
	}

	if filePath != "" {
		key := ruleID + "\x00" + filePath
		if outcome == OutcomeReverted {
			e.consecutive[key]++
		} else {
			e.consecutive[key] = 0
		}
	}

	return e.saveLocked()
}

// ShouldSkipFileForRule reports whether the (rule, file) pair has hit
// the consecutive-revert limit. Any non-revert outcome resets it.
func (e *Engine) ShouldSkipFileForRule(ruleID, filePath string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consecutive[ruleID+"\x00"+filePath] >= consecutiveRevertLimit
}

// ContextKey builds the deterministic fingerprint for a plan: its file,
// primary rule, and a hash of its first finding's snippet. Identical
// plans by content yield identical keys regardless of plan ID.
func ContextKey(p *plan.EditPlan) string {
	snippet := ""
	if len(p.Findings) > 0 {
		snippet = p.Findings[0].Snippet
	}
	sum := sha256.Sum256([]byte(snippet))
	return p.File() + "|" + p.PrimaryRule() + "|" + hex.EncodeToString(sum[:])[:16]
}

// ShouldSkipContext reports whether a context has enough history
// (hits >= 3) and a revert rate above threshold.
func (e *Engine) ShouldSkipContext(contextKey string, threshold float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLoaded()

	ctx, ok := e.data.Contexts[contextKey]
	if !ok || ctx.Hits < minContextHits {
		return false
	}
	return ctx.RevertRate() > threshold
}

// TunedThresholds derives the live thresholds for a rule.
//
// # Description
//
// Starts from the policy defaults. Once a rule has at least five
// applied+reverted outcomes, the auto threshold shifts upward in
// proportion to how far the revert rate exceeds 25%, or downward in
// proportion to how far the apply rate exceeds 80%, always clamped to
// [FloorMinAuto, CeilMinAuto]. The suggest threshold is never adjusted.
func (e *Engine) TunedThresholds(ruleID string) policy.Thresholds {
	defaults, err := policy.DefaultConfig()
	if err != nil {
		// Embedded config; failure here means a build defect.
		defaults.Thresholds = policy.Thresholds{Auto: 0.70, Suggest: 0.50}
	}
	thresholds := defaults.Thresholds

	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLoaded()

	stats, ok := e.data.Rules[ruleID]
	if !ok {
		return thresholds
	}

	total := stats.Applied + stats.Reverted
	if total < minOutcomesForTuning {
		return thresholds
	}

	revertRate := float64(stats.Reverted) / float64(total)
	applyRate := float64(stats.Applied) / float64(total)

	auto := thresholds.Auto
	if revertRate > 0.25 {
		auto += (revertRate - 0.25) * 0.5
	} else if applyRate > 0.80 {
		auto -= (applyRate - 0.80) * 0.5
	}

	thresholds.Auto = clamp(auto, FloorMinAuto, CeilMinAuto)
	return thresholds
}

// RuleStatsFor returns a copy of the stats for one rule.
func (e *Engine) RuleStatsFor(ruleID string) RuleStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLoaded()

	if stats, ok := e.data.Rules[ruleID]; ok {
		return *stats
	}
	return RuleStats{}
}

// Snapshot returns a deep copy of the current learning data for
// reporting.
func (e *Engine) Snapshot() Data {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLoaded()

	out := Data{
		Rules:    make(map[string]*RuleStats, len(e.data.Rules)),
		Contexts: make(map[string]*ContextStats, len(e.data.Contexts)),
		Tuning:   make(map[string]float64, len(e.data.Tuning)),
	}
	for k, v := range e.data.Rules {
		c := *v
		out.Rules[k] = &c
	}
	for k, v := range e.data.Contexts {
		c := *v
		out.Contexts[k] = &c
	}
	for k, v := range e.data.Tuning {
		out.Tuning[k] = v
	}
	return out
}

// ensureLoaded lazily loads persisted data. A corrupted or missing
// file resets to empty data without raising — learning degrades
// gracefully rather than blocking analysis.
func (e *Engine) ensureLoaded() {
	if e.loaded {
		return
	}
	e.loaded = true
	e.data = newData()

	raw, err := os.ReadFile(e.path)
	if err != nil {
		if !os.IsNotExist(err) {
			e.logger.Warn("learning data unreadable, starting empty", slog.String("error", err.Error()))
		}
		return
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		e.logger.Warn("learning data corrupted, starting empty", slog.String("error", err.Error()))
		return
	}

	if data.Rules == nil {
		data.Rules = make(map[string]*RuleStats)
	}
	if data.Contexts == nil {
		data.Contexts = make(map[string]*ContextStats)
	}
	if data.Tuning == nil {
		data.Tuning = make(map[string]float64)
	}
	e.data = &data
}

// saveLocked persists the document atomically. Caller holds the mutex.
func (e *Engine) saveLocked() error {
	raw, err := json.MarshalIndent(e.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode learning data: %w", err)
	}
	if err := atomicfile.WriteFile(e.path, raw, 0644); err != nil {
		return fmt.Errorf("persist learning data: %w", err)
	}
	return nil
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Compile-time interface compliance check.
var _ policy.ThresholdSource = (*Engine)(nil)
