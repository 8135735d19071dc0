// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package learning

// Outcome classifies what happened to a plan after policy enforcement.
type Outcome string

const (
	// OutcomeApplied means the plan was committed and stayed.
	OutcomeApplied Outcome = "applied"

	// OutcomeReverted means a committed plan was rolled back.
	OutcomeReverted Outcome = "reverted"

	// OutcomeSuggested means the plan was surfaced for review instead
	// of being auto-applied.
	OutcomeSuggested Outcome = "suggested"
)

// RuleStats accumulates outcomes per rule across process lifetimes.
// Counters only grow.
type RuleStats struct {
	Applied   int `json:"applied"`
	Reverted  int `json:"reverted"`
	Suggested int `json:"suggested"`
}

// ContextStats accumulates outcomes per context fingerprint.
type ContextStats struct {
	Hits    int `json:"hits"`
	Reverts int `json:"reverts"`
}

// RevertRate returns reverts/hits, or 0 with no data.
func (c *ContextStats) RevertRate() float64 {
	if c.Hits == 0 {
		return 0
	}
	return float64(c.Reverts) / float64(c.Hits)
}

// Data is the single persisted learning document.
type Data struct {
	Rules    map[string]*RuleStats    `json:"rules"`
	Contexts map[string]*ContextStats `json:"contexts"`
	Tuning   map[string]float64       `json:"tuning"`
}

// newData returns an empty, fully-initialized document.
func newData() *Data {
	return &Data{
		Rules:    make(map[string]*RuleStats),
		Contexts: make(map[string]*ContextStats),
		Tuning:   make(map[string]float64),
	}
}
