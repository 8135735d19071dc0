// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package policy computes the R* confidence score for an edit plan and
// maps it to an auto-apply / suggest / deny decision using live,
// per-rule thresholds.
package policy

import (
	"fmt"
	"log/slog"

	"github.com/acetools/ace/services/ace/plan"
	"github.com/acetools/ace/services/ace/policy/enforcement"
	"gopkg.in/yaml.v3"
)

// Decision is the outcome of enforcing policy on one plan.
type Decision string

const (
	// DecisionAuto means the plan may be applied without review.
	DecisionAuto Decision = "auto"

	// DecisionSuggest means the plan is surfaced for human review.
	DecisionSuggest Decision = "suggest"

	// DecisionDeny means the plan never reaches the write path. This
	// is a normal outcome, not an error.
	DecisionDeny Decision = "deny"
)

// Thresholds are the decision boundaries for one rule.
type Thresholds struct {
	Auto    float64 `yaml:"auto" json:"auto"`
	Suggest float64 `yaml:"suggest" json:"suggest"`
}

// Config holds the scoring weights and default thresholds.
type Config struct {
	Weights struct {
		Alpha float64 `yaml:"alpha"`
		Beta  float64 `yaml:"beta"`
	} `yaml:"weights"`
	Thresholds Thresholds `yaml:"thresholds"`
}

// DefaultConfig parses the embedded policy definitions.
func DefaultConfig() (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(enforcement.DefaultPolicy, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal embedded policy: %w", err)
	}
	return cfg, nil
}

// RStar is the confidence score combining a plan's estimated value and
// impact: alpha*value + beta*impact. Inputs in [0,1] keep the score in
// [0,1] by construction. There is deliberately no risk-penalty term.
func RStar(value, impact, alpha, beta float64) float64 {
	return alpha*value + beta*impact
}

// Decide maps a score to a decision against the given thresholds.
func Decide(score float64, t Thresholds) Decision {
	switch {
	case score >= t.Auto:
		return DecisionAuto
	case score >= t.Suggest:
		return DecisionSuggest
	default:
		return DecisionDeny
	}
}

// ThresholdSource supplies live per-rule thresholds; the learning
// engine implements it.
type ThresholdSource interface {
	TunedThresholds(ruleID string) Thresholds
}

// staticThresholds is the fallback source when no learning engine is
// wired in.
type staticThresholds struct{ t Thresholds }

func (s staticThresholds) TunedThresholds(string) Thresholds { return s.t }

// ScoreInputs are the caller-estimated components of R*.
type ScoreInputs struct {
	// Value estimates how much the plan improves the code, in [0,1].
	Value float64

	// Impact estimates the blast radius of leaving the findings
	// unfixed, in [0,1].
	Impact float64
}

// EnforcementResult is the scored decision for one plan.
type EnforcementResult struct {
	RuleID     string     `json:"rule_id"`
	Score      float64    `json:"score"`
	Decision   Decision   `json:"decision"`
	Thresholds Thresholds `json:"thresholds"`
}

// Engine is the single entry point combining scoring and decision.
//
// # Thread Safety
//
// Engine is immutable after construction and safe for concurrent use
// as long as its ThresholdSource is.
type Engine struct {
	config     Config
	thresholds ThresholdSource
	logger     *slog.Logger
}

// NewEngine creates a policy engine.
//
// # Inputs
//
//   - config: Scoring weights and default thresholds, typically from
//     DefaultConfig().
//   - thresholds: Live threshold source; nil falls back to the
//     config's static defaults.
//   - logger: Logger (nil for slog.Default()).
func NewEngine(config Config, thresholds ThresholdSource, logger *slog.Logger) *Engine {
	if thresholds == nil {
		thresholds = staticThresholds{t: config.Thresholds}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config:     config,
		thresholds: thresholds,
		logger:     logger.With(slog.String("component", "policy")),
	}
}

// Enforce scores the plan and decides its fate using the current
// thresholds for the plan's primary rule.
func (e *Engine) Enforce(p *plan.EditPlan, inputs ScoreInputs) EnforcementResult {
	ruleID := p.PrimaryRule()
	thresholds := e.thresholds.TunedThresholds(ruleID)
	score := RStar(inputs.Value, inputs.Impact, e.config.Weights.Alpha, e.config.Weights.Beta)
	decision := Decide(score, thresholds)

	e.logger.Debug("policy decision",
		slog.String("plan_id", p.ID),
		slog.String("rule_id", ruleID),
		slog.Float64("score", score),
		slog.String("decision", string(decision)))

	return EnforcementResult{
		RuleID:     ruleID,
		Score:      score,
		Decision:   decision,
		Thresholds: thresholds,
	}
}
