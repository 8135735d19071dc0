// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline orchestrates a full transformation run: parallel
// analysis, deterministic finding merge, policy enforcement, guarded
// apply with repair, and the journaled commit path.
//
// Analysis fans out across a worker pool; everything that writes —
// journal, target files, receipts, learning, index — runs on the single
// committing goroutine. Findings are merged in (file, line, rule) order
// so a run with N workers is byte-identical to a run with one.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/acetools/ace/pkg/atomicfile"
	"github.com/acetools/ace/services/ace/contentindex"
	"github.com/acetools/ace/services/ace/guard"
	"github.com/acetools/ace/services/ace/journal"
	"github.com/acetools/ace/services/ace/learning"
	"github.com/acetools/ace/services/ace/plan"
	"github.com/acetools/ace/services/ace/policy"
	"github.com/acetools/ace/services/ace/receipt"
	"github.com/acetools/ace/services/ace/repair"
)

// Analyzer inspects one file and reports findings. Implementations must
// be stateless with respect to the run: the pool calls them from
// multiple goroutines.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, path string, content []byte) ([]plan.Finding, error)
}

// Codemod turns findings for one file into edit plans. Called on the
// committing goroutine only.
type Codemod interface {
	Name() string
	Propose(ctx context.Context, path string, content []byte, findings []plan.Finding) ([]*plan.EditPlan, error)
}

// Config shapes one Runner.
type Config struct {
	// Root is the workspace directory holding the .ace state dir.
	Root string

	// Jobs is the analysis worker count. Values < 1 mean 1.
	Jobs int

	// Strict additionally requires AST equivalence on every guarded
	// transformation.
	Strict bool

	// DryRun verifies and scores but never journals or writes.
	DryRun bool

	// SkipThreshold is the clean-run count after which unchanged files
	// skip deep analysis. Values < 1 use the index default.
	SkipThreshold int
}

// Runner executes transformation runs. Construct with NewRunner; all
// collaborators are explicit, there are no package-level singletons.
type Runner struct {
	cfg        Config
	verifier   *guard.Verifier
	repairer   *repair.Engine
	policy     *policy.Engine
	learner    *learning.Engine
	index      *contentindex.Index
	journals   string
	reports    *repair.Store
	suggestCut float64
	logger     *slog.Logger

	analyzers []Analyzer
	codemods  []Codemod
}

// NewRunner wires a Runner from its collaborators.
//
// # Inputs
//
//   - cfg: Run configuration. Root must be set.
//   - verifier: Guard verifier. Must not be nil.
//   - repairer: Repair engine. Must not be nil.
//   - policyEngine: Policy engine. Must not be nil.
//   - learner: Learning engine. Must not be nil.
//   - index: Content index. Must not be nil.
//   - logger: Logger (nil for slog.Default()).
func NewRunner(cfg Config, verifier *guard.Verifier, repairer *repair.Engine, policyEngine *policy.Engine, learner *learning.Engine, index *contentindex.Index, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Jobs < 1 {
		cfg.Jobs = 1
	}
	if cfg.SkipThreshold < 1 {
		cfg.SkipThreshold = contentindex.DefaultSkipThreshold
	}
	suggest := 0.50
	if defaults, err := policy.DefaultConfig(); err == nil {
		suggest = defaults.Thresholds.Suggest
	}
	stateDir := filepath.Join(cfg.Root, ".ace")
	return &Runner{
		cfg:        cfg,
		verifier:   verifier,
		repairer:   repairer,
		policy:     policyEngine,
		learner:    learner,
		index:      index,
		journals:   filepath.Join(stateDir, "journals"),
		reports:    repair.NewStore(filepath.Join(stateDir, "repairs")),
		suggestCut: suggest,
		logger:     logger.With(slog.String("component", "pipeline")),
	}
}

// RegisterAnalyzer adds an analyzer. Not safe to call once Run started.
func (r *Runner) RegisterAnalyzer(a Analyzer) {
	r.analyzers = append(r.analyzers, a)
}

// RegisterCodemod adds a codemod. Not safe to call once Run started.
func (r *Runner) RegisterCodemod(c Codemod) {
	r.codemods = append(r.codemods, c)
}

// RunResult summarizes one run.
type RunResult struct {
	RunID          string         `json:"run_id"`
	FilesScanned   int            `json:"files_scanned"`
	FilesSkipped   int            `json:"files_skipped"`
	Findings       []plan.Finding `json:"findings,omitempty"`
	PlansApplied   int            `json:"plans_applied"`
	PlansPartial   int            `json:"plans_partial"`
	PlansSuggested int            `json:"plans_suggested"`
	PlansDenied    int            `json:"plans_denied"`
	PlansFailed    int            `json:"plans_failed"`
	GuardChecks    guard.Summary  `json:"guard_checks"`
	JournalPath    string         `json:"journal_path,omitempty"`
	Suggestions    []string       `json:"suggestions,omitempty"`
	Errors         []string       `json:"errors,omitempty"`

	guardResults []*guard.Result
}

// fileAnalysis is one worker's output for one file.
type fileAnalysis struct {
	path     string
	content  []byte
	findings []plan.Finding
	err      error
}

// Run analyzes paths and applies every plan policy admits.
//
// # Description
//
// Files the index marks clean past the skip threshold are skipped
// outright. The rest are analyzed by Jobs workers; findings are merged
// and sorted (file, line, rule). Codemods then propose plans per file,
// and each plan goes through policy, guard, repair, and the journaled
// commit path in order, all on the calling goroutine.
//
// # Outputs
//
//   - *RunResult: Never nil on success.
//   - error: Non-nil on operational failure. Guard rejections and
//     policy denials are recorded in the result, not returned as errors.
func (r *Runner) Run(ctx context.Context, paths []string) (*RunResult, error) {
	start := time.Now()
	runID := uuid.NewString()
	result := &RunResult{RunID: runID}

	scan := make([]string, 0, len(paths))
	for _, p := range paths {
		if r.index.ShouldSkipDeepScan(p, r.cfg.SkipThreshold) {
			result.FilesSkipped++
			continue
		}
		scan = append(scan, p)
	}
	result.FilesScanned = len(scan)

	analyses, err := r.analyze(ctx, scan)
	if err != nil {
		return nil, err
	}

	for _, a := range analyses {
		result.Findings = append(result.Findings, a.findings...)
	}
	plan.SortFindings(result.Findings)

	if err := r.commit(ctx, runID, analyses, result); err != nil {
		return nil, err
	}
	result.GuardChecks = guard.Summarize(result.guardResults)

	if err := r.index.Save(); err != nil {
		return nil, err
	}

	recordRun(ctx, result, time.Since(start))
	r.logger.Info("run complete",
		slog.String("run_id", runID),
		slog.Int("files_scanned", result.FilesScanned),
		slog.Int("files_skipped", result.FilesSkipped),
		slog.Int("findings", len(result.Findings)),
		slog.Int("guard_checks", result.GuardChecks.Total),
		slog.Int("guard_passed", result.GuardChecks.Passed),
		slog.Int("plans_applied", result.PlansApplied))
	return result, nil
}

// analyze fans file analysis out across the worker pool and returns
// per-file results in deterministic path order. The first analyzer
// error cancels the remaining work.
func (r *Runner) analyze(ctx context.Context, paths []string) ([]fileAnalysis, error) {
	analyses := make([]fileAnalysis, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Jobs)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			a := r.analyzeFile(gctx, p)
			if a.err != nil {
				return a.err
			}
			analyses[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis canceled: %w", err)
	}

	sort.Slice(analyses, func(i, j int) bool { return analyses[i].path < analyses[j].path })
	return analyses, nil
}

// analyzeFile runs every analyzer over one file. Findings within the
// file are sorted so worker scheduling cannot leak into the output.
func (r *Runner) analyzeFile(ctx context.Context, path string) fileAnalysis {
	content, err := os.ReadFile(path)
	if err != nil {
		return fileAnalysis{path: path, err: fmt.Errorf("read %s: %w", path, err)}
	}

	var findings []plan.Finding
	for _, a := range r.analyzers {
		found, err := a.Analyze(ctx, path, content)
		if err != nil {
			return fileAnalysis{path: path, err: fmt.Errorf("analyzer %s on %s: %w", a.Name(), path, err)}
		}
		findings = append(findings, found...)
	}
	plan.SortFindings(findings)
	return fileAnalysis{path: path, content: content, findings: findings}
}

// commit walks per-file plans through policy, guard, repair, and the
// journaled write, entirely on the calling goroutine.
func (r *Runner) commit(ctx context.Context, runID string, analyses []fileAnalysis, result *RunResult) error {
	var jnl *journal.Journal
	if !r.cfg.DryRun {
		var err error
		jnl, err = journal.Open(runID, r.journals, r.logger)
		if err != nil {
			return err
		}
		defer jnl.Close()
		result.JournalPath = jnl.Path()
	}

	for _, a := range analyses {
		clean, err := r.commitFile(ctx, runID, jnl, a, result)
		if err != nil {
			return err
		}
		if clean {
			r.index.IncrementCleanRuns(a.path)
		}
	}
	return nil
}

// commitFile processes one file's plans. Returns whether the file
// finished the run clean (no findings, nothing written).
func (r *Runner) commitFile(ctx context.Context, runID string, jnl *journal.Journal, a fileAnalysis, result *RunResult) (bool, error) {
	if err := r.index.AddFile(a.path, true); err != nil {
		return false, err
	}

	content := string(a.content)
	written := false
	proposed := 0

	for _, c := range r.codemods {
		plans, err := c.Propose(ctx, a.path, []byte(content), a.findings)
		if err != nil {
			return false, fmt.Errorf("codemod %s on %s: %w", c.Name(), a.path, err)
		}
		proposed += len(plans)

		for _, p := range plans {
			next, didWrite, err := r.commitPlan(ctx, runID, jnl, a.path, content, p, result)
			if err != nil {
				return false, err
			}
			content = next
			written = written || didWrite
		}
	}

	if written {
		r.index.ResetCleanRuns(a.path)
		if err := r.index.AddFile(a.path, false); err != nil {
			return false, err
		}
		return false, nil
	}
	return len(a.findings) == 0 && proposed == 0, nil
}

// commitPlan runs one plan end to end and returns the file content
// after it (unchanged when the plan was not applied).
func (r *Runner) commitPlan(ctx context.Context, runID string, jnl *journal.Journal, path, content string, p *plan.EditPlan, result *RunResult) (string, bool, error) {
	if err := p.Validate(); err != nil {
		return content, false, fmt.Errorf("plan %s: %w", p.ID, err)
	}

	rule := p.PrimaryRule()
	if r.learner.ShouldSkipFileForRule(rule, path) {
		r.logger.Info("skipping plan, rule keeps getting reverted here",
			slog.String("rule_id", rule), slog.String("file", path))
		result.PlansDenied++
		return content, false, nil
	}

	ctxKey := learning.ContextKey(p)
	if r.learner.ShouldSkipContext(ctxKey, r.suggestCut) {
		r.logger.Info("skipping plan, context keeps getting reverted",
			slog.String("rule_id", rule), slog.String("file", path))
		result.PlansDenied++
		return content, false, nil
	}

	enforcement := r.policy.Enforce(p, deriveScoreInputs(p))
	recordDecision(ctx, string(enforcement.Decision))

	switch enforcement.Decision {
	case policy.DecisionDeny:
		result.PlansDenied++
		return content, false, nil

	case policy.DecisionSuggest:
		result.PlansSuggested++
		result.Suggestions = append(result.Suggestions, fmt.Sprintf(
			"%s: plan %s (rule %s, score %.2f) needs review", path, p.ID, rule, enforcement.Score))
		if !r.cfg.DryRun {
			if err := r.learner.RecordOutcome(rule, learning.OutcomeSuggested, ctxKey, path); err != nil {
				return content, false, err
			}
		}
		return content, false, nil
	}

	// Auto path. A file that does not parse before we touch it is an
	// operational error for this plan, not a guard failure and not
	// fatal to the run: the plan is skipped, nothing is journaled, and
	// other files commit normally.
	if ok, errs := r.verifier.VerifyParse(ctx, []byte(content)); !ok {
		msg := fmt.Sprintf("%s does not parse before transformation: %v", path, errs)
		r.logger.Warn("skipping plan, original does not parse",
			slog.String("plan_id", p.ID), slog.String("file", path))
		result.PlansFailed++
		result.Errors = append(result.Errors, msg)
		return content, false, nil
	}

	after, applied, guardRes, report, err := r.applyGuarded(ctx, runID, path, content, p)
	if err != nil {
		return content, false, err
	}
	if guardRes != nil {
		result.guardResults = append(result.guardResults, guardRes)
	}
	if report != nil {
		if _, werr := r.reports.Write(report); werr != nil {
			r.logger.Warn("repair report not persisted", slog.String("error", werr.Error()))
		}
		if len(report.RepairSuggestions) > 0 {
			r.logger.Info("repair suggestions for "+path+"\n"+repair.FormatSuggestions(report.RepairSuggestions),
				slog.String("plan_id", p.ID))
		}
	}
	if !applied {
		result.PlansFailed++
		return content, false, nil
	}
	if report != nil {
		result.PlansPartial++
	}

	if receipt.IsIdempotent([]byte(content), []byte(after)) {
		// Nothing changed; no write, no journal entries.
		return content, false, nil
	}

	if r.cfg.DryRun {
		result.PlansApplied++
		return after, false, nil
	}

	start := time.Now()
	beforeSHA := receipt.HashContent([]byte(content))

	if err := jnl.LogIntent(path, beforeSHA, int64(len(content)), p.RuleIDs(), p.ID, content); err != nil {
		return content, false, err
	}
	if err := atomicfile.WriteFile(path, []byte(after), 0644); err != nil {
		return content, false, fmt.Errorf("write %s: %w", path, err)
	}

	rcpt := receipt.Create(p.ID, path, []byte(content), []byte(after), true, true, p.EstimatedRisk, time.Since(start))
	if err := jnl.LogSuccess(path, rcpt.AfterHash, int64(len(after)), rcpt); err != nil {
		return content, false, err
	}
	if err := r.learner.RecordOutcome(rule, learning.OutcomeApplied, ctxKey, path); err != nil {
		return content, false, err
	}

	result.PlansApplied++
	r.logger.Info("plan applied",
		slog.String("plan_id", p.ID),
		slog.String("file", path),
		slog.String("receipt_id", rcpt.ID))
	return after, true, nil
}

// applyGuarded applies the plan's edits, verifies, and on rejection
// asks the repair engine for the maximal safe subset. The returned
// guard Result is the full-application check, nil when the edits could
// not even be applied to the content.
func (r *Runner) applyGuarded(ctx context.Context, runID, path, content string, p *plan.EditPlan) (after string, applied bool, res *guard.Result, report *repair.Report, err error) {
	full, err := plan.ApplyEdits(content, p.Edits)
	if err == nil {
		res = r.verifier.GuardEdit(ctx, path, []byte(content), []byte(full), r.cfg.Strict)
		if res.Passed {
			return full, true, res, nil, nil
		}
	}

	guardFn := func(ctx context.Context, before, candidate []byte) *guard.Result {
		return r.verifier.GuardEdit(ctx, path, before, candidate, r.cfg.Strict)
	}
	repaired, err := r.repairer.TryApply(ctx, runID, path, content, p.Edits, guardFn)
	if err != nil {
		return "", false, res, nil, err
	}
	if !repaired.Success {
		return "", false, res, repaired.Report, nil
	}
	return repaired.Content, true, res, repaired.Report, nil
}

// deriveScoreInputs maps a plan onto the policy score components: value
// rises as estimated risk falls, impact with how much the plan fixes.
func deriveScoreInputs(p *plan.EditPlan) policy.ScoreInputs {
	impact := float64(len(p.Findings)) / 5.0
	if impact > 1 {
		impact = 1
	}
	return policy.ScoreInputs{
		Value:  1 - p.EstimatedRisk,
		Impact: impact,
	}
}

// RevertResult summarizes one rollback run.
type RevertResult struct {
	RunID         string   `json:"run_id"`
	Reverted      int      `json:"reverted"`
	SkippedDirty  int      `json:"skipped_dirty"`
	SkippedStale  int      `json:"skipped_stale"`
	JournalPath   string   `json:"journal_path"`
	RevertedFiles []string `json:"reverted_files,omitempty"`
}

// RevertRun rolls back the writes recorded in one journal file.
//
// # Description
//
// Builds the revert plan from the journal, then walks committed writes
// newest first, restoring each pre-image atomically. A file whose
// current hash no longer matches the expected post-apply hash changed
// outside the pipeline and is skipped, never overwritten. Revert
// entries are journaled under a fresh run ID so the original journal
// stays append-only.
func (r *Runner) RevertRun(ctx context.Context, journalPath string) (*RevertResult, error) {
	contexts, err := journal.BuildRevertPlan(journalPath)
	if err != nil {
		return nil, err
	}

	revertID := uuid.NewString()
	jnl, err := journal.Open(revertID, r.journals, r.logger)
	if err != nil {
		return nil, err
	}
	defer jnl.Close()

	result := &RevertResult{RunID: revertID, JournalPath: jnl.Path()}

	for i := len(contexts) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("revert canceled: %w", err)
		}
		rc := contexts[i]

		current, err := os.ReadFile(rc.File)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				result.SkippedStale++
				r.logger.Warn("revert target missing", slog.String("file", rc.File))
				continue
			}
			return nil, fmt.Errorf("read %s: %w", rc.File, err)
		}

		currentSHA := receipt.HashContent(current)
		if currentSHA != rc.ExpectedCurrentSHA {
			result.SkippedDirty++
			r.logger.Warn("revert target modified externally, leaving it alone",
				slog.String("file", rc.File),
				slog.String("expected_sha", rc.ExpectedCurrentSHA),
				slog.String("current_sha", currentSHA))
			continue
		}

		if err := atomicfile.WriteFile(rc.File, []byte(rc.RestoreContent), 0644); err != nil {
			return nil, fmt.Errorf("restore %s: %w", rc.File, err)
		}
		if err := jnl.LogRevert(rc.File, currentSHA, rc.OriginalSHA, "manual revert"); err != nil {
			return nil, err
		}

		for _, rule := range rc.RuleIDs {
			if err := r.learner.RecordOutcome(rule, learning.OutcomeReverted, "", rc.File); err != nil {
				return nil, err
			}
		}

		r.index.ResetCleanRuns(rc.File)
		recordRevert(ctx)
		result.Reverted++
		result.RevertedFiles = append(result.RevertedFiles, rc.File)
	}

	if err := r.index.Save(); err != nil {
		return nil, err
	}

	r.logger.Info("revert complete",
		slog.String("run_id", revertID),
		slog.Int("reverted", result.Reverted),
		slog.Int("skipped_dirty", result.SkippedDirty))
	return result, nil
}
