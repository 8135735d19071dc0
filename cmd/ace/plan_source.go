// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/acetools/ace/services/ace/plan"
)

// planSource feeds externally-proposed edit plans into the pipeline. It
// implements both the Analyzer side (surfacing each plan's findings)
// and the Codemod side (returning the plans for a file).
type planSource struct {
	plans map[string][]*plan.EditPlan
}

// loadPlanSource parses a JSON file holding an array of edit plans.
// Edit file paths are resolved to absolute; plans without an ID get one.
func loadPlanSource(path string) (*planSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}

	var plans []*plan.EditPlan
	if err := json.Unmarshal(raw, &plans); err != nil {
		return nil, fmt.Errorf("parse plans file: %w", err)
	}

	src := &planSource{plans: make(map[string][]*plan.EditPlan)}
	for i, p := range plans {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		for j := range p.Edits {
			abs, err := filepath.Abs(p.Edits[j].File)
			if err != nil {
				return nil, fmt.Errorf("plan %d: resolve %s: %w", i, p.Edits[j].File, err)
			}
			p.Edits[j].File = abs
		}
		for j := range p.Findings {
			if p.Findings[j].File == "" {
				continue
			}
			abs, err := filepath.Abs(p.Findings[j].File)
			if err != nil {
				return nil, fmt.Errorf("plan %d: resolve %s: %w", i, p.Findings[j].File, err)
			}
			p.Findings[j].File = abs
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("plan %d: %w", i, err)
		}
		src.plans[p.File()] = append(src.plans[p.File()], p)
	}
	return src, nil
}

// Files returns the distinct target files, sorted.
func (s *planSource) Files() []string {
	files := make([]string, 0, len(s.plans))
	for f := range s.plans {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

func (s *planSource) Name() string { return "plan-file" }

// Analyze surfaces the findings the external tool attached to its
// plans for this file.
func (s *planSource) Analyze(_ context.Context, path string, _ []byte) ([]plan.Finding, error) {
	var findings []plan.Finding
	for _, p := range s.plans[path] {
		findings = append(findings, p.Findings...)
	}
	return findings, nil
}

// Propose returns the externally-proposed plans for this file.
func (s *planSource) Propose(_ context.Context, path string, _ []byte, _ []plan.Finding) ([]*plan.EditPlan, error) {
	return s.plans[path], nil
}
