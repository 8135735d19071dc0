// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"path/filepath"

	"github.com/acetools/ace/pkg/logging"
	"github.com/acetools/ace/services/ace/contentindex"
	"github.com/acetools/ace/services/ace/guard"
	"github.com/acetools/ace/services/ace/learning"
	"github.com/acetools/ace/services/ace/pipeline"
	"github.com/acetools/ace/services/ace/policy"
	"github.com/acetools/ace/services/ace/repair"
)

// engines bundles the long-lived collaborators one command run needs.
// Everything is constructed explicitly here and passed down; nothing
// hides in package-level singletons.
type engines struct {
	logger   *logging.Logger
	verifier *guard.Verifier
	cache    *guard.Cache
	runner   *pipeline.Runner
	learner  *learning.Engine
	index    *contentindex.Index
	stateDir string
}

// buildEngines wires the full engine stack for the workspace root.
// withCache controls whether the guard result cache is opened; read-only
// commands leave it off.
func buildEngines(withCache bool) (*engines, error) {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	stateDir := filepath.Join(root, ".ace")

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		Service: "ace",
	})
	slogger := logger.Slog()

	guardOpts := []guard.Option{guard.WithLogger(slogger)}
	var cache *guard.Cache
	if withCache {
		cache, err = guard.OpenCache(filepath.Join(stateDir, "guardcache"), slogger)
		if err != nil {
			logger.Warn("guard cache unavailable, verifying without it", "error", err.Error())
		} else {
			guardOpts = append(guardOpts, guard.WithCache(cache))
		}
	}
	verifier := guard.NewVerifier(guardOpts...)

	learner := learning.NewEngine(filepath.Join(stateDir, "learn.json"), slogger)
	index := contentindex.New(filepath.Join(stateDir, "index.json"), slogger)

	policyCfg, err := policy.DefaultConfig()
	if err != nil {
		return nil, err
	}
	policyEngine := policy.NewEngine(policyCfg, learner, slogger)
	repairer := repair.NewEngine(slogger)

	runner := pipeline.NewRunner(pipeline.Config{
		Root:   root,
		Jobs:   jobs,
		Strict: strict,
		DryRun: dryRun,
	}, verifier, repairer, policyEngine, learner, index, slogger)

	return &engines{
		logger:   logger,
		verifier: verifier,
		cache:    cache,
		runner:   runner,
		learner:  learner,
		index:    index,
		stateDir: stateDir,
	}, nil
}

// close releases everything that holds file handles.
func (e *engines) close() {
	if e.cache != nil {
		e.cache.Close()
	}
	e.logger.Close()
}
