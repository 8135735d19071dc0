// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/acetools/ace/services/ace/watch"
)

// runWatch re-runs analysis whenever a watched file changes, until
// interrupted.
func runWatch(cmd *cobra.Command, args []string) error {
	eng, err := buildEngines(true)
	if err != nil {
		return err
	}
	defer eng.close()

	src, err := loadPlanSource(plansFile)
	if err != nil {
		return err
	}
	eng.runner.RegisterAnalyzer(src)
	eng.runner.RegisterCodemod(src)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher, err := watch.New(eng.index, args, eng.logger.Slog(), watch.WithExtensions(watchExts...))
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- watcher.Run(ctx) }()

	fmt.Printf("watching %v (ctrl-c to stop)\n", args)

	for {
		select {
		case path, ok := <-watcher.Changes():
			if !ok {
				return <-errCh
			}
			fmt.Printf("changed: %s\n", path)

			result, err := eng.runner.Run(ctx, []string{path})
			if err != nil {
				eng.logger.Error("run failed", "path", path, "error", err.Error())
				continue
			}
			fmt.Printf("  findings: %d  applied: %d  suggested: %d\n",
				len(result.Findings), result.PlansApplied, result.PlansSuggested)

		case <-ctx.Done():
			err := <-errCh
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}
