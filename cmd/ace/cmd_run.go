// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// runRun executes one analyze-and-apply pass over the plan file's
// target files.
func runRun(cmd *cobra.Command, _ []string) error {
	eng, err := buildEngines(true)
	if err != nil {
		return err
	}
	defer eng.close()

	if metricsAddr != "" {
		stop, err := serveMetrics(metricsAddr, eng.logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	src, err := loadPlanSource(plansFile)
	if err != nil {
		return err
	}
	eng.runner.RegisterAnalyzer(src)
	eng.runner.RegisterCodemod(src)

	result, err := eng.runner.Run(cmd.Context(), src.Files())
	if err != nil {
		return err
	}

	fmt.Printf("run %s\n", result.RunID)
	fmt.Printf("  files scanned: %d  skipped: %d\n", result.FilesScanned, result.FilesSkipped)
	fmt.Printf("  findings: %d\n", len(result.Findings))
	fmt.Printf("  applied: %d (partial: %d)  suggested: %d  denied: %d  failed: %d\n",
		result.PlansApplied, result.PlansPartial, result.PlansSuggested, result.PlansDenied, result.PlansFailed)
	if result.JournalPath != "" {
		fmt.Printf("  journal: %s\n", result.JournalPath)
	}
	for _, s := range result.Suggestions {
		fmt.Printf("  suggest: %s\n", s)
	}
	return nil
}
