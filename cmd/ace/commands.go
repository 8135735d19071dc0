// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	rootDir     string
	plansFile   string
	jobs        int
	strict      bool
	dryRun      bool
	metricsAddr string
	logLevel    string
	watchExts   []string

	rootCmd = &cobra.Command{
		Use:   "ace",
		Short: "A safety-gated pipeline for machine-proposed code edits",
		Long: `ace applies machine-proposed edit plans to Python sources behind
parse, equivalence, and round-trip verification, with journaled commits,
sealed receipts, deterministic repair, and exact reverts.`,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Analyze files and apply every plan policy admits",
		RunE:  runRun, // Defined in cmd_run.go
	}

	revertCmd = &cobra.Command{
		Use:   "revert [journal file]",
		Short: "Roll back the writes of the latest (or named) run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRevert, // Defined in cmd_revert.go
	}

	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Verify every sealed receipt against current file content",
		RunE:  runVerify, // Defined in cmd_verify.go
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show learning and content-index statistics",
		RunE:  runStats, // Defined in cmd_stats.go
	}

	watchCmd = &cobra.Command{
		Use:   "watch [dir...]",
		Short: "Watch directories and re-run analysis on change",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runWatch, // Defined in cmd_watch.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "Workspace root holding the .ace state directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	runCmd.Flags().StringVar(&plansFile, "plans", "", "JSON file of machine-proposed edit plans (required)")
	runCmd.Flags().IntVar(&jobs, "jobs", 1, "Analysis worker count")
	runCmd.Flags().BoolVar(&strict, "strict", false, "Require AST equivalence on every transformation")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Verify and score but never write")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	_ = runCmd.MarkFlagRequired("plans")

	watchCmd.Flags().StringVar(&plansFile, "plans", "", "JSON file of machine-proposed edit plans (required)")
	watchCmd.Flags().IntVar(&jobs, "jobs", 1, "Analysis worker count")
	watchCmd.Flags().BoolVar(&strict, "strict", false, "Require AST equivalence on every transformation")
	watchCmd.Flags().StringSliceVar(&watchExts, "ext", []string{".py"}, "File extensions to watch")
	_ = watchCmd.MarkFlagRequired("plans")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(revertCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(watchCmd)
}
