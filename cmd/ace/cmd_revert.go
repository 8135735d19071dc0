// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/acetools/ace/services/ace/journal"
)

// runRevert rolls back the latest run, or the named journal file.
func runRevert(cmd *cobra.Command, args []string) error {
	eng, err := buildEngines(false)
	if err != nil {
		return err
	}
	defer eng.close()

	var journalPath string
	if len(args) == 1 {
		journalPath = args[0]
	} else {
		journalPath, err = journal.FindLatest(filepath.Join(eng.stateDir, "journals"))
		if err != nil {
			return err
		}
		if journalPath == "" {
			return errors.New("no journals found; nothing to revert")
		}
	}

	result, err := eng.runner.RevertRun(cmd.Context(), journalPath)
	if err != nil {
		return err
	}

	fmt.Printf("revert %s (from %s)\n", result.RunID, journalPath)
	fmt.Printf("  reverted: %d  skipped (modified externally): %d  skipped (missing): %d\n",
		result.Reverted, result.SkippedDirty, result.SkippedStale)
	for _, f := range result.RevertedFiles {
		fmt.Printf("  restored: %s\n", f)
	}
	return nil
}
