// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/acetools/ace/services/ace/contentindex"
)

// runStats prints learning and index statistics.
func runStats(_ *cobra.Command, _ []string) error {
	eng, err := buildEngines(false)
	if err != nil {
		return err
	}
	defer eng.close()

	data := eng.learner.Snapshot()

	fmt.Println("rules:")
	rules := make([]string, 0, len(data.Rules))
	for r := range data.Rules {
		rules = append(rules, r)
	}
	sort.Strings(rules)
	for _, r := range rules {
		s := data.Rules[r]
		t := eng.learner.TunedThresholds(r)
		fmt.Printf("  %-30s applied=%d reverted=%d suggested=%d auto_threshold=%.2f\n",
			r, s.Applied, s.Reverted, s.Suggested, t.Auto)
	}
	if len(rules) == 0 {
		fmt.Println("  (no outcomes recorded)")
	}

	fmt.Printf("contexts tracked: %d\n", len(data.Contexts))

	idx := eng.index.Stats(contentindex.DefaultSkipThreshold)
	fmt.Println("index:")
	fmt.Printf("  files tracked: %d\n", idx.TotalFiles)
	fmt.Printf("  skip eligible: %d\n", idx.SkipEligible)
	fmt.Printf("  total clean runs: %d\n", idx.TotalCleanRun)
	return nil
}
