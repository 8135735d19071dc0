// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package journal

import "fmt"

// RevertContext is everything needed to roll one committed file back
// to its pre-image.
type RevertContext struct {
	// File is the path to restore.
	File string

	// ExpectedCurrentSHA is the hash the file should have right now
	// (the after-hash of the committed write). A mismatch means the
	// file changed externally and must not be blindly restored.
	ExpectedCurrentSHA string

	// OriginalSHA is the hash of the pre-image being restored.
	OriginalSHA string

	// RestoreContent is the full pre-image.
	RestoreContent string

	// RuleIDs are the rules whose plan produced the committed write,
	// carried so reverts feed back into learning.
	RuleIDs []string
}

// BuildRevertPlan derives the rollback work for a journal file.
//
// # Description
//
// Pairs each intent entry with its matching success entry (by file) in
// encounter order. Files with only an intent are excluded: no success
// entry means nothing was ever committed, so there is nothing to
// revert — a crash between intent and success must never trigger a
// false revert.
//
// # Inputs
//
//   - path: Journal file to plan from. Missing file yields an empty plan.
//
// # Outputs
//
//   - []RevertContext: One per committed write, in commit order.
//   - error: Non-nil on unreadable or corrupted journals.
func BuildRevertPlan(path string) ([]RevertContext, error) {
	entries, err := Read(path)
	if err != nil {
		return nil, fmt.Errorf("read journal for revert: %w", err)
	}

	// Per-file FIFO of intents awaiting their success entry.
	pending := make(map[string][]Entry)
	var contexts []RevertContext

	for _, e := range entries {
		switch e.Type {
		case EntryIntent:
			pending[e.File] = append(pending[e.File], e)

		case EntrySuccess:
			queue := pending[e.File]
			if len(queue) == 0 {
				// Success without intent should not happen; skip
				// rather than fabricate a revert.
				continue
			}
			intent := queue[0]
			pending[e.File] = queue[1:]

			contexts = append(contexts, RevertContext{
				File:               e.File,
				ExpectedCurrentSHA: e.AfterSHA256,
				OriginalSHA:        intent.BeforeSHA256,
				RestoreContent:     intent.PreImage,
				RuleIDs:            intent.RuleIDs,
			})
		}
	}

	return contexts, nil
}
