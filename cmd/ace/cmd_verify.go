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

	"github.com/spf13/cobra"

	"github.com/acetools/ace/services/ace/receipt"
)

// runVerify re-checks every sealed receipt against current file
// content. Exit status is non-zero when any receipt fails.
func runVerify(_ *cobra.Command, _ []string) error {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}

	failures, err := receipt.VerifyAll(root)
	if err != nil {
		return err
	}

	if len(failures) == 0 {
		fmt.Println("all receipts verified")
		return nil
	}

	for _, f := range failures {
		fmt.Printf("FAIL: %s\n", f)
	}
	return fmt.Errorf("%d receipt(s) failed verification", len(failures))
}
