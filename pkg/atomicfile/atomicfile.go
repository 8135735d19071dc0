// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package atomicfile provides crash-safe file replacement.
//
// A write is performed to a temporary file in the target's directory,
// fsynced, and renamed over the target. A partially written file is
// therefore never observable at the target path: readers see either the
// old bytes or the new bytes, nothing in between.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile atomically replaces the file at path with data.
//
// # Description
//
// Writes data to a temporary file alongside the target, fsyncs it,
// renames it over the target, and finally fsyncs the parent directory
// on a best-effort basis. On any error the temporary file is unlinked
// and the target is left untouched.
//
// # Inputs
//
//   - path: Destination path. Parent directory must exist.
//   - data: Full new contents of the file.
//   - perm: File mode for the destination.
//
// # Outputs
//
//   - error: Non-nil if the write could not be durably committed.
func WriteFile(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	// Any failure past this point must remove the temp file.
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename over target: %w", err)
	}

	// Best-effort directory sync so the rename itself is durable.
	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	return nil
}
