// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command ace runs the safety-gated transformation pipeline.
//
// Usage:
//
//	ace run --plans plans.json [--jobs 4] [--strict] [--dry-run]
//	ace revert [journal.jsonl]
//	ace verify
//	ace stats
//	ace watch src/
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
