// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package enforcement embeds the default policy definitions into the
// binary so the policy engine needs no external configuration file.
package enforcement

import _ "embed"

// DefaultPolicy is the embedded YAML holding the default scoring
// weights and decision thresholds.
//
//go:embed defaults.yaml
var DefaultPolicy []byte
