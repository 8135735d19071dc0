// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package receipt seals and verifies the cryptographic proof that a
// specific plan produced specific before/after file content.
package receipt

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is ISO-8601 UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Receipt binds a plan to before/after content hashes. Created exactly
// once per successfully-applied plan; immutable afterward.
type Receipt struct {
	ID            string  `json:"id"`
	PlanID        string  `json:"plan_id"`
	File          string  `json:"file"`
	BeforeHash    string  `json:"before_hash"`
	AfterHash     string  `json:"after_hash"`
	ParseValid    bool    `json:"parse_valid"`
	InvariantsMet bool    `json:"invariants_met"`
	EstimatedRisk float64 `json:"estimated_risk"`
	DurationMS    int64   `json:"duration_ms"`
	Timestamp     string  `json:"timestamp"`
}

// HashContent returns the raw-hex SHA-256 of content, no algorithm
// prefix.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// StripHashPrefix removes an "algo:" style prefix from a hash string,
// so stored hashes are always raw hex.
func StripHashPrefix(hash string) string {
	if i := strings.LastIndexByte(hash, ':'); i >= 0 {
		return hash[i+1:]
	}
	return hash
}

// Create seals a receipt for an applied plan.
//
// # Inputs
//
//   - planID: The plan that produced the transformation.
//   - file: Target file path.
//   - before, after: Content before and after the apply.
//   - parseValid: Whether the guard's parse check passed.
//   - invariantsMet: Whether the plan's claimed invariants held.
//   - estimatedRisk: The plan's risk estimate, carried through.
//   - duration: Wall time of the apply.
//
// # Outputs
//
//   - *Receipt: Sealed receipt with a millisecond UTC timestamp.
func Create(planID, file string, before, after []byte, parseValid, invariantsMet bool, estimatedRisk float64, duration time.Duration) *Receipt {
	return &Receipt{
		ID:            uuid.NewString(),
		PlanID:        planID,
		File:          file,
		BeforeHash:    StripHashPrefix(HashContent(before)),
		AfterHash:     StripHashPrefix(HashContent(after)),
		ParseValid:    parseValid,
		InvariantsMet: invariantsMet,
		EstimatedRisk: estimatedRisk,
		DurationMS:    duration.Milliseconds(),
		Timestamp:     time.Now().UTC().Format(TimestampLayout),
	}
}

// Verify reports whether current content still matches the receipt's
// after-hash. A mismatch is an integrity failure to be surfaced, never
// silently fixed.
func Verify(r *Receipt, current []byte) bool {
	return HashContent(current) == r.AfterHash
}

// IsIdempotent reports whether a transformation changed nothing: the
// before and after hashes are equal.
func IsIdempotent(before, after []byte) bool {
	return HashContent(before) == HashContent(after)
}
