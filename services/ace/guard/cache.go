// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
)

// Cache persists verification outcomes keyed by content hashes, so
// repeated runs skip re-verifying identical before/after pairs. Content
// itself is never stored; only the pass/fail outcome and error strings.
//
// # Thread Safety
//
// Cache is safe for concurrent use; BadgerDB handles its own locking.
type Cache struct {
	db     *badger.DB
	logger *slog.Logger
}

// cachedResult is the persisted subset of a Result. File and content
// fields are supplied by the caller on a hit.
type cachedResult struct {
	Passed    bool     `json:"passed"`
	GuardType Type     `json:"guard_type"`
	Errors    []string `json:"errors,omitempty"`
}

// OpenCache opens (creating if absent) a cache at the given directory.
//
// # Inputs
//
//   - path: Directory for BadgerDB files, typically ".ace/guardcache".
//   - logger: Logger for cache diagnostics (nil for slog.Default()).
//
// # Outputs
//
//   - *Cache: Ready-to-use cache. Call Close when done.
//   - error: Non-nil if BadgerDB fails to open.
func OpenCache(path string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logger is too chatty for a cache

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open guard cache: %w", err)
	}

	return &Cache{
		db:     db,
		logger: logger.With(slog.String("component", "guard_cache")),
	}, nil
}

// Get returns the cached Result for a (before, after, strict) triple.
// A corrupted entry is treated as a miss so verification falls through
// to the real checks.
func (c *Cache) Get(ctx context.Context, before, after []byte, strict bool) (*Result, bool) {
	if err := ctx.Err(); err != nil {
		return nil, false
	}

	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(before, after, strict))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn("guard cache read failed", slog.String("error", err.Error()))
		}
		return nil, false
	}

	var cached cachedResult
	if err := json.Unmarshal(raw, &cached); err != nil {
		c.logger.Warn("guard cache entry corrupted, treating as miss", slog.String("error", err.Error()))
		return nil, false
	}

	return &Result{
		Passed:    cached.Passed,
		GuardType: cached.GuardType,
		Errors:    cached.Errors,
	}, true
}

// Put stores a verification outcome under the same (before, after,
// strict) triple the caller verified with.
func (c *Cache) Put(ctx context.Context, before, after []byte, strict bool, result *Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(cachedResult{
		Passed:    result.Passed,
		GuardType: result.GuardType,
		Errors:    result.Errors,
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cacheKey(before, after, strict), raw)
	})
}

// Close releases the underlying BadgerDB.
func (c *Cache) Close() error {
	return c.db.Close()
}

// cacheKey derives the lookup key from content hashes and strictness.
func cacheKey(before, after []byte, strict bool) []byte {
	bh := sha256.Sum256(before)
	ah := sha256.Sum256(after)
	mode := "lenient"
	if strict {
		mode = "strict"
	}
	return []byte("guard:" + hex.EncodeToString(bh[:]) + ":" + hex.EncodeToString(ah[:]) + ":" + mode)
}
