// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

import (
	"context"
	"strings"
	"testing"
)

func TestVerifyParse(t *testing.T) {
	v := NewVerifier()
	ctx := context.Background()

	t.Run("valid source", func(t *testing.T) {
		ok, errs := v.VerifyParse(ctx, []byte("def f(x):\n    return x + 1\n"))
		if !ok {
			t.Errorf("valid source rejected: %v", errs)
		}
	})

	t.Run("syntax error reported with position", func(t *testing.T) {
		ok, errs := v.VerifyParse(ctx, []byte("def f(:\n    return\n"))
		if ok {
			t.Fatal("invalid source accepted")
		}
		if len(errs) == 0 {
			t.Fatal("expected error strings")
		}
	})

	t.Run("oversized source rejected", func(t *testing.T) {
		small := NewVerifier(WithMaxFileSize(8))
		ok, errs := small.VerifyParse(ctx, []byte("x = 1234567890\n"))
		if ok {
			t.Fatal("oversized source accepted")
		}
		if len(errs) == 0 || !strings.Contains(errs[0], "exceeds limit") {
			t.Errorf("errs = %v", errs)
		}
	})

	t.Run("invalid utf8 rejected", func(t *testing.T) {
		ok, _ := v.VerifyParse(ctx, []byte{0xff, 0xfe, 0x00})
		if ok {
			t.Fatal("invalid UTF-8 accepted")
		}
	})
}

func TestVerifyASTEquivalence(t *testing.T) {
	v := NewVerifier()
	ctx := context.Background()

	cases := []struct {
		name   string
		before string
		after  string
		want   bool
	}{
		{
			"identical",
			"x = 1\n",
			"x = 1\n",
			true,
		},
		{
			"whitespace only",
			"def f(x):\n    return x\n",
			"def f(x):\n\n    return x\n",
			true,
		},
		{
			"quote style change",
			"a = 'hello'\n",
			"a = \"hello\"\n",
			true,
		},
		{
			"comment removed",
			"x = 1  # counter\n",
			"x = 1\n",
			true,
		},
		{
			"value changed",
			"x = 1\n",
			"x = 2\n",
			false,
		},
		{
			"operator changed",
			"x = a + b\n",
			"x = a - b\n",
			false,
		},
		{
			"statement dropped",
			"x = 1\ny = 2\n",
			"x = 1\n",
			false,
		},
		{
			"string content changed",
			"a = 'hello'\n",
			"a = 'goodbye'\n",
			false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, errs := v.VerifyASTEquivalence(ctx, []byte(tc.before), []byte(tc.after))
			if got != tc.want {
				t.Errorf("equivalent = %v, want %v (errs: %v)", got, tc.want, errs)
			}
		})
	}

	t.Run("broken after side fails with labeled error", func(t *testing.T) {
		ok, errs := v.VerifyASTEquivalence(ctx, []byte("x = 1\n"), []byte("def f(:\n"))
		if ok {
			t.Fatal("broken after side accepted")
		}
		if len(errs) == 0 || !strings.HasPrefix(errs[0], "after:") {
			t.Errorf("errs = %v", errs)
		}
	})
}

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier()
	ctx := context.Background()

	sources := []string{
		"x = 1\n",
		"def f(a, b):\n    # add\n    return a + b\n",
		"class C:\n    '''doc'''\n    pass\n",
		"",
	}
	for _, src := range sources {
		ok, errs := v.VerifyRoundTrip(ctx, []byte(src))
		if !ok {
			t.Errorf("round trip failed for %q: %v", src, errs)
		}
	}

	t.Run("syntax errors fail the round trip", func(t *testing.T) {
		ok, _ := v.VerifyRoundTrip(ctx, []byte("def f(:\n"))
		if ok {
			t.Error("broken source must not round-trip")
		}
	})
}

func TestGuardEdit(t *testing.T) {
	v := NewVerifier()
	ctx := context.Background()

	t.Run("passing edit", func(t *testing.T) {
		res := v.GuardEdit(ctx, "a.py", []byte("x = 1\n"), []byte("x = 1  # same\n"), true)
		if !res.Passed {
			t.Errorf("passing edit rejected: %v", res.Errors)
		}
	})

	t.Run("strict rejects semantic change", func(t *testing.T) {
		res := v.GuardEdit(ctx, "a.py", []byte("x = 1\n"), []byte("x = 2\n"), true)
		if res.Passed {
			t.Fatal("semantic change passed strict mode")
		}
		if res.GuardType != TypeASTEquiv {
			t.Errorf("GuardType = %s, want %s", res.GuardType, TypeASTEquiv)
		}
	})

	t.Run("lenient accepts semantic change", func(t *testing.T) {
		res := v.GuardEdit(ctx, "a.py", []byte("x = 1\n"), []byte("x = 2\n"), false)
		if !res.Passed {
			t.Errorf("lenient mode rejected valid transformation: %v", res.Errors)
		}
	})

	t.Run("parse failure wins over everything", func(t *testing.T) {
		res := v.GuardEdit(ctx, "a.py", []byte("x = 1\n"), []byte("def f(:\n"), true)
		if res.Passed {
			t.Fatal("broken transformation passed")
		}
		if res.GuardType != TypeParse {
			t.Errorf("GuardType = %s, want %s", res.GuardType, TypeParse)
		}
	})
}

func TestGuardEditWithCache(t *testing.T) {
	cache, err := OpenCache(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	v := NewVerifier(WithCache(cache))
	ctx := context.Background()

	before := []byte("x = 1\n")
	after := []byte("x = 1  # same\n")

	first := v.GuardEdit(ctx, "a.py", before, after, true)
	if !first.Passed {
		t.Fatalf("first check failed: %v", first.Errors)
	}

	// Second call must answer from the cache with identical outcome.
	second := v.GuardEdit(ctx, "a.py", before, after, true)
	if second.Passed != first.Passed || second.GuardType != first.GuardType {
		t.Errorf("cached result diverged: %+v vs %+v", second, first)
	}

	// Strictness is part of the key; lenient mode is a separate entry.
	lenient := v.GuardEdit(ctx, "a.py", before, after, false)
	if !lenient.Passed {
		t.Errorf("lenient check failed: %v", lenient.Errors)
	}
}
