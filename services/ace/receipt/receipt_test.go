// Copyright (C) 2025 ACE Tools (oss@acetools.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package receipt

import (
	"testing"
	"time"
)

func TestCreateAndVerify(t *testing.T) {
	before := []byte("x = 1\n")
	after := []byte("x = 2\n")

	r := Create("plan-1", "a.py", before, after, true, true, 0.1, 42*time.Millisecond)

	if r.ID == "" {
		t.Error("receipt must carry an ID")
	}
	if r.PlanID != "plan-1" || r.File != "a.py" {
		t.Errorf("identity fields = %q/%q", r.PlanID, r.File)
	}
	if r.BeforeHash == r.AfterHash {
		t.Error("different content must hash differently")
	}
	if r.DurationMS != 42 {
		t.Errorf("DurationMS = %d, want 42", r.DurationMS)
	}

	if _, err := time.Parse(TimestampLayout, r.Timestamp); err != nil {
		t.Errorf("timestamp %q does not match layout: %v", r.Timestamp, err)
	}

	t.Run("verify matches current content", func(t *testing.T) {
		if !Verify(r, after) {
			t.Error("unmodified content must verify")
		}
	})

	t.Run("single byte flip fails verification", func(t *testing.T) {
		flipped := append([]byte{}, after...)
		flipped[0] ^= 0x01
		if Verify(r, flipped) {
			t.Error("flipped content must not verify")
		}
	})
}

func TestHashContentIsRawHex(t *testing.T) {
	h := HashContent([]byte("hello"))
	if len(h) != 64 {
		t.Errorf("hash length = %d, want 64", len(h))
	}
	for _, c := range h {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Fatalf("non-hex character %q in hash", c)
		}
	}
}

func TestStripHashPrefix(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"sha256:abcdef", "abcdef"},
		{"abcdef", "abcdef"},
		{"multi:prefix:abcdef", "abcdef"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := StripHashPrefix(tc.in); got != tc.want {
			t.Errorf("StripHashPrefix(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsIdempotent(t *testing.T) {
	if !IsIdempotent([]byte("same"), []byte("same")) {
		t.Error("identical content is idempotent")
	}
	if IsIdempotent([]byte("a"), []byte("b")) {
		t.Error("different content is not idempotent")
	}
}
