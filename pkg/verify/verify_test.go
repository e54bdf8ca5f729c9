// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package verify

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"os/exec"
	"strings"
	"testing"
)

func TestHashImageMatch(t *testing.T) {
	data := []byte("some fixed image content, several bytes long")
	sum := sha512.Sum512(data)
	want := hex.EncodeToString(sum[:])

	var calls int
	err := HashImage(data, strings.ToUpper(want), func(f float64) {
		calls++
		if f <= 0 || f > 1 {
			t.Errorf("progress fraction %v out of (0,1]", f)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls == 0 {
		t.Error("expected at least one progress callback")
	}
}

func TestHashImageMismatch(t *testing.T) {
	data := []byte("abc")
	err := HashImage(data, strings.Repeat("0", 128), nil)
	if err == nil {
		t.Fatal("expected mismatch error")
	}
	ve, ok := err.(*Error)
	if !ok || ve.Kind != HashMismatch {
		t.Errorf("got %v, want HashMismatch", err)
	}
}

func TestHashImageEmpty(t *testing.T) {
	sum := sha512.Sum512(nil)
	want := hex.EncodeToString(sum[:])
	if err := HashImage(nil, want, nil); err != nil {
		t.Fatal(err)
	}
}

// fakeVerifier injects success or failure without a real gpg binary or
// keyring.
type fakeVerifier struct {
	err error
}

func (f *fakeVerifier) Verify(ctx context.Context, contentPath, sigPath string) error {
	return f.err
}

func TestFakeVerifierSatisfiesInterface(t *testing.T) {
	var v SignatureVerifier = &fakeVerifier{}
	if err := v.Verify(context.Background(), "content", "sig"); err != nil {
		t.Fatal(err)
	}
}

func TestGpgVerifierMissingBinary(t *testing.T) {
	if _, err := exec.LookPath("/nonexistent/gpg"); err == nil {
		t.Skip("unexpected: /nonexistent/gpg exists")
	}
	g := &GpgVerifier{Command: "/nonexistent/gpg --quiet --verify"}
	err := g.Verify(context.Background(), "content", "sig")
	if err == nil {
		t.Fatal("expected error for missing gpg binary")
	}
}
