// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package verify implements the two verification leaf effects: streaming
// SHA-512 hashing of a header-derived image region, and detached GPG
// signature verification of the update manifest.
package verify

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"
)

type Kind int

const (
	HashMismatch Kind = iota
	SignatureInvalid
	IoError
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verify: %s", e.Err)
	}
	return fmt.Sprintf("verify: kind %d", e.Kind)
}
func (e *Error) Unwrap() error { return e.Err }

// ProgressFunc receives a fractional progress value in (0,1] after each
// hashed chunk.
type ProgressFunc func(fraction float64)

const chunkSize = 1 << 20 // 1 MiB, per spec: chunk size <= 1 MiB

// HashImage streams SHA-512 across exactly len(view) bytes of the memory
// mapping view, comparing the result case-insensitively against
// expectedHex. Chunking and progress callbacks happen even though the
// input is already fully mapped in memory, because the spec requires
// fractional progress during verification and bounds per-chunk work for
// very large images.
func HashImage(view []byte, expectedHex string, progress ProgressFunc) error {
	h := sha512.New()
	total := len(view)
	if total == 0 {
		if progress != nil {
			progress(1)
		}
	}
	for off := 0; off < total; off += chunkSize {
		end := off + chunkSize
		if end > total {
			end = total
		}
		h.Write(view[off:end])
		if progress != nil {
			progress(float64(end) / float64(total))
		}
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, expectedHex) {
		return &Error{Kind: HashMismatch, Err: fmt.Errorf("got %s, want %s", got, expectedHex)}
	}
	return nil
}
