// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package sink implements the narrow append/rewind write target the
// VCDIFF decoder writes into: a device or regular file opened write-only
// and unbuffered, with a capability set of append, push_byte,
// reserve_additional, clear, and size. The same Writer serves both the
// delta and full-image download paths.
package sink

import (
	"fmt"
	"io"
	"os"

	"github.com/nepos-io/updatecore/pkg/log"
)

type Kind int

const (
	IoError Kind = iota
)

type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sink: %s: %s", e.Path, e.Err)
}
func (e *Error) Unwrap() error { return e.Err }

// Writer is the push-style output sink. It is unbuffered: every Append or
// PushByte call results in an immediate write(2), since the verifier reads
// the file back via mmap immediately after writes complete and a page
// cache / write-buffer layer must not present stale contents.
type Writer struct {
	path string
	f    *os.File
	pos  int64
}

// Open truncates and opens path for writing. On Linux the file is opened
// with O_SYNC so every write is unbuffered at the kernel level, matching
// the contract the VCDIFF decoder and the post-write verifier both depend
// on.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_SYNC, 0644)
	if err != nil {
		return nil, &Error{Kind: IoError, Path: path, Err: err}
	}
	return &Writer{path: path, f: f}, nil
}

// Append writes all of b at the current position, retrying partial writes
// until the buffer is exhausted or I/O fails.
func (w *Writer) Append(b []byte) error {
	for len(b) > 0 {
		n, err := w.f.Write(b)
		if n > 0 {
			w.pos += int64(n)
			b = b[n:]
		}
		if err != nil {
			return &Error{Kind: IoError, Path: w.path, Err: err}
		}
		if n == 0 {
			return &Error{Kind: IoError, Path: w.path, Err: io.ErrShortWrite}
		}
	}
	return nil
}

// PushByte appends a single byte, no more buffered than Append.
func (w *Writer) PushByte(b byte) error {
	return w.Append([]byte{b})
}

// Clear rewinds to offset 0 without truncating - callers that need a
// fresh file call Open again, since the full-image and delta paths each
// use their own Writer per attempt.
func (w *Writer) Clear() error {
	off, err := w.f.Seek(0, io.SeekStart)
	if err != nil {
		return &Error{Kind: IoError, Path: w.path, Err: err}
	}
	w.pos = off
	return nil
}

// ReserveAdditional grows the file so its total length is
// current_position + n. On a block device this is a no-op: device length
// is fixed by the partition table, and the spec treats a failed resize
// there as a silent no-op the decoder must not depend on.
func (w *Writer) ReserveAdditional(n int64) error {
	fi, err := w.f.Stat()
	if err != nil {
		return &Error{Kind: IoError, Path: w.path, Err: err}
	}
	if fi.Mode()&os.ModeDevice != 0 {
		return nil
	}
	want := w.pos + n
	if err := w.f.Truncate(want); err != nil {
		log.Logf("sink: reserve_additional(%d) on %s failed: %s", n, w.path, err)
		return &Error{Kind: IoError, Path: w.path, Err: err}
	}
	return nil
}

// Size returns the current write position.
func (w *Writer) Size() int64 { return w.pos }

// Close releases the handle.
func (w *Writer) Close() error {
	return w.f.Close()
}
