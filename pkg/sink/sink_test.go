// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package sink

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAndSize(t *testing.T) {
	p := filepath.Join(t.TempDir(), "out.bin")
	w, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Append([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := w.PushByte('!'); err != nil {
		t.Fatal(err)
	}
	if w.Size() != 6 {
		t.Errorf("Size() = %d, want 6", w.Size())
	}

	got, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello!" {
		t.Errorf("file content = %q, want %q", got, "hello!")
	}
}

func TestClearRewinds(t *testing.T) {
	p := filepath.Join(t.TempDir(), "out.bin")
	w, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Append([]byte("abcdef")); err != nil {
		t.Fatal(err)
	}
	if err := w.Clear(); err != nil {
		t.Fatal(err)
	}
	if w.Size() != 0 {
		t.Errorf("Size() after Clear = %d, want 0", w.Size())
	}
	if err := w.Append([]byte("xyz")); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "xyzdef" {
		t.Errorf("file content = %q, want %q", got, "xyzdef")
	}
}

func TestReserveAdditionalOnRegularFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "out.bin")
	w, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Append([]byte("ab")); err != nil {
		t.Fatal(err)
	}
	if err := w.ReserveAdditional(10); err != nil {
		t.Fatal(err)
	}

	fi, err := os.Stat(p)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != 12 {
		t.Errorf("file size after reserve = %d, want 12", fi.Size())
	}
}
