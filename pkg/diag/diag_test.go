// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package diag

import (
	"io"
	"os"
	fp "path/filepath"
	"strings"
	"testing"
)

func TestCaptureAndSerialize(t *testing.T) {
	b := Capture("signature invalid", []byte(`{"build_id":5}`))
	out, err := io.ReadAll(b.Serialize())
	if err != nil {
		t.Fatal(err)
	}
	s := string(out)
	if !strings.Contains(s, "signature invalid") || !strings.Contains(s, "build_id") {
		t.Errorf("serialized bundle missing expected content: %s", s)
	}
}

func TestWriteLocalDiscardsWithoutDestination(t *testing.T) {
	b := Capture("x", nil)
	if err := Write(Opts{}, b); err != nil {
		t.Fatalf("Write with no destination should discard, got err: %s", err)
	}
}

func TestWriteLocalCreatesXzFile(t *testing.T) {
	dir := t.TempDir()
	b := Capture("oom", []byte(`{}`))
	if err := Write(Opts{LocalDir: dir}, b); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one file, got %d", len(entries))
	}
	if fp.Ext(entries[0].Name()) != ".xz" {
		t.Errorf("expected .xz extension, got %s", entries[0].Name())
	}
}
