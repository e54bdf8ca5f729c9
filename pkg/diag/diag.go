// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package diag assembles a failure diagnostics bundle - the manifest in
// play, the recent in-memory log, and the failure reason - and writes it
// either to a local directory or to S3, compressed with xz. A bundle is
// compressed first and then goes to exactly one destination (or is
// discarded); it is never both written locally and uploaded.
package diag

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/nepos-io/updatecore/pkg/log"
)

// Opts configures where a bundle goes. Exactly one of LocalDir or
// S3Bucket should be set; LocalDir takes priority if both are, and an
// empty pair discards the bundle - mirroring the original stream
// package's Write.
type Opts struct {
	LocalDir string
	S3Bucket string
	S3Prefix string
	Region   string
}

// Bundle is the set of diagnostic material captured at failure time.
type Bundle struct {
	Reason       string
	ManifestJSON []byte
	LogDump      []byte
	Time         time.Time
}

// Capture builds a Bundle from the current in-memory log and the given
// reason/manifest, stamping it with the current time. The log dump holds
// the entries of the memLog in the log stack; it is empty when the stack
// holds no memLog (for example after log.FlushMemLog).
func Capture(reason string, manifestJSON []byte) Bundle {
	var buf bytes.Buffer
	for _, e := range log.StoredEntries() {
		fmt.Fprintln(&buf, e.String())
	}
	return Bundle{
		Reason:       reason,
		ManifestJSON: manifestJSON,
		LogDump:      buf.Bytes(),
		Time:         time.Now(),
	}
}

// Serialize renders the bundle as a simple self-describing text stream:
// a manifest section, a reason section, and the log dump. It is not
// meant to be machine-parsed elsewhere - just legible in an editor after
// decompression.
func (b Bundle) Serialize() io.Reader {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "=== diag bundle %s ===\n", b.Time.Format(log.TimestampLayout))
	fmt.Fprintf(&buf, "--- reason ---\n%s\n", b.Reason)
	fmt.Fprintf(&buf, "--- manifest ---\n%s\n", b.ManifestJSON)
	fmt.Fprintf(&buf, "--- log ---\n")
	buf.Write(b.LogDump)
	return &buf
}

// Name returns the bundle's filename, sans compression extension.
func (b Bundle) Name() string {
	return "diag_" + b.Time.Format(log.DefaultTimestampLayout) + ".txt"
}
