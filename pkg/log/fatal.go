// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package log

import (
	"os"
	"strings"

	"github.com/nepos-io/updatecore/pkg/log/flags"
)

type FatalFunc func()
type PreFunc func()

// FailAction describes what happens when Fatalf is called: an optional
// message prefix, an optional Pre hook (run before the log stack is
// finalized), and a Terminator that actually ends the process.
type FailAction struct {
	MsgPfx     string
	Pre        PreFunc
	Terminator FatalFunc
}

var fatalAction = DefaultFatal

var DefaultFatal = FailAction{Terminator: DefaultFatalAction}

// DefaultFatalAction panics under test binaries (so the test framework can
// catch it) and calls os.Exit(1) otherwise.
func DefaultFatalAction() {
	if strings.HasSuffix(os.Args[0], "test") || strings.Contains(os.Args[0], ".test") {
		panic("log.Fatalf called")
	}
	os.Exit(1)
}

// SetFatalAction overrides what happens on Fatalf, e.g. for tests that need
// to detect a fatal error without killing the test binary.
func SetFatalAction(fa FailAction) {
	fatalAction = fa
}

// Fatalf logs a fatal entry, runs any configured Pre hook, flushes the log
// stack, and then terminates via the configured Terminator. Intended for
// startup-time configuration errors; must not be called from inside the
// update engine or controller once a daemon is running.
func Fatalf(f string, va ...interface{}) {
	if !InStack(ConsoleLogIdent) {
		AddConsoleLog(flags.NA)
	}
	if fatalAction.MsgPfx != "" {
		f = fatalAction.MsgPfx + f
	}
	FlaggedLogf(flags.Fatal, f, va...)
	if fatalAction.Pre != nil {
		fatalAction.Pre()
	}
	Finalize()
	fatalAction.Terminator()
}
