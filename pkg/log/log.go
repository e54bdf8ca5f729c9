// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package log is a flexible logging mechanism allowing multiple stacked log
// sinks. The sinks provided here are the console logger and the in-memory
// logger; other StackableLogger implementations can be added to the stack.
//
// By default, events are retained in memory so they can be re-played into
// new log sinks if/when they are added later on.
package log

import (
	"fmt"
	"os"

	"github.com/nepos-io/updatecore/pkg/log/flags"
)

var logPrefix string

// SetPrefix sets the log prefix returned by GetPrefix.
func SetPrefix(pfx string) {
	logPrefix = pfx
}

// GetPrefix gets the log prefix.
func GetPrefix() string { return logPrefix }

// Msgf is for use with messages suitable for display to the user. Short,
// non-technical. Use must be relatively infrequent, as the user will need
// time to read each message or it is useless.
func Msgf(f string, va ...interface{}) { FlaggedLogf(flags.EndUser, f, va...) }

// See Msgf.
func Msgln(va ...interface{}) { Msgf(fmt.Sprintln(va...)) }

// See Msgf.
func Msg(message string) { Msgf(message) }

// Logf is for use with more technical, or more trivial, messages. Never
// visible to the user via lcd. No rate limiting concerns.
func Logf(f string, va ...interface{}) { FlaggedLogf(flags.NA, f, va...) }

// See Logf.
func Logln(va ...interface{}) { Logf(fmt.Sprintln(va...)) }

// See Logf.
func Log(message string) { Logf(message) }

// DumpStderr writes all entries of a MemLog in the stack to stderr, if one
// is present. No-op otherwise.
func DumpStderr() {
	l := FindInStack(MemLogIdent)
	if l != nil {
		ml := l.(*memLog)
		for _, e := range ml.Entries() {
			fmt.Fprintln(os.Stderr, e.String())
		}
	}
}
