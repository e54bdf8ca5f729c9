// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package log

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nepos-io/updatecore/pkg/log/flags"
)

// TraceHelper calls t.Helper(), which marks only TraceHelper's own frame as
// a test helper. Called by testlog when it installs itself as the stack.
func TraceHelper(t *testing.T) {
	t.Helper()
}

// StackableLogger is a log sink that can be chained to other log sinks. Each
// sink that has a next sink forwards every entry to it, so an entry travels
// down the whole chain.
type StackableLogger interface {
	AddEntry(LogEntry)
	ForwardTo(StackableLogger)
	Ident() string
	Next() StackableLogger
	Finalize()
}

var logStack StackableLogger = &memLog{}
var logStackMtx sync.Mutex

// LogEntry is a single logged event, with enough metadata for every sink in
// the stack to decide whether and how to render it.
type LogEntry struct {
	Time  time.Time
	Msg   string
	Args  []interface{}
	Flags flags.Flag
}

func (e LogEntry) String() string {
	var prefix string
	switch {
	case e.Flags&flags.Fatal != 0:
		prefix = "!! "
	case e.Flags&flags.EndUser != 0:
		prefix = "*- "
	case e.Flags == flags.NA:
		prefix = "-- "
	default:
		prefix = "?? "
	}
	return prefix + fmt.Sprintf(e.Msg, e.Args...)
}

// FlaggedLogf formats a message and sends it into the log stack, tagged with
// the given flags.
func FlaggedLogf(fl flags.Flag, f string, va ...interface{}) {
	e := LogEntry{
		Time:  time.Now(),
		Msg:   f,
		Args:  va,
		Flags: fl,
	}
	logStackMtx.Lock()
	s := logStack
	logStackMtx.Unlock()
	if s != nil {
		s.AddEntry(e)
	}
}

// Finalize tells every logger in the stack to flush/close, in order.
func Finalize() {
	logStackMtx.Lock()
	s := logStack
	logStackMtx.Unlock()
	for s != nil {
		s.Finalize()
		s = s.Next()
	}
}

// DefaultLogStack resets the log stack to a single, empty memLog.
func DefaultLogStack() {
	logStackMtx.Lock()
	defer logStackMtx.Unlock()
	logStack = &memLog{}
}

// NewLogStack replaces the entire stack with newLog, discarding history.
func NewLogStack(newLog StackableLogger) {
	logStackMtx.Lock()
	defer logStackMtx.Unlock()
	logStack = newLog
}

// AddLogger pushes sl onto the front of the stack. If addPrevious is true
// and a memLog is present further down the stack, its entries are replayed
// into sl so it sees history it otherwise would have missed.
func AddLogger(sl StackableLogger, addPrevious bool) error {
	logStackMtx.Lock()
	prev := logStack
	sl.ForwardTo(prev)
	logStack = sl
	logStackMtx.Unlock()
	if addPrevious {
		addPreviousEvents(sl, prev)
	}
	return nil
}

func addPreviousEvents(sl StackableLogger, from StackableLogger) {
	for from != nil {
		if ml, ok := from.(*memLog); ok {
			for _, e := range ml.Entries() {
				sl.AddEntry(e)
			}
			return
		}
		from = from.Next()
	}
}

// ForwardFrom rewires src so that its entries continue on to dst.
func ForwardFrom(src, dst StackableLogger) {
	src.ForwardTo(dst)
}

// RemoveLogger removes the first logger in the stack with the given Ident,
// splicing its neighbors together.
func RemoveLogger(id string) {
	logStackMtx.Lock()
	defer logStackMtx.Unlock()
	if logStack == nil {
		return
	}
	if logStack.Ident() == id {
		logStack = logStack.Next()
		return
	}
	cur := logStack
	for cur.Next() != nil {
		if cur.Next().Ident() == id {
			cur.ForwardTo(cur.Next().Next())
			return
		}
		cur = cur.Next()
	}
}

// InStack reports whether a logger with the given Ident is present.
func InStack(id string) bool {
	return FindInStack(id) != nil
}

// FindInStack returns the first logger in the stack with the given Ident,
// or nil.
func FindInStack(id string) StackableLogger {
	logStackMtx.Lock()
	s := logStack
	logStackMtx.Unlock()
	for s != nil {
		if s.Ident() == id {
			return s
		}
		s = s.Next()
	}
	return nil
}
