// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package log

import (
	"fmt"
	"os"

	"github.com/nepos-io/updatecore/pkg/log/flags"
)

const ConsoleLogIdent = "consoleLog"

type consoleLog struct {
	flags flags.Flag
	next  StackableLogger
}

// AddConsoleLog pushes a console logger onto the stack. fl selects which
// flags are suppressed from console output - NotFile/NotWire entries are
// shown, since neither applies to a console.
func AddConsoleLog(fl flags.Flag) {
	AddLogger(&consoleLog{flags: fl}, true)
}

func (c *consoleLog) AddEntry(e LogEntry) {
	if e.Flags&flags.NotFile == 0 || e.Flags&c.flags == 0 {
		fmt.Fprintln(os.Stderr, e.String())
	}
	if c.next != nil {
		c.next.AddEntry(e)
	}
}

func (c *consoleLog) ForwardTo(s StackableLogger) { c.next = s }
func (c *consoleLog) Ident() string               { return ConsoleLogIdent }
func (c *consoleLog) Next() StackableLogger       { return c.next }
func (c *consoleLog) Finalize()                   {}
