// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package engine

import "time"

// watchdog fires once if reset isn't called again within d. Modeled on
// the original implementation's single-shot QTimer restarted on every
// readyRead.
type watchdog struct {
	d       time.Duration
	timer   *time.Timer
}

func newWatchdog(d time.Duration) *watchdog {
	return &watchdog{d: d, timer: time.NewTimer(d)}
}

func (w *watchdog) reset() {
	w.timer.Reset(w.d)
}

func (w *watchdog) expired() <-chan time.Time {
	return w.timer.C
}

func (w *watchdog) stop() {
	w.timer.Stop()
}
