// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package engine runs a single install: for each image kind, try a
// VCDIFF delta against the active partition, fall back to a full image
// download on any failure, and verify the result by SHA-512 before
// moving on to the next kind. It owns every HTTP client and goroutine it
// creates - see the cross-task affinity note in DESIGN.md - and reports
// progress through a single callback rather than shared mutable state.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nepos-io/updatecore/pkg/imagesize"
	"github.com/nepos-io/updatecore/pkg/log"
	"github.com/nepos-io/updatecore/pkg/machine"
	"github.com/nepos-io/updatecore/pkg/sink"
	"github.com/nepos-io/updatecore/pkg/vcdiff"
	"github.com/nepos-io/updatecore/pkg/verify"
)

// AvailableUpdate is the candidate update record the controller builds
// from the manifest and hands to the engine for the duration of Install.
// The controller owns the record; the engine only ever reads it.
type AvailableUpdate struct {
	Version uint64

	RootfsURL       string
	RootfsSha512Hex string
	BootimgURL      string
	BootimgSha512Hex string

	RootfsDeltaURL string
	BootimgDeltaURL string

	SignatureURL string
}

// Result is the outcome of Install.
type Result int

const (
	Ok Result = iota
	Failed
)

const maxTargetSize = 512 << 20 // 512 MiB, per spec

const idleWatchdog = 60 * time.Second

// ProgressFunc receives the overall, monotone-in-[0,1] progress value
// described in spec §4.4.
type ProgressFunc func(fraction float64)

// Engine runs one install. A fresh Engine should be constructed per
// install rather than reused, since it owns an http.Client created for
// that install's worker task.
type Engine struct {
	pm       *machine.PartitionMap
	client   *http.Client
	progress ProgressFunc
}

// New constructs an Engine bound to pm. The *http.Client is created here,
// inside what becomes the engine's worker goroutine once Install is
// called from it - it must not be shared with any other goroutine.
// Progress values outside [0,1], and values lower than one already
// reported (a full-image fallback restarts its kind's download phase),
// are dropped.
func New(pm *machine.PartitionMap, progress ProgressFunc) *Engine {
	last := 0.0
	return &Engine{
		pm:     pm,
		client: &http.Client{},
		progress: func(f float64) {
			if progress != nil && f >= 0 && f <= 1 && f >= last {
				last = f
				progress(f)
			}
		},
	}
}

// Install downloads, applies, and verifies both images in the fixed
// order [Boot, Rootfs]. It never calls PartitionMap.CommitInactive -
// that is the controller's job, invoked only after Install returns Ok.
func (e *Engine) Install(ctx context.Context, au AvailableUpdate) Result {
	kinds := []machine.ImageKind{machine.Boot, machine.Rootfs}
	for i, kind := range kinds {
		base := float64(i) * 0.5
		deltaURL, fullURL, expectedHex := e.urlsFor(au, kind)

		ok := e.tryDelta(ctx, kind, deltaURL, expectedHex, base)
		if !ok {
			ok = e.tryFull(ctx, kind, fullURL, expectedHex, base)
		}
		if !ok {
			log.Logf("engine: %s image failed both delta and full paths", kind)
			return Failed
		}
	}
	return Ok
}

func (e *Engine) urlsFor(au AvailableUpdate, kind machine.ImageKind) (deltaURL, fullURL, expectedHex string) {
	switch kind {
	case machine.Boot:
		return au.BootimgDeltaURL, au.BootimgURL, au.BootimgSha512Hex
	case machine.Rootfs:
		return au.RootfsDeltaURL, au.RootfsURL, au.RootfsSha512Hex
	}
	return "", "", ""
}

// tryDelta attempts the delta path for one kind: dictionary is the
// active partition's header-derived image, output is the inactive
// partition. Any failure along this path - dictionary unavailable,
// transport error, decoder error, or a hash mismatch - returns false and
// leaves the decision to fall back to tryFull to the caller.
func (e *Engine) tryDelta(ctx context.Context, kind machine.ImageKind, deltaURL, expectedHex string, base float64) bool {
	if deltaURL == "" {
		return false
	}
	dictPath := e.pm.Device(kind, machine.Active)
	outPath := e.pm.Device(kind, machine.Inactive)

	dictView, err := imagesize.Open(dictPath, kind)
	if err != nil {
		log.Logf("engine: %s dictionary unavailable (%s), skipping delta", kind, err)
		return false
	}
	defer dictView.Close()

	dictBytes, err := dictView.Map()
	if err != nil {
		log.Logf("engine: %s dictionary map failed: %s", kind, err)
		return false
	}

	w, err := sink.Open(outPath)
	if err != nil {
		log.Logf("engine: %s sink open failed: %s", kind, err)
		return false
	}
	decoder := vcdiff.NewDecoder(dictBytes, w, maxTargetSize)

	progressPhase := func(v float64) { e.progress(base + clamp01(v)*0.25) }
	err = e.stream(ctx, deltaURL, decoder.DecodeChunk, progressPhase)
	closeErr := w.Close()
	if err != nil {
		log.Logf("engine: %s delta transfer/decode failed: %s", kind, err)
		return false
	}
	if closeErr != nil {
		log.Logf("engine: %s sink close failed: %s", kind, closeErr)
		return false
	}
	if err := decoder.FinishDecoding(); err != nil {
		log.Logf("engine: %s delta left a partial window: %s", kind, err)
		return false
	}

	return e.verifyOutput(kind, outPath, expectedHex, base+0.25)
}

// tryFull streams the full image directly to the inactive partition,
// with no dictionary, then verifies it.
func (e *Engine) tryFull(ctx context.Context, kind machine.ImageKind, fullURL, expectedHex string, base float64) bool {
	if fullURL == "" {
		return false
	}
	outPath := e.pm.Device(kind, machine.Inactive)

	w, err := sink.Open(outPath)
	if err != nil {
		log.Logf("engine: %s sink open failed: %s", kind, err)
		return false
	}
	progressPhase := func(v float64) { e.progress(base + clamp01(v)*0.25) }
	err = e.stream(ctx, fullURL, func(b []byte) error { return w.Append(b) }, progressPhase)
	closeErr := w.Close()
	if err != nil {
		log.Logf("engine: %s full-image transfer failed: %s", kind, err)
		return false
	}
	if closeErr != nil {
		log.Logf("engine: %s sink close failed: %s", kind, closeErr)
		return false
	}
	return e.verifyOutput(kind, outPath, expectedHex, base+0.25)
}

// verifyOutput re-opens the just-written output as an ImageView, parsing
// its header fresh, and streams SHA-512 over exactly image_size bytes.
func (e *Engine) verifyOutput(kind machine.ImageKind, outPath, expectedHex string, base float64) bool {
	view, err := imagesize.Open(outPath, kind)
	if err != nil {
		log.Logf("engine: %s output re-parse failed: %s", kind, err)
		return false
	}
	defer view.Close()

	mapped, err := view.Map()
	if err != nil {
		log.Logf("engine: %s output map failed: %s", kind, err)
		return false
	}

	err = verify.HashImage(mapped, expectedHex, func(v float64) {
		e.progress(base + clamp01(v)*0.25)
	})
	if err != nil {
		log.Logf("engine: %s hash verification failed: %s", kind, err)
		return false
	}
	return true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var errWatchdog = fmt.Errorf("transfer idle for longer than %s", idleWatchdog)
