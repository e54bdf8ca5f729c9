// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package controller fetches, verifies, and parses the update manifest,
// compares versions, and - on install - hands the resulting
// engine.AvailableUpdate to an UpdateEngine worker, flipping the A/B
// selector only once that worker reports success. It is the single
// control-domain component described in the spec's §5: everything here
// runs on one goroutine per Controller, single-threaded and
// event-driven, while the actual transfers happen in the Engine's own
// worker.
package controller

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nepos-io/updatecore/pkg/diag"
	"github.com/nepos-io/updatecore/pkg/engine"
	"github.com/nepos-io/updatecore/pkg/log"
	"github.com/nepos-io/updatecore/pkg/machine"
	"github.com/nepos-io/updatecore/pkg/verify"
)

// State is the controller's state machine, per spec §4.5.
type State int

const (
	Undefined State = iota
	DownloadingManifest
	DownloadingSignature
	VerifyingSignature
	Idle
	Installing
)

func (s State) String() string {
	switch s {
	case Undefined:
		return "Undefined"
	case DownloadingManifest:
		return "DownloadingManifest"
	case DownloadingSignature:
		return "DownloadingSignature"
	case VerifyingSignature:
		return "VerifyingSignature"
	case Idle:
		return "Idle"
	case Installing:
		return "Installing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventSink receives the six externally-visible lifecycle events. It is
// the explicit-channel/observer-registry replacement for the original
// implementation's signal/slot fan-out - pkg/eventbus implements this to
// forward events over gRPC and HTTP.
type EventSink interface {
	UpdateAvailable(version uint64)
	AlreadyUpToDate()
	CheckFailed(reason string)
	UpdateProgress(fraction float64)
	UpdateSucceeded()
	UpdateFailed()
}

// NopEventSink discards every event; useful as a default so Controller
// never needs a nil check before emitting.
type NopEventSink struct{}

func (NopEventSink) UpdateAvailable(uint64)   {}
func (NopEventSink) AlreadyUpToDate()         {}
func (NopEventSink) CheckFailed(string)       {}
func (NopEventSink) UpdateProgress(float64)   {}
func (NopEventSink) UpdateSucceeded()         {}
func (NopEventSink) UpdateFailed()            {}

var _ EventSink = NopEventSink{}

// Config carries the operator-facing settings that do not come from the
// manifest itself.
type Config struct {
	ScratchDir    string // defaults to /tmp
	UpdateBaseURL string // defaults to https://os.nepos.io/updates
	SigVerifier   verify.SignatureVerifier
	History       *HistoryStore // optional; nil disables check-history persistence
	DiagOpts      diag.Opts     // where to send the bundle captured on check_failed/update_failed
}

// Controller owns the AvailableUpdate record exclusively between a
// successful check and the end of any subsequent install.
type Controller struct {
	pm     *machine.PartitionMap
	cfg    Config
	client *http.Client
	events EventSink

	mu                sync.Mutex
	state             State
	au                engine.AvailableUpdate
	lastManifestBytes []byte
}

// New constructs a Controller. events may be nil, in which case events
// are silently discarded.
func New(pm *machine.PartitionMap, cfg Config, events EventSink) *Controller {
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = "/tmp"
	}
	if cfg.UpdateBaseURL == "" {
		cfg.UpdateBaseURL = "https://os.nepos.io/updates"
	}
	if cfg.SigVerifier == nil {
		cfg.SigVerifier = &verify.GpgVerifier{}
	}
	if events == nil {
		events = NopEventSink{}
	}
	return &Controller{
		pm:  pm,
		cfg: cfg,
		client: &http.Client{
			CheckRedirect: redirectLimit(1),
		},
		events: events,
		state:  Undefined,
	}
}

func redirectLimit(max int) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) > max {
			return fmt.Errorf("stopped after %d redirects", max)
		}
		return nil
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// AvailableUpdate returns a copy of the current record. version == 0
// means no update is pending.
func (c *Controller) AvailableUpdate() engine.AvailableUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.au
}

func (c *Controller) setAvailableUpdate(au engine.AvailableUpdate) {
	c.mu.Lock()
	c.au = au
	c.mu.Unlock()
}

func (c *Controller) manifestPath() string { return filepath.Join(c.cfg.ScratchDir, "update.json") }
func (c *Controller) sigPath() string      { return filepath.Join(c.cfg.ScratchDir, "update.json.sig") }

func (c *Controller) setLastManifest(b []byte) {
	c.mu.Lock()
	c.lastManifestBytes = b
	c.mu.Unlock()
}

func (c *Controller) lastManifest() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastManifestBytes
}

// captureDiag assembles and writes a diagnostics bundle for reason,
// using whatever manifest Check last fetched (nil if none ever was). A
// failure to write the bundle is logged, not propagated - losing
// diagnostics must never turn a failed check or install into a crash.
func (c *Controller) captureDiag(reason string) {
	bundle := diag.Capture(reason, c.lastManifest())
	if err := diag.Write(c.cfg.DiagOpts, bundle); err != nil {
		log.Logf("controller: writing diagnostics bundle: %s", err)
	}
}

// Check fetches, verifies, and parses the manifest for channel, updating
// the AvailableUpdate record and emitting exactly one of
// update_available/already_up_to_date/check_failed.
func (c *Controller) Check(ctx context.Context, channel string) {
	c.setAvailableUpdate(engine.AvailableUpdate{})
	c.setState(DownloadingManifest)

	manifestBytes, err := c.fetchManifest(ctx, channel)
	if err != nil {
		c.fail(fmt.Sprintf("manifest download failed: %s", err))
		return
	}
	c.setLastManifest(manifestBytes)
	if err := os.WriteFile(c.manifestPath(), manifestBytes, 0644); err != nil {
		c.fail(fmt.Sprintf("writing manifest: %s", err))
		return
	}

	var m manifest
	if err := parseManifest(manifestBytes, &m); err != nil {
		c.fail(fmt.Sprintf("manifest parse failed: %s", err))
		return
	}

	c.setState(DownloadingSignature)
	sigBytes, err := c.fetchNoRedirect(ctx, m.Signature)
	if err != nil {
		c.fail(fmt.Sprintf("signature download failed: %s", err))
		return
	}
	if err := os.WriteFile(c.sigPath(), sigBytes, 0644); err != nil {
		c.fail(fmt.Sprintf("writing signature: %s", err))
		return
	}

	c.setState(VerifyingSignature)
	if err := c.cfg.SigVerifier.Verify(ctx, c.manifestPath(), c.sigPath()); err != nil {
		c.fail(fmt.Sprintf("signature invalid: %s", err))
		return
	}

	au := m.toAvailableUpdate(c.pm.OSVersion())
	c.setAvailableUpdate(au)
	c.setState(Idle)

	if c.cfg.History != nil {
		if err := c.cfg.History.RecordCheck(au.Version, time.Now()); err != nil {
			log.Logf("controller: failed to persist check history: %s", err)
		}
	}

	if au.Version > c.pm.OSVersion() {
		c.events.UpdateAvailable(au.Version)
	} else {
		c.events.AlreadyUpToDate()
	}
}

// fail zeroes the AvailableUpdate record, returns to Idle, and emits
// check_failed(reason) - the single failure path for every step of
// Check, per spec §4.5: "any step transitioning directly to Idle on
// failure."
func (c *Controller) fail(reason string) {
	c.setAvailableUpdate(engine.AvailableUpdate{})
	c.setState(Idle)
	c.captureDiag(reason)
	c.events.CheckFailed(reason)
}

// emitUpdateFailed captures diagnostics for reason and emits
// update_failed. The single place either happens from, so the
// diagnostic bundle and the event it explains can never drift apart.
func (c *Controller) emitUpdateFailed(reason string) {
	c.captureDiag(reason)
	c.events.UpdateFailed()
}

// Install starts an engine worker for the current AvailableUpdate and
// returns as soon as that worker has been started - it never blocks the
// caller for the duration of a transfer. A no-op emitting update_failed
// when no update is pending, per spec §4.5/§8.
func (c *Controller) Install(ctx context.Context) {
	au := c.AvailableUpdate()
	if au.Version == 0 {
		c.emitUpdateFailed("install: no update pending")
		return
	}
	c.setState(Installing)

	go c.runInstall(au)
}

// runInstall is the engine's dedicated worker task for one install, per
// spec §5's two-domain split: it owns the Engine it constructs and
// reports succeeded/failed/progress back through the event sink on its
// own, so Install can return the moment this goroutine starts.
//
// It runs against a detached context rather than the one passed to
// Install: per spec, install is not user-cancellable mid-stream, so an
// install must not be torn down just because the request that triggered
// it went away.
func (c *Controller) runInstall(au engine.AvailableUpdate) {
	eng := engine.New(c.pm, c.events.UpdateProgress)
	result := eng.Install(context.Background(), au)

	if result == engine.Ok {
		if err := c.pm.CommitInactive(); err != nil {
			log.Logf("controller: commit_inactive failed after successful install: %s", err)
			c.emitUpdateFailed(fmt.Sprintf("commit_inactive failed: %s", err))
			c.setState(Idle)
			return
		}
		c.events.UpdateSucceeded()
	} else {
		c.emitUpdateFailed("install failed")
	}
	c.setState(Idle)
}
