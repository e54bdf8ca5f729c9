// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Command updatecored runs the update core as a long-lived daemon: it
// periodically checks for a new manifest, and installs the update
// whenever a check finds a build newer than -os-version. See
// github.com/nepos-io/updatecore/pkg/controller for the state machine
// this wraps.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nepos-io/updatecore/pkg/controller"
	"github.com/nepos-io/updatecore/pkg/diag"
	"github.com/nepos-io/updatecore/pkg/eventbus"
	"github.com/nepos-io/updatecore/pkg/log"
	"github.com/nepos-io/updatecore/pkg/log/flags"
	"github.com/nepos-io/updatecore/pkg/machine"
)

//in any binary with main.buildId string, it is set at compile time to $BUILD_INFO
var buildId string

var (
	bootDev         = flag.String("boot-dev", "/dev/mmcblk0p1", "active boot partition device")
	altBootDev      = flag.String("alt-boot-dev", "/dev/mmcblk0p2", "inactive boot partition device")
	rootfsDev       = flag.String("rootfs-dev", "/dev/mmcblk0p3", "active rootfs partition device")
	altRootfsDev    = flag.String("alt-rootfs-dev", "/dev/mmcblk0p4", "inactive rootfs partition device")
	bootSelectorVar = flag.String("boot-selector-var", "active_slot", "U-Boot env var flipped by fw_setenv on commit")
	inactiveSlot    = flag.String("inactive-slot", "b", "value written to -boot-selector-var on commit")
	osVersion       = flag.Uint64("os-version", 0, "build id of the image currently running")

	channel       = flag.String("channel", "stable", "update channel to check")
	checkInterval = flag.Duration("check-interval", 6*time.Hour, "how often to check for updates")
	updateBaseURL = flag.String("update-base-url", "", "override the default manifest base URL")
	historyDBPath = flag.String("history-db", "/var/lib/updatecored/history.db", "path to check-history database")

	eventAddr = flag.String("event-addr", ":8090", "address to serve the gRPC/HTTP event bus on")

	diagLocalDir = flag.String("diag-local-dir", "", "if set, write failure diagnostics bundles here instead of S3")
	diagS3Bucket = flag.String("diag-s3-bucket", "", "S3 bucket to upload failure diagnostics bundles to; empty disables upload")
	diagS3Prefix = flag.String("diag-s3-prefix", "", "key prefix for uploaded diagnostics bundles")
	diagS3Region = flag.String("diag-s3-region", "us-east-1", "AWS region for -diag-s3-bucket")
)

func main() {
	log.AddConsoleLog(flags.NA)
	log.FlushMemLog()
	log.Logf("buildId: %s", buildId)
	flag.Parse()

	m := machine.NewDmiMachine(*osVersion, *bootDev, *altBootDev, *rootfsDev, *altRootfsDev, *bootSelectorVar, *inactiveSlot)
	pm := machine.NewPartitionMap(m)

	history, err := controller.OpenHistory(*historyDBPath)
	if err != nil {
		log.Fatalf("opening history db: %s", err)
	}
	defer history.Close()

	bus := eventbus.New()
	ctl := controller.New(pm, controller.Config{
		UpdateBaseURL: *updateBaseURL,
		History:       history,
		DiagOpts: diag.Opts{
			LocalDir: *diagLocalDir,
			S3Bucket: *diagS3Bucket,
			S3Prefix: *diagS3Prefix,
			Region:   *diagS3Region,
		},
	}, bus)

	busSrv := eventbus.NewServer(bus)
	go func() {
		log.Logf("event bus listening on %s", *eventAddr)
		if err := busSrv.ServeAt(*eventAddr); err != nil {
			log.Logf("event bus server exited: %s", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Log("received shutdown signal")
		cancel()
		busSrv.Close()
	}()

	runLoop(ctx, ctl)
}

// runLoop checks on an interval and installs immediately whenever a
// check finds a newer version, per the ambient expectation that this
// daemon drives itself rather than waiting on an external trigger.
func runLoop(ctx context.Context, ctl *controller.Controller) {
	ticker := time.NewTicker(*checkInterval)
	defer ticker.Stop()

	check := func() {
		ctl.Check(ctx, *channel)
		if au := ctl.AvailableUpdate(); au.Version > *osVersion {
			log.Logf("update %s available, installing", strconv.FormatUint(au.Version, 10))
			ctl.Install(ctx)
		}
	}

	check()
	for {
		select {
		case <-ticker.C:
			check()
		case <-ctx.Done():
			log.Log("shutting down")
			return
		}
	}
}
