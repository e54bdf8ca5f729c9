// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package machine

import (
	"fmt"
	"os/exec"
	"strconv"

	"github.com/nepos-io/updatecore/pkg/hw/dmi"
	"github.com/nepos-io/updatecore/pkg/log"
)

// DmiMachine identifies the device via dmidecode output. There is exactly
// one variant - this binary targets a single board family - so
// identification only supplies the strings used for the update server's
// identity headers, not a decision tree.
//
// Partition devices are supplied directly rather than derived, since the
// spec leaves device-path discovery external to the core.
type DmiMachine struct {
	osVersion uint64

	bootDev   string
	altBootDev string
	rootfsDev string
	altRootfsDev string

	// bootSelectorVar is the U-Boot environment variable name that
	// CommitInactive sets to inactiveSlot via `fw_setenv`.
	bootSelectorVar string
	inactiveSlot    string
}

var _ Machine = (*DmiMachine)(nil)

// NewDmiMachine constructs a Machine using DMI identity data plus the
// caller-supplied partition device paths and boot-selector configuration.
// osVersion is the currently-installed build_id.
func NewDmiMachine(osVersion uint64, bootDev, altBootDev, rootfsDev, altRootfsDev, bootSelectorVar, inactiveSlot string) *DmiMachine {
	return &DmiMachine{
		osVersion:       osVersion,
		bootDev:         bootDev,
		altBootDev:      altBootDev,
		rootfsDev:       rootfsDev,
		altRootfsDev:    altRootfsDev,
		bootSelectorVar: bootSelectorVar,
		inactiveSlot:    inactiveSlot,
	}
}

func (d *DmiMachine) OSVersion() uint64 { return d.osVersion }

func (d *DmiMachine) MachineID() string {
	return dmi.String("system-uuid")
}

func (d *DmiMachine) ModelName() string {
	prod := dmi.String("baseboard-product-name")
	if prod == "" {
		prod = dmi.String("system-product-name")
	}
	return prod
}

func (d *DmiMachine) DeviceRevision() string {
	return dmi.Field(1, "Version:")
}

func (d *DmiMachine) DeviceSerial() string {
	return dmi.String("system-serial-number")
}

// Model returns a short identifier used in the manifest URL path. Falls
// back to "unknown" per spec §4.5 when DMI data is unavailable.
func (d *DmiMachine) Model() string {
	m := d.ModelName()
	if m == "" {
		return "unknown"
	}
	return m
}

func (d *DmiMachine) CurrentBootDevice() string   { return d.bootDev }
func (d *DmiMachine) AltBootDevice() string       { return d.altBootDev }
func (d *DmiMachine) CurrentRootfsDevice() string { return d.rootfsDev }
func (d *DmiMachine) AltRootfsDevice() string     { return d.altRootfsDev }

// CommitInactive flips the A/B selector by writing the inactive slot's
// identifier into the bootloader environment via fw_setenv, run with
// os/exec and judged by its exit code. Atomic from the caller's point of view: either
// fw_setenv exits 0 and the flip has happened, or it hasn't.
func (d *DmiMachine) CommitInactive() error {
	cmd := exec.Command("fw_setenv", d.bootSelectorVar, d.inactiveSlot)
	out, err := cmd.CombinedOutput()
	if err != nil {
		log.Logf("fw_setenv %s %s failed: %s\noutput: %s", d.bootSelectorVar, d.inactiveSlot, err, out)
		return fmt.Errorf("commit_inactive: %w", err)
	}
	log.Logf("committed inactive slot %q via %s", d.inactiveSlot, d.bootSelectorVar)
	return nil
}

func (d *DmiMachine) String() string {
	return fmt.Sprintf("%s rev %s serial %s os_version %s", d.ModelName(), d.DeviceRevision(), d.DeviceSerial(), strconv.FormatUint(d.osVersion, 10))
}
