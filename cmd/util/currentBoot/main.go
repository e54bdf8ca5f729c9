// Copyright (C) 2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Command currentBoot reports which partitions the update core
// currently considers active and inactive for both image kinds.
package main

import (
	"flag"

	"github.com/nepos-io/updatecore/pkg/log"
	"github.com/nepos-io/updatecore/pkg/machine"
)

var (
	bootDev         = flag.String("boot-dev", "/dev/mmcblk0p1", "active boot partition device")
	altBootDev      = flag.String("alt-boot-dev", "/dev/mmcblk0p2", "inactive boot partition device")
	rootfsDev       = flag.String("rootfs-dev", "/dev/mmcblk0p3", "active rootfs partition device")
	altRootfsDev    = flag.String("alt-rootfs-dev", "/dev/mmcblk0p4", "inactive rootfs partition device")
	bootSelectorVar = flag.String("boot-selector-var", "active_slot", "U-Boot env var flipped by fw_setenv on commit")
	inactiveSlot    = flag.String("inactive-slot", "b", "value written to -boot-selector-var on commit")
	osVersion       = flag.Uint64("os-version", 0, "build id of the image currently running")
)

func main() {
	log.AddConsoleLog(0)
	log.FlushMemLog()
	flag.Parse()

	m := machine.NewDmiMachine(*osVersion, *bootDev, *altBootDev, *rootfsDev, *altRootfsDev, *bootSelectorVar, *inactiveSlot)
	pm := machine.NewPartitionMap(m)

	log.Logf("model: %s  machine-id: %s  os-version: %d", pm.Model(), pm.MachineID(), pm.OSVersion())
	log.Logf("boot:   active=%s  inactive=%s", pm.Device(machine.Boot, machine.Active), pm.Device(machine.Boot, machine.Inactive))
	log.Logf("rootfs: active=%s  inactive=%s", pm.Device(machine.Rootfs, machine.Active), pm.Device(machine.Rootfs, machine.Inactive))
}
