// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package machine

import (
	"testing"

	"github.com/nepos-io/updatecore/pkg/hw/dmi"
)

func TestPartitionMapDevice(t *testing.T) {
	m := NewDmiMachine(3, "/dev/mmcblk0p1", "/dev/mmcblk0p2", "/dev/mmcblk0p3", "/dev/mmcblk0p4", "bootslot", "b")
	pm := NewPartitionMap(m)

	cases := []struct {
		kind ImageKind
		slot Slot
		want string
	}{
		{Boot, Active, "/dev/mmcblk0p1"},
		{Boot, Inactive, "/dev/mmcblk0p2"},
		{Rootfs, Active, "/dev/mmcblk0p3"},
		{Rootfs, Inactive, "/dev/mmcblk0p4"},
	}
	for _, c := range cases {
		got := pm.Device(c.kind, c.slot)
		if got != c.want {
			t.Errorf("Device(%s, %d) = %q, want %q", c.kind, c.slot, got, c.want)
		}
	}

	if pm.OSVersion() != 3 {
		t.Errorf("OSVersion() = %d, want 3", pm.OSVersion())
	}
}

func TestModelUnknownFallback(t *testing.T) {
	dmi.TestingMock(dmi.DmiStrMap{}, dmi.DmiTypeMap{})
	m := NewDmiMachine(1, "", "", "", "", "", "")
	pm := NewPartitionMap(m)
	if pm.Model() != "unknown" {
		t.Errorf("Model() = %q, want %q", pm.Model(), "unknown")
	}
	dmi.Clear()
}

func TestModelFromDmi(t *testing.T) {
	dmi.TestingMock(dmi.DmiStrMap{
		"baseboard-product-name": "widget-3000",
	}, dmi.DmiTypeMap{})
	m := NewDmiMachine(1, "", "", "", "", "", "")
	pm := NewPartitionMap(m)
	if pm.Model() != "widget-3000" {
		t.Errorf("Model() = %q, want %q", pm.Model(), "widget-3000")
	}
	dmi.Clear()
}
