// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package machine identifies the running device via DMI/SMBIOS data and
// resolves the active/inactive A/B partitions for the boot image and
// rootfs image. It plays the role the original update daemon calls
// "Machine": the sole source of device identity and the sole place that
// knows how to flip the boot selector.
package machine

import "fmt"

// ImageKind distinguishes the two image types the update core manages.
type ImageKind int

const (
	Boot ImageKind = iota
	Rootfs
)

func (k ImageKind) String() string {
	switch k {
	case Boot:
		return "boot"
	case Rootfs:
		return "rootfs"
	default:
		return fmt.Sprintf("ImageKind(%d)", int(k))
	}
}

// Slot selects which of the two A/B copies of an ImageKind is meant.
type Slot int

const (
	Active Slot = iota
	Inactive
)

// Machine is the external collaborator described in the spec's §6: device
// identity, the four partition device paths, and the single atomic
// operation that activates the inactive slot.
type Machine interface {
	OSVersion() uint64
	MachineID() string
	ModelName() string
	DeviceRevision() string
	DeviceSerial() string
	Model() string

	CurrentBootDevice() string
	AltBootDevice() string
	CurrentRootfsDevice() string
	AltRootfsDevice() string

	// CommitInactive atomically flips the A/B boot selector so the
	// partitions currently considered inactive become active on next
	// boot. Called only after both images of an install succeed.
	CommitInactive() error
}

// PartitionMap resolves (ImageKind, Slot) pairs to device paths for a given
// Machine. It is the collaborator named directly in the spec's data model;
// UpdateEngine and UpdateController consult it rather than talking to
// Machine device-path accessors directly. It is a concrete type built
// over a Machine, so tests supply a fake Machine to NewPartitionMap.
type PartitionMap struct {
	m Machine
}

func NewPartitionMap(m Machine) *PartitionMap {
	return &PartitionMap{m: m}
}

// Device returns the device path for the given kind and slot.
func (p *PartitionMap) Device(kind ImageKind, slot Slot) string {
	switch kind {
	case Boot:
		if slot == Active {
			return p.m.CurrentBootDevice()
		}
		return p.m.AltBootDevice()
	case Rootfs:
		if slot == Active {
			return p.m.CurrentRootfsDevice()
		}
		return p.m.AltRootfsDevice()
	default:
		return ""
	}
}

func (p *PartitionMap) OSVersion() uint64 { return p.m.OSVersion() }

// Model returns the device model name, or "unknown" if the machine could
// not be identified - used to build the per-model manifest URL.
func (p *PartitionMap) Model() string {
	m := p.m.Model()
	if m == "" {
		return "unknown"
	}
	return m
}

func (p *PartitionMap) MachineID() string      { return p.m.MachineID() }
func (p *PartitionMap) DeviceRevision() string { return p.m.DeviceRevision() }
func (p *PartitionMap) DeviceSerial() string   { return p.m.DeviceSerial() }

// CommitInactive flips the boot selector. See Machine.CommitInactive.
func (p *PartitionMap) CommitInactive() error { return p.m.CommitInactive() }
