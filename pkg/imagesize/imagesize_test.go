// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package imagesize

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/nepos-io/updatecore/pkg/machine"
)

func writeSquashfs(t *testing.T, bytesUsed uint64, pad int) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "rootfs.squashfs")
	buf := make([]byte, roundUp(bytesUsed, 4096)+uint64(pad))
	binary.LittleEndian.PutUint32(buf[0:4], squashfsMagic)
	binary.LittleEndian.PutUint64(buf[40:48], bytesUsed)
	if err := os.WriteFile(p, buf, 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestSquashfsExactMultiple(t *testing.T) {
	p := writeSquashfs(t, 8192, 0)
	v, err := Open(p, machine.Rootfs)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()
	if v.ImageSize() != 8192 {
		t.Errorf("ImageSize() = %d, want 8192", v.ImageSize())
	}
}

func TestSquashfsRoundsUp(t *testing.T) {
	p := writeSquashfs(t, 4097, 4096)
	v, err := Open(p, machine.Rootfs)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()
	if v.ImageSize() != 8192 {
		t.Errorf("ImageSize() = %d, want 8192", v.ImageSize())
	}
}

func TestSquashfsWrongMagic(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "bad.squashfs")
	if err := os.WriteFile(p, make([]byte, 64), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(p, machine.Rootfs)
	var ie *Error
	if err == nil {
		t.Fatal("expected error")
	}
	if !asError(err, &ie) || ie.Kind != WrongMagic {
		t.Errorf("got %v, want WrongMagic", err)
	}
}

func writeAndroidBoot(t *testing.T, pageSize, kernel, initrd, second, dtb uint32) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "boot.img")
	total := roundUp(androidHeaderSize, uint64(pageSize)) +
		roundUp(uint64(kernel), uint64(pageSize)) +
		roundUp(uint64(initrd), uint64(pageSize)) +
		roundUp(uint64(second), uint64(pageSize)) +
		roundUp(uint64(dtb), uint64(pageSize))
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], androidMagic1)
	binary.LittleEndian.PutUint32(buf[4:8], androidMagic2)
	binary.LittleEndian.PutUint32(buf[8:12], kernel)
	binary.LittleEndian.PutUint32(buf[16:20], initrd)
	binary.LittleEndian.PutUint32(buf[24:28], second)
	binary.LittleEndian.PutUint32(buf[36:40], pageSize)
	binary.LittleEndian.PutUint32(buf[40:44], dtb)
	if err := os.WriteFile(p, buf, 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestAndroidBootAllZero(t *testing.T) {
	p := writeAndroidBoot(t, 2048, 0, 0, 0, 0)
	v, err := Open(p, machine.Boot)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()
	want := roundUp(androidHeaderSize, 2048)
	if v.ImageSize() != want {
		t.Errorf("ImageSize() = %d, want %d", v.ImageSize(), want)
	}
}

func TestAndroidBootWithPayload(t *testing.T) {
	p := writeAndroidBoot(t, 2048, 5000, 3000, 0, 100)
	v, err := Open(p, machine.Boot)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()
	want := roundUp(608, 2048) + roundUp(5000, 2048) + roundUp(3000, 2048) + roundUp(100, 2048)
	if v.ImageSize() != want {
		t.Errorf("ImageSize() = %d, want %d", v.ImageSize(), want)
	}
}

func TestOpenCloseOpenIdempotent(t *testing.T) {
	p := writeSquashfs(t, 9000, 4096)
	v1, err := Open(p, machine.Rootfs)
	if err != nil {
		t.Fatal(err)
	}
	s1 := v1.ImageSize()
	v1.Close()

	v2, err := Open(p, machine.Rootfs)
	if err != nil {
		t.Fatal(err)
	}
	defer v2.Close()
	if v2.ImageSize() != s1 {
		t.Errorf("ImageSize() changed across open/close/open: %d != %d", v2.ImageSize(), s1)
	}
}

func TestSizeExceedsDevice(t *testing.T) {
	// bytes_used claims more than the file actually contains once rounded
	// up past the file's own length.
	dir := t.TempDir()
	p := filepath.Join(dir, "short.squashfs")
	buf := make([]byte, 48)
	binary.LittleEndian.PutUint32(buf[0:4], squashfsMagic)
	binary.LittleEndian.PutUint64(buf[40:48], 1<<30)
	if err := os.WriteFile(p, buf, 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(p, machine.Rootfs)
	var ie *Error
	if err == nil {
		t.Fatal("expected error")
	}
	if !asError(err, &ie) || ie.Kind != SizeExceedsDevice {
		t.Errorf("got %v, want SizeExceedsDevice", err)
	}
}

func asError(err error, target **Error) bool {
	if e, ok := err.(*Error); ok {
		*target = e
		return true
	}
	return false
}
