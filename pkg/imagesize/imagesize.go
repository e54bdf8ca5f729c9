// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package imagesize parses the binary headers of a boot image or rootfs
// image to determine the meaningful length of the image - distinct from
// the raw length of the file or block device that holds it - and exposes
// a read-only memory-mapped view over exactly that many bytes.
package imagesize

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/nepos-io/updatecore/pkg/hw/ioctl"
	"github.com/nepos-io/updatecore/pkg/log"
	"github.com/nepos-io/updatecore/pkg/machine"
)

// Kind of error raised while sizing or mapping an image.
type Kind int

const (
	OpenFailed Kind = iota
	StatFailed
	ShortRead
	WrongMagic
	UnsupportedKind
	SizeExceedsDevice
	MapFailed
)

func (k Kind) String() string {
	switch k {
	case OpenFailed:
		return "OpenFailed"
	case StatFailed:
		return "StatFailed"
	case ShortRead:
		return "ShortRead"
	case WrongMagic:
		return "WrongMagic"
	case UnsupportedKind:
		return "UnsupportedKind"
	case SizeExceedsDevice:
		return "SizeExceedsDevice"
	case MapFailed:
		return "MapFailed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error wraps a Kind with the path and underlying cause, per the ambient
// error-handling convention: concrete typed errors carrying a Kind enum.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("imagesize: %s: %s: %s", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("imagesize: %s: %s", e.Kind, e.Path)
}

func (e *Error) Unwrap() error { return e.Err }

const (
	squashfsMagic = 0x73717368
	androidMagic1 = 0x52444e41 // "ANDR"
	androidMagic2 = 0x2144494f // "OID!"

	androidHeaderSize = 608 // effective header size for A/B layout, independent of page size
)

// roundUp rounds n up to the next multiple of align (4096 or page_size
// here). An align of 0 returns n unchanged.
func roundUp(n, align uint64) uint64 {
	if align == 0 {
		return n
	}
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + (align - rem)
}

// ImageView is an ephemeral read-only view over an opened image: the
// device path, kind, a memory mapping, and image_size - the header-derived
// length. Invariant: image_size <= underlying length of the file/device.
type ImageView struct {
	path      string
	kind      machine.ImageKind
	f         *os.File
	imageSize uint64
	underlying uint64
	mapping   []byte
}

// Open reads and validates the header at the start of path, computes the
// header-derived image_size for the given kind, and checks it against the
// underlying file/device length. It does not map the image; call Map()
// for that.
func Open(path string, kind machine.ImageKind) (*ImageView, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Kind: OpenFailed, Path: path, Err: err}
	}
	v := &ImageView{path: path, kind: kind, f: f}

	var size uint64
	switch kind {
	case machine.Rootfs:
		size, err = parseSquashfs(f)
	case machine.Boot:
		size, err = parseAndroidBoot(f)
	default:
		f.Close()
		return nil, &Error{Kind: UnsupportedKind, Path: path}
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	v.imageSize = size

	underlying, err := underlyingLength(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	v.underlying = underlying

	if v.imageSize > v.underlying {
		f.Close()
		return nil, &Error{Kind: SizeExceedsDevice, Path: path,
			Err: fmt.Errorf("image_size %d > underlying length %d", v.imageSize, v.underlying)}
	}
	return v, nil
}

// ImageSize returns the header-derived meaningful length of the image.
func (v *ImageView) ImageSize() uint64 { return v.imageSize }

// UnderlyingLength returns the raw file size, or kernel-reported block
// device size.
func (v *ImageView) UnderlyingLength() uint64 { return v.underlying }

func (v *ImageView) Path() string { return v.path }

// Map returns a read-only mapping of ImageSize() bytes. Calling Map twice
// returns the same mapping (idempotent).
func (v *ImageView) Map() ([]byte, error) {
	if v.mapping != nil {
		return v.mapping, nil
	}
	if v.imageSize == 0 {
		v.mapping = []byte{}
		return v.mapping, nil
	}
	m, err := unix.Mmap(int(v.f.Fd()), 0, int(v.imageSize), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, &Error{Kind: MapFailed, Path: v.path, Err: err}
	}
	v.mapping = m
	return v.mapping, nil
}

// Close unmaps (if mapped) and closes the underlying descriptor.
func (v *ImageView) Close() error {
	if v.mapping != nil {
		if err := unix.Munmap(v.mapping); err != nil {
			log.Logf("imagesize: munmap %s: %s", v.path, err)
		}
		v.mapping = nil
	}
	return v.f.Close()
}

func parseSquashfs(f *os.File) (uint64, error) {
	var hdr [48]byte // superblock is larger, but bytes_used at offset 40 is all we need
	n, err := f.ReadAt(hdr[:], 0)
	if err != nil || n < len(hdr) {
		return 0, &Error{Kind: ShortRead, Path: f.Name(), Err: err}
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != squashfsMagic {
		return 0, &Error{Kind: WrongMagic, Path: f.Name(),
			Err: fmt.Errorf("got 0x%x, want 0x%x", magic, squashfsMagic)}
	}
	bytesUsed := binary.LittleEndian.Uint64(hdr[40:48])
	return roundUp(bytesUsed, 4096), nil
}

// androidBootHeader mirrors the packed C struct in the original
// implementation: two magics, then kernel/initrd/second size+addr pairs,
// tags_addr, page_size, and dtb_size, all little-endian 32-bit fields.
type androidBootHeader struct {
	Magic1      uint32
	Magic2      uint32
	KernelSize  uint32
	KernelAddr  uint32
	InitrdSize  uint32
	InitrdAddr  uint32
	SecondSize  uint32
	SecondAddr  uint32
	TagsAddr    uint32
	PageSize    uint32
	DtbSize     uint32
}

func parseAndroidBoot(f *os.File) (uint64, error) {
	var buf [44]byte // 11 * 4 bytes
	n, err := f.ReadAt(buf[:], 0)
	if err != nil || n < len(buf) {
		return 0, &Error{Kind: ShortRead, Path: f.Name(), Err: err}
	}
	var h androidBootHeader
	h.Magic1 = binary.LittleEndian.Uint32(buf[0:4])
	h.Magic2 = binary.LittleEndian.Uint32(buf[4:8])
	h.KernelSize = binary.LittleEndian.Uint32(buf[8:12])
	h.KernelAddr = binary.LittleEndian.Uint32(buf[12:16])
	h.InitrdSize = binary.LittleEndian.Uint32(buf[16:20])
	h.InitrdAddr = binary.LittleEndian.Uint32(buf[20:24])
	h.SecondSize = binary.LittleEndian.Uint32(buf[24:28])
	h.SecondAddr = binary.LittleEndian.Uint32(buf[28:32])
	h.TagsAddr = binary.LittleEndian.Uint32(buf[32:36])
	h.PageSize = binary.LittleEndian.Uint32(buf[36:40])
	h.DtbSize = binary.LittleEndian.Uint32(buf[40:44])

	if h.Magic1 != androidMagic1 || h.Magic2 != androidMagic2 {
		return 0, &Error{Kind: WrongMagic, Path: f.Name(),
			Err: fmt.Errorf("got 0x%x/0x%x, want 0x%x/0x%x", h.Magic1, h.Magic2, androidMagic1, androidMagic2)}
	}
	p := uint64(h.PageSize)
	if p == 0 {
		return 0, &Error{Kind: WrongMagic, Path: f.Name(), Err: fmt.Errorf("page_size is zero")}
	}
	size := roundUp(androidHeaderSize, p)
	size += roundUp(uint64(h.KernelSize), p)
	size += roundUp(uint64(h.InitrdSize), p)
	size += roundUp(uint64(h.SecondSize), p)
	size += roundUp(uint64(h.DtbSize), p)
	return size, nil
}

// underlyingLength returns the file size for a regular file, or the
// kernel-reported byte length for a block device.
func underlyingLength(f *os.File) (uint64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, &Error{Kind: StatFailed, Path: f.Name(), Err: err}
	}
	if fi.Mode()&os.ModeDevice != 0 {
		sz, err := ioctl.BlkGetSize64(f)
		if err != nil {
			return 0, &Error{Kind: StatFailed, Path: f.Name(), Err: err}
		}
		return sz, nil
	}
	return uint64(fi.Size()), nil
}
