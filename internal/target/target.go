// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package target loads the stripped N64 executable image a scan runs
// against: either a raw RAM dump or a byte-swapped ROM image, per
// spec.md §6. The loaded Binary is immutable thereafter and shared
// read-only across every worker-pool task (spec.md §5).
package target

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/aclements/n64sym/internal/crc32x"
)

// Binary is an immutable, byte-order-normalised target image plus the
// header_size offset that converts a byte index in P into an absolute
// N64 virtual address.
type Binary struct {
	// P is the owned byte buffer, big-endian after Load.
	P []byte
	// HeaderSize is added to every match offset to produce an
	// absolute address. Defaults to 0x80000000.
	HeaderSize uint32
}

// defaultHeaderSize is the base virtual address assumed for a raw RAM
// dump, or any input Options doesn't override, per spec.md §6 and the
// Data Model's TargetBinary entity.
const defaultHeaderSize = 0x80000000

// cicSeedRegionOffset and cicSeedRegionSize bound the boot-code region
// whose CRC-32 identifies the CIC chip used to adjust header_size.
const (
	cicSeedRegionOffset = 0x40
	cicSeedRegionSize   = 0xFC0
)

// CIC CRC-32 values and their header_size adjustments, per spec.md §6.
const (
	cicCRC6103 = 0x0B050EE0
	cicCRC6106 = 0xACC8580A

	cic6103Adjust = -0x100000
	cic6106Adjust = -0x200000
)

// Options configures how Load interprets the input bytes.
type Options struct {
	// IsROM forces ROM handling (endianness detection, header_size
	// derived from the entry point) regardless of file extension.
	// If nil, Load infers this from Path's extension.
	IsROM *bool
	// Path is the source path, used only to infer IsROM from its
	// extension when IsROM is nil.
	Path string
	// HeaderSizeOverride, if non-nil, replaces whatever header_size
	// Load would otherwise compute. Required to be supported for raw
	// RAM dumps per spec.md §9 Open Question.
	HeaderSizeOverride *uint32
}

// hasROMExtension reports whether path ends in .z64/.n64/.v64,
// case-insensitively, per the original tool's PathIsN64Rom.
func hasROMExtension(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range []string{".z64", ".n64", ".v64"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Load builds a Binary from raw file contents.
func Load(data []byte, opts Options) (*Binary, error) {
	// Copy so the Binary owns its buffer independently of the
	// caller's (Load may byte-swap it in place).
	buf := make([]byte, len(data))
	copy(buf, data)

	b := &Binary{P: buf, HeaderSize: defaultHeaderSize}

	isROM := opts.IsROM != nil && *opts.IsROM
	if opts.IsROM == nil {
		isROM = hasROMExtension(opts.Path)
	}

	if isROM {
		if err := b.loadROM(); err != nil {
			return nil, err
		}
	}

	if opts.HeaderSizeOverride != nil {
		b.HeaderSize = *opts.HeaderSizeOverride
	}

	return b, nil
}

func (b *Binary) loadROM() error {
	if len(b.P) < 0x101000 {
		return fmt.Errorf("target: ROM image too small (%#x bytes, need >= 0x101000)", len(b.P))
	}

	switch word32(b.P, 0) {
	case 0x80371240:
		// Already big-endian.
	case 0x40123780:
		// Byte-swapped 32-bit words (little-endian).
		for i := 0; i+4 <= len(b.P); i += 4 {
			binary.BigEndian.PutUint32(b.P[i:], binary.LittleEndian.Uint32(b.P[i:]))
		}
	case 0x37804012:
		// Byte-swapped 16-bit halfwords.
		for i := 0; i+2 <= len(b.P); i += 2 {
			binary.BigEndian.PutUint16(b.P[i:], binary.LittleEndian.Uint16(b.P[i:]))
		}
	}

	entryPoint := word32(b.P, 0x08)
	b.HeaderSize = entryPoint - 0x1000

	if len(b.P) >= cicSeedRegionOffset+cicSeedRegionSize {
		seedCRC := crc32x.Sum(b.P[cicSeedRegionOffset : cicSeedRegionOffset+cicSeedRegionSize])
		switch seedCRC {
		case cicCRC6103:
			b.HeaderSize = uint32(int64(b.HeaderSize) + cic6103Adjust)
		case cicCRC6106:
			b.HeaderSize = uint32(int64(b.HeaderSize) + cic6106Adjust)
		}
	}

	return nil
}

func word32(p []byte, off int) uint32 {
	return binary.BigEndian.Uint32(p[off : off+4])
}
