// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sigfile reads and evaluates the sig_v1 textual signature
// format (spec.md §4.8), and builds it from ELF objects (spec.md
// §4.9). A signature entry fingerprints one function by two CRC-32s
// over its relocation-masked canonical bytes, keyed on the function's
// own length.
package sigfile

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/aclements/n64sym/internal/crc32x"
	"github.com/aclements/n64sym/internal/elfobj"
)

// ErrBadSignatureFile is returned for any parse failure in a sig_v1
// file.
var ErrBadSignatureFile = fmt.Errorf("sigfile: malformed signature file")

// SigReloc is one relocation recorded against a symbol's canonical
// bytes.
type SigReloc struct {
	SymbolName string
	Type       elfobj.RelType
	Offset     uint32
}

// Symbol is one fingerprinted function.
type Symbol struct {
	Name   string
	Size   uint32
	CRCA   uint32
	CRCB   uint32
	Relocs []SigReloc // sorted ascending by Offset
}

// File is a parsed sig_v1 signature file.
type File struct {
	Symbols []Symbol
}

var relocDirectives = map[string]elfobj.RelType{
	".targ26": elfobj.R_MIPS_26,
	".hi16":   elfobj.R_MIPS_HI16,
	".lo16":   elfobj.R_MIPS_LO16,
}

// Parse reads a sig_v1 file from r.
func Parse(r io.Reader) (*File, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	f := &File{}
	var cur *Symbol

	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if strings.HasPrefix(fields[0], ".") {
			reloc, err := parseRelocLine(fields)
			if err != nil {
				return nil, err
			}
			if cur == nil {
				return nil, fmt.Errorf("%w: relocation line before any symbol", ErrBadSignatureFile)
			}
			cur.Relocs = append(cur.Relocs, reloc...)
			continue
		}

		// New symbol line: <name> <size> <crcA> <crcB>
		if len(fields) != 4 {
			return nil, fmt.Errorf("%w: expected 4 fields for symbol line, got %d", ErrBadSignatureFile, len(fields))
		}
		size, err := parseNumber(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%w: bad size %q: %v", ErrBadSignatureFile, fields[1], err)
		}
		crcA, err := parseNumber(fields[2])
		if err != nil {
			return nil, fmt.Errorf("%w: bad crcA %q: %v", ErrBadSignatureFile, fields[2], err)
		}
		crcB, err := parseNumber(fields[3])
		if err != nil {
			return nil, fmt.Errorf("%w: bad crcB %q: %v", ErrBadSignatureFile, fields[3], err)
		}

		f.Symbols = append(f.Symbols, Symbol{Name: fields[0], Size: uint32(size), CRCA: uint32(crcA), CRCB: uint32(crcB)})
		cur = &f.Symbols[len(f.Symbols)-1]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignatureFile, err)
	}

	for i := range f.Symbols {
		sort.Slice(f.Symbols[i].Relocs, func(a, b int) bool {
			return f.Symbols[i].Relocs[a].Offset < f.Symbols[i].Relocs[b].Offset
		})
	}

	return f, nil
}

// parseRelocLine parses " .directive name off1 off2 …" into one
// SigReloc per offset.
func parseRelocLine(fields []string) ([]SigReloc, error) {
	relType, ok := relocDirectives[fields[0]]
	if !ok {
		return nil, fmt.Errorf("%w: unknown relocation directive %q", ErrBadSignatureFile, fields[0])
	}
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: relocation line missing symbol name", ErrBadSignatureFile)
	}
	name := fields[1]
	out := make([]SigReloc, 0, len(fields)-2)
	for _, tok := range fields[2:] {
		off, err := parseNumber(tok)
		if err != nil {
			return nil, fmt.Errorf("%w: bad relocation offset %q: %v", ErrBadSignatureFile, tok, err)
		}
		out = append(out, SigReloc{SymbolName: name, Type: relType, Offset: uint32(off)})
	}
	return out, nil
}

// parseNumber parses a decimal, 0x-hex, or 0-octal unsigned integer.
func parseNumber(s string) (uint64, error) {
	return strconv.ParseUint(s, 0, 64)
}

// Test implements spec.md §4.8's match procedure: sym matches window
// iff the two relocation-masked CRCs agree.
func (sym Symbol) Test(window []byte) bool {
	if uint32(len(window)) < sym.Size {
		return false
	}

	l := sym.Size
	if l > 8 {
		l = 8
	}

	if crc32x.Finalize(feedStripped(window[:l], sym.Relocs)) != sym.CRCA {
		return false
	}
	return crc32x.Finalize(feedStripped(window[:sym.Size], sym.Relocs)) == sym.CRCB
}

// feedStripped runs a CRC over data, substituting the relocation-
// stripped form of each 4-byte slot named in relocs. relocs must be
// sorted ascending by Offset, every offset a multiple of 4 and within
// range.
func feedStripped(data []byte, relocs []SigReloc) crc32x.State {
	state := crc32x.Begin()
	r := 0
	for i := 0; i < len(data); i += 4 {
		end := i + 4
		if end > len(data) {
			end = len(data)
		}
		for r < len(relocs) && relocs[r].Offset < uint32(i) {
			r++
		}
		if end-i == 4 && r < len(relocs) && relocs[r].Offset == uint32(i) {
			var word [4]byte
			copy(word[:], data[i:end])
			word = elfobj.StripOpcode(word, relocs[r].Type)
			state = crc32x.Update(state, word[:])
			r++
			continue
		}
		state = crc32x.Update(state, data[i:end])
	}
	return state
}
