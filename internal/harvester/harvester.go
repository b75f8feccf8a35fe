// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package harvester implements the Symbol Harvester (spec.md §4.6):
// given a matched object and its position in the target binary, it
// emits SearchResults for global .text functions and for jal call
// targets discovered through R_MIPS_26 relocations.
package harvester

import (
	"debug/elf"
	"fmt"
	"strings"

	"github.com/aclements/n64sym/internal/aggregator"
	"github.com/aclements/n64sym/internal/elfobj"
)

// jalOpcodeHigh6 is the top 6 bits of a MIPS `jal` instruction word.
const jalOpcodeHigh6 = 0x0C

// Harvest emits aggregator.Results for f, assuming f.Text() was found
// matching the target binary at byte offset matchedBase with a
// matched prefix of matchedBytes bytes (matchedBytes == len(f.Text())
// on a full match). matchedRegion must be the bytes of the target
// binary starting at matchedBase and covering at least the matched
// prefix [matchedBase, matchedBase+matchedBytes) -- the Harvester
// reads jal targets from there, not from f.Text(), since only the
// target binary's copy carries the linker-resolved address.
//
// objectPrefix names the archive member (or standalone object) being
// harvested; it is used to synthesize names for R_MIPS_26 relocations
// against the linker's anonymous-static placeholder symbol (index 1).
func Harvest(f *elfobj.File, headerSize uint32, matchedBase uint32, matchedBytes int, matchedRegion []byte, objectPrefix string, agg *aggregator.Aggregator) {
	harvestSymbols(f, headerSize, matchedBase, matchedBytes, agg)
	harvestCallTargets(f, headerSize, matchedBytes, matchedRegion, objectPrefix, agg)
}

// harvestSymbols emits one Result per matching global function symbol
// in f.Symbols(), iterated in reverse declaration order per spec.md
// §4.6.
func harvestSymbols(f *elfobj.File, headerSize, matchedBase uint32, matchedBytes int, agg *aggregator.Aggregator) {
	syms := f.Symbols()
	for i := len(syms) - 1; i >= 0; i-- {
		s := syms[i]
		if s.Bind() != elf.STB_GLOBAL {
			continue
		}
		if s.Type() == elf.STT_NOTYPE {
			continue
		}
		if s.Section == elf.SHN_UNDEF {
			continue
		}
		if s.Size == 0 {
			continue
		}
		if uint64(s.Value) >= uint64(matchedBytes) {
			// Partial match: this symbol falls past the matched
			// prefix, so we have no evidence for its address.
			continue
		}
		agg.Add(aggregator.Result{
			Address: headerSize + matchedBase + s.Value,
			Name:    s.Name,
			Kind:    aggregator.KindFunction,
		})
	}
}

// harvestCallTargets emits one Result per R_MIPS_26 relocation inside
// the matched prefix whose corresponding word in the target binary
// decodes as a `jal` instruction.
func harvestCallTargets(f *elfobj.File, headerSize uint32, matchedBytes int, matchedRegion []byte, objectPrefix string, agg *aggregator.Aggregator) {
	for _, r := range f.TextRelocs() {
		if r.Type != elfobj.R_MIPS_26 {
			continue
		}
		if int(r.Offset)+4 > matchedBytes || int(r.Offset)+4 > len(matchedRegion) {
			continue
		}

		op := matchedRegion[r.Offset : r.Offset+4]
		opcode := uint32(op[0])<<24 | uint32(op[1])<<16 | uint32(op[2])<<8 | uint32(op[3])
		if opcode>>26 != jalOpcodeHigh6 {
			continue
		}

		target := headerSize | ((opcode & 0x03FFFFFF) << 2)

		name := symbolName(f, r, objectPrefix)
		agg.Add(aggregator.Result{
			Address: target,
			Name:    name,
			Kind:    aggregator.KindCall,
		})
	}
}

// symbolName resolves the display name for a call-target relocation,
// synthesizing a stable placeholder name when the relocation targets
// the compiler's anonymous-static symbol (index 1), per spec.md §4.6.
func symbolName(f *elfobj.File, r elfobj.Reloc, objectPrefix string) string {
	if r.Symbol == 1 {
		name := fmt.Sprintf("%s_%04X", objectPrefix, r.Offset)
		return strings.ReplaceAll(name, ".", "_")
	}
	if sym, ok := f.Symbol(r.Symbol); ok {
		return sym.Name
	}
	return fmt.Sprintf("%s_%04X", objectPrefix, r.Offset)
}
