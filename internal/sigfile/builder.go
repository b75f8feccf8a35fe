// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sigfile

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/aclements/n64sym/internal/crc32x"
	"github.com/aclements/n64sym/internal/elfobj"
)

// Builder canonicalises STT_FUNC symbols out of ELF objects and
// accumulates them into a sig_v1 signature file, per spec.md §4.9.
type Builder struct {
	Logger *log.Logger // defaults to a discarding logger if nil

	byCRCB map[uint32]int
	syms   []Symbol
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{byCRCB: make(map[uint32]int)}
}

func (b *Builder) logf(format string, args ...interface{}) {
	if b.Logger != nil {
		b.Logger.Printf(format, args...)
	}
}

// AddObject canonicalises every function symbol in f and folds it
// into the builder's symbol set, deduplicating by crcB (spec.md §4.9:
// "on collision, keep the first and log a warning if names differ").
// objectName identifies f in synthesized pseudo-names for anonymous
// local relocation targets.
func (b *Builder) AddObject(objectName string, f *elfobj.File) {
	text := f.Text()
	if text == nil {
		return
	}
	relocs := f.TextRelocs()
	dwarfSizes := dwarfFuncSizes(f)

	for _, sym := range f.Symbols() {
		if sym.Type() != elf.STT_FUNC {
			continue
		}

		size := sym.Size
		if size == 0 {
			backfilled, ok := dwarfSizes[sym.Value]
			if !ok {
				continue
			}
			b.logf("n64sig: %s: %s: size 0 in .symtab, backfilled %d from DWARF", objectName, sym.Name, backfilled)
			size = backfilled
		}

		end := sym.Value + size
		if uint64(sym.Value) > uint64(len(text)) || uint64(end) > uint64(len(text)) {
			continue
		}

		window := make([]byte, size)
		copy(window, text[sym.Value:end])

		symRelocs, err := b.collectRelocs(objectName, f, relocs, sym.Value, size, window)
		if err != nil {
			b.logf("n64sig: %s: %s: %v", objectName, sym.Name, err)
			continue
		}

		l := size
		if l > 8 {
			l = 8
		}
		crcA := crc32x.Finalize(crc32x.Update(crc32x.Begin(), window[:l]))
		crcB := crc32x.Finalize(crc32x.Update(crc32x.Begin(), window))

		entry := Symbol{Name: sym.Name, Size: size, CRCA: crcA, CRCB: crcB, Relocs: symRelocs}

		if i, dup := b.byCRCB[crcB]; dup {
			if b.syms[i].Name != entry.Name {
				b.logf("n64sig: %s and %s have identical canonical bytes; keeping %s", b.syms[i].Name, entry.Name, b.syms[i].Name)
			}
			continue
		}
		b.byCRCB[crcB] = len(b.syms)
		b.syms = append(b.syms, entry)
	}
}

// dwarfFuncSizes maps each DW_TAG_subprogram's low_pc to its size
// (high_pc - low_pc), for objects built with -g. Most objects in this
// domain carry no DWARF at all; that's not an error, just an empty
// result, so size-0 STT_FUNC symbols fall back to being dropped.
func dwarfFuncSizes(f *elfobj.File) map[uint32]uint32 {
	d, err := f.DWARF()
	if err != nil || d == nil {
		return nil
	}
	sizes := make(map[uint32]uint32)
	r := d.Reader()
	for {
		entry, err := r.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}
		lowField := entry.Val(dwarf.AttrLowpc)
		highField := entry.Val(dwarf.AttrHighpc)
		if lowField == nil || highField == nil {
			continue
		}
		low, ok := lowField.(uint64)
		if !ok {
			continue
		}
		var high uint64
		switch v := highField.(type) {
		case uint64:
			high = v
		case int64:
			// DWARF4+ encodes high_pc as an offset from low_pc.
			high = low + uint64(v)
		default:
			continue
		}
		if high <= low {
			continue
		}
		sizes[uint32(low)] = uint32(high - low)
	}
	return sizes
}

// collectRelocs walks the relocations falling inside [value,
// value+size), stripping each from window in place and synthesizing
// pseudo-names for anonymous (STB_LOCAL) targets per spec.md §4.9.
func (b *Builder) collectRelocs(objectName string, f *elfobj.File, relocs []elfobj.Reloc, value, size uint32, window []byte) ([]SigReloc, error) {
	var out []SigReloc
	var lastHiAddend uint32
	haveHi := false

	for i, r := range relocs {
		if r.Offset < value || r.Offset >= value+size {
			continue
		}
		if !elfobj.IsStrippable(r.Type) {
			b.logf("n64sig: %s: unhandled relocation type %s at offset %#x, dropping", objectName, r.Type, r.Offset)
			continue
		}

		localOff := r.Offset - value
		if localOff+4 > uint32(len(window)) {
			continue
		}
		var word [4]byte
		copy(word[:], window[localOff:localOff+4])

		name := ""
		relSym, haveSym := f.Symbol(r.Symbol)
		if haveSym && relSym.Bind() == elf.STB_LOCAL {
			var addend uint32
			switch r.Type {
			case elfobj.R_MIPS_HI16:
				opcode := uint32(word[0])<<24 | uint32(word[1])<<16 | uint32(word[2])<<8 | uint32(word[3])
				if i+1 >= len(relocs) || relocs[i+1].Type != elfobj.R_MIPS_LO16 {
					b.logf("n64sig: %s: HI16 relocation at offset %#x has no paired LO16, dropping", objectName, r.Offset)
					continue
				}
				loOff := relocs[i+1].Offset - value
				if loOff+4 > uint32(len(window)) {
					continue
				}
				loWord := window[loOff : loOff+4]
				loOpcode := uint32(loWord[0])<<24 | uint32(loWord[1])<<16 | uint32(loWord[2])<<8 | uint32(loWord[3])
				addend = (opcode & 0xFFFF) << 16
				addend += uint32(int32(int16(loOpcode & 0xFFFF)))
				lastHiAddend = addend
				haveHi = true
			case elfobj.R_MIPS_LO16:
				if !haveHi {
					b.logf("n64sig: %s: LO16 relocation at offset %#x has no preceding HI16, dropping", objectName, r.Offset)
					continue
				}
				addend = lastHiAddend
			case elfobj.R_MIPS_26:
				opcode := uint32(word[0])<<24 | uint32(word[1])<<16 | uint32(word[2])<<8 | uint32(word[3])
				addend = (opcode & 0x03FFFFFF) << 2
			}
			sectName := f.SectionName(relSym.Section)
			name = fmt.Sprintf("%s_%s_%04X", objectName, strings.TrimPrefix(sectName, "."), addend)
			name = strings.ReplaceAll(name, ".", "_")
		} else if haveSym {
			name = relSym.Name
		}

		word = elfobj.StripOpcode(word, r.Type)
		copy(window[localOff:localOff+4], word[:])

		out = append(out, SigReloc{SymbolName: name, Type: r.Type, Offset: localOff})
	}

	sort.Slice(out, func(a, c int) bool { return out[a].Offset < out[c].Offset })
	return out, nil
}

// File returns the accumulated signature file, with symbols sorted by
// case-insensitive name, leading underscores ignored, per spec.md
// §4.9.
func (b *Builder) File() *File {
	syms := make([]Symbol, len(b.syms))
	copy(syms, b.syms)
	sort.Slice(syms, func(i, j int) bool {
		return collationKey(syms[i].Name) < collationKey(syms[j].Name)
	})
	return &File{Symbols: syms}
}

// collationKey strips leading underscores and folds ASCII case, per
// spec.md §4.9 ("ignoring leading underscores") and the original
// tool's ASCII-only case fold (see SPEC_FULL.md).
func collationKey(name string) string {
	b := []byte(strings.TrimLeft(name, "_"))
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// WriteTo writes f in sig_v1 textual form.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	var total int64
	n, err := io.WriteString(w, "# sig_v1\n")
	total += int64(n)
	if err != nil {
		return total, err
	}
	for _, sym := range f.Symbols {
		n, err = fmt.Fprintf(w, "%s %d %#08x %#08x\n", sym.Name, sym.Size, sym.CRCA, sym.CRCB)
		total += int64(n)
		if err != nil {
			return total, err
		}
		byDirective := make(map[elfobj.RelType][]SigReloc)
		var order []elfobj.RelType
		for _, r := range sym.Relocs {
			if _, ok := byDirective[r.Type]; !ok {
				order = append(order, r.Type)
			}
			byDirective[r.Type] = append(byDirective[r.Type], r)
		}
		for _, t := range order {
			group := byDirective[t]
			// A relocation group may still reference more than one
			// target symbol name; emit one directive line per name.
			byName := map[string][]uint32{}
			var nameOrder []string
			for _, r := range group {
				if _, ok := byName[r.SymbolName]; !ok {
					nameOrder = append(nameOrder, r.SymbolName)
				}
				byName[r.SymbolName] = append(byName[r.SymbolName], r.Offset)
			}
			for _, name := range nameOrder {
				n, err = fmt.Fprintf(w, " %s %s", directiveName(t), name)
				total += int64(n)
				if err != nil {
					return total, err
				}
				for _, off := range byName[name] {
					n, err = fmt.Fprintf(w, " %#x", off)
					total += int64(n)
					if err != nil {
						return total, err
					}
				}
				n, err = io.WriteString(w, "\n")
				total += int64(n)
				if err != nil {
					return total, err
				}
			}
		}
	}
	return total, nil
}

func directiveName(t elfobj.RelType) string {
	switch t {
	case elfobj.R_MIPS_26:
		return ".targ26"
	case elfobj.R_MIPS_HI16:
		return ".hi16"
	case elfobj.R_MIPS_LO16:
		return ".lo16"
	default:
		return fmt.Sprintf(".%s", t)
	}
}
