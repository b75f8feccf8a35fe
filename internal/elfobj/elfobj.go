// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package elfobj provides a read-only view over 32-bit
// big-endian MIPS-III relocatable ELF object files, of the kind produced
// by an unlinked N64 compiler/linker toolchain.
//
// Only the sections this domain needs are consulted: .text, .rel.text,
// .symtab, .strtab and .shstrtab. General ELF support (other classes,
// byte orders, machines, section types) is out of scope.
package elfobj

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
)

// SymID uniquely identifies a symbol within an object file. It is the
// symbol's index in the underlying .symtab, the same number a
// relocation's r_info carries; index 0 is the reserved null symbol,
// so the first real symbol has SymID 1.
type SymID int

// Sym is a symbol entry, independent of the table that produced it.
type Sym struct {
	Name    string
	Value   uint32
	Size    uint32
	Info    byte // binding<<4 | type, as in Elf32_Sym.st_info
	Section elf.SectionIndex

	id SymID
}

// ID returns this symbol's index in its owning File's symbol table.
func (s Sym) ID() SymID { return s.id }

// Bind returns the symbol's binding (STB_*).
func (s Sym) Bind() elf.SymBind { return elf.ST_BIND(s.Info) }

// Type returns the symbol's type (STT_*).
func (s Sym) Type() elf.SymType { return elf.ST_TYPE(s.Info) }

// RelType identifies a MIPS relocation type. Only the types this domain
// resolves have named constants; anything else round-trips through the
// raw numeric type.
type RelType uint32

const (
	R_MIPS_NONE  RelType = 0
	R_MIPS_26    RelType = 4
	R_MIPS_HI16  RelType = 5
	R_MIPS_LO16  RelType = 6
)

func (t RelType) String() string {
	switch t {
	case R_MIPS_NONE:
		return "none"
	case R_MIPS_26:
		return "targ26"
	case R_MIPS_HI16:
		return "hi16"
	case R_MIPS_LO16:
		return "lo16"
	default:
		return fmt.Sprintf("R_MIPS_%d", uint32(t))
	}
}

// Reloc is a single decoded .rel.text entry.
type Reloc struct {
	// Offset is the byte offset into .text this relocation applies to.
	// Always a multiple of 4.
	Offset uint32
	// Type is the MIPS relocation type.
	Type RelType
	// Symbol is the target symbol of this relocation.
	Symbol SymID
}

// File is a parsed MIPS-III big-endian ELF relocatable object.
//
// A File keeps a reference to the byte slice it was opened from and
// reads DWARF from it on demand; the caller must keep that slice alive
// for the File's lifetime. The .text bytes, symbols and relocations are
// decoded into copies by Open; they are not views into that slice.
type File struct {
	elf  *elf.File
	syms []Sym

	text     *elf.Section
	textData []byte
	relocs   []Reloc // sorted by Offset
}

// ErrUnsupported is returned by Open when the input is not a 32-bit
// big-endian MIPS relocatable ELF object.
var ErrUnsupported = fmt.Errorf("not a 32-bit big-endian MIPS relocatable ELF object")

// Open parses an ELF relocatable object from raw bytes. The returned
// File keeps a reference to data.
func Open(data []byte) (*File, error) {
	ef, err := elf.NewFile(bytesReaderAt(data))
	if err != nil {
		return nil, fmt.Errorf("elfobj: %w", err)
	}
	if ef.Class != elf.ELFCLASS32 || ef.Data != elf.ELFDATA2MSB || ef.Machine != elf.EM_MIPS {
		return nil, ErrUnsupported
	}

	f := &File{elf: ef}

	esyms, err := ef.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, fmt.Errorf("elfobj: reading symbols: %w", err)
	}
	f.syms = make([]Sym, len(esyms))
	for i, es := range esyms {
		f.syms[i] = Sym{
			Name:    es.Name,
			Value:   uint32(es.Value),
			Size:    uint32(es.Size),
			Info:    byte(es.Info),
			Section: es.Section,
			id:      SymID(i + 1), // esyms omits the null symbol at index 0
		}
	}

	if sec := ef.Section(".text"); sec != nil {
		f.text = sec
		data, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("elfobj: reading .text: %w", err)
		}
		if len(data)%4 != 0 {
			return nil, fmt.Errorf("elfobj: .text size %d is not a multiple of 4", len(data))
		}
		f.textData = data

		if relSec := ef.Section(".rel.text"); relSec != nil {
			relocs, err := decodeRelText(ef, relSec)
			if err != nil {
				return nil, fmt.Errorf("elfobj: reading .rel.text: %w", err)
			}
			f.relocs = relocs
		}
	}

	return f, nil
}

// decodeRelText decodes an SHT_REL section of Elf32_Rel entries (8
// bytes each: r_offset, r_info) and sorts the result by offset, per
// spec.md §4.5 ("the reader MUST sort them on load if not").
func decodeRelText(ef *elf.File, sec *elf.Section) ([]Reloc, error) {
	data, err := sec.Data()
	if err != nil {
		return nil, err
	}
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("malformed .rel.text: size %d not a multiple of 8", len(data))
	}
	out := make([]Reloc, 0, len(data)/8)
	for off := 0; off+8 <= len(data); off += 8 {
		roffset := ef.ByteOrder.Uint32(data[off:])
		rinfo := ef.ByteOrder.Uint32(data[off+4:])
		// Per spec.md §4.2 / Design Note §9: mask the full low byte,
		// never just the low nibble, even though only small type
		// numbers are used in practice.
		symIndex := rinfo >> 8
		relType := rinfo & 0xFF
		out = append(out, Reloc{
			Offset: roffset,
			Type:   RelType(relType),
			Symbol: SymID(symIndex),
		})
	}
	sortRelocsByOffset(out)
	return out, nil
}

func sortRelocsByOffset(r []Reloc) {
	// Insertion sort is fine here: relocation lists are small (one
	// object's worth of .text) and typically already sorted.
	for i := 1; i < len(r); i++ {
		for j := i; j > 0 && r[j-1].Offset > r[j].Offset; j-- {
			r[j-1], r[j] = r[j], r[j-1]
		}
	}
}

// Text returns the object's .text section contents, or nil if it has
// none.
func (f *File) Text() []byte { return f.textData }

// TextRelocs returns the relocations applied to .text, sorted
// ascending by offset. Never nil.
func (f *File) TextRelocs() []Reloc {
	if f.relocs == nil {
		return []Reloc{}
	}
	return f.relocs
}

// Symbols returns every symbol in the object's .symtab, in table
// order.
func (f *File) Symbols() []Sym { return f.syms }

// Symbol looks up a symbol by its SymID.
func (f *File) Symbol(id SymID) (Sym, bool) {
	if id < 1 || int(id) > len(f.syms) {
		return Sym{}, false
	}
	return f.syms[id-1], true
}

// SectionName returns the name of the section at the given index, or
// "" if it is out of range.
func (f *File) SectionName(i elf.SectionIndex) string {
	if i < 0 || int(i) >= len(f.elf.Sections) {
		return ""
	}
	return f.elf.Sections[i].Name
}

// DWARF returns the object's DWARF debug info, if it carries any.
// Most objects in this domain are compiled without -g and DWARF is
// nil or an error; callers must treat that as "unavailable", not
// fatal.
func (f *File) DWARF() (*dwarf.Data, error) {
	return f.elf.DWARF()
}

// bytesReaderAt adapts a []byte to io.ReaderAt without copying.
type bytesReaderAt []byte

func (b bytesReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(b)) {
		return 0, fmt.Errorf("elfobj: offset %d out of range", off)
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, fmt.Errorf("elfobj: short read at offset %d", off)
	}
	return n, nil
}
