// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package elftest builds minimal 32-bit big-endian MIPS ELF relocatable
// objects in memory, for tests that need an elfobj.File without a real
// compiler toolchain on hand.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// Sym describes one symtab entry to synthesize. Section 1 is always
// .text; 0 (elf.SHN_UNDEF) means undefined.
type Sym struct {
	Name    string
	Value   uint32
	Size    uint32
	Bind    elf.SymBind
	Type    elf.SymType
	Section elf.SectionIndex
}

// Reloc describes one .rel.text entry to synthesize. Sym is the 1-based
// index into the symbols passed to Build (0 is the reserved null
// symbol, so the first entry in Syms is symbol index 1).
type Reloc struct {
	Offset uint32
	Type   uint32
	Sym    int
}

// Object is the raw material for Build.
type Object struct {
	Text   []byte
	Syms   []Sym
	Relocs []Reloc
}

// Build encodes obj as a minimal ELF32 MIPS-III big-endian relocatable
// object file, suitable for elfobj.Open.
func Build(obj Object) []byte {
	be := binary.BigEndian

	var shstrtab bytes.Buffer
	shstrtab.WriteByte(0)
	nameOff := func(buf *bytes.Buffer, s string) uint32 {
		off := uint32(buf.Len())
		buf.WriteString(s)
		buf.WriteByte(0)
		return off
	}
	textNameOff := nameOff(&shstrtab, ".text")
	var relNameOff uint32
	if len(obj.Relocs) > 0 {
		relNameOff = nameOff(&shstrtab, ".rel.text")
	}
	symtabNameOff := nameOff(&shstrtab, ".symtab")
	strtabNameOff := nameOff(&shstrtab, ".strtab")
	shstrtabNameOff := nameOff(&shstrtab, ".shstrtab")

	var strtab bytes.Buffer
	strtab.WriteByte(0)
	symNameOffs := make([]uint32, len(obj.Syms))
	for i, s := range obj.Syms {
		symNameOffs[i] = nameOff(&strtab, s.Name)
	}

	var symtab bytes.Buffer
	symtab.Write(make([]byte, 16)) // null symbol
	for i, s := range obj.Syms {
		var rec [16]byte
		be.PutUint32(rec[0:], symNameOffs[i])
		be.PutUint32(rec[4:], s.Value)
		be.PutUint32(rec[8:], s.Size)
		rec[12] = byte(s.Bind)<<4 | byte(s.Type)
		rec[13] = 0
		be.PutUint16(rec[14:], uint16(s.Section))
		symtab.Write(rec[:])
	}

	var reltab bytes.Buffer
	for _, r := range obj.Relocs {
		var rec [8]byte
		be.PutUint32(rec[0:], r.Offset)
		be.PutUint32(rec[4:], uint32(r.Sym)<<8|(r.Type&0xFF))
		reltab.Write(rec[:])
	}

	type section struct {
		name      uint32
		shType    uint32
		flags     uint32
		link      uint32
		info      uint32
		entsize   uint32
		data      []byte
	}
	secs := []section{
		{}, // SHN_UNDEF
		{name: textNameOff, shType: uint32(elf.SHT_PROGBITS), flags: uint32(elf.SHF_ALLOC | elf.SHF_EXECINSTR), data: obj.Text},
	}
	textIdx := 1
	relIdx := -1
	if len(obj.Relocs) > 0 {
		relIdx = len(secs)
		secs = append(secs, section{name: relNameOff, shType: uint32(elf.SHT_REL), entsize: 8, data: reltab.Bytes()})
	}
	symtabIdx := len(secs)
	secs = append(secs, section{name: symtabNameOff, shType: uint32(elf.SHT_SYMTAB), entsize: 16, data: symtab.Bytes()})
	strtabIdx := len(secs)
	secs = append(secs, section{name: strtabNameOff, shType: uint32(elf.SHT_STRTAB), data: strtab.Bytes()})
	shstrtabIdx := len(secs)
	secs = append(secs, section{name: shstrtabNameOff, shType: uint32(elf.SHT_STRTAB), data: shstrtab.Bytes()})

	secs[symtabIdx].link = uint32(strtabIdx)
	secs[symtabIdx].info = 1
	if relIdx >= 0 {
		secs[relIdx].link = uint32(symtabIdx)
		secs[relIdx].info = uint32(textIdx)
	}

	const ehsize = 52
	const shentsize = 40

	offsets := make([]uint32, len(secs))
	cur := uint32(ehsize)
	for i, s := range secs {
		if i == 0 {
			continue
		}
		offsets[i] = cur
		cur += uint32(len(s.data))
	}
	shoff := cur

	var out bytes.Buffer
	ident := [16]byte{0x7f, 'E', 'L', 'F', 1, 2, 1, 0}
	out.Write(ident[:])
	var hdr [36]byte
	be.PutUint16(hdr[0:], uint16(elf.ET_REL))
	be.PutUint16(hdr[2:], uint16(elf.EM_MIPS))
	be.PutUint32(hdr[4:], 1) // e_version
	be.PutUint32(hdr[8:], 0) // e_entry
	be.PutUint32(hdr[12:], 0) // e_phoff
	be.PutUint32(hdr[16:], shoff)
	be.PutUint32(hdr[20:], 0) // e_flags
	be.PutUint16(hdr[24:], ehsize)
	be.PutUint16(hdr[26:], 0) // e_phentsize
	be.PutUint16(hdr[28:], 0) // e_phnum
	be.PutUint16(hdr[30:], shentsize)
	be.PutUint16(hdr[32:], uint16(len(secs)))
	be.PutUint16(hdr[34:], uint16(shstrtabIdx))
	out.Write(hdr[:])

	for i, s := range secs {
		if i != 0 {
			out.Write(s.data)
		}
	}

	for i, s := range secs {
		var rec [shentsize]byte
		be.PutUint32(rec[0:], s.name)
		be.PutUint32(rec[4:], s.shType)
		be.PutUint32(rec[8:], s.flags)
		be.PutUint32(rec[12:], 0) // sh_addr
		be.PutUint32(rec[16:], offsets[i])
		be.PutUint32(rec[20:], uint32(len(s.data)))
		be.PutUint32(rec[24:], s.link)
		be.PutUint32(rec[28:], s.info)
		be.PutUint32(rec[32:], 1) // sh_addralign
		be.PutUint32(rec[36:], s.entsize)
		out.Write(rec[:])
	}

	return out.Bytes()
}
