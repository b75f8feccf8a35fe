// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package matcher

import (
	"testing"

	"github.com/aclements/n64sym/internal/elfobj"
)

func TestFindExactMatchNoRelocs(t *testing.T) {
	text := []byte{0x27, 0xBD, 0xFF, 0xE0, 0x03, 0xE0, 0x00, 0x08}
	bin := make([]byte, 64)
	copy(bin[16:], text)

	res := Find(text, nil, bin)
	if !res.Full {
		t.Fatalf("Find() = %+v, want Full", res)
	}
	if res.Address != 16 {
		t.Errorf("Address = %d, want 16", res.Address)
	}
	if res.MatchedBytes != len(text) {
		t.Errorf("MatchedBytes = %d, want %d", res.MatchedBytes, len(text))
	}
}

func TestFindRelocatedMatch(t *testing.T) {
	// A 4-word function whose second word is a jal (R_MIPS_26) target
	// the linker has filled in differently than the object's own
	// placeholder encoding; the match must still succeed because only
	// the fixed opcode bits are compared at that word.
	text := []byte{
		0x27, 0xBD, 0xFF, 0xE0, // addiu $sp, $sp, -32
		0x0C, 0x00, 0x10, 0x00, // jal <placeholder target>
		0x00, 0x00, 0x00, 0x00, // nop
		0x03, 0xE0, 0x00, 0x08, // jr $ra
	}
	bin := make([]byte, 32)
	copy(bin, text)
	// The linker resolved the jal to a different target address; only
	// the opcode's high 6 bits (0x0C) need to agree.
	bin[4], bin[5], bin[6], bin[7] = 0x0C, 0x00, 0x20, 0x04

	relocs := []elfobj.Reloc{{Offset: 4, Type: elfobj.R_MIPS_26, Symbol: 1}}

	res := Find(text, relocs, bin)
	if !res.Full {
		t.Fatalf("Find() = %+v, want Full", res)
	}
	if res.Address != 0 {
		t.Errorf("Address = %d, want 0", res.Address)
	}
}

func TestFindRejectsZeroInRelocSlot(t *testing.T) {
	text := []byte{
		0x27, 0xBD, 0xFF, 0xE0,
		0x0C, 0x00, 0x10, 0x00, // jal, relocated
		0x00, 0x00, 0x00, 0x00,
		0x03, 0xE0, 0x00, 0x08,
	}
	bin := make([]byte, 32)
	copy(bin, text)
	// The candidate window has an all-zero word where a relocation
	// applies: that can never be a real linked jal, so it must be
	// rejected outright rather than reported as a short partial match.
	bin[4], bin[5], bin[6], bin[7] = 0, 0, 0, 0

	relocs := []elfobj.Reloc{{Offset: 4, Type: elfobj.R_MIPS_26, Symbol: 1}}

	res := Find(text, relocs, bin)
	if res.Full {
		t.Fatalf("Find() = %+v, want no match", res)
	}
	if res.MatchedBytes != 0 {
		t.Errorf("MatchedBytes = %d, want 0 (rejected, not reported as partial)", res.MatchedBytes)
	}
}

func TestFindNoMatch(t *testing.T) {
	text := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	bin := []byte{8, 7, 6, 5, 4, 3, 2, 1}
	res := Find(text, nil, bin)
	if res.Full || res.MatchedBytes != 0 {
		t.Fatalf("Find() = %+v, want no match", res)
	}
}

func TestFindEmptyTextNoMatch(t *testing.T) {
	res := Find(nil, nil, make([]byte, 16))
	if res.Full || res.MatchedBytes != 0 {
		t.Fatalf("Find(nil, ...) = %+v, want zero Result", res)
	}
}

func TestFindTargetSmallerThanText(t *testing.T) {
	res := Find(make([]byte, 16), nil, make([]byte, 8))
	if res.Full || res.MatchedBytes != 0 {
		t.Fatalf("Find() = %+v, want zero Result", res)
	}
}

func TestFindPartialMatchBelowThresholdIsDropped(t *testing.T) {
	text := make([]byte, MinPartialMatch-4)
	for i := range text {
		text[i] = byte(i + 1)
	}
	bin := make([]byte, len(text))
	copy(bin, text)
	// Corrupt the last word so the match is partial, short of
	// MinPartialMatch. A relocation makes the compare word-by-word;
	// without one it is verbatim and never partial.
	bin[len(bin)-1] = ^bin[len(bin)-1]
	relocs := []elfobj.Reloc{{Offset: 0, Type: elfobj.R_MIPS_26, Symbol: 1}}

	res := Find(text, relocs, bin)
	if res.Full || res.MatchedBytes != 0 {
		t.Fatalf("Find() = %+v, want dropped (below MinPartialMatch)", res)
	}
}

func TestFindPartialMatchAtOrAboveThresholdIsReported(t *testing.T) {
	text := make([]byte, MinPartialMatch+8)
	for i := range text {
		text[i] = byte(i + 1)
	}
	bin := make([]byte, len(text))
	copy(bin, text)
	bin[len(bin)-1] = ^bin[len(bin)-1]
	// A relocation makes the compare word-by-word, so a partial
	// prefix can be reported.
	relocs := []elfobj.Reloc{{Offset: 0, Type: elfobj.R_MIPS_26, Symbol: 1}}

	res := Find(text, relocs, bin)
	if res.Full {
		t.Fatalf("Find() = %+v, want partial, not full", res)
	}
	if res.MatchedBytes != len(text)-4 {
		t.Errorf("MatchedBytes = %d, want %d", res.MatchedBytes, len(text)-4)
	}
}
