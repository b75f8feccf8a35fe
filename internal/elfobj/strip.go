// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfobj

// StripOpcode canonicalises a 4-byte big-endian MIPS opcode so that
// the bits a linker would have written for the given relocation type
// are zeroed. This is the canonical form used for CRC computation
// (internal/sigfile). internal/matcher does not call it: at a
// relocated word it compares only the top 6 opcode bits.
//
// Only the relocation types this system understands are stripped; any
// other type is returned unchanged (callers that care should log a
// warning and drop the relocation, per spec.md §4.4/§7).
func StripOpcode(op [4]byte, t RelType) [4]byte {
	switch t {
	case R_MIPS_26:
		// Clear the low 26 bits: the 6-bit opcode field in byte 0
		// survives, the rest of the jump target is zeroed.
		op[0] &= 0xFC
		op[1] = 0
		op[2] = 0
		op[3] = 0
	case R_MIPS_HI16, R_MIPS_LO16:
		// Clear the low 16 bits (the immediate half the linker
		// fills in); the opcode and register fields in the top two
		// bytes survive.
		op[2] = 0
		op[3] = 0
	}
	return op
}

// IsStrippable reports whether t is one of the relocation types
// StripOpcode actually masks.
func IsStrippable(t RelType) bool {
	switch t {
	case R_MIPS_26, R_MIPS_HI16, R_MIPS_LO16:
		return true
	}
	return false
}
