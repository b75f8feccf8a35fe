// Package crc32x wraps stdlib hash/crc32 in the three-call contract
// spec.md §4.3 requires: begin/update/finalize over an explicit running
// state, rather than hash.Hash's io.Writer interface. The signature
// reader needs this because it interleaves verbatim and
// relocation-stripped byte runs into the same running CRC, which is
// awkward to express as a single io.Writer call.
package crc32x

import "hash/crc32"

// State is a running IEEE CRC-32 computation.
type State uint32

// Begin returns the initial state for a new CRC-32 computation.
func Begin() State {
	return State(0xFFFFFFFF)
}

// Update feeds more bytes into s and returns the new state.
func Update(s State, p []byte) State {
	// crc32.Update takes and returns finalized values (it inverts on
	// entry and exit), while State is the raw running register.
	return State(^crc32.Update(^uint32(s), crc32.IEEETable, p))
}

// Finalize returns the completed CRC-32 value for s.
func Finalize(s State) uint32 {
	return uint32(s) ^ 0xFFFFFFFF
}

// Sum is a convenience wrapper computing the CRC-32 of a single byte
// slice in one call.
func Sum(p []byte) uint32 {
	return Finalize(Update(Begin(), p))
}
