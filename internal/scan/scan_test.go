// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scan

import (
	"testing"

	"github.com/aclements/n64sym/internal/aggregator"
	"github.com/aclements/n64sym/internal/crc32x"
	"github.com/aclements/n64sym/internal/sigfile"
)

func TestSeedCandidatesFindsPostJrRA(t *testing.T) {
	bin := make([]byte, 32)
	// jr $ra at offset 8, followed by a non-zero word at offset 16.
	bin[8], bin[9], bin[10], bin[11] = 0x03, 0xE0, 0x00, 0x08
	bin[16], bin[17], bin[18], bin[19] = 0x27, 0xBD, 0xFF, 0xE0

	got := SeedCandidates(bin)
	if !contains(got, 16) {
		t.Errorf("SeedCandidates(%v) = %v, want it to contain 16", bin, got)
	}
}

func TestSeedCandidatesIgnoresZeroAfterJrRA(t *testing.T) {
	bin := make([]byte, 16)
	bin[0], bin[1], bin[2], bin[3] = 0x03, 0xE0, 0x00, 0x08
	// bin[8:12] stays all zero (padding): must not be seeded.
	got := SeedCandidates(bin)
	if contains(got, 8) {
		t.Errorf("SeedCandidates seeded a zero word following jr $ra: %v", got)
	}
}

func TestSeedCandidatesFindsAddiuSPNegative(t *testing.T) {
	bin := make([]byte, 8)
	bin[0], bin[1], bin[2], bin[3] = 0x27, 0xBD, 0xFF, 0xE0 // addiu sp, sp, -32
	got := SeedCandidates(bin)
	if !contains(got, 0) {
		t.Errorf("SeedCandidates(%v) = %v, want it to contain 0", bin, got)
	}
}

func TestSeedCandidatesIgnoresPositiveAddiuSP(t *testing.T) {
	bin := make([]byte, 8)
	bin[0], bin[1], bin[2], bin[3] = 0x27, 0xBD, 0x00, 0x20 // addiu sp, sp, +32
	got := SeedCandidates(bin)
	if contains(got, 0) {
		t.Errorf("SeedCandidates seeded a positive-immediate addiu sp: %v", got)
	}
}

func TestSeedCandidatesDeduplicates(t *testing.T) {
	// jr $ra at offset 0, immediately followed by an addiu $sp,$sp,-n
	// at offset 8: both heuristics fire for the same offset, and it
	// must only appear once in the result.
	bin := make([]byte, 16)
	bin[0], bin[1], bin[2], bin[3] = 0x03, 0xE0, 0x00, 0x08
	bin[8], bin[9], bin[10], bin[11] = 0x27, 0xBD, 0xFF, 0xE0

	got := SeedCandidates(bin)
	seen := map[uint32]int{}
	for _, off := range got {
		seen[off]++
	}
	if seen[8] != 1 {
		t.Errorf("offset 8 seeded %d times, want 1 (got %v)", seen[8], got)
	}
}

func contains(s []uint32, v uint32) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func signatureFor(name string, data []byte) sigfile.Symbol {
	state := crc32x.Begin()
	l := len(data)
	if l > 8 {
		l = 8
	}
	state = crc32x.Update(state, data[:l])
	crcA := crc32x.Finalize(state)
	state = crc32x.Begin()
	state = crc32x.Update(state, data)
	crcB := crc32x.Finalize(state)
	return sigfile.Symbol{Name: name, Size: uint32(len(data)), CRCA: crcA, CRCB: crcB}
}

func TestScanSignatureFileFindsCandidateHit(t *testing.T) {
	fn := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	bin := make([]byte, 0x4000+64)
	copy(bin[0x4000:], fn)

	sf := &sigfile.File{Symbols: []sigfile.Symbol{signatureFor("memcpy", fn)}}
	agg := aggregator.New()
	ScanSignatureFile(sf, bin, 0x80000000, []uint32{0x4000}, false, agg)

	results := agg.Results()
	if len(results) != 1 {
		t.Fatalf("Results = %+v, want 1", results)
	}
	if results[0].Address != 0x80004000 || results[0].Name != "memcpy" {
		t.Errorf("results[0] = %+v, want {0x80004000 memcpy}", results[0])
	}
}

func TestScanSignatureFileThoroughFallback(t *testing.T) {
	fn := []byte{9, 8, 7, 6}
	bin := make([]byte, 32)
	copy(bin[20:], fn)

	sf := &sigfile.File{Symbols: []sigfile.Symbol{signatureFor("helper", fn)}}
	agg := aggregator.New()

	// No candidate offsets match; thorough mode must still find it by
	// exhaustive scan.
	ScanSignatureFile(sf, bin, 0x80000000, nil, true, agg)

	results := agg.Results()
	if len(results) != 1 || results[0].Address != 0x80000014 {
		t.Fatalf("Results = %+v, want a hit at 0x80000014", results)
	}
}

func TestScanSignatureFileNonThoroughMisses(t *testing.T) {
	fn := []byte{9, 8, 7, 6}
	bin := make([]byte, 32)
	copy(bin[20:], fn)

	sf := &sigfile.File{Symbols: []sigfile.Symbol{signatureFor("helper", fn)}}
	agg := aggregator.New()
	ScanSignatureFile(sf, bin, 0x80000000, nil, false, agg)

	if agg.Len() != 0 {
		t.Fatalf("Results = %+v, want none (thorough disabled, no candidates hit)", agg.Results())
	}
}
