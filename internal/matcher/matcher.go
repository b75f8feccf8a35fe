// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package matcher implements the Object Matcher (spec.md §4.5): an
// exhaustive, relocation-tolerant byte-compare of an ELF object's
// .text section against every 4-byte-aligned window of a target
// binary.
package matcher

import "github.com/aclements/n64sym/internal/elfobj"

// MinPartialMatch is the shortest partial-match prefix this package
// reports; shorter prefixes are treated as no match at all, per
// spec.md §4.5 and the end-to-end scenario in §8 ("Mismatch on
// zero-in-reloc-slot").
const MinPartialMatch = 32

// Result describes the outcome of matching one object's .text
// against a target binary.
type Result struct {
	// Full reports whether every byte (modulo relocation masking)
	// matched.
	Full bool
	// Address is the offset into the target binary .text was found
	// at. Only meaningful if Full or MatchedBytes >= MinPartialMatch.
	Address uint32
	// MatchedBytes is the length of the matched prefix: len(text) on
	// a full match, otherwise the longest partial-match prefix seen.
	MatchedBytes int
}

// Find locates the lowest 4-byte-aligned offset in bin at which text
// (relocation-masked per relocs) matches, per spec.md §4.5. If no full
// match exists, the best partial match of at least MinPartialMatch
// bytes is returned instead; if neither exists, Result.Full and
// Result.MatchedBytes are both zero/false.
//
// relocs must be sorted ascending by Offset (elfobj.Open guarantees
// this).
func Find(text []byte, relocs []elfobj.Reloc, bin []byte) Result {
	if len(text) == 0 || len(bin) < len(text) {
		return Result{}
	}

	var best Result
	end := len(bin) - len(text)
	for addr := 0; addr <= end; addr += 4 {
		window := bin[addr : addr+len(text)]
		full, matched := compare(text, relocs, window)
		if full {
			return Result{Full: true, Address: uint32(addr), MatchedBytes: len(text)}
		}
		if matched > best.MatchedBytes {
			best = Result{Address: uint32(addr), MatchedBytes: matched}
		}
	}
	if best.MatchedBytes < MinPartialMatch {
		return Result{}
	}
	return best
}

// compare implements the single-offset comparison of spec.md §4.5
// steps 1-3. It returns whether the whole window matched, and (on a
// mismatch) the length of the matched prefix. Without relocations the
// compare is verbatim and a mismatch always reports a prefix of 0.
func compare(text []byte, relocs []elfobj.Reloc, window []byte) (full bool, matchedLen int) {
	if len(relocs) == 0 {
		// Step 1: no .rel.text, so a verbatim compare suffices.
		if string(text) == string(window) {
			return true, len(text)
		}
		return false, 0
	}

	r := 0
	for i := 0; i+4 <= len(text); i += 4 {
		for r < len(relocs) && relocs[r].Offset < uint32(i) {
			// Relocations before the current word (e.g. duplicate
			// or out-of-range entries) never apply; skip them.
			r++
		}

		if r < len(relocs) && relocs[r].Offset == uint32(i) {
			wordBin := window[i : i+4]
			if isZero(wordBin) {
				// A relocated slot can never be NOP in a real
				// image; this eliminates false positives against
				// zeroed regions.
				return false, i
			}
			// Only the fixed opcode field (high 6 bits, i.e. the
			// top byte masked to 0xFC) is required to match.
			if (text[i] & 0xFC) != (wordBin[0] & 0xFC) {
				return false, i
			}
			r++
			continue
		}

		if string(text[i:i+4]) != string(window[i:i+4]) {
			return false, i
		}
	}
	return true, len(text)
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
