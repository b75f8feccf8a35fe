// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scan implements the Scan Driver (spec.md §4.10): it seeds
// likely function-start offsets with a cheap opcode heuristic, then
// drives the Object Matcher and the signature-file reader across
// inputs, coordinating the worker pool.
package scan

import (
	"encoding/binary"
	"fmt"
	"log"
	"sort"

	"github.com/aclements/n64sym/internal/aggregator"
	"github.com/aclements/n64sym/internal/arutil"
	"github.com/aclements/n64sym/internal/elfobj"
	"github.com/aclements/n64sym/internal/harvester"
	"github.com/aclements/n64sym/internal/matcher"
	"github.com/aclements/n64sym/internal/sigfile"
	"github.com/aclements/n64sym/internal/workerpool"
)

const (
	opJrRA      = 0x03E00008
	opAddiuSPHi = 0x27BD0000
)

// SeedCandidates scans bin once and returns ascending, deduplicated
// offsets that look like function starts, per spec.md §4.10:
//
//   - the word after a `jr $ra` (when non-zero) -- the usual spot a
//     compiler places the next function's prologue, and
//   - any `addiu $sp, $sp, -n` (stack frame setup).
func SeedCandidates(bin []byte) []uint32 {
	var out []uint32
	seen := make(map[uint32]bool)
	add := func(off uint32) {
		if !seen[off] {
			seen[off] = true
			out = append(out, off)
		}
	}

	for i := 0; i+4 <= len(bin); i += 4 {
		word := binary.BigEndian.Uint32(bin[i:])
		if word == opJrRA && i+12 <= len(bin) {
			next := binary.BigEndian.Uint32(bin[i+8:])
			if next != 0 {
				add(uint32(i + 8))
			}
		}
		if word&0xFFFF0000 == opAddiuSPHi {
			imm := int16(word & 0xFFFF)
			if imm < 0 {
				add(uint32(i))
			}
		}
	}

	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// ScanSignatureFile tests every symbol in sf against bin, first at
// the candidate offsets, falling back to an exhaustive 4-byte-aligned
// scan when thorough is set and no candidate matched, per spec.md
// §4.10. Matches are added to agg with an absolute address of
// headerSize+offset.
func ScanSignatureFile(sf *sigfile.File, bin []byte, headerSize uint32, candidates []uint32, thorough bool, agg *aggregator.Aggregator) {
	for _, sym := range sf.Symbols {
		if found := testCandidates(sym, bin, candidates); found != nil {
			addSigResult(agg, headerSize, sym, found)
			continue
		}
		if !thorough {
			continue
		}
		if uint32(len(bin)) < sym.Size {
			continue
		}
		for off := uint32(0); off <= uint32(len(bin))-sym.Size; off += 4 {
			if sym.Test(bin[off:]) {
				addSigResult(agg, headerSize, sym, &off)
				break
			}
		}
	}
}

func addSigResult(agg *aggregator.Aggregator, headerSize uint32, sym sigfile.Symbol, off *uint32) {
	agg.Add(aggregator.Result{
		Address: headerSize + *off,
		Name:    sym.Name,
		Kind:    aggregator.KindFunction,
	})
}

// testCandidates tests sym against bin only at the given candidate
// offsets, in order, returning the first match.
func testCandidates(sym sigfile.Symbol, bin []byte, candidates []uint32) *uint32 {
	for _, off := range candidates {
		if uint64(off)+uint64(sym.Size) > uint64(len(bin)) {
			continue
		}
		if sym.Test(bin[off:]) {
			o := off
			return &o
		}
	}
	return nil
}

// ArchiveScanner drives the Object Matcher over every member of one
// or more ar archives, one worker-pool task per member.
type ArchiveScanner struct {
	Bin        []byte
	HeaderSize uint32
	Pool       *workerpool.Pool
	Agg        *aggregator.Aggregator
	Logger     *log.Logger // may be nil to discard diagnostics
}

func (s *ArchiveScanner) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// ScanArchive parses arData as an ar archive and submits one task per
// member to s.Pool. It does not call Pool.Join; the caller must do
// that once every archive/object has been submitted, keeping arData
// alive until then (members borrow from it).
func (s *ArchiveScanner) ScanArchive(archiveName string, arData []byte) error {
	r, err := arutil.NewReader(arData)
	if err != nil {
		return fmt.Errorf("scan: %s: %w", archiveName, err)
	}
	for {
		member, ok, err := r.Next()
		if err != nil {
			s.logf("# %s: %v", archiveName, err)
			return nil
		}
		if !ok {
			return nil
		}
		s.Pool.Submit(func() {
			s.scanObject(fmt.Sprintf("%s(%s)", archiveName, member.Identifier), member.Identifier, member.Data)
		})
	}
}

// ScanObject matches a single standalone ELF relocatable (not inside
// an archive) against the target binary, in the calling goroutine.
func (s *ArchiveScanner) ScanObject(name string, data []byte) {
	s.scanObject(name, name, data)
}

func (s *ArchiveScanner) scanObject(logName, objectPrefix string, data []byte) {
	f, err := elfobj.Open(data)
	if err != nil {
		s.logf("# %s: %v", logName, err)
		return
	}
	text := f.Text()
	if text == nil {
		return
	}

	res := matcher.Find(text, f.TextRelocs(), s.Bin)
	if !res.Full && res.MatchedBytes == 0 {
		return
	}

	s.Pool.Mutex.Lock()
	defer s.Pool.Mutex.Unlock()

	if res.Full {
		s.logf("# %s: complete match at %#08x", logName, s.HeaderSize+res.Address)
	} else {
		s.logf("# %s: partial match (%#x bytes) at %#08x", logName, res.MatchedBytes, s.HeaderSize+res.Address)
	}

	region := s.Bin[res.Address : int(res.Address)+res.MatchedBytes]
	harvester.Harvest(f, s.HeaderSize, res.Address, res.MatchedBytes, region, objectPrefix, s.Agg)
}
