// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package aggregator collects SearchResults from many concurrent
// matcher/harvester tasks, deduplicating by address and producing a
// deterministic address-ascending order once scanning finishes.
package aggregator

import (
	"sort"
	"sync"
)

// ResultKind distinguishes how a SearchResult was identified.
type ResultKind byte

const (
	// KindFunction is a global function symbol recovered from a
	// matched object's .symtab.
	KindFunction ResultKind = 'T'
	// KindCall is a jal call target recovered from an R_MIPS_26
	// relocation inside a matched object's .text.
	KindCall ResultKind = 'C'
)

// Result is a single identified symbol: an absolute virtual address,
// a name, and the kind of evidence that produced it.
type Result struct {
	Address uint32
	Name    string
	Kind    ResultKind
}

// Aggregator deduplicates Results by Address under a single mutex, so
// many worker-pool tasks can add results concurrently. See spec.md
// §4.7 and §5 ("Result Aggregator... guarded by the single mutex").
type Aggregator struct {
	mu      sync.Mutex
	byAddr  map[uint32]int
	results []Result
}

// New creates an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{byAddr: make(map[uint32]int)}
}

// Add inserts r if it is not a duplicate. Address 0 is always
// rejected. A Result whose Address already exists is silently
// dropped (not an error, per spec.md §7).
//
// Add is safe for concurrent use.
func (a *Aggregator) Add(r Result) bool {
	if r.Address == 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, dup := a.byAddr[r.Address]; dup {
		return false
	}
	a.byAddr[r.Address] = len(a.results)
	a.results = append(a.results, r)
	return true
}

// Len returns the number of results currently held.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

// Results returns every result collected so far, sorted ascending by
// Address. The caller must not call Add concurrently with Results;
// callers typically call Results only after the worker pool has
// joined.
func (a *Aggregator) Results() []Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Result, len(a.results))
	copy(out, a.results)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address < out[j].Address
	})
	return out
}
