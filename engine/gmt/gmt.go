// Package gmt is the simulated backing store for the full lpn->ppn table
// (the GMT), spec.md §4.3. It is updated in memory whenever the simulated
// flash write of a translation page completes.
package gmt

import (
	"sync"

	"github.com/zhukovaskychina/dftlsim/ftl"
)

// Table is the lpn -> ppn table; absence means Uninitiated. It is
// intentionally a plain Go map rather than a slice: most lpns in a
// realistically-sized simulation are still Uninitiated at any given time,
// and a map keeps memory proportional to pages actually written. The
// facade's parallel sub-extent fan-out (spec.md §4.9) means concurrent
// lookups and updates both happen, so entries is guarded by mu.
type Table struct {
	mu      sync.RWMutex
	entries map[ftl.LPN]ftl.PPN
}

// New returns an empty GMT; every lpn answers Uninitiated until written.
func New() *Table {
	return &Table{entries: make(map[ftl.LPN]ftl.PPN)}
}

// Lookup always answers: Uninitiated is a normal, non-error result meaning
// "no data block has been written for this lpn yet."
func (t *Table) Lookup(lpn ftl.LPN) ftl.PPN {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.entries[lpn]; ok {
		return p
	}
	return ftl.PPN(ftl.Uninitiated)
}

// Update records a single lpn -> ppn mapping.
func (t *Table) Update(lpn ftl.LPN, ppn ftl.PPN) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[lpn] = ppn
}

// UpdateBatch applies a set of mappings in iteration order of m, as one
// simulated translation-page write commits them all at once.
func (t *Table) UpdateBatch(m map[ftl.LPN]ftl.PPN) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for lpn, ppn := range m {
		t.entries[lpn] = ppn
	}
}
