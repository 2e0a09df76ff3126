// Package cmt implements the Cached Mapping Table of spec.md §4.5: a
// bounded lpn->ppn cache with SLRU recency, a row-level state machine, and
// per-m_vpn locking around fill and write-back.
package cmt

import (
	"fmt"

	"github.com/zhukovaskychina/dftlsim/ftl"
)

// Row is one resident or free slot of the cache, spec.md §4.5. RowID is
// fixed at construction; Lpn/Ppn/Dirty are meaningful only while State is
// one of {FREE_AND_LOCKED, USED, USED_AND_HOLD}.
type Row struct {
	RowID uint64
	Lpn   ftl.LPN
	Ppn   ftl.PPN
	Dirty bool
	State ftl.RowState
}

// legalNext is the adjacency of the RowState graph in spec.md §4.5.
var legalNext = map[ftl.RowState][]ftl.RowState{
	ftl.RowFree:       {ftl.RowFreeLocked},
	ftl.RowFreeLocked: {ftl.RowFree, ftl.RowUsed},
	ftl.RowUsed:       {ftl.RowFreeLocked, ftl.RowUsedLocked, ftl.RowUsedHold},
	ftl.RowUsedLocked: {ftl.RowUsed},
	ftl.RowUsedHold:   {ftl.RowUsed},
}

// transition moves row to target, or returns ErrInvariantViolation if the
// edge does not exist in the graph.
func transition(row *Row, target ftl.RowState) error {
	for _, s := range legalNext[row.State] {
		if s == target {
			row.State = target
			return nil
		}
	}
	return ftl.Wrap("cmt.transition", fmt.Errorf("%w: row %d cannot go %s -> %s", ftl.ErrInvariantViolation, row.RowID, row.State, target))
}
