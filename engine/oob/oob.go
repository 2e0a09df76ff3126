package oob

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhukovaskychina/dftlsim/ftl"
)

// OOB is the out-of-band metadata store of spec.md §4.1: per-ppn reverse
// map and write timestamp, per-block last-invalidation time, backed by the
// page-state Bitmap. The facade fans sub-extents of one extent out across
// goroutines (spec.md §4.9), so every map access here goes through mu
// rather than assuming a single caller.
type OOB struct {
	Bitmap *Bitmap

	mu          sync.Mutex
	ppnToLpn    map[ftl.PPN]uint64
	timestamp   map[ftl.PPN]uint64
	lastInvTime map[ftl.BlockID]time.Time

	clock uint64 // monotonic write-timestamp source
}

// New builds an OOB store over a freshly-erased device of totalPages pages.
func New(totalPages, pagesPerBlock uint64) *OOB {
	return &OOB{
		Bitmap:      NewBitmap(totalPages, pagesPerBlock),
		ppnToLpn:    make(map[ftl.PPN]uint64),
		timestamp:   make(map[ftl.PPN]uint64),
		lastInvTime: make(map[ftl.BlockID]time.Time),
	}
}

// Lookup returns the lpn or m_vpn reverse-mapped from ppn, if any.
func (o *OOB) Lookup(ppn ftl.PPN) (uint64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.ppnToLpn[ppn]
	return v, ok
}

// Timestamp returns the write timestamp recorded for ppn, if any.
func (o *OOB) Timestamp(ppn ftl.PPN) (uint64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.timestamp[ppn]
	return v, ok
}

// LastInvTime returns the wall-clock time of the most recent invalidation
// in block, if any page of it has ever been invalidated since its last
// erase.
func (o *OOB) LastInvTime(block ftl.BlockID) (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.lastInvTime[block]
	return v, ok
}

func (o *OOB) nextTimestamp() uint64 {
	return atomic.AddUint64(&o.clock, 1)
}

// RelocatePage validates newPpn, records the reverse map and timestamp
// (copied from oldPpn when present, else freshly minted), and if oldPpn is
// present invalidates it and stamps its block's last-invalidation time.
// entity is the lpn or m_vpn this page carries.
func (o *OOB) RelocatePage(entity uint64, oldPpn ftl.PPN, hasOld bool, newPpn ftl.PPN, now time.Time) error {
	if err := o.Bitmap.Validate(newPpn); err != nil {
		return err
	}

	o.mu.Lock()
	o.ppnToLpn[newPpn] = entity

	var ts uint64
	if hasOld {
		if v, ok := o.timestamp[oldPpn]; ok {
			ts = v
		} else {
			ts = o.nextTimestamp()
		}
	} else {
		ts = o.nextTimestamp()
	}
	o.timestamp[newPpn] = ts
	o.mu.Unlock()

	if hasOld {
		if err := o.Bitmap.Invalidate(oldPpn); err != nil {
			return err
		}
		o.mu.Lock()
		o.lastInvTime[o.Bitmap.BlockOf(oldPpn)] = now
		o.mu.Unlock()
	}
	return nil
}

// ReserveTransPage validates mppn and records its reverse map as mvpn with
// a fresh timestamp, used only at mount time when the directory reserves
// its initial translation pages (there is no old page to invalidate or
// copy a timestamp from).
func (o *OOB) ReserveTransPage(mvpn uint64, mppn ftl.PPN) error {
	if err := o.Bitmap.Validate(mppn); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ppnToLpn[mppn] = mvpn
	o.timestamp[mppn] = o.nextTimestamp()
	return nil
}

// InvalidateOnly invalidates ppn without relocating it anywhere (used by
// discard_ext, which drops a mapping with no replacement page).
func (o *OOB) InvalidateOnly(ppn ftl.PPN, now time.Time) error {
	if err := o.Bitmap.Invalidate(ppn); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastInvTime[o.Bitmap.BlockOf(ppn)] = now
	return nil
}

// EraseBlock resets the block's pages to ERASED and drops every OOB entry
// that named one of them.
func (o *OOB) EraseBlock(block ftl.BlockID) {
	o.Bitmap.EraseBlock(block)
	o.mu.Lock()
	defer o.mu.Unlock()
	first := uint64(block) * o.Bitmap.pagesPerBlock
	for p := first; p < first+o.Bitmap.pagesPerBlock; p++ {
		delete(o.ppnToLpn, ftl.PPN(p))
		delete(o.timestamp, ftl.PPN(p))
	}
	delete(o.lastInvTime, block)
}
