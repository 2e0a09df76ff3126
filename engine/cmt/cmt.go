package cmt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zhukovaskychina/dftlsim/engine/blockpool"
	"github.com/zhukovaskychina/dftlsim/engine/directory"
	"github.com/zhukovaskychina/dftlsim/engine/gmt"
	"github.com/zhukovaskychina/dftlsim/engine/oob"
	"github.com/zhukovaskychina/dftlsim/engine/vpnpool"
	"github.com/zhukovaskychina/dftlsim/ftl"
	"github.com/zhukovaskychina/dftlsim/recorder"
)

// splitRatio is the SLRU protected/probationary split of spec.md §4.5.
const splitRatio = 0.5

// MappingEntry is one lpn->ppn pair for UpdateBatch, carried as an ordered
// slice rather than a map because update_batch must apply entries in
// insertion order.
type MappingEntry struct {
	Lpn ftl.LPN
	Ppn ftl.PPN
}

// CMT is the Cached Mapping Table of spec.md §4.5. It owns the resident
// rows and the per-m_vpn token pool exclusively (spec.md §3 Ownership);
// every other collaborator is a non-owning reference it drives through
// their own public operations.
type CMT struct {
	mu sync.Mutex

	capacity            uint64
	entriesPerTransPage uint64

	rows     []*Row
	freeList []*Row
	lpnIndex map[ftl.LPN]*Row
	slru     *slru

	device    ftl.FlashDevice
	directory *directory.Directory
	gmtTable  *gmt.Table
	store     *oob.OOB
	pool      *blockpool.Pool
	vpnPool   *vpnpool.Pool
	rec       *recorder.Recorder
	now       func() time.Time
}

// New builds a CMT with capacity rows, all FREE. capacity must be at least
// entriesPerTransPage so a full translation page can be held resident
// during a fill (spec.md §4.5's capacity rule). now defaults to time.Now;
// tests may override it for deterministic OOB timestamps on write-back.
func New(capacity, entriesPerTransPage uint64, device ftl.FlashDevice, dir *directory.Directory, gmtTable *gmt.Table, store *oob.OOB, pool *blockpool.Pool, vpnPool *vpnpool.Pool, rec *recorder.Recorder, now func() time.Time) (*CMT, error) {
	if capacity < entriesPerTransPage {
		return nil, ftl.Wrap("cmt.New", fmt.Errorf("%w: capacity %d below entries_per_trans_page %d", ftl.ErrInsufficientSpare, capacity, entriesPerTransPage))
	}
	if now == nil {
		now = time.Now
	}
	c := &CMT{
		capacity:            capacity,
		entriesPerTransPage: entriesPerTransPage,
		lpnIndex:            make(map[ftl.LPN]*Row),
		slru:                newSLRU(capacity, splitRatio),
		device:              device,
		directory:           dir,
		gmtTable:            gmtTable,
		store:               store,
		pool:                pool,
		vpnPool:             vpnPool,
		rec:                 rec,
		now:                 now,
	}
	c.rows = make([]*Row, capacity)
	for i := range c.rows {
		c.rows[i] = &Row{RowID: uint64(i), State: ftl.RowFree}
		c.freeList = append(c.freeList, c.rows[i])
	}
	return c, nil
}

// Len reports the number of currently-resident (non-FREE) rows.
func (c *CMT) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lpnIndex)
}

func (c *CMT) mvpnOf(lpn ftl.LPN) ftl.MVPN { return ftl.MVPN(uint64(lpn) / c.entriesPerTransPage) }

// Lookup resolves lpn to its ppn, filling the cache from flash on a miss.
// It may suspend on the lpn's m_vpn token and on simulated flash I/O.
func (c *CMT) Lookup(ctx context.Context, lpn ftl.LPN) (ftl.PPN, error) {
	c.mu.Lock()
	if row, ok := c.lpnIndex[lpn]; ok {
		c.slru.touch(row)
		ppn := row.Ppn
		c.mu.Unlock()
		c.rec.ObserveCacheHit()
		return ppn, nil
	}
	c.mu.Unlock()
	c.rec.ObserveCacheMiss()

	mvpn := c.mvpnOf(lpn)
	if err := c.vpnPool.Acquire(ctx, mvpn); err != nil {
		return 0, ftl.Wrap("cmt.Lookup", err)
	}
	defer c.vpnPool.Release(mvpn)

	c.mu.Lock()
	if row, ok := c.lpnIndex[lpn]; ok {
		c.slru.touch(row)
		ppn := row.Ppn
		c.mu.Unlock()
		return ppn, nil
	}
	nNeeded := c.entriesPerTransPage - c.countCachedLocked(mvpn)
	c.mu.Unlock()

	locked := make([]*Row, 0, nNeeded)
	for uint64(len(locked)) < nNeeded {
		c.mu.Lock()
		row, ok := c.popFreeLocked()
		c.mu.Unlock()
		if !ok {
			var err error
			row, err = c.evictOne(ctx, mvpn)
			if err != nil {
				c.unlockRows(locked)
				return 0, err
			}
		}
		locked = append(locked, row)
	}

	mppn, ok := c.directory.Lookup(mvpn)
	if !ok {
		c.unlockRows(locked)
		return 0, ftl.Wrap("cmt.Lookup", fmt.Errorf("%w: m_vpn %d has no directory entry", ftl.ErrInvariantViolation, mvpn))
	}
	if err := c.device.RWPpnExtent(ctx, mppn, 1, ftl.OpRead, ftl.TagTransCache); err != nil {
		c.unlockRows(locked)
		return 0, ftl.Wrap("cmt.Lookup", err)
	}

	c.mu.Lock()
	start := ftl.LPN(uint64(mvpn) * c.entriesPerTransPage)
	filled := 0
	resultPpn := ftl.PPN(ftl.Uninitiated)
	for i := uint64(0); i < c.entriesPerTransPage && filled < len(locked); i++ {
		candidate := start + ftl.LPN(i)
		if _, already := c.lpnIndex[candidate]; already {
			continue
		}
		ppn := c.gmtTable.Lookup(candidate)
		if ftl.IsUninitiated(ppn) {
			continue
		}
		row := locked[filled]
		row.Lpn = candidate
		row.Ppn = ppn
		row.Dirty = false
		_ = transition(row, ftl.RowUsed)
		c.lpnIndex[candidate] = row
		c.slru.insertAsLRU(row)
		filled++
		if candidate == lpn {
			resultPpn = ppn
		}
	}
	for _, row := range locked[filled:] {
		_ = transition(row, ftl.RowFree)
		c.freeList = append(c.freeList, row)
	}
	c.mu.Unlock()
	return resultPpn, nil
}

// Peek reports whether lpn is currently resident and, if so, its ppn,
// without touching recency or triggering a fill — used by the GC cleaners
// to classify a relocation group as cached/uncached/mixed.
func (c *CMT) Peek(lpn ftl.LPN) (ftl.PPN, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.lpnIndex[lpn]
	if !ok {
		return 0, false
	}
	return row.Ppn, true
}

// MarkClean overwrites lpn's ppn and clears its dirty bit if lpn is
// resident, a no-op otherwise. Used after an on-flash merge already wrote
// the new mapping through, so the cached copy and flash agree.
func (c *CMT) MarkClean(lpn ftl.LPN, ppn ftl.PPN) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.lpnIndex[lpn]
	if !ok {
		return false
	}
	row.Ppn = ppn
	row.Dirty = false
	return true
}

// Update overwrites lpn's mapping, evicting a row to make room if lpn is
// not already resident and no FREE row is available. May suspend on the
// eviction path's flash I/O.
func (c *CMT) Update(ctx context.Context, lpn ftl.LPN, ppn ftl.PPN) error {
	c.mu.Lock()
	if row, ok := c.lpnIndex[lpn]; ok {
		row.Ppn = ppn
		row.Dirty = true
		c.slru.touch(row)
		c.mu.Unlock()
		return nil
	}
	row, ok := c.popFreeLocked()
	c.mu.Unlock()

	if !ok {
		var err error
		row, err = c.evictOne(ctx, ftl.MVPN(ftl.Uninitiated))
		if err != nil {
			return err
		}
	}

	c.mu.Lock()
	row.Lpn = lpn
	row.Ppn = ppn
	row.Dirty = true
	_ = transition(row, ftl.RowUsed)
	c.lpnIndex[lpn] = row
	c.slru.insertAsMRU(row)
	c.mu.Unlock()
	return nil
}

// UpdateBatch applies entries via Update, in order.
func (c *CMT) UpdateBatch(ctx context.Context, entries []MappingEntry) error {
	for _, e := range entries {
		if err := c.Update(ctx, e.Lpn, e.Ppn); err != nil {
			return err
		}
	}
	return nil
}

// popFreeLocked pops a FREE row and locks it. Caller holds c.mu.
func (c *CMT) popFreeLocked() (*Row, bool) {
	if len(c.freeList) == 0 {
		return nil, false
	}
	row := c.freeList[len(c.freeList)-1]
	c.freeList = c.freeList[:len(c.freeList)-1]
	_ = transition(row, ftl.RowFreeLocked)
	return row, true
}

// countCachedLocked counts resident rows whose lpn falls in mvpn's range.
// Caller holds c.mu.
func (c *CMT) countCachedLocked(mvpn ftl.MVPN) uint64 {
	start := uint64(mvpn) * c.entriesPerTransPage
	end := start + c.entriesPerTransPage
	var n uint64
	for lpn := range c.lpnIndex {
		if uint64(lpn) >= start && uint64(lpn) < end {
			n++
		}
	}
	return n
}

// unlockRows returns previously-locked rows to FREE, used to unwind a
// failed fill.
func (c *CMT) unlockRows(rows []*Row) {
	if len(rows) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range rows {
		_ = transition(row, ftl.RowFree)
		c.freeList = append(c.freeList, row)
	}
}

// evictOne runs the evictor of spec.md §4.5: pick the least-recently-used
// USED row whose m_vpn is neither excludeMvpn nor currently held by
// another operation, hold it, acquire its own m_vpn token (never the
// caller's), write it back if dirty, and return it FREE_AND_LOCKED ready
// for reuse. Returns ErrCacheStarved if no candidate exists.
func (c *CMT) evictOne(ctx context.Context, excludeMvpn ftl.MVPN) (*Row, error) {
	c.mu.Lock()
	victim := c.slru.victim(func(r *Row) bool {
		if r.State != ftl.RowUsed {
			return false
		}
		mvpn := c.mvpnOf(r.Lpn)
		if mvpn == excludeMvpn {
			return false
		}
		return !c.vpnPool.Held(mvpn)
	})
	if victim == nil {
		c.mu.Unlock()
		return nil, ftl.Wrap("cmt.evictOne", ftl.ErrCacheStarved)
	}
	_ = transition(victim, ftl.RowUsedHold)
	mvpn := c.mvpnOf(victim.Lpn)
	c.mu.Unlock()

	if err := c.vpnPool.Acquire(ctx, mvpn); err != nil {
		c.mu.Lock()
		_ = transition(victim, ftl.RowUsed)
		c.mu.Unlock()
		return nil, ftl.Wrap("cmt.evictOne", err)
	}
	defer c.vpnPool.Release(mvpn)

	c.mu.Lock()
	dirty := victim.Dirty
	c.mu.Unlock()
	if dirty {
		if err := c.writeBack(ctx, mvpn); err != nil {
			c.mu.Lock()
			_ = transition(victim, ftl.RowUsed)
			c.mu.Unlock()
			return nil, err
		}
	}

	c.mu.Lock()
	_ = transition(victim, ftl.RowUsed)
	_ = transition(victim, ftl.RowFreeLocked)
	delete(c.lpnIndex, victim.Lpn)
	c.slru.remove(victim.Lpn)
	victim.Dirty = false
	c.mu.Unlock()
	c.rec.ObserveEviction()
	return victim, nil
}

// writeBack commits every currently-cached row of mvpn to a freshly
// allocated translation page, per spec.md §4.5: mark the rows clean before
// any read, merge in flash-resident entries not currently cached, program
// the new page, then fold the result into the GMT, OOB, and directory.
func (c *CMT) writeBack(ctx context.Context, mvpn ftl.MVPN) error {
	c.mu.Lock()
	start := ftl.LPN(uint64(mvpn) * c.entriesPerTransPage)
	merged := make(map[ftl.LPN]ftl.PPN)
	var cachedCount uint64
	for i := uint64(0); i < c.entriesPerTransPage; i++ {
		lpn := start + ftl.LPN(i)
		if row, ok := c.lpnIndex[lpn]; ok {
			row.Dirty = false
			merged[lpn] = row.Ppn
			cachedCount++
		}
	}
	oldMppn, hasOld := c.directory.Lookup(mvpn)
	c.mu.Unlock()

	if cachedCount < c.entriesPerTransPage {
		if !hasOld {
			return ftl.Wrap("cmt.writeBack", fmt.Errorf("%w: m_vpn %d has no directory entry", ftl.ErrInvariantViolation, mvpn))
		}
		if err := c.device.RWPpnExtent(ctx, oldMppn, 1, ftl.OpRead, ftl.TagTransClean); err != nil {
			return ftl.Wrap("cmt.writeBack", err)
		}
		for i := uint64(0); i < c.entriesPerTransPage; i++ {
			lpn := start + ftl.LPN(i)
			if _, already := merged[lpn]; already {
				continue
			}
			ppn := c.gmtTable.Lookup(lpn)
			if ftl.IsUninitiated(ppn) {
				continue
			}
			merged[lpn] = ppn
		}
	}

	newMppn, err := c.pool.NextPage(ftl.CursorUserTrans, ftl.Translation)
	if err != nil {
		return ftl.Wrap("cmt.writeBack", err)
	}
	if err := c.device.RWPpnExtent(ctx, newMppn, 1, ftl.OpWrite, ftl.TagTransClean); err != nil {
		return ftl.Wrap("cmt.writeBack", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gmtTable.UpdateBatch(merged)
	if err := c.store.RelocatePage(uint64(mvpn), oldMppn, hasOld, newMppn, c.now()); err != nil {
		return err
	}
	c.directory.Update(mvpn, newMppn)
	return nil
}
