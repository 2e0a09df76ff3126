// Package cleaner implements the DataBlockCleaner and TransBlockCleaner of
// spec.md §4.7: relocate every VALID page of a chosen victim block through
// a GC append cursor, fold the resulting mapping changes into the CMT/GMT
// the cheapest way the grouping allows, then return the block to free.
package cleaner

import (
	"context"
	"fmt"
	"time"

	"github.com/zhukovaskychina/dftlsim/engine/blockpool"
	"github.com/zhukovaskychina/dftlsim/engine/cmt"
	"github.com/zhukovaskychina/dftlsim/engine/directory"
	"github.com/zhukovaskychina/dftlsim/engine/gmt"
	"github.com/zhukovaskychina/dftlsim/engine/oob"
	"github.com/zhukovaskychina/dftlsim/engine/pagestore"
	"github.com/zhukovaskychina/dftlsim/ftl"
)

// relocation is one {lpn, old_ppn, new_ppn} triple recorded while copying
// a victim block's valid pages forward.
type relocation struct {
	lpn    ftl.LPN
	oldPpn ftl.PPN
	newPpn ftl.PPN
}

// DataBlockCleaner relocates a data block's valid pages and resolves the
// resulting mapping changes per spec.md §4.7.
type DataBlockCleaner struct {
	pool                *blockpool.Pool
	store               *oob.OOB
	device              ftl.FlashDevice
	gmtTable            *gmt.Table
	directory           *directory.Directory
	cache               *cmt.CMT
	pages               *pagestore.Store
	entriesPerTransPage uint64
	now                 func() time.Time
}

// NewDataBlockCleaner wires a cleaner over the shared collaborators. now
// defaults to time.Now; tests may override it. pages may be nil if the
// caller does not care about tracking physical page content.
func NewDataBlockCleaner(pool *blockpool.Pool, store *oob.OOB, device ftl.FlashDevice, gmtTable *gmt.Table, dir *directory.Directory, cache *cmt.CMT, pages *pagestore.Store, entriesPerTransPage uint64, now func() time.Time) *DataBlockCleaner {
	if now == nil {
		now = time.Now
	}
	return &DataBlockCleaner{pool: pool, store: store, device: device, gmtTable: gmtTable, directory: dir, cache: cache, pages: pages, entriesPerTransPage: entriesPerTransPage, now: now}
}

// Clean relocates every VALID page of block through the gc-data cursor,
// resolves the change list against the CMT/GMT, then erases and frees the
// block. block must not be a cursor head (the caller's VictimSelector
// already excludes those).
func (c *DataBlockCleaner) Clean(ctx context.Context, block ftl.BlockID) error {
	first := uint64(block) * c.pool.PagesPerBlock()
	var changes []relocation
	for p := first; p < first+c.pool.PagesPerBlock(); p++ {
		ppn := ftl.PPN(p)
		if c.store.Bitmap.State(ppn) != ftl.Valid {
			continue
		}
		entity, ok := c.store.Lookup(ppn)
		if !ok {
			return ftl.Wrap("cleaner.DataBlockCleaner.Clean", fmt.Errorf("%w: valid ppn %d has no reverse map", ftl.ErrInvariantViolation, ppn))
		}
		if err := c.device.RWPpnExtent(ctx, ppn, 1, ftl.OpRead, ftl.TagDataCleaning); err != nil {
			return ftl.Wrap("cleaner.DataBlockCleaner.Clean", err)
		}
		newPpn, err := c.pool.NextPage(ftl.CursorGCData, ftl.Data)
		if err != nil {
			return ftl.Wrap("cleaner.DataBlockCleaner.Clean", err)
		}
		if err := c.device.RWPpnExtent(ctx, newPpn, 1, ftl.OpWrite, ftl.TagDataCleaning); err != nil {
			return ftl.Wrap("cleaner.DataBlockCleaner.Clean", err)
		}
		if err := c.store.RelocatePage(entity, ppn, true, newPpn, c.now()); err != nil {
			return err
		}
		c.pages.Move(ppn, newPpn)
		changes = append(changes, relocation{lpn: ftl.LPN(entity), oldPpn: ppn, newPpn: newPpn})
	}

	if err := c.foldChanges(ctx, changes); err != nil {
		return err
	}

	ratio := c.store.Bitmap.BlockValidRatio(block)
	if err := c.pool.MoveUsedToFree(block, ftl.Data, ratio); err != nil {
		return err
	}
	c.store.EraseBlock(block)
	return c.device.ErasePbnExtent(ctx, block, 1, ftl.TagDataCleaning)
}

// foldChanges groups changes by m_vpn and applies spec.md §4.7's
// three-way cached/uncached/mixed resolution.
func (c *DataBlockCleaner) foldChanges(ctx context.Context, changes []relocation) error {
	groups := make(map[ftl.MVPN][]relocation)
	for _, r := range changes {
		mvpn := ftl.MVPN(uint64(r.lpn) / c.entriesPerTransPage)
		groups[mvpn] = append(groups[mvpn], r)
	}

	for mvpn, group := range groups {
		allCached, noneCached := true, true
		for _, r := range group {
			if _, ok := c.cache.Peek(r.lpn); ok {
				noneCached = false
			} else {
				allCached = false
			}
		}

		switch {
		case allCached:
			for _, r := range group {
				if err := c.cache.Update(ctx, r.lpn, r.newPpn); err != nil {
					return err
				}
			}
		case noneCached:
			if err := c.mergeOnFlash(ctx, mvpn, group, false); err != nil {
				return err
			}
		default:
			if err := c.mergeOnFlash(ctx, mvpn, group, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeOnFlash synthesizes a new translation page for mvpn: merges group's
// new mappings with whatever else the old page holds (read from the old
// m_ppn whenever the group doesn't cover the whole page), programs the new
// page, and updates the GMT/OOB/directory. When markCachedClean is set
// (the "mixed" case) it also overwrites the group's already-cached rows in
// place, clean — they now agree with flash.
func (c *DataBlockCleaner) mergeOnFlash(ctx context.Context, mvpn ftl.MVPN, group []relocation, markCachedClean bool) error {
	merged := make(map[ftl.LPN]ftl.PPN, len(group))
	for _, r := range group {
		merged[r.lpn] = r.newPpn
	}

	oldMppn, hasOld := c.directory.Lookup(mvpn)
	if uint64(len(group)) < c.entriesPerTransPage {
		if !hasOld {
			return ftl.Wrap("cleaner.mergeOnFlash", fmt.Errorf("%w: m_vpn %d has no directory entry", ftl.ErrInvariantViolation, mvpn))
		}
		if err := c.device.RWPpnExtent(ctx, oldMppn, 1, ftl.OpRead, ftl.TagTransUpdateForDataGC); err != nil {
			return ftl.Wrap("cleaner.mergeOnFlash", err)
		}
		start := ftl.LPN(uint64(mvpn) * c.entriesPerTransPage)
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

	newMppn, err := c.pool.NextPage(ftl.CursorGCTrans, ftl.Translation)
	if err != nil {
		return ftl.Wrap("cleaner.mergeOnFlash", err)
	}
	if err := c.device.RWPpnExtent(ctx, newMppn, 1, ftl.OpWrite, ftl.TagTransUpdateForDataGC); err != nil {
		return ftl.Wrap("cleaner.mergeOnFlash", err)
	}

	c.gmtTable.UpdateBatch(merged)
	if err := c.store.RelocatePage(uint64(mvpn), oldMppn, hasOld, newMppn, c.now()); err != nil {
		return err
	}
	c.directory.Update(mvpn, newMppn)

	if markCachedClean {
		for _, r := range group {
			c.cache.MarkClean(r.lpn, r.newPpn)
		}
	}
	return nil
}

// TransBlockCleaner relocates a translation block's valid pages, updating
// the directory directly — translation pages have no further indirection
// to fold changes through.
type TransBlockCleaner struct {
	pool   *blockpool.Pool
	store  *oob.OOB
	device ftl.FlashDevice
	dir    *directory.Directory
	now    func() time.Time
}

// NewTransBlockCleaner wires a cleaner over the shared collaborators.
func NewTransBlockCleaner(pool *blockpool.Pool, store *oob.OOB, device ftl.FlashDevice, dir *directory.Directory, now func() time.Time) *TransBlockCleaner {
	if now == nil {
		now = time.Now
	}
	return &TransBlockCleaner{pool: pool, store: store, device: device, dir: dir, now: now}
}

// Clean relocates every VALID translation page of block through the
// gc-trans cursor, then erases and frees the block.
func (c *TransBlockCleaner) Clean(ctx context.Context, block ftl.BlockID) error {
	first := uint64(block) * c.pool.PagesPerBlock()
	for p := first; p < first+c.pool.PagesPerBlock(); p++ {
		ppn := ftl.PPN(p)
		if c.store.Bitmap.State(ppn) != ftl.Valid {
			continue
		}
		mvpnVal, ok := c.store.Lookup(ppn)
		if !ok {
			return ftl.Wrap("cleaner.TransBlockCleaner.Clean", fmt.Errorf("%w: valid ppn %d has no reverse map", ftl.ErrInvariantViolation, ppn))
		}
		if err := c.device.RWPpnExtent(ctx, ppn, 1, ftl.OpRead, ftl.TagTransClean); err != nil {
			return ftl.Wrap("cleaner.TransBlockCleaner.Clean", err)
		}
		newPpn, err := c.pool.NextPage(ftl.CursorGCTrans, ftl.Translation)
		if err != nil {
			return ftl.Wrap("cleaner.TransBlockCleaner.Clean", err)
		}
		if err := c.device.RWPpnExtent(ctx, newPpn, 1, ftl.OpWrite, ftl.TagTransClean); err != nil {
			return ftl.Wrap("cleaner.TransBlockCleaner.Clean", err)
		}
		if err := c.store.RelocatePage(mvpnVal, ppn, true, newPpn, c.now()); err != nil {
			return err
		}
		c.dir.Update(ftl.MVPN(mvpnVal), newPpn)
	}

	ratio := c.store.Bitmap.BlockValidRatio(block)
	if err := c.pool.MoveUsedToFree(block, ftl.Translation, ratio); err != nil {
		return err
	}
	c.store.EraseBlock(block)
	return c.device.ErasePbnExtent(ctx, block, 1, ftl.TagTransClean)
}
