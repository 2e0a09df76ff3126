// Package directory is the in-memory translation directory (GTD) of
// spec.md §4.4: m_vpn -> m_ppn, reserved at mount by allocating translation
// pages from the block pool.
package directory

import (
	"fmt"
	"sync"

	"github.com/zhukovaskychina/dftlsim/engine/blockpool"
	"github.com/zhukovaskychina/dftlsim/engine/oob"
	"github.com/zhukovaskychina/dftlsim/ftl"
)

// Directory holds the m_vpn -> m_ppn table exclusively; no other component
// mutates it (spec.md §3 Ownership) — but the facade's parallel sub-extent
// fan-out (spec.md §4.9) means more than one goroutine calls into it at
// once, so table is guarded by mu rather than assumed single-threaded.
type Directory struct {
	mu    sync.RWMutex
	table map[ftl.MVPN]ftl.MPPN
}

// New allocates an empty directory.
func New() *Directory {
	return &Directory{table: make(map[ftl.MVPN]ftl.MPPN)}
}

// Lookup returns the m_ppn a m_vpn currently resolves to, if any.
func (d *Directory) Lookup(mvpn ftl.MVPN) (ftl.MPPN, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.table[mvpn]
	return p, ok
}

// Add records a brand-new m_vpn -> m_ppn mapping. mvpn must not already be
// present.
func (d *Directory) Add(mvpn ftl.MVPN, mppn ftl.MPPN) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.table[mvpn]; ok {
		return ftl.Wrap("directory.Add", fmt.Errorf("%w: m_vpn %d already mapped", ftl.ErrInvariantViolation, mvpn))
	}
	d.table[mvpn] = mppn
	return nil
}

// Update overwrites an existing m_vpn -> m_ppn mapping, used when a
// translation page is relocated by write-back or the trans-cleaner.
func (d *Directory) Update(mvpn ftl.MVPN, mppn ftl.MPPN) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.table[mvpn] = mppn
}

// MountReserve initializes the directory at mount time: for a device of
// devicePageCount logical pages with entriesPerTransPage entries per
// translation page (equivalently ceil(device_pages*entry_bytes/page_size)
// with entriesPerTransPage = page_size/entry_bytes), it reserves that many
// translation pages via pool.NextPage, recording each reservation's m_ppn
// in both the directory and the OOB reverse map.
func MountReserve(pool *blockpool.Pool, store *oob.OOB, devicePageCount, entriesPerTransPage uint64) (*Directory, error) {
	d := New()
	numMvpn := (devicePageCount + entriesPerTransPage - 1) / entriesPerTransPage
	for mvpn := uint64(0); mvpn < numMvpn; mvpn++ {
		mppn, err := pool.NextPage(ftl.CursorUserTrans, ftl.Translation)
		if err != nil {
			return nil, ftl.Wrap("directory.MountReserve", err)
		}
		if err := store.ReserveTransPage(mvpn, mppn); err != nil {
			return nil, err
		}
		if err := d.Add(ftl.MVPN(mvpn), mppn); err != nil {
			return nil, err
		}
	}
	return d, nil
}
