package cleaner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/dftlsim/engine/blockpool"
	"github.com/zhukovaskychina/dftlsim/engine/cmt"
	"github.com/zhukovaskychina/dftlsim/engine/directory"
	"github.com/zhukovaskychina/dftlsim/engine/flashsim"
	"github.com/zhukovaskychina/dftlsim/engine/gmt"
	"github.com/zhukovaskychina/dftlsim/engine/oob"
	"github.com/zhukovaskychina/dftlsim/engine/vpnpool"
	"github.com/zhukovaskychina/dftlsim/ftl"
	"github.com/zhukovaskychina/dftlsim/recorder"
)

const (
	pagesPerBlock       = 4
	blocksPerDev        = 8
	entriesPerTransPage = 4
)

func newFixture(t *testing.T) (*blockpool.Pool, *oob.OOB, *gmt.Table, *directory.Directory, *cmt.CMT, ftl.FlashDevice) {
	t.Helper()
	pool := blockpool.New(blocksPerDev, pagesPerBlock)
	store := oob.New(blocksPerDev*pagesPerBlock, pagesPerBlock)
	dir, err := directory.MountReserve(pool, store, blocksPerDev*pagesPerBlock, entriesPerTransPage)
	require.NoError(t, err)

	gmtTable := gmt.New()
	rec := recorder.New(nil)
	device := flashsim.New(flashsim.DefaultConfig(), rec)
	cache, err := cmt.New(entriesPerTransPage, entriesPerTransPage, device, dir, gmtTable, store, pool, vpnpool.New(), rec, nil)
	require.NoError(t, err)
	return pool, store, gmtTable, dir, cache, device
}

func TestDataBlockCleanerNoneCached(t *testing.T) {
	pool, store, gmtTable, dir, cache, device := newFixture(t)
	ctx := context.Background()
	fixedNow := func() time.Time { return time.Unix(500, 0) }

	// simulate a prior write of a whole data block: m_vpn 2 covers lpns 8-11.
	var ppns []ftl.PPN
	for i := 0; i < pagesPerBlock; i++ {
		ppn, err := pool.NextPage(ftl.CursorUserData, ftl.Data)
		require.NoError(t, err)
		lpn := ftl.LPN(8 + i)
		require.NoError(t, store.RelocatePage(uint64(lpn), 0, false, ppn, fixedNow()))
		gmtTable.Update(lpn, ppn)
		ppns = append(ppns, ppn)
	}
	block := store.Bitmap.BlockOf(ppns[0])
	// roll the user-data cursor onto a fresh block so `block` is no longer
	// a cursor head and may be returned to the free list.
	_, err := pool.NextPage(ftl.CursorUserData, ftl.Data)
	require.NoError(t, err)

	dbc := NewDataBlockCleaner(pool, store, device, gmtTable, dir, cache, nil, entriesPerTransPage, fixedNow)
	require.NoError(t, dbc.Clean(ctx, block))

	for i := 0; i < pagesPerBlock; i++ {
		lpn := ftl.LPN(8 + i)
		newPpn := gmtTable.Lookup(lpn)
		assert.NotEqual(t, ppns[i], newPpn, "relocation must change the ppn")
		assert.False(t, ftl.IsUninitiated(newPpn))
	}
	assert.Equal(t, 0.0, store.Bitmap.BlockValidRatio(block))
	for _, b := range pool.UsedBlocks() {
		assert.NotEqual(t, block, b, "cleaned block must return to free")
	}
}

func TestDataBlockCleanerAllCached(t *testing.T) {
	pool, store, gmtTable, dir, cache, device := newFixture(t)
	ctx := context.Background()
	fixedNow := func() time.Time { return time.Unix(500, 0) }

	var ppns []ftl.PPN
	for i := 0; i < pagesPerBlock; i++ {
		ppn, err := pool.NextPage(ftl.CursorUserData, ftl.Data)
		require.NoError(t, err)
		lpn := ftl.LPN(8 + i)
		require.NoError(t, store.RelocatePage(uint64(lpn), 0, false, ppn, fixedNow()))
		gmtTable.Update(lpn, ppn)
		require.NoError(t, cache.Update(ctx, lpn, ppn))
		ppns = append(ppns, ppn)
	}
	block := store.Bitmap.BlockOf(ppns[0])
	// roll the user-data cursor off `block`, as above.
	_, err := pool.NextPage(ftl.CursorUserData, ftl.Data)
	require.NoError(t, err)

	dbc := NewDataBlockCleaner(pool, store, device, gmtTable, dir, cache, nil, entriesPerTransPage, fixedNow)
	require.NoError(t, dbc.Clean(ctx, block))

	for i := 0; i < pagesPerBlock; i++ {
		lpn := ftl.LPN(8 + i)
		ppn, ok := cache.Peek(lpn)
		require.True(t, ok)
		assert.NotEqual(t, ppns[i], ppn)
	}
}

func TestTransBlockCleanerRelocatesAndUpdatesDirectory(t *testing.T) {
	pool, store, _, dir, _, device := newFixture(t)
	ctx := context.Background()
	fixedNow := func() time.Time { return time.Unix(500, 0) }

	mppn, ok := dir.Lookup(ftl.MVPN(0))
	require.True(t, ok)
	block := store.Bitmap.BlockOf(mppn)

	tbc := NewTransBlockCleaner(pool, store, device, dir, fixedNow)
	require.NoError(t, tbc.Clean(ctx, block))

	newMppn, ok := dir.Lookup(ftl.MVPN(0))
	require.True(t, ok)
	assert.NotEqual(t, mppn, newMppn)
}
