package gc

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
	"github.com/zhukovaskychina/dftlsim/engine/gc/cleaner"
	"github.com/zhukovaskychina/dftlsim/engine/gc/victim"
	"github.com/zhukovaskychina/dftlsim/engine/gmt"
	"github.com/zhukovaskychina/dftlsim/engine/oob"
	"github.com/zhukovaskychina/dftlsim/engine/vpnpool"
	"github.com/zhukovaskychina/dftlsim/ftl"
	"github.com/zhukovaskychina/dftlsim/recorder"
)

// TestCollectorReclaimsAFullyInvalidBlock drives one GC round over a pool
// with a single fully-invalid data block among otherwise-valid used
// blocks, and checks the block comes back to the free list.
func TestCollectorReclaimsAFullyInvalidBlock(t *testing.T) {
	const pagesPerBlock = 4
	const blocksPerDev = 8
	const entriesPerTransPage = 4

	pool := blockpool.New(blocksPerDev, pagesPerBlock)
	store := oob.New(blocksPerDev*pagesPerBlock, pagesPerBlock)
	dir, err := directory.MountReserve(pool, store, blocksPerDev*pagesPerBlock, entriesPerTransPage)
	require.NoError(t, err)

	gmtTable := gmt.New()
	rec := recorder.New(nil)
	device := flashsim.New(flashsim.DefaultConfig(), rec)
	fixedNow := func() time.Time { return time.Unix(1000, 0) }
	cache, err := cmt.New(entriesPerTransPage, entriesPerTransPage, device, dir, gmtTable, store, pool, vpnpool.New(), rec, fixedNow)
	require.NoError(t, err)


	// write, then fully discard, one data block's worth of lpns -- u==0.
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
	// a cursor head and is eligible for reclaim.
	_, err = pool.NextPage(ftl.CursorUserData, ftl.Data)
	require.NoError(t, err)

	for _, p := range ppns {
		require.NoError(t, store.InvalidateOnly(p, fixedNow()))
	}
	require.Equal(t, 0.0, store.Bitmap.BlockValidRatio(block))

	sel := victim.New(pool, store, fixedNow)
	dataCleaner := cleaner.NewDataBlockCleaner(pool, store, device, gmtTable, dir, cache, nil, entriesPerTransPage, fixedNow)
	transCleaner := cleaner.NewTransBlockCleaner(pool, store, device, dir, fixedNow)
	decider := NewDecider(0.01, 0.0, pagesPerBlock) // force a round to run regardless of actual occupancy
	collector := NewCollector(pool, store, sel, dataCleaner, transCleaner, decider, rec)

	require.NoError(t, collector.Run(context.Background()))

	for _, b := range pool.UsedBlocks() {
		assert.NotEqual(t, block, b, "the fully-invalid block must have been reclaimed")
	}
}
