package cmt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/dftlsim/engine/blockpool"
	"github.com/zhukovaskychina/dftlsim/engine/directory"
	"github.com/zhukovaskychina/dftlsim/engine/flashsim"
	"github.com/zhukovaskychina/dftlsim/engine/gmt"
	"github.com/zhukovaskychina/dftlsim/engine/oob"
	"github.com/zhukovaskychina/dftlsim/engine/vpnpool"
	"github.com/zhukovaskychina/dftlsim/ftl"
	"github.com/zhukovaskychina/dftlsim/recorder"
)

const (
	testPagesPerBlock       = 4
	testBlocksPerDev        = 8
	testEntriesPerTransPage = 4
)

type harness struct {
	cmt       *CMT
	gmtTable  *gmt.Table
	directory *directory.Directory
	pool      *blockpool.Pool
}

func newHarness(t *testing.T, capacity uint64) *harness {
	t.Helper()
	pool := blockpool.New(testBlocksPerDev, testPagesPerBlock)
	store := oob.New(testBlocksPerDev*testPagesPerBlock, testPagesPerBlock)
	dir, err := directory.MountReserve(pool, store, testBlocksPerDev*testPagesPerBlock, testEntriesPerTransPage)
	require.NoError(t, err)

	gmtTable := gmt.New()
	rec := recorder.New(nil)
	device := flashsim.New(flashsim.DefaultConfig(), rec)
	vp := vpnpool.New()

	fixedNow := func() time.Time { return time.Unix(1000, 0) }
	c, err := New(capacity, testEntriesPerTransPage, device, dir, gmtTable, store, pool, vp, rec, fixedNow)
	require.NoError(t, err)
	return &harness{cmt: c, gmtTable: gmtTable, directory: dir, pool: pool}
}

func TestLookupMissThenHit(t *testing.T) {
	h := newHarness(t, 8)
	ctx := context.Background()

	h.gmtTable.Update(0, 100)
	h.gmtTable.Update(2, 102)

	ppn, err := h.cmt.Lookup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, ftl.PPN(100), ppn)
	assert.Equal(t, 2, h.cmt.Len(), "lpn 1 and 3 have no GMT entry and must not occupy a row")

	ppn, err = h.cmt.Lookup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, ftl.PPN(100), ppn)

	ppn, err = h.cmt.Lookup(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, ftl.PPN(102), ppn)
}

func TestLookupNeverWrittenReturnsUninitiated(t *testing.T) {
	h := newHarness(t, 8)
	ctx := context.Background()

	ppn, err := h.cmt.Lookup(ctx, 4) // m_vpn 1, nothing in GMT for lpns 4-7
	require.NoError(t, err)
	assert.True(t, ftl.IsUninitiated(ppn))
	assert.Equal(t, 0, h.cmt.Len(), "a never-written lpn must not occupy a cache row")
}

func TestUpdateThenLookupIsAHit(t *testing.T) {
	h := newHarness(t, 8)
	ctx := context.Background()

	require.NoError(t, h.cmt.Update(ctx, 10, 777))
	ppn, err := h.cmt.Lookup(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, ftl.PPN(777), ppn)
}

func TestUpdateBatchAppliesInOrder(t *testing.T) {
	h := newHarness(t, 8)
	ctx := context.Background()

	entries := []MappingEntry{{Lpn: 1, Ppn: 201}, {Lpn: 1, Ppn: 202}, {Lpn: 2, Ppn: 300}}
	require.NoError(t, h.cmt.UpdateBatch(ctx, entries))

	ppn, err := h.cmt.Lookup(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ftl.PPN(202), ppn, "later entry for the same lpn must win")
}

func TestEvictionWritesBackDirtyRows(t *testing.T) {
	h := newHarness(t, testEntriesPerTransPage) // exactly one translation page's worth
	ctx := context.Background()

	// fill the whole cache with dirty rows from m_vpn 0 (lpns 0-3).
	for lpn := ftl.LPN(0); lpn < testEntriesPerTransPage; lpn++ {
		require.NoError(t, h.cmt.Update(ctx, lpn, ftl.PPN(1000+uint64(lpn))))
	}
	assert.Equal(t, testEntriesPerTransPage, uint64(h.cmt.Len()))

	// a new lpn from a different m_vpn forces an eviction + write-back.
	require.NoError(t, h.cmt.Update(ctx, testEntriesPerTransPage, 9999))
	assert.Equal(t, testEntriesPerTransPage, uint64(h.cmt.Len()), "capacity must still hold after eviction")

	for lpn := ftl.LPN(0); lpn < testEntriesPerTransPage; lpn++ {
		got := h.gmtTable.Lookup(lpn)
		assert.Equal(t, ftl.PPN(1000+uint64(lpn)), got, "evicted dirty row must be folded into the GMT")
	}
}

func TestCacheStarvedWhenNothingEvictable(t *testing.T) {
	h := newHarness(t, testEntriesPerTransPage)
	ctx := context.Background()

	for lpn := ftl.LPN(0); lpn < testEntriesPerTransPage; lpn++ {
		require.NoError(t, h.cmt.Update(ctx, lpn, ftl.PPN(1000+uint64(lpn))))
	}

	// every resident row belongs to m_vpn 0: excluding it from eviction
	// (as Lookup does for its own m_vpn) leaves no candidate.
	_, err := h.cmt.evictOne(ctx, h.cmt.mvpnOf(0))
	require.Error(t, err)
	assert.True(t, ftl.IsCacheStarved(err))
}
