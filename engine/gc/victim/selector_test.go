package victim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/dftlsim/engine/blockpool"
	"github.com/zhukovaskychina/dftlsim/engine/oob"
	"github.com/zhukovaskychina/dftlsim/ftl"
)

func TestBuildOrdersImmediateThenBenefitCost(t *testing.T) {
	const pagesPerBlock = 4
	pool := blockpool.New(8, pagesPerBlock)
	store := oob.New(8*pagesPerBlock, pagesPerBlock)

	// block 0: fully invalid (u==0) -> immediate.
	for i := 0; i < pagesPerBlock; i++ {
		ppn := ftl.PPN(i)
		require.NoError(t, store.Bitmap.Validate(ppn))
		require.NoError(t, store.Bitmap.Invalidate(ppn))
	}
	// block 1: half valid, old invalidation -> high benefit/cost.
	for i := 0; i < pagesPerBlock; i++ {
		ppn := ftl.PPN(pagesPerBlock + i)
		require.NoError(t, store.Bitmap.Validate(ppn))
	}
	require.NoError(t, store.InvalidateOnly(ftl.PPN(pagesPerBlock), time.Unix(0, 0)))
	require.NoError(t, store.InvalidateOnly(ftl.PPN(pagesPerBlock+1), time.Unix(0, 0)))
	// block 2: half valid, recent invalidation -> lower benefit/cost.
	for i := 0; i < pagesPerBlock; i++ {
		ppn := ftl.PPN(2*pagesPerBlock + i)
		require.NoError(t, store.Bitmap.Validate(ppn))
	}
	require.NoError(t, store.InvalidateOnly(ftl.PPN(2*pagesPerBlock), time.Unix(990, 0)))
	require.NoError(t, store.InvalidateOnly(ftl.PPN(2*pagesPerBlock+1), time.Unix(990, 0)))
	// block 3: fully valid -> skipped.
	for i := 0; i < pagesPerBlock; i++ {
		require.NoError(t, store.Bitmap.Validate(ftl.PPN(3*pagesPerBlock+i)))
	}

	for i := 0; i < 4; i++ {
		_, err := pool.PopFreeTo(ftl.Data)
		require.NoError(t, err)
	}

	fixedNow := time.Unix(1000, 0)
	now := func() time.Time { return fixedNow }
	// block 1 was invalidated at t=0 (age 1000s), block 2 at t=990
	// (age 10s): same u, so the older block ranks higher.
	sel := New(pool, store, now)

	cands := sel.Build()
	require.Len(t, cands, 3, "block 3 (u==1) must be skipped")
	assert.Equal(t, ftl.BlockID(0), cands[0].Block)
	assert.True(t, cands[0].Immediate)
	assert.Equal(t, ftl.BlockID(1), cands[1].Block)
	assert.Equal(t, ftl.BlockID(2), cands[2].Block)
	assert.Greater(t, cands[1].BenefitCost, cands[2].BenefitCost)
}

func TestBuildSkipsCursorBlocks(t *testing.T) {
	const pagesPerBlock = 4
	pool := blockpool.New(4, pagesPerBlock)
	store := oob.New(4*pagesPerBlock, pagesPerBlock)

	// drive the user-data cursor into block 0 so it's excluded even
	// though every one of its pages is still ERASED (u==0 would
	// otherwise make it an immediate candidate).
	_, err := pool.NextPage(ftl.CursorUserData, ftl.Data)
	require.NoError(t, err)

	sel := New(pool, store, nil)
	cands := sel.Build()
	assert.Empty(t, cands)
}
