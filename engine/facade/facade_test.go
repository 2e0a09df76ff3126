package facade

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/dftlsim/engine/flashsim"
	"github.com/zhukovaskychina/dftlsim/ftl"
	"github.com/zhukovaskychina/dftlsim/recorder"
)

func newFixture(t *testing.T) *FTL {
	t.Helper()
	cfg := ftl.Config{
		PagesPerBlock: 4, BlocksPerDev: 64, PageSize: 4096, SectorSize: 512,
		EntriesPerTransPage: 4, CacheEntryBytes: 8, MappingCacheBytes: 8 * 8,
		OverProvisioning: 10.0, GCThresholdRatio: 0.2, GCLowThresholdRatio: 0.1,
	}
	rec := recorder.New(nil)
	device := flashsim.New(flashsim.DefaultConfig(), rec)
	now := func() time.Time { return time.Unix(1000, 0) }
	f, err := New(cfg, device, rec, now)
	require.NoError(t, err)
	return f
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	extent := ftl.Extent{LpnStart: 1, LpnCount: 3}
	require.NoError(t, f.WriteExt(ctx, extent, []byte("abc")))

	results, err := f.ReadExt(ctx, extent)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, byte('a'), results[0].Value)
	assert.Equal(t, byte('b'), results[1].Value)
	assert.Equal(t, byte('c'), results[2].Value)
	for _, r := range results {
		assert.False(t, r.Uninitiated)
	}
}

func TestDiscardThenReadIsUninitiated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	extent := ftl.Extent{LpnStart: 1, LpnCount: 3}
	require.NoError(t, f.WriteExt(ctx, extent, []byte("abc")))
	require.NoError(t, f.DiscardExt(ctx, ftl.Extent{LpnStart: 2, LpnCount: 1}))

	results, err := f.ReadExt(ctx, extent)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, byte('a'), results[0].Value)
	assert.True(t, results[1].Uninitiated)
	assert.Equal(t, byte('c'), results[2].Value)
}

func TestReadOfNeverWrittenLpnIsUninitiated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	results, err := f.ReadExt(ctx, ftl.Extent{LpnStart: 40, LpnCount: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Uninitiated)
}

func TestRepeatedDiscardIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	extent := ftl.Extent{LpnStart: 1, LpnCount: 1}
	require.NoError(t, f.WriteExt(ctx, extent, []byte("a")))
	require.NoError(t, f.DiscardExt(ctx, extent))
	require.NoError(t, f.DiscardExt(ctx, extent))

	results, err := f.ReadExt(ctx, extent)
	require.NoError(t, err)
	assert.True(t, results[0].Uninitiated)
}

func TestWriteAcrossManyMvpnsSplitsAndRoundTrips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	extent := ftl.Extent{LpnStart: 2, LpnCount: 6} // crosses the m_vpn=0/1 boundary at lpn 4
	payload := []byte("abcdef")
	require.NoError(t, f.WriteExt(ctx, extent, payload))

	results, err := f.ReadExt(ctx, extent)
	require.NoError(t, err)
	require.Len(t, results, 6)
	for i, r := range results {
		assert.Equal(t, payload[i], r.Value)
		assert.False(t, r.Uninitiated)
	}
}
