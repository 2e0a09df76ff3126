package host

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/dftlsim/ftl"
)

type fakeFTL struct {
	reads, writes, discards []ftl.Extent
	writePayloads           [][]byte
	err                     error
}

func (f *fakeFTL) ReadExt(ctx context.Context, e ftl.Extent) ([]ftl.ReadResult, error) {
	f.reads = append(f.reads, e)
	return nil, f.err
}

func (f *fakeFTL) WriteExt(ctx context.Context, e ftl.Extent, payload []byte) error {
	f.writes = append(f.writes, e)
	f.writePayloads = append(f.writePayloads, payload)
	return f.err
}

func (f *fakeFTL) DiscardExt(ctx context.Context, e ftl.Extent) error {
	f.discards = append(f.discards, e)
	return f.err
}

func TestDriverDispatchesByOperation(t *testing.T) {
	fake := &fakeFTL{}
	d := NewDriver(fake)

	events := []Event{
		{Extent: Extent{LpnStart: 0, LpnCount: 2, Operation: OpWrite, Payload: []byte("ab")}},
		{Extent: Extent{LpnStart: 0, LpnCount: 2, Operation: OpRead}},
		{Extent: Extent{LpnStart: 1, LpnCount: 1, Operation: OpDiscard}},
	}
	require.NoError(t, d.Run(context.Background(), events))

	require.Len(t, fake.writes, 1)
	assert.Equal(t, ftl.LPN(0), fake.writes[0].LpnStart)
	assert.Equal(t, []byte("ab"), fake.writePayloads[0])
	require.Len(t, fake.reads, 1)
	require.Len(t, fake.discards, 1)
	assert.Equal(t, ftl.LPN(1), fake.discards[0].LpnStart)
}

func TestDriverSkipsBarriers(t *testing.T) {
	fake := &fakeFTL{}
	d := NewDriver(fake)

	events := []Event{
		{Barrier: true},
		{Extent: Extent{LpnStart: 0, LpnCount: 1, Operation: OpWrite, Payload: []byte("a")}},
		{Barrier: true},
	}
	require.NoError(t, d.Run(context.Background(), events))
	assert.Len(t, fake.writes, 1)
}

func TestDriverStopsOnFirstError(t *testing.T) {
	fake := &fakeFTL{err: errors.New("boom")}
	d := NewDriver(fake)

	events := []Event{
		{Extent: Extent{LpnStart: 0, LpnCount: 1, Operation: OpWrite, Payload: []byte("a")}},
		{Extent: Extent{LpnStart: 1, LpnCount: 1, Operation: OpWrite, Payload: []byte("b")}},
	}
	err := d.Run(context.Background(), events)
	assert.Error(t, err)
	assert.Len(t, fake.writes, 1, "the second event must not be issued after the first fails")
}
