package workload

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/dftlsim/ftl"
	"github.com/zhukovaskychina/dftlsim/host"
)

func TestReadTraceParsesEventsAndBarriers(t *testing.T) {
	trace := strings.Join([]string{
		"0,4,write,97",
		"barrier",
		"0,4,read",
		"2,1,discard",
	}, "\n")
	now := func() time.Time { return time.Unix(42, 0) }

	events, err := ReadTrace(strings.NewReader(trace), now)
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.False(t, events[0].Barrier)
	assert.Equal(t, host.OpWrite, events[0].Extent.Operation)
	assert.Equal(t, ftl.LPN(0), events[0].Extent.LpnStart)
	assert.Equal(t, uint64(4), events[0].Extent.LpnCount)
	assert.Equal(t, []byte{'a', 'a', 'a', 'a'}, events[0].Extent.Payload)

	assert.True(t, events[1].Barrier)

	assert.Equal(t, host.OpRead, events[2].Extent.Operation)
	assert.Nil(t, events[2].Extent.Payload)

	assert.Equal(t, host.OpDiscard, events[3].Extent.Operation)
	assert.Equal(t, ftl.LPN(2), events[3].Extent.LpnStart)
}

func TestReadTraceRejectsUnknownOp(t *testing.T) {
	_, err := ReadTrace(strings.NewReader("0,1,frobnicate"), nil)
	assert.Error(t, err)
}

func TestSequentialGeneratorAdvancesByExtentSize(t *testing.T) {
	g := NewGenerator(Sequential, 100, 4, 0, 0, 7)
	now := time.Unix(0, 0)

	first := g.Next(now)
	second := g.Next(now)
	assert.Equal(t, ftl.LPN(0), first.LpnStart)
	assert.Equal(t, ftl.LPN(4), second.LpnStart)
	assert.Equal(t, uint64(4), first.LpnCount)
}

func TestRandomGeneratorStaysInBounds(t *testing.T) {
	g := NewGenerator(Random, 64, 4, 0, 0, 11)
	now := time.Unix(0, 0)
	for i := 0; i < 50; i++ {
		e := g.Next(now)
		assert.LessOrEqual(t, uint64(e.LpnStart)+e.LpnCount, uint64(64))
	}
}

func TestHotColdGeneratorIsReproducibleForASeed(t *testing.T) {
	g1 := NewGenerator(HotCold, 1000, 4, 0.1, 0.9, 99)
	g2 := NewGenerator(HotCold, 1000, 4, 0.1, 0.9, 99)
	now := time.Unix(0, 0)
	for i := 0; i < 20; i++ {
		assert.Equal(t, g1.Next(now), g2.Next(now))
	}
}
