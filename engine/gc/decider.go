// Package gc implements the GcDecider watermark state machine of
// spec.md §4.8, plus the Collector that drives VictimSelector and the two
// cleaners through one GC round.
package gc

import (
	"context"
	"fmt"

	"github.com/zhukovaskychina/dftlsim/engine/blockpool"
	"github.com/zhukovaskychina/dftlsim/engine/gc/cleaner"
	"github.com/zhukovaskychina/dftlsim/engine/gc/victim"
	"github.com/zhukovaskychina/dftlsim/engine/oob"
	"github.com/zhukovaskychina/dftlsim/ftl"
	"github.com/zhukovaskychina/dftlsim/recorder"
)

// Decider is the watermark state machine of spec.md §4.8. It is stateful
// across the calls of a single round and reset by Refresh.
type Decider struct {
	high, low    float64
	pagesPerBlock uint64

	started       bool
	lastUsed      int
	noProgress    int
	decidedFalse  bool
}

// NewDecider builds a Decider with already-clamped H/L (see
// ftl.Config.ClampedHigh/ClampedLow) and the device's pages-per-block,
// which bounds how many no-progress calls are tolerated before giving up
// for the round (2*P per spec.md §4.8).
func NewDecider(clampedHigh, clampedLow float64, pagesPerBlock uint64) *Decider {
	return &Decider{high: clampedHigh, low: clampedLow, pagesPerBlock: pagesPerBlock}
}

// NeedCleaning reports whether GC should run another iteration, given the
// pool's current used-block count.
func (d *Decider) NeedCleaning(usedBlocks, totalBlocks int) bool {
	u := float64(usedBlocks) / float64(totalBlocks)
	if !d.started {
		d.started = true
		d.lastUsed = usedBlocks
		return u > d.high
	}
	if d.decidedFalse {
		return false
	}
	if u > d.low && usedBlocks < d.lastUsed {
		d.noProgress = 0
		d.lastUsed = usedBlocks
		return true
	}
	d.noProgress++
	d.lastUsed = usedBlocks
	if d.noProgress >= int(2*d.pagesPerBlock) {
		d.decidedFalse = true
		return false
	}
	return u > d.low
}

// Refresh resets round state so NeedCleaning starts a fresh round.
func (d *Decider) Refresh() {
	d.started = false
	d.lastUsed = 0
	d.noProgress = 0
	d.decidedFalse = false
}

// Collector ties VictimSelector, the two cleaners, and a Decider into the
// facade's opportunistic GarbageCollector.Run of spec.md §2/§4.6-§4.8.
type Collector struct {
	pool     *blockpool.Pool
	store    *oob.OOB
	selector *victim.Selector
	data     *cleaner.DataBlockCleaner
	trans    *cleaner.TransBlockCleaner
	decider  *Decider
	rec      *recorder.Recorder
}

// NewCollector wires a Collector over the shared collaborators.
func NewCollector(pool *blockpool.Pool, store *oob.OOB, sel *victim.Selector, data *cleaner.DataBlockCleaner, trans *cleaner.TransBlockCleaner, decider *Decider, rec *recorder.Recorder) *Collector {
	return &Collector{pool: pool, store: store, selector: sel, data: data, trans: trans, decider: decider, rec: rec}
}

// Run drives GC rounds until the Decider says to stop. It is the facade's
// opportunistic hook, called after every host operation per spec.md §2.
func (c *Collector) Run(ctx context.Context) error {
	c.decider.Refresh()
	total := c.pool.FreeCount() + c.pool.UsedCount()
	for c.decider.NeedCleaning(c.pool.UsedCount(), total) {
		cands := c.selector.Build()
		if len(cands) == 0 {
			return nil // nothing left to reclaim in this round
		}
		victimBlock := cands[0].Block
		if err := c.cleanOne(ctx, victimBlock); err != nil {
			return err
		}
		if c.rec != nil {
			c.rec.ObserveGCRound()
		}
	}
	return nil
}

// cleanOne dispatches to the data or translation cleaner depending on
// which used-block set currently holds victimBlock.
func (c *Collector) cleanOne(ctx context.Context, block ftl.BlockID) error {
	for _, b := range c.pool.UsedBlocks() {
		if b != block {
			continue
		}
		if c.isTransBlock(block) {
			return c.trans.Clean(ctx, block)
		}
		return c.data.Clean(ctx, block)
	}
	return ftl.Wrap("gc.Collector.cleanOne", fmt.Errorf("%w: block %d is not used", ftl.ErrInvariantViolation, block))
}

// isTransBlock reports the block's purpose by asking the pool which
// used list contains it.
func (c *Collector) isTransBlock(block ftl.BlockID) bool {
	return c.pool.IsTransBlock(block)
}
