// Package flashsim is the FlashDevice collaborator of spec.md §6: a flash
// timing model exposing rw_ppns / rw_ppn_extent / erase_pbn_extent,
// with per-channel parallelism. The timing model itself (exact
// read/program/erase latencies, plane contention) is out of the core's
// scope per spec.md §1 — this package gives it a concrete, swappable shape
// so the core has a real collaborator to call, grounded on the teacher's
// basic.StorageProvider read/write/allocate shape
// (server/innodb/basic/storage.go). Every call blocks the calling
// goroutine until its pages are done; there is no completion queue.
package flashsim

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zhukovaskychina/dftlsim/ftl"
	"github.com/zhukovaskychina/dftlsim/recorder"
	"github.com/zhukovaskychina/dftlsim/util"
)

// Device is consumed by the core through the ftl.FlashDevice-shaped
// interface (see engine in package ftl); it owns no core state, only the
// simulated medium's channel semaphores and latency model.
type Device struct {
	cfg Config
	rec *recorder.Recorder

	chanSem []chan struct{} // one buffered-1 semaphore per channel, caps in-flight ops per channel
	clock   uint64          // logical nanosecond clock, advanced by simulated latency
}

// Config is the timing/parallelism model.
type Config struct {
	NumChannels    int
	ReadLatency    time.Duration
	ProgramLatency time.Duration
	EraseLatency   time.Duration
}

// DefaultConfig mirrors commonly-cited NAND page/block timing.
func DefaultConfig() Config {
	return Config{
		NumChannels:    8,
		ReadLatency:    25 * time.Microsecond,
		ProgramLatency: 200 * time.Microsecond,
		EraseLatency:   1500 * time.Microsecond,
	}
}

// New builds a Device; rec may be nil to disable stats recording.
func New(cfg Config, rec *recorder.Recorder) *Device {
	if cfg.NumChannels <= 0 {
		cfg.NumChannels = 1
	}
	d := &Device{cfg: cfg, rec: rec, chanSem: make([]chan struct{}, cfg.NumChannels)}
	for i := range d.chanSem {
		d.chanSem[i] = make(chan struct{}, 1)
		d.chanSem[i] <- struct{}{}
	}
	return d
}

func (d *Device) channelOf(ppn ftl.PPN) int {
	h := util.HashCode(util.Uint64Bytes(uint64(ppn)))
	return int(h % uint64(len(d.chanSem)))
}

// acquire/release model one channel's single-operation-in-flight
// constraint; the caller's goroutine parks here, the Go analogue of the
// Python source suspending a coroutine on a channel resource.
func (d *Device) acquire(ctx context.Context, ch int) error {
	select {
	case <-d.chanSem[ch]:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Device) release(ch int) { d.chanSem[ch] <- struct{}{} }

func (d *Device) advance(latency time.Duration) {
	atomic.AddUint64(&d.clock, uint64(latency))
}

func (d *Device) latencyFor(op ftl.Op) time.Duration {
	if op == ftl.OpRead {
		return d.cfg.ReadLatency
	}
	return d.cfg.ProgramLatency
}

// RWPpns issues a read or program of an arbitrary, possibly
// non-contiguous, set of physical pages, striped across channels and
// executed in parallel — the facade uses this for both the user-data path
// and translation-page fill/write-back.
func (d *Device) RWPpns(ctx context.Context, ppns []ftl.PPN, op ftl.Op, tag ftl.Tag) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range ppns {
		p := p
		ch := d.channelOf(p)
		g.Go(func() error {
			if err := d.acquire(gctx, ch); err != nil {
				return ftl.Wrap("flashsim.RWPpns", ftl.ErrIOFailure)
			}
			defer d.release(ch)
			d.advance(d.latencyFor(op))
			if d.rec != nil {
				d.rec.ObservePageOp(tag, op)
			}
			return nil
		})
	}
	return g.Wait()
}

// RWPpnExtent issues a read or program of n contiguous physical pages
// starting at ppn.
func (d *Device) RWPpnExtent(ctx context.Context, ppn ftl.PPN, n uint64, op ftl.Op, tag ftl.Tag) error {
	ppns := make([]ftl.PPN, n)
	for i := range ppns {
		ppns[i] = ppn + ftl.PPN(i)
	}
	return d.RWPpns(ctx, ppns, op, tag)
}

// ErasePbnExtent erases n contiguous blocks starting at block.
func (d *Device) ErasePbnExtent(ctx context.Context, block ftl.BlockID, n uint64, tag ftl.Tag) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := uint64(0); i < n; i++ {
		b := block + ftl.BlockID(i)
		ch := int(uint64(b) % uint64(len(d.chanSem)))
		g.Go(func() error {
			if err := d.acquire(gctx, ch); err != nil {
				return ftl.Wrap("flashsim.ErasePbnExtent", ftl.ErrIOFailure)
			}
			defer d.release(ch)
			d.advance(d.cfg.EraseLatency)
			if d.rec != nil {
				d.rec.ObserveErase(tag)
			}
			return nil
		})
	}
	return g.Wait()
}

// Now returns the simulator's logical clock, monotonically advanced by
// every completed operation's simulated latency.
func (d *Device) Now() time.Duration { return time.Duration(atomic.LoadUint64(&d.clock)) }
