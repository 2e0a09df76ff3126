// Package host is the host-event layer feeding the FTL facade: a small
// concrete shape for the trace/generator events spec.md treats as an
// out-of-scope collaborator, grounded on ssdbox/dftldes.py's
// Event/Extent/EventIterator classes (barriers, timestamps, clean-flag)
// and on the teacher's BufferPoolManager drain-on-shutdown pattern
// (server/innodb/manager/buffer_pool_manager.go's stopChan) for Barrier.
package host

import (
	"context"
	"time"

	"github.com/zhukovaskychina/dftlsim/ftl"
)

// Operation names one of the three facade calls a host event drives.
type Operation uint8

const (
	OpRead Operation = iota
	OpWrite
	OpDiscard
)

func (o Operation) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// Extent is one host-issued event: an address range, an operation, the
// payload a write carries, and the wall-clock time it was issued.
type Extent struct {
	LpnStart  ftl.LPN
	LpnCount  uint64
	Operation Operation
	Payload   []byte
	Timestamp time.Time
}

// ToFTLExtent narrows a host.Extent down to the ftl.Extent shape the
// facade's methods accept.
func (e Extent) ToFTLExtent() ftl.Extent {
	return ftl.Extent{LpnStart: e.LpnStart, LpnCount: e.LpnCount}
}

// Event is one entry of a replay stream: either an Extent to issue, or a
// bare barrier marking a phase boundary a Driver must drain before
// continuing — the same drain semantics as the teacher's
// background-thread stop channel, applied to in-flight facade calls
// instead of ticker goroutines. The facade itself has no queue to drain
// (WriteExt/ReadExt/DiscardExt already join their sub-extents before
// returning), so for this Driver a barrier is a documented no-op rather
// than a real synchronization point; it exists so trace sources can mark
// phase boundaries without the driver special-casing them, and so a
// future queued/pipelined Driver has a place to hang real draining.
type Event struct {
	Barrier bool
	Extent  Extent
}

// ToFTLExtent narrows e.Extent down to the ftl.Extent shape the facade's
// methods accept.
func (e Event) ToFTLExtent() ftl.Extent {
	return e.Extent.ToFTLExtent()
}

// Driver replays a sequence of events against an ftl.FTL. It does not
// itself parallelize events: workload.ReadTrace/Generator decide event order
// and Driver just issues them, relying on the facade's own sub-extent
// fan-out for intra-event concurrency.
type Driver struct {
	target ftl.FTL
}

// NewDriver wires a Driver over target.
func NewDriver(target ftl.FTL) *Driver {
	return &Driver{target: target}
}

// Run issues every event in order, returning the first error encountered.
func (d *Driver) Run(ctx context.Context, events []Event) error {
	for _, e := range events {
		if e.Barrier {
			continue
		}
		if err := d.issue(ctx, e.Extent); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) issue(ctx context.Context, e Extent) error {
	fe := e.ToFTLExtent()
	switch e.Operation {
	case OpRead:
		_, err := d.target.ReadExt(ctx, fe)
		return err
	case OpWrite:
		return d.target.WriteExt(ctx, fe, e.Payload)
	case OpDiscard:
		return d.target.DiscardExt(ctx, fe)
	default:
		return nil
	}
}
