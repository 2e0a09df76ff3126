// Package vpnpool implements the VpnResourcePool of spec.md §4.9/§5: a
// per-m_vpn mutual-exclusion token so all suspending operations touching a
// given translation page are serialized FIFO, while distinct m_vpns never
// block each other.
//
// It generalizes the teacher's single Latch (a named wrapper around
// sync.RWMutex, server/innodb/latch/latch.go) into a map of per-key
// latches with reference counting, so idle tokens do not accumulate for
// the lifetime of the simulation.
package vpnpool

import (
	"context"
	"sync"

	"github.com/zhukovaskychina/dftlsim/ftl"
)

type token struct {
	ch   chan struct{} // capacity 1; held == empty
	refs int
}

// Pool hands out FIFO mutual-exclusion tokens keyed by m_vpn.
type Pool struct {
	mu     sync.Mutex
	tokens map[ftl.MVPN]*token
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{tokens: make(map[ftl.MVPN]*token)}
}

// Acquire blocks until the token for mvpn is held exclusively by the
// caller, or ctx is canceled. Release must be called exactly once with the
// same mvpn to hand the token back.
func (p *Pool) Acquire(ctx context.Context, mvpn ftl.MVPN) error {
	p.mu.Lock()
	t, ok := p.tokens[mvpn]
	if !ok {
		t = &token{ch: make(chan struct{}, 1)}
		t.ch <- struct{}{}
		p.tokens[mvpn] = t
	}
	t.refs++
	p.mu.Unlock()

	select {
	case <-t.ch:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		t.refs--
		p.maybeEvict(mvpn, t)
		p.mu.Unlock()
		return ctx.Err()
	}
}

// Release returns the token for mvpn, waking the oldest waiter if any.
func (p *Pool) Release(mvpn ftl.MVPN) {
	p.mu.Lock()
	t, ok := p.tokens[mvpn]
	if !ok {
		p.mu.Unlock()
		return
	}
	t.refs--
	p.maybeEvict(mvpn, t)
	p.mu.Unlock()
	t.ch <- struct{}{}
}

// maybeEvict drops the map entry once nobody holds or waits for it. Must be
// called with p.mu held.
func (p *Pool) maybeEvict(mvpn ftl.MVPN, t *token) {
	if t.refs <= 0 {
		delete(p.tokens, mvpn)
	}
}

// Held reports whether mvpn's token is currently checked out by anyone —
// used by the CMT evictor to skip m_vpns that are mid-load or mid-eviction
// elsewhere, per the deadlock-avoidance rule of spec.md §4.5/§5.
func (p *Pool) Held(mvpn ftl.MVPN) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tokens[mvpn]
	if !ok {
		return false
	}
	select {
	case v := <-t.ch:
		t.ch <- v
		return false
	default:
		return true
	}
}
