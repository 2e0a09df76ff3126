// Package blockpool implements the free/used block lists and the four
// append cursors of spec.md §4.2.
package blockpool

import (
	"fmt"
	"sync"

	"github.com/zhukovaskychina/dftlsim/ftl"
)

// Pool owns the block lists and cursors exclusively; no other component
// mutates them (spec.md §3 Ownership). Ownership by one component doesn't
// mean one goroutine, though: the facade fans one extent's sub-extents out
// across goroutines that each reserve pages from the same cursors (spec.md
// §4.9), so every access goes through mu.
type Pool struct {
	mu sync.Mutex

	pagesPerBlock uint64
	blocksPerDev  uint64

	free      []ftl.BlockID
	dataUsed  map[ftl.BlockID]struct{}
	transUsed map[ftl.BlockID]struct{}

	cursors [4]cursorState
}

type cursorState struct {
	set bool
	ppn ftl.PPN
}

// New builds a pool with every block ERASED and free, in ascending id order.
func New(blocksPerDev, pagesPerBlock uint64) *Pool {
	p := &Pool{
		pagesPerBlock: pagesPerBlock,
		blocksPerDev:  blocksPerDev,
		dataUsed:      make(map[ftl.BlockID]struct{}),
		transUsed:     make(map[ftl.BlockID]struct{}),
	}
	for b := uint64(0); b < blocksPerDev; b++ {
		p.free = append(p.free, ftl.BlockID(b))
	}
	return p
}

// PagesPerBlock reports the configured block geometry.
func (p *Pool) PagesPerBlock() uint64 { return p.pagesPerBlock }

// FreeCount reports how many blocks remain on the free list.
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// UsedBlocks returns every block currently in either used list.
func (p *Pool) UsedBlocks() []ftl.BlockID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ftl.BlockID, 0, len(p.dataUsed)+len(p.transUsed))
	for b := range p.dataUsed {
		out = append(out, b)
	}
	for b := range p.transUsed {
		out = append(out, b)
	}
	return out
}

// UsedCount is the total number of used (non-free) blocks.
func (p *Pool) UsedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dataUsed) + len(p.transUsed)
}

// IsTransBlock reports whether block is currently a used translation
// block, as opposed to a used data block — the GC collector uses this to
// pick which cleaner to dispatch a victim to.
func (p *Pool) IsTransBlock(block ftl.BlockID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.transUsed[block]
	return ok
}

// IsCursorBlock reports whether block is currently targeted by any of the
// four append cursors — such a block must never be chosen as a GC victim.
func (p *Pool) IsCursorBlock(block ftl.BlockID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isCursorBlockLocked(block)
}

func (p *Pool) isCursorBlockLocked(block ftl.BlockID) bool {
	for _, c := range p.cursors {
		if c.set && ftl.BlockID(uint64(c.ppn)/p.pagesPerBlock) == block {
			return true
		}
	}
	return false
}

// PopFreeTo pops a free block and marks it used for purpose. Returns
// ErrOutOfSpace if the free list is empty.
func (p *Pool) PopFreeTo(purpose ftl.BlockPurpose) (ftl.BlockID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.popFreeToLocked(purpose)
}

func (p *Pool) popFreeToLocked(purpose ftl.BlockPurpose) (ftl.BlockID, error) {
	if len(p.free) == 0 {
		return 0, ftl.Wrap("blockpool.PopFreeTo", ftl.ErrOutOfSpace)
	}
	b := p.free[0]
	p.free = p.free[1:]
	switch purpose {
	case ftl.Data:
		p.dataUsed[b] = struct{}{}
	case ftl.Translation:
		p.transUsed[b] = struct{}{}
	}
	return b, nil
}

// NextPage advances cursorID by one ppn, popping a fresh free block of
// purpose whenever the cursor is unset or about to cross a block boundary.
// Cursor advancement is the only way a new block becomes used.
func (p *Pool) NextPage(cursorID ftl.CursorID, purpose ftl.BlockPurpose) (ftl.PPN, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &p.cursors[cursorID]
	if !c.set {
		b, err := p.popFreeToLocked(purpose)
		if err != nil {
			return 0, err
		}
		c.set = true
		c.ppn = ftl.PPN(uint64(b) * p.pagesPerBlock)
		return c.ppn, nil
	}

	next := c.ppn + 1
	curBlock := uint64(c.ppn) / p.pagesPerBlock
	nextBlock := uint64(next) / p.pagesPerBlock
	if nextBlock != curBlock {
		b, err := p.popFreeToLocked(purpose)
		if err != nil {
			return 0, err
		}
		next = ftl.PPN(uint64(b) * p.pagesPerBlock)
	}
	c.ppn = next
	return next, nil
}

// MoveUsedToFree returns block to the free list. block must contain no
// VALID pages (checked by the caller via OOB) and must not be the head of
// any cursor.
func (p *Pool) MoveUsedToFree(block ftl.BlockID, purpose ftl.BlockPurpose, validRatio float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if validRatio != 0 {
		return ftl.Wrap("blockpool.MoveUsedToFree", fmt.Errorf("%w: block %d still has valid pages", ftl.ErrInvariantViolation, block))
	}
	if p.isCursorBlockLocked(block) {
		return ftl.Wrap("blockpool.MoveUsedToFree", fmt.Errorf("%w: block %d is a cursor head", ftl.ErrInvariantViolation, block))
	}
	switch purpose {
	case ftl.Data:
		if _, ok := p.dataUsed[block]; !ok {
			return ftl.Wrap("blockpool.MoveUsedToFree", fmt.Errorf("%w: block %d not in data_used", ftl.ErrInvariantViolation, block))
		}
		delete(p.dataUsed, block)
	case ftl.Translation:
		if _, ok := p.transUsed[block]; !ok {
			return ftl.Wrap("blockpool.MoveUsedToFree", fmt.Errorf("%w: block %d not in trans_used", ftl.ErrInvariantViolation, block))
		}
		delete(p.transUsed, block)
	}
	p.free = append(p.free, block)
	return nil
}
