// Package oob implements the per-page state bitmap and the out-of-band
// reverse-map/timestamp store of spec.md §4.1.
package oob

import (
	"fmt"
	"sync"

	"github.com/zhukovaskychina/dftlsim/ftl"
)

// Bitmap packs two bits per page (ERASED/VALID/INVALID) into a byte slice,
// the same "small fixed-width field per page" shape the storage layer this
// simulator is grounded on uses for its page-state enum, but bit-packed
// directly instead of through a string-based bit codec: there is no parser
// or on-wire format to share a helper with here, just an array of 2-bit
// counters. Pages sharing a byte can be touched by different goroutines at
// once (the facade fans sub-extents spanning different m_vpns out in
// parallel), so every access goes through mu rather than relying on each
// page's bits being independent.
type Bitmap struct {
	mu            sync.RWMutex
	pagesPerBlock uint64
	bits          []byte
}

const bitsPerPage = 2

// NewBitmap allocates a bitmap for totalPages pages, pagesPerBlock pages
// per block, all pages starting ERASED.
func NewBitmap(totalPages, pagesPerBlock uint64) *Bitmap {
	nbytes := (totalPages*bitsPerPage + 7) / 8
	return &Bitmap{
		pagesPerBlock: pagesPerBlock,
		bits:          make([]byte, nbytes),
	}
}

func (b *Bitmap) get(ppn ftl.PPN) ftl.PageState {
	idx := uint64(ppn) * bitsPerPage
	byteIdx, bitOff := idx/8, idx%8
	v := (b.bits[byteIdx] >> bitOff) & 0x3
	return ftl.PageState(v)
}

func (b *Bitmap) set(ppn ftl.PPN, s ftl.PageState) {
	idx := uint64(ppn) * bitsPerPage
	byteIdx, bitOff := idx/8, idx%8
	b.bits[byteIdx] &^= 0x3 << bitOff
	b.bits[byteIdx] |= byte(s) << bitOff
}

// State returns the current state of ppn.
func (b *Bitmap) State(ppn ftl.PPN) ftl.PageState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.get(ppn)
}

// Validate transitions ppn ERASED -> VALID. Any other starting state is a
// programming error.
func (b *Bitmap) Validate(ppn ftl.PPN) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur := b.get(ppn); cur != ftl.Erased {
		return ftl.Wrap("oob.Bitmap.Validate", fmt.Errorf("%w: ppn %d is %s, want ERASED", ftl.ErrInvariantViolation, ppn, cur))
	}
	b.set(ppn, ftl.Valid)
	return nil
}

// Invalidate transitions ppn VALID -> INVALID.
func (b *Bitmap) Invalidate(ppn ftl.PPN) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur := b.get(ppn); cur != ftl.Valid {
		return ftl.Wrap("oob.Bitmap.Invalidate", fmt.Errorf("%w: ppn %d is %s, want VALID", ftl.ErrInvariantViolation, ppn, cur))
	}
	b.set(ppn, ftl.Invalid)
	return nil
}

// EraseBlock resets every page of block to ERASED.
func (b *Bitmap) EraseBlock(block ftl.BlockID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	first := uint64(block) * b.pagesPerBlock
	for p := first; p < first+b.pagesPerBlock; p++ {
		b.set(ftl.PPN(p), ftl.Erased)
	}
}

// BlockValidRatio is valid_pages_in_block / pages_per_block.
func (b *Bitmap) BlockValidRatio(block ftl.BlockID) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	first := uint64(block) * b.pagesPerBlock
	valid := 0
	for p := first; p < first+b.pagesPerBlock; p++ {
		if b.get(ftl.PPN(p)) == ftl.Valid {
			valid++
		}
	}
	return float64(valid) / float64(b.pagesPerBlock)
}

// BlockOf returns the block a ppn belongs to.
func (b *Bitmap) BlockOf(ppn ftl.PPN) ftl.BlockID {
	return ftl.BlockID(uint64(ppn) / b.pagesPerBlock)
}
