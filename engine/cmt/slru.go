package cmt

import (
	"container/list"

	"github.com/zhukovaskychina/dftlsim/ftl"
)

// segment is one ring of the SLRU, generalizing the teacher's young/old
// list pair (server/innodb/buffer_pool/buffer_lru.go's evictYoungList /
// evictOldList) from caching *BufferBlock values to caching *Row pointers.
type segment struct {
	ring     *list.List
	index    map[ftl.LPN]*list.Element
	capacity uint64
}

func newSegment(capacity uint64) *segment {
	return &segment{ring: list.New(), index: make(map[ftl.LPN]*list.Element), capacity: capacity}
}

func (s *segment) len() int { return s.ring.Len() }

func (s *segment) pushFront(row *Row) { s.index[row.Lpn] = s.ring.PushFront(row) }
func (s *segment) pushBack(row *Row)  { s.index[row.Lpn] = s.ring.PushBack(row) }

func (s *segment) moveToFront(lpn ftl.LPN) {
	if e, ok := s.index[lpn]; ok {
		s.ring.MoveToFront(e)
	}
}

// detach removes lpn from the segment and returns its row, if present.
func (s *segment) detach(lpn ftl.LPN) (*Row, bool) {
	e, ok := s.index[lpn]
	if !ok {
		return nil, false
	}
	s.ring.Remove(e)
	delete(s.index, lpn)
	return e.Value.(*Row), true
}

// back is the least-recently-used row of the segment (tail), without
// removing it.
func (s *segment) back() *Row {
	e := s.ring.Back()
	if e == nil {
		return nil
	}
	return e.Value.(*Row)
}

// slru is the two-segment cache the rest of package cmt drives: a
// probationary ring new and re-admitted rows enter, and a protected ring
// rows are promoted into on a second touch, split at a fixed ratio of the
// resident capacity (spec.md §4.5's "split ratio 0.5").
type slru struct {
	protected    *segment
	probationary *segment
}

func newSLRU(capacity uint64, splitRatio float64) *slru {
	protCap := uint64(float64(capacity) * splitRatio)
	return &slru{
		protected:    newSegment(protCap),
		probationary: newSegment(capacity - protCap),
	}
}

// touch records an access to an already-resident row: a hit in protected
// just moves it to the front; a hit in probationary promotes it to
// protected's front, demoting protected's own LRU row back into
// probationary's front if that pushes protected over its share.
func (s *slru) touch(row *Row) {
	if _, ok := s.protected.index[row.Lpn]; ok {
		s.protected.moveToFront(row.Lpn)
		return
	}
	if _, ok := s.probationary.detach(row.Lpn); ok {
		s.protected.pushFront(row)
		if uint64(s.protected.len()) > s.protected.capacity && s.protected.capacity > 0 {
			demoted := s.protected.back()
			s.protected.detach(demoted.Lpn)
			s.probationary.pushFront(demoted)
		}
	}
}

// insertAsLRU admits row at the least-recently-used end of probationary —
// used by the cache fill of lookup(), which pages in whole translation
// pages' worth of entries the caller did not necessarily ask to keep hot.
func (s *slru) insertAsLRU(row *Row) { s.probationary.pushBack(row) }

// insertAsMRU admits row at the most-recently-used end of probationary —
// used by update(), whose caller just wrote through it.
func (s *slru) insertAsMRU(row *Row) { s.probationary.pushFront(row) }

// remove drops lpn from whichever segment holds it.
func (s *slru) remove(lpn ftl.LPN) {
	if _, ok := s.protected.detach(lpn); ok {
		return
	}
	s.probationary.detach(lpn)
}

// victim walks the cache from least- to most-recently-used (probationary
// tail first, then protected tail), returning the first row accept
// approves. accept returning false for every row yields nil.
func (s *slru) victim(accept func(*Row) bool) *Row {
	for e := s.probationary.ring.Back(); e != nil; e = e.Prev() {
		if row := e.Value.(*Row); accept(row) {
			return row
		}
	}
	for e := s.protected.ring.Back(); e != nil; e = e.Prev() {
		if row := e.Value.(*Row); accept(row) {
			return row
		}
	}
	return nil
}
