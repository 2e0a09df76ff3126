// Package pagestore is the simulated medium's actual page content, kept
// separate from flashsim's timing model and oob's state/reverse-map
// metadata: spec.md's Ownership rule gives OOB the page state and reverse
// map only, never the bytes a host wrote. It is the direct analogue of the
// teacher's BufferBlock (server/innodb/buffer_pool/buffer_page.go), which
// holds a page's bytes behind the buffer pool's LRU — here keyed by
// physical page number instead of (space, page) since this simulator has
// no tablespace concept.
//
// Content is tracked at one byte per page: the functional test properties
// of spec.md §8 (read-after-write, read-after-discard) only need a
// distinguishable per-page value, not a full page-sized buffer.
package pagestore

import (
	"sync"

	"github.com/zhukovaskychina/dftlsim/ftl"
)

// Store is a nil-safe physical-page content table.
type Store struct {
	mu   sync.RWMutex
	data map[ftl.PPN]byte
}

// New returns an empty store.
func New() *Store {
	return &Store{data: make(map[ftl.PPN]byte)}
}

// Write records b as ppn's content.
func (s *Store) Write(ppn ftl.PPN, b byte) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[ppn] = b
}

// Read returns ppn's content, if any has ever been written.
func (s *Store) Read(ppn ftl.PPN) (byte, bool) {
	if s == nil {
		return 0, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[ppn]
	return b, ok
}

// Move carries old's content forward to newPpn, as a GC relocation or a
// write-back's translation-page copy does to its physical page. A no-op
// if old never had content (nothing to carry).
func (s *Store) Move(old, newPpn ftl.PPN) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.data[old]; ok {
		s.data[newPpn] = b
	}
	delete(s.data, old)
}
