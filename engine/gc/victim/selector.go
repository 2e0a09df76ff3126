// Package victim implements the VictimSelector of spec.md §4.6: a
// per-round benefit/cost ranking of used blocks, grounded on the
// minHeap/container-heap pattern of other_examples' aistore lru.go (there
// ranking objects by atime for space reclaim, here ranking blocks by
// benefit/cost for the same reason).
package victim

import (
	"container/heap"
	"time"

	"github.com/zhukovaskychina/dftlsim/engine/blockpool"
	"github.com/zhukovaskychina/dftlsim/engine/oob"
	"github.com/zhukovaskychina/dftlsim/ftl"
)

// Candidate is one yielded victim: either immediately erasable (Immediate,
// u==0) or ranked by BenefitCost (0 < u < 1).
type Candidate struct {
	Block       ftl.BlockID
	Immediate   bool
	ValidRatio  float64
	BenefitCost float64
}

// Selector ranks a pool's used blocks for one GC round. It holds no state
// across rounds; Build is called fresh every round per spec.md §4.6's
// implementation note.
type Selector struct {
	pool *blockpool.Pool
	oob  *oob.OOB
	now  func() time.Time
}

// New builds a Selector over pool/store. now defaults to time.Now; tests
// may override it for deterministic ages.
func New(pool *blockpool.Pool, store *oob.OOB, now func() time.Time) *Selector {
	if now == nil {
		now = time.Now
	}
	return &Selector{pool: pool, oob: store, now: now}
}

// Build ranks every used, non-cursor block: u==0 blocks are reported
// first (Immediate, in ascending block id order since they're equally
// free to reclaim), then the remainder in descending benefit/cost,
// ties broken by ascending block id. u==1 blocks are skipped entirely.
func (s *Selector) Build() []Candidate {
	var immediate []Candidate
	h := &rankedHeap{}
	heap.Init(h)

	for _, b := range s.pool.UsedBlocks() {
		if s.pool.IsCursorBlock(b) {
			continue
		}
		u := s.oob.Bitmap.BlockValidRatio(b)
		switch {
		case u == 0:
			immediate = append(immediate, Candidate{Block: b, Immediate: true, ValidRatio: 0})
		case u == 1:
			continue
		default:
			age := s.ageOf(b)
			bc := float64(age) * (1 - u) / (2 * u)
			heap.Push(h, Candidate{Block: b, ValidRatio: u, BenefitCost: bc})
		}
	}
	sortByBlockAsc(immediate)

	out := immediate
	for h.Len() > 0 {
		out = append(out, heap.Pop(h).(Candidate))
	}
	return out
}

func (s *Selector) ageOf(b ftl.BlockID) time.Duration {
	last, ok := s.oob.LastInvTime(b)
	if !ok {
		return 0
	}
	return s.now().Sub(last)
}

func sortByBlockAsc(c []Candidate) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].Block < c[j-1].Block; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}

// rankedHeap is a max-heap on BenefitCost, ties broken by ascending block
// id, matching spec.md §4.6's ordering exactly.
type rankedHeap []Candidate

func (h rankedHeap) Len() int { return len(h) }
func (h rankedHeap) Less(i, j int) bool {
	if h[i].BenefitCost != h[j].BenefitCost {
		return h[i].BenefitCost > h[j].BenefitCost
	}
	return h[i].Block < h[j].Block
}
func (h rankedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *rankedHeap) Push(x interface{}) {
	*h = append(*h, x.(Candidate))
}
func (h *rankedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
