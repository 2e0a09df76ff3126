// Package recorder is the statistics sink of spec.md §1 (out of core
// scope, consumed as a collaborator). It replaces the Python source's
// module-level timeline singleton (see Design Note "Global timeline
// singleton" in SPEC_FULL.md) with a handle passed by reference into every
// component that wants to record something.
//
// The plain counters mirror the teacher's atomic stats struct
// (server/innodb/manager/buffer_pool_manager.go's stats block,
// server/innodb/buffer_pool/stats.go); they are mirrored into Prometheus
// counters so cmd/ftlsim can optionally serve them over
// /metrics, the way talyz/systemd_exporter exposes its collected state.
package recorder

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhukovaskychina/dftlsim/ftl"
)

// Recorder accumulates simulation statistics. Nil-safe: every component
// that takes a *Recorder treats a nil pointer as "no recording".
type Recorder struct {
	pageOps    [2]uint64 // indexed by ftl.Op: reads, writes
	erases     uint64
	cacheHits  uint64
	cacheMiss  uint64
	evictions  uint64
	gcRounds   uint64
	tagCounts  map[ftl.Tag]*uint64

	promPageOps   *prometheus.CounterVec
	promErases    prometheus.Counter
	promCacheHits prometheus.Counter
	promCacheMiss prometheus.Counter
	promEvictions prometheus.Counter
	promGCRounds  prometheus.Counter
}

// New builds a Recorder. If reg is non-nil, its Prometheus metrics are
// registered on reg so the driver can serve them over /metrics; pass nil
// to skip Prometheus entirely and only keep the plain counters tests read.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		tagCounts: make(map[ftl.Tag]*uint64),
	}
	for _, t := range []ftl.Tag{ftl.TagDataUser, ftl.TagDataCleaning, ftl.TagTransCache, ftl.TagTransClean, ftl.TagTransUpdateForDataGC} {
		v := uint64(0)
		r.tagCounts[t] = &v
	}

	r.promPageOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dftlsim",
		Name:      "flash_page_ops_total",
		Help:      "Simulated flash page operations by tag and direction.",
	}, []string{"tag", "op"})
	r.promErases = prometheus.NewCounter(prometheus.CounterOpts{Namespace: "dftlsim", Name: "flash_erases_total", Help: "Simulated block erases."})
	r.promCacheHits = prometheus.NewCounter(prometheus.CounterOpts{Namespace: "dftlsim", Name: "cmt_hits_total", Help: "CMT lookups resolved without a flash fill."})
	r.promCacheMiss = prometheus.NewCounter(prometheus.CounterOpts{Namespace: "dftlsim", Name: "cmt_misses_total", Help: "CMT lookups that required a translation-page fill."})
	r.promEvictions = prometheus.NewCounter(prometheus.CounterOpts{Namespace: "dftlsim", Name: "cmt_evictions_total", Help: "CMT rows evicted."})
	r.promGCRounds = prometheus.NewCounter(prometheus.CounterOpts{Namespace: "dftlsim", Name: "gc_rounds_total", Help: "Garbage collection rounds run."})

	if reg != nil {
		reg.MustRegister(r.promPageOps, r.promErases, r.promCacheHits, r.promCacheMiss, r.promEvictions, r.promGCRounds)
	}
	return r
}

func (r *Recorder) ObservePageOp(tag ftl.Tag, op ftl.Op) {
	if r == nil {
		return
	}
	atomic.AddUint64(&r.pageOps[op], 1)
	if c, ok := r.tagCounts[tag]; ok {
		atomic.AddUint64(c, 1)
	}
	opName := "read"
	if op == ftl.OpWrite {
		opName = "write"
	}
	r.promPageOps.WithLabelValues(tag.String(), opName).Inc()
}

func (r *Recorder) ObserveErase(tag ftl.Tag) {
	if r == nil {
		return
	}
	atomic.AddUint64(&r.erases, 1)
	r.promErases.Inc()
}

func (r *Recorder) ObserveCacheHit() {
	if r == nil {
		return
	}
	atomic.AddUint64(&r.cacheHits, 1)
	r.promCacheHits.Inc()
}

func (r *Recorder) ObserveCacheMiss() {
	if r == nil {
		return
	}
	atomic.AddUint64(&r.cacheMiss, 1)
	r.promCacheMiss.Inc()
}

func (r *Recorder) ObserveEviction() {
	if r == nil {
		return
	}
	atomic.AddUint64(&r.evictions, 1)
	r.promEvictions.Inc()
}

func (r *Recorder) ObserveGCRound() {
	if r == nil {
		return
	}
	atomic.AddUint64(&r.gcRounds, 1)
	r.promGCRounds.Inc()
}

// Snapshot is a point-in-time, test-friendly read of the plain counters.
type Snapshot struct {
	Reads, Writes, Erases           uint64
	CacheHits, CacheMisses          uint64
	Evictions, GCRounds             uint64
	TransPageProgramCount           uint64
}

func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		Reads:                 atomic.LoadUint64(&r.pageOps[ftl.OpRead]),
		Writes:                atomic.LoadUint64(&r.pageOps[ftl.OpWrite]),
		Erases:                atomic.LoadUint64(&r.erases),
		CacheHits:             atomic.LoadUint64(&r.cacheHits),
		CacheMisses:           atomic.LoadUint64(&r.cacheMiss),
		Evictions:             atomic.LoadUint64(&r.evictions),
		GCRounds:              atomic.LoadUint64(&r.gcRounds),
		TransPageProgramCount: atomic.LoadUint64(r.tagCounts[ftl.TagTransClean]),
	}
}
