// Command ftlsim drives the page-mapped FTL simulator from a config file
// and either a CSV block trace or a synthetic workload pattern, then
// prints a stats summary — the same shape as the teacher's cmd/demo_*
// mains: flags, config load, component-graph build, drive, report.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhukovaskychina/dftlsim/engine/facade"
	"github.com/zhukovaskychina/dftlsim/engine/flashsim"
	"github.com/zhukovaskychina/dftlsim/ftl"
	"github.com/zhukovaskychina/dftlsim/ftllog"
	"github.com/zhukovaskychina/dftlsim/host"
	"github.com/zhukovaskychina/dftlsim/recorder"
	"github.com/zhukovaskychina/dftlsim/workload"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to an .ini config file (defaults baked in if omitted)")
		tracePath   = flag.String("trace", "", "path to a CSV block trace; if empty, a synthetic pattern is run instead")
		pattern     = flag.String("pattern", "sequential", "synthetic pattern when -trace is empty: sequential, random, hotcold")
		numEvents   = flag.Int("events", 1000, "number of synthetic events to generate when -trace is empty")
		extentSize  = flag.Uint64("extent-pages", 4, "pages per synthetic extent")
		seed        = flag.Uint64("seed", 1, "synthetic generator seed")
		metricsAddr = flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
		logLevel    = flag.String("log-level", "info", "debug|info|warn|error")
	)
	flag.Parse()

	if err := ftllog.Init(ftllog.Config{Level: *logLevel}); err != nil {
		fmt.Fprintln(os.Stderr, "initializing logger:", err)
		os.Exit(1)
	}
	log := ftllog.With("cmd.ftlsim")

	cfg := ftl.Config{
		PagesPerBlock: 256, BlocksPerDev: 4096, PageSize: 4096, SectorSize: 512,
		EntriesPerTransPage: 512, CacheEntryBytes: 8, MappingCacheBytes: 8 * 1024 * 1024,
		OverProvisioning: 1.28, GCThresholdRatio: 0.95, GCLowThresholdRatio: 0.9,
	}
	if *configPath != "" {
		loaded, err := ftl.LoadConfig(*configPath)
		if err != nil {
			log.WithError(err).Fatal("loading config")
		}
		cfg = loaded
	}

	var reg prometheus.Registerer
	if *metricsAddr != "" {
		registry := prometheus.NewRegistry()
		reg = registry
		http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			log.WithField("addr", *metricsAddr).Info("serving /metrics")
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				log.WithError(err).Error("metrics server exited")
			}
		}()
	}

	rec := recorder.New(reg)
	device := flashsim.New(flashsim.DefaultConfig(), rec)
	ftlSim, err := facade.New(cfg, device, rec, time.Now)
	if err != nil {
		log.WithError(err).Fatal("building FTL")
	}

	var events []host.Event
	if *tracePath != "" {
		f, err := os.Open(*tracePath)
		if err != nil {
			log.WithError(err).Fatal("opening trace")
		}
		defer f.Close()
		events, err = workload.ReadTrace(f, time.Now)
		if err != nil {
			log.WithError(err).Fatal("parsing trace")
		}
	} else {
		events = generateEvents(cfg, *pattern, *numEvents, *extentSize, *seed)
	}

	driver := host.NewDriver(ftlSim)
	start := time.Now()
	if err := driver.Run(context.Background(), events); err != nil {
		log.WithError(err).Fatal("replaying workload")
	}
	elapsed := time.Since(start)

	snap := rec.Snapshot()
	fmt.Printf("events=%d elapsed=%s\n", len(events), elapsed)
	fmt.Printf("flash reads=%d writes=%d erases=%d\n", snap.Reads, snap.Writes, snap.Erases)
	fmt.Printf("cmt hits=%d misses=%d hit_ratio=%.4f evictions=%d\n",
		snap.CacheHits, snap.CacheMisses, hitRatio(snap.CacheHits, snap.CacheMisses), snap.Evictions)
	fmt.Printf("gc rounds=%d\n", snap.GCRounds)
}

func hitRatio(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

func generateEvents(cfg ftl.Config, patternName string, n int, extentPages, seed uint64) []host.Event {
	var p workload.Pattern
	switch patternName {
	case "random":
		p = workload.Random
	case "hotcold":
		p = workload.HotCold
	default:
		p = workload.Sequential
	}
	gen := workload.NewGenerator(p, cfg.DevicePageCount(), extentPages, 0, 0, seed)
	now := time.Now()
	events := make([]host.Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, host.Event{Extent: gen.Next(now)})
	}
	return events
}
