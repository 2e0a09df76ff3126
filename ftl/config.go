package ftl

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Config is the configuration surface of spec.md §6, loaded from an .ini
// file the way the teacher's server config loads its listener settings.
type Config struct {
	PagesPerBlock       uint64
	BlocksPerDev        uint64
	PageSize            uint64
	SectorSize          uint64
	EntriesPerTransPage uint64
	CacheEntryBytes     uint64
	MappingCacheBytes   uint64
	OverProvisioning    float64
	GCThresholdRatio    float64 // H
	GCLowThresholdRatio float64 // L
}

// DevicePageCount is blocks_per_dev * pages_per_block, the lpn address
// space size.
func (c Config) DevicePageCount() uint64 { return c.BlocksPerDev * c.PagesPerBlock }

// CacheCapacity is the CMT row budget implied by MappingCacheBytes /
// CacheEntryBytes, spec.md §4.5.
func (c Config) CacheCapacity() uint64 {
	if c.CacheEntryBytes == 0 {
		return 0
	}
	return c.MappingCacheBytes / c.CacheEntryBytes
}

// Validate enforces the construction-time invariants of spec.md §4.5 and
// §4.8: capacity must hold at least one full translation page, and the
// clamped high watermark must leave at least 32 spare blocks.
func (c Config) Validate() error {
	if c.EntriesPerTransPage == 0 || c.PagesPerBlock == 0 || c.BlocksPerDev == 0 {
		return Wrap("ftl.Config.Validate", fmt.Errorf("%w: pages_per_block, blocks_per_dev and entries_per_trans_page must be positive", ErrInsufficientSpare))
	}
	if c.CacheCapacity() < c.EntriesPerTransPage {
		return Wrap("ftl.Config.Validate", fmt.Errorf("%w: cache capacity %d below entries_per_trans_page %d", ErrInsufficientSpare, c.CacheCapacity(), c.EntriesPerTransPage))
	}
	h := c.ClampedHigh()
	if (1-h)*float64(c.BlocksPerDev) < 32 {
		return Wrap("ftl.Config.Validate", fmt.Errorf("%w: (1-H)*blocks = %.2f < 32", ErrInsufficientSpare, (1-h)*float64(c.BlocksPerDev)))
	}
	return nil
}

// ClampedHigh is H clamped to max(H, 1/over_provisioning), spec.md §4.8.
func (c Config) ClampedHigh() float64 {
	if c.OverProvisioning <= 0 {
		return c.GCThresholdRatio
	}
	floor := 1 / c.OverProvisioning
	if c.GCThresholdRatio > floor {
		return c.GCThresholdRatio
	}
	return floor
}

// ClampedLow is L clamped to max(L, 0.8/over_provisioning), spec.md §4.8.
func (c Config) ClampedLow() float64 {
	if c.OverProvisioning <= 0 {
		return c.GCLowThresholdRatio
	}
	floor := 0.8 / c.OverProvisioning
	if c.GCLowThresholdRatio > floor {
		return c.GCLowThresholdRatio
	}
	return floor
}

// LoadConfig reads an .ini file shaped like:
//
//	[ftl]
//	pages_per_block = 4
//	blocks_per_dev = 16
//	...
func LoadConfig(path string) (Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return Config{}, Wrap("ftl.LoadConfig", err)
	}
	sec := f.Section("ftl")
	get := func(key string, def uint64) uint64 {
		return sec.Key(key).MustUint64(def)
	}
	getf := func(key string, def float64) float64 {
		return sec.Key(key).MustFloat64(def)
	}
	cfg := Config{
		PagesPerBlock:       get("pages_per_block", 256),
		BlocksPerDev:        get("blocks_per_dev", 4096),
		PageSize:            get("page_size", 4096),
		SectorSize:          get("sector_size", 512),
		EntriesPerTransPage: get("entries_per_trans_page", 512),
		CacheEntryBytes:     get("cache_entry_bytes", 8),
		MappingCacheBytes:   get("mapping_cache_bytes", 8*1024*1024),
		OverProvisioning:    getf("over_provisioning", 1.28),
		GCThresholdRatio:    getf("gc_threshold_ratio", 0.95),
		GCLowThresholdRatio: getf("gc_low_threshold_ratio", 0.9),
	}
	return cfg, nil
}
