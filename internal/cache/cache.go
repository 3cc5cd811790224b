// Package cache implements the fixed-capacity sector cache described in
// spec.md §4.3: linear scan, LRU-by-access-stamp eviction, write-through
// coherence with the wire. It is grounded on original_source/fs3_cache.c
// for the scan/stamp algorithm and on calvinalkan-agent-task/cache.go for
// the shape of a small bounded Go cache struct. Metrics are exported both
// as logrus fields (log_metrics(), spec.md §4.3) and as Prometheus
// counters/gauges, grounded on runZeroInc-conniver/pkg/exporter/exporter.go's
// Describe/Collect pattern.
package cache

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const unused = -1

type entry struct {
	track, sector int
	payload       []byte
	stamp         uint64
}

// Cache is a fixed-capacity (track,sector)->payload cache. Capacity is
// immutable for its lifetime (spec.md §4.3). It is not safe for
// concurrent use: spec.md §5 specifies a single synchronous caller.
type Cache struct {
	entries []entry
	stamp   uint64

	inserts, gets, hits, misses uint64

	log logrus.FieldLogger

	mInserts prometheus.Counter
	mGets    prometheus.Counter
	mHits    prometheus.Counter
	mMisses  prometheus.Counter
	mHitRate prometheus.Gauge

	reg    prometheus.Registerer
	closed bool
}

// New constructs a cache with capacity entries. It fails if capacity is
// zero, matching fs3_cache_init's rejection of a zero-sized cache.
func New(capacity int, reg prometheus.Registerer, log logrus.FieldLogger) (*Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Cache{
		entries: make([]entry, capacity),
		log:     log.WithField("component", "cache"),
	}
	for i := range c.entries {
		c.entries[i] = entry{track: unused, sector: unused}
	}

	c.mInserts = prometheus.NewCounter(prometheus.CounterOpts{Name: "fs3drive_cache_inserts_total", Help: "Sector cache insertions."})
	c.mGets = prometheus.NewCounter(prometheus.CounterOpts{Name: "fs3drive_cache_gets_total", Help: "Sector cache lookups."})
	c.mHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "fs3drive_cache_hits_total", Help: "Sector cache hits."})
	c.mMisses = prometheus.NewCounter(prometheus.CounterOpts{Name: "fs3drive_cache_misses_total", Help: "Sector cache misses."})
	c.mHitRate = prometheus.NewGauge(prometheus.GaugeOpts{Name: "fs3drive_cache_hit_ratio", Help: "Cache hit ratio (hits/gets)."})

	if reg != nil {
		for _, m := range []prometheus.Collector{c.mInserts, c.mGets, c.mHits, c.mMisses, c.mHitRate} {
			if err := reg.Register(m); err != nil {
				return nil, fmt.Errorf("register cache metrics: %w", err)
			}
		}
		c.reg = reg
	}

	return c, nil
}

// Close releases the cache's entries and unregisters its metrics. It
// fails if the cache was already closed, mirroring fs3_cache_close's
// "fail if not initialized" check from spec.md §4.3.
func (c *Cache) Close() error {
	if c.closed {
		return fmt.Errorf("cache already closed")
	}
	c.closed = true
	c.entries = nil
	if c.reg != nil {
		for _, m := range []prometheus.Collector{c.mInserts, c.mGets, c.mHits, c.mMisses, c.mHitRate} {
			c.reg.Unregister(m)
		}
	}
	return nil
}

// Capacity returns the fixed number of entries this cache holds.
func (c *Cache) Capacity() int { return len(c.entries) }

// Get looks up (track, sector). On a hit it bumps the entry's use stamp
// and returns a copy of the cached payload with ok=true.
func (c *Cache) Get(track, sector int) (payload []byte, ok bool) {
	c.gets++
	c.mGets.Inc()

	for i := range c.entries {
		e := &c.entries[i]
		if e.track == track && e.sector == sector {
			c.stamp++
			e.stamp = c.stamp
			c.hits++
			c.mHits.Inc()
			c.updateHitRatio()
			out := make([]byte, len(e.payload))
			copy(out, e.payload)
			return out, true
		}
	}

	c.misses++
	c.mMisses.Inc()
	c.updateHitRatio()
	return nil, false
}

// Put inserts or updates the entry for (track, sector). If no matching
// entry exists and the cache is full, the entry with the smallest use
// stamp is evicted (ties broken by lowest index), per spec.md §4.3.
func (c *Cache) Put(track, sector int, payload []byte) {
	c.inserts++
	c.mInserts.Inc()
	c.stamp++

	stored := make([]byte, len(payload))
	copy(stored, payload)

	for i := range c.entries {
		e := &c.entries[i]
		if e.track == track && e.sector == sector {
			e.payload = stored
			e.stamp = c.stamp
			return
		}
	}

	victim := 0
	for i := 1; i < len(c.entries); i++ {
		if c.entries[i].stamp < c.entries[victim].stamp {
			victim = i
		}
	}
	c.entries[victim] = entry{track: track, sector: sector, payload: stored, stamp: c.stamp}
}

func (c *Cache) updateHitRatio() {
	if c.gets == 0 {
		c.mHitRate.Set(0)
		return
	}
	c.mHitRate.Set(float64(c.hits) / float64(c.gets))
}

// Metrics is a snapshot of the running counters, returned by LogMetrics
// for callers that want them without parsing a log line.
type Metrics struct {
	Inserts, Gets, Hits, Misses uint64
	HitRatioPercent             float64
}

// LogMetrics emits the running counters as a structured log line and
// returns the same snapshot, matching spec.md §4.3's log_metrics() and
// the original driver's periodic cache-stats log line.
func (c *Cache) LogMetrics() Metrics {
	var ratio float64
	if c.gets > 0 {
		ratio = float64(c.hits) / float64(c.gets) * 100
	}
	m := Metrics{Inserts: c.inserts, Gets: c.gets, Hits: c.hits, Misses: c.misses, HitRatioPercent: ratio}
	c.log.WithFields(logrus.Fields{
		"inserts":   m.Inserts,
		"gets":      m.Gets,
		"hits":      m.Hits,
		"misses":    m.Misses,
		"hit_ratio": fmt.Sprintf("%.1f%%", m.HitRatioPercent),
	}).Info("cache metrics")
	return m
}
