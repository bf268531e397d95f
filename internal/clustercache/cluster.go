package clustercache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hollowcrest/annocache/internal/obslog"
)

// Limits configures the per-worker cache. Defaults and bounds per §4.B.
type Limits struct {
	MaxLength int
	MaxBytes  int64
	TTL       time.Duration
}

// DefaultLimits returns the spec's documented defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxLength: 1000,
		MaxBytes:  1_000_000_000,
		TTL:       24 * time.Hour,
	}
}

// Validate enforces the sane-bounds contract: maxLength < 1e8, maxBytes <
// 1e11, ttl <= 30 days, all three positive.
func (l Limits) Validate() error {
	if l.MaxLength <= 0 || l.MaxLength >= 100_000_000 {
		return fmt.Errorf("clustercache: maxLength %d out of bounds", l.MaxLength)
	}
	if l.MaxBytes <= 0 || l.MaxBytes >= 100_000_000_000 {
		return fmt.Errorf("clustercache: maxBytes %d out of bounds", l.MaxBytes)
	}
	if l.TTL <= 0 || l.TTL > 30*24*time.Hour {
		return fmt.Errorf("clustercache: ttl %s out of bounds", l.TTL)
	}
	return nil
}

// StatsSyncInterval is the periodic tick on which hits/misses are summed
// into the cluster-wide aggregate (§4.B: "synced on a periodic tick (≤5s)").
const StatsSyncInterval = 5 * time.Second

// Cluster owns the broker and every worker's cache replica. It is the
// entry point the middleware surface and invalidation engine call through
// — always against the calling worker's own WorkerCache (so "current
// worker" is just an index into Cluster.workers).
type Cluster struct {
	broker  *Broker
	shared  *shared
	workers []*WorkerCache

	aggMu         sync.RWMutex
	aggHits       int64
	aggMisses     int64
	tickerStop    chan struct{}
	tickerDone    chan struct{}
}

// New builds a Cluster with workerCount independent worker replicas wired
// to one broker.
func New(workerCount int, limits Limits) (*Cluster, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if workerCount < 1 {
		workerCount = 1
	}

	broker := NewBroker()
	broker.Start()

	s := &shared{
		maxLength: limits.MaxLength,
		maxBytes:  limits.MaxBytes,
		ttl:       limits.TTL,
	}

	c := &Cluster{
		broker:     broker,
		shared:     s,
		workers:    make([]*WorkerCache, workerCount),
		tickerStop: make(chan struct{}),
		tickerDone: make(chan struct{}),
	}
	for i := 0; i < workerCount; i++ {
		c.workers[i] = newWorkerCache(i, s, broker)
	}
	go c.syncStatsLoop()
	return c, nil
}

// Worker returns the cache replica for worker id (0-based), used by the
// middleware surface to operate against the worker handling the request.
func (c *Cluster) Worker(id int) *WorkerCache {
	return c.workers[id%len(c.workers)]
}

// WorkerCount returns the number of replicated workers.
func (c *Cluster) WorkerCount() int {
	return len(c.workers)
}

// IncrInvalidations bumps the cluster-wide invalidations counter by n,
// called by barrier.Guard and the bulk write handlers with the eviction count
// invalidate.Run returns (§4.C step 7).
func (c *Cluster) IncrInvalidations(n int) {
	atomic.AddInt64(&c.shared.invalidations, int64(n))
}

// Stats returns the cluster-aggregate view: sets/evictions/invalidations
// are always current (atomic, race-free cluster-wide); hits/misses reflect
// the last periodic sync, bounded-stale per §4.B.
func (c *Cluster) Stats() Stats {
	c.aggMu.RLock()
	hits, misses := c.aggHits, c.aggMisses
	c.aggMu.RUnlock()

	var length int
	var bytes int64
	for _, w := range c.workers {
		s := w.Stats()
		length += s.Length
		bytes += s.Bytes
	}

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:          hits,
		Misses:        misses,
		Sets:          atomic.LoadInt64(&c.shared.sets),
		Evictions:     atomic.LoadInt64(&c.shared.evictions),
		Invalidations: atomic.LoadInt64(&c.shared.invalidations),
		Length:        length,
		Bytes:         bytes,
		TTL:           c.shared.ttl,
		MaxLength:     c.shared.maxLength,
		MaxBytes:      c.shared.maxBytes,
		HitRate:       hitRate,
	}
}

func (c *Cluster) syncStatsLoop() {
	defer close(c.tickerDone)
	ticker := time.NewTicker(StatsSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.syncStatsOnce()
		case <-c.tickerStop:
			return
		}
	}
}

func (c *Cluster) syncStatsOnce() {
	var hits, misses int64
	for _, w := range c.workers {
		hits += atomic.LoadInt64(&w.localHits)
		misses += atomic.LoadInt64(&w.localMisses)
	}
	c.aggMu.Lock()
	c.aggHits, c.aggMisses = hits, misses
	c.aggMu.Unlock()
}

// Clear drops every entry cluster-wide. Any worker may issue it; Clear
// picks worker 0 as the originating replica, which is equivalent since the
// broadcast reaches every worker regardless of origin.
func (c *Cluster) Clear() {
	if len(c.workers) == 0 {
		return
	}
	c.workers[0].Clear()
}

// Close stops the stats ticker and every worker's broker subscription.
func (c *Cluster) Close() {
	close(c.tickerStop)
	<-c.tickerDone
	for _, w := range c.workers {
		w.stop()
	}
	c.broker.Stop()
	obslog.WithComponent("clustercache").Debug().Msg("cluster cache stopped")
}
