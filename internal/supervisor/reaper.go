package supervisor

import (
	"time"

	"github.com/hollowcrest/annocache/internal/clustercache"
	"github.com/hollowcrest/annocache/internal/obslog"
)

// TTLReaper actively sweeps every worker's cache for TTL-expired entries on
// an interval, rather than relying solely on the lazy expiry check inside
// WorkerCache.Get (spec §4.B). Grounded on the teacher's HealthMonitor: a
// ticking background goroutine gated by a stop channel, with a recovered
// panic logged instead of taking the process down.
type TTLReaper struct {
	cluster  *clustercache.Cluster
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewTTLReaper starts a reaper sweeping cluster on interval.
func NewTTLReaper(cluster *clustercache.Cluster, interval time.Duration) *TTLReaper {
	r := &TTLReaper{
		cluster:  cluster,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *TTLReaper) Name() string { return "ttl-reaper" }

func (r *TTLReaper) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweepOnce()
		case <-r.stopCh:
			return
		}
	}
}

func (r *TTLReaper) sweepOnce() {
	defer func() {
		if rec := recover(); rec != nil {
			obslog.WithComponent("supervisor").Error().Interface("panic", rec).Msg("ttl reaper recovered")
		}
	}()
	for i := 0; i < r.cluster.WorkerCount(); i++ {
		worker := r.cluster.Worker(i)
		ttl := worker.Stats().TTL
		for _, entry := range worker.Entries() {
			if entry.Age > ttl {
				worker.Delete(entry.Key)
			}
		}
	}
}

// Stop halts the reaper and waits for its goroutine to exit.
func (r *TTLReaper) Stop() {
	close(r.stopCh)
	<-r.doneCh
}
