// Package barrier implements the write/response barrier (spec §4.D): the
// HTTP response for a write route is buffered, invalidation is dispatched
// asynchronously, and the buffered bytes are only flushed to the client
// once invalidation completes or a hard timeout elapses.
package barrier

import (
	"net/http"
	"time"

	"github.com/hollowcrest/annocache/internal/clustercache"
	"github.com/hollowcrest/annocache/internal/invalidate"
	"github.com/hollowcrest/annocache/internal/obslog"
	"github.com/hollowcrest/annocache/internal/obsmetrics"
)

// DefaultTimeout is T_inv, the hard deadline after which the barrier logs
// a critical error and flushes the response anyway.
const DefaultTimeout = 2 * time.Second

// Config binds a Guard call to the worker cache handling the request and
// the cluster it belongs to (for the atomic invalidations counter).
type Config struct {
	Cache   *clustercache.WorkerCache
	Cluster *clustercache.Cluster
	Timeout time.Duration
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// EventFunc is called once handler has finished writing the buffered
// response, returning the mutation event to invalidate against (or nil if
// the write failed and nothing should be invalidated).
type EventFunc func() *invalidate.Event

// Guard runs handler against a buffered response recorder, then invalidates
// the resulting event against Cache, gating the real flush to w on
// completion of that invalidation (or on Config.Timeout, whichever comes
// first). When getEvent returns nil (a failed write, or a bulk handler that
// has already run its own invalidation), Guard skips invalidation and
// flushes immediately.
func Guard(w http.ResponseWriter, cfg Config, handler func(http.ResponseWriter), getEvent EventFunc) {
	rec := newRecorder()
	handler(rec)

	done := make(chan int, 1)
	go func() {
		event := getEvent()
		if event == nil {
			done <- 0
			return
		}
		done <- invalidate.Run(cfg.Cache, *event)
	}()

	select {
	case count := <-done:
		cfg.Cluster.IncrInvalidations(count)
	case <-time.After(cfg.timeout()):
		obslog.Critical("invalidation timed out")
		obsmetrics.BarrierTimeoutsTotal.Inc()
		// The sweep already mutated the local cache map synchronously
		// inside invalidate.Run by the time the goroutine finishes; this
		// just finishes crediting the cluster-wide counter once it does.
		go func() {
			count := <-done
			cfg.Cluster.IncrInvalidations(count)
		}()
	}

	rec.flush(w)
}
