// Package clustercache implements the per-worker LRU cache and its
// cluster-wide replication (spec §4.B): a map overlaid with a doubly linked
// list for O(1) LRU ordering, TTL expiry, byte/length caps enforced on
// every Set, and statistics shared across workers via atomic counters and a
// periodic hit/miss sync.
package clustercache

import (
	"container/list"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hollowcrest/annocache/internal/obsmetrics"
)

// namespaceOf returns the portion of a cache key before its first ':',
// used only to label hit/miss metrics; malformed keys label as "unknown".
func namespaceOf(key string) string {
	if idx := strings.IndexByte(key, ':'); idx != -1 {
		return key[:idx]
	}
	return "unknown"
}

// Entry is one cached response: the exact payload previously served.
type Entry struct {
	Key          string
	Value        interface{}
	InsertedAt   time.Time
	LastAccessed time.Time
	Hits         int64
}

// Stats mirrors the contract in §4.B: sets/evictions/invalidations are
// cluster-wide atomic counters; hits/misses are this worker's locally
// accumulated counters (periodically synced into the cluster aggregate).
type Stats struct {
	Hits          int64
	Misses        int64
	Sets          int64
	Evictions     int64
	Invalidations int64
	Length        int
	Bytes         int64
	TTL           time.Duration
	MaxLength     int
	MaxBytes      int64
	HitRate       float64
}

// EntrySnapshot describes one entry for the cache/stats?details=true
// response, ordered MRU→LRU.
type EntrySnapshot struct {
	Position int
	Key      string
	Age      time.Duration
	Hits     int64
	Length   int
	Bytes    int64
}

// shared holds the cluster-wide atomic counters and limit configuration a
// WorkerCache references; every worker in a Cluster shares one instance.
type shared struct {
	sets          int64
	evictions     int64
	invalidations int64

	maxLength int
	maxBytes  int64
	ttl       time.Duration
}

// WorkerCache is one worker's cache replica: its own map + LRU list, local
// hit/miss counters, wired to a Broker so its mutations reach every other
// worker and it applies theirs in turn.
type WorkerCache struct {
	id       int
	mu       sync.Mutex
	items    map[string]*list.Element // value *Entry
	order    *list.List
	bytes    int64
	localHits   int64
	localMisses int64

	shared *shared
	broker *Broker
	sub    Subscriber

	stopCh chan struct{}
	doneCh chan struct{}
}

func newWorkerCache(id int, s *shared, broker *Broker) *WorkerCache {
	wc := &WorkerCache{
		id:     id,
		items:  make(map[string]*list.Element),
		order:  list.New(),
		shared: s,
		broker: broker,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	wc.sub = broker.Subscribe()
	go wc.applyLoop()
	return wc
}

func (w *WorkerCache) applyLoop() {
	defer close(w.doneCh)
	for {
		select {
		case op, ok := <-w.sub:
			if !ok {
				return
			}
			if op.Origin == w.id {
				continue
			}
			w.applyRemote(op)
		case <-w.stopCh:
			return
		}
	}
}

func (w *WorkerCache) applyRemote(op Op) {
	switch op.Kind {
	case OpSet:
		w.applyLocalSet(op.Key, op.Value)
	case OpDelete:
		w.applyLocalDelete(op.Key)
	case OpClear:
		w.applyLocalClear()
	}
}

// stop detaches this worker from the broker. Used only when shutting a
// worker group down; not part of the spec's read/write contract.
func (w *WorkerCache) stop() {
	close(w.stopCh)
	w.broker.Unsubscribe(w.sub)
	<-w.doneCh
}

func sizeOf(key string, value interface{}) int64 {
	n := len(key)
	if b, err := json.Marshal(value); err == nil {
		n += len(b)
	}
	return int64(n)
}

// Get returns the cached value for key, promoting it to MRU. A lazily
// expired entry (older than TTL) is deleted and broadcast, and Get behaves
// as a miss — testable property 4.
func (w *WorkerCache) Get(key string) (interface{}, bool) {
	w.mu.Lock()
	el, ok := w.items[key]
	if !ok {
		w.mu.Unlock()
		atomic.AddInt64(&w.localMisses, 1)
		obsmetrics.CacheMissesTotal.WithLabelValues(namespaceOf(key)).Inc()
		return nil, false
	}
	entry := el.Value.(*Entry)
	if time.Since(entry.InsertedAt) > w.shared.ttl {
		w.removeElementLocked(el)
		w.mu.Unlock()
		atomic.AddInt64(&w.shared.evictions, 1)
		obsmetrics.CacheEvictionsTotal.WithLabelValues("ttl").Inc()
		w.broker.Publish(Op{Kind: OpDelete, Key: key, Origin: w.id})
		atomic.AddInt64(&w.localMisses, 1)
		obsmetrics.CacheMissesTotal.WithLabelValues(namespaceOf(key)).Inc()
		w.updateGauges()
		return nil, false
	}
	entry.Hits++
	entry.LastAccessed = time.Now()
	w.order.MoveToFront(el)
	value := entry.Value
	w.mu.Unlock()
	atomic.AddInt64(&w.localHits, 1)
	obsmetrics.CacheHitsTotal.WithLabelValues(namespaceOf(key)).Inc()
	return value, true
}

// Set creates or replaces an entry, then evicts LRU-tail entries until both
// the length and byte caps hold (testable property 2), then broadcasts the
// mutation to the rest of the cluster.
func (w *WorkerCache) Set(key string, value interface{}) {
	w.mu.Lock()
	w.applyLocalSetLocked(key, value)
	w.enforceLimitsLocked()
	w.mu.Unlock()
	atomic.AddInt64(&w.shared.sets, 1)
	obsmetrics.CacheSetsTotal.Inc()
	w.updateGauges()
	w.broker.Publish(Op{Kind: OpSet, Key: key, Value: value, Origin: w.id})
}

// Delete removes an entry locally and broadcasts the removal. Its callers
// are the invalidation engine and the supervisor's TTL reaper; every Delete,
// including a reaper sweep, is counted under the "invalidation" eviction
// reason.
func (w *WorkerCache) Delete(key string) {
	w.mu.Lock()
	w.applyLocalDeleteLocked(key)
	w.mu.Unlock()
	obsmetrics.CacheEvictionsTotal.WithLabelValues("invalidation").Inc()
	w.updateGauges()
	w.broker.Publish(Op{Kind: OpDelete, Key: key, Origin: w.id})
}

// Clear drops every local entry and broadcasts a cluster-wide clear.
func (w *WorkerCache) Clear() {
	w.mu.Lock()
	w.items = make(map[string]*list.Element)
	w.order = list.New()
	w.bytes = 0
	w.mu.Unlock()
	w.updateGauges()
	w.broker.Publish(Op{Kind: OpClear, Origin: w.id})
}

// updateGauges refreshes this worker's length/bytes gauges. Cheap enough
// to call after every mutation; avoids a separate polling goroutine.
func (w *WorkerCache) updateGauges() {
	w.mu.Lock()
	length := float64(w.order.Len())
	bytes := float64(w.bytes)
	w.mu.Unlock()
	label := strconv.Itoa(w.id)
	obsmetrics.CacheLength.WithLabelValues(label).Set(length)
	obsmetrics.CacheBytes.WithLabelValues(label).Set(bytes)
}

// Keys returns a snapshot of the current local key set, used by the
// invalidation engine to bound its iteration to one call (§4.C step 1).
func (w *WorkerCache) Keys() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	keys := make([]string, 0, len(w.items))
	for k := range w.items {
		keys = append(keys, k)
	}
	return keys
}

// Stats returns this worker's local view combined with the cluster-wide
// atomic counters.
func (w *WorkerCache) Stats() Stats {
	w.mu.Lock()
	length := w.order.Len()
	bytes := w.bytes
	w.mu.Unlock()

	hits := atomic.LoadInt64(&w.localHits)
	misses := atomic.LoadInt64(&w.localMisses)
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:          hits,
		Misses:        misses,
		Sets:          atomic.LoadInt64(&w.shared.sets),
		Evictions:     atomic.LoadInt64(&w.shared.evictions),
		Invalidations: atomic.LoadInt64(&w.shared.invalidations),
		Length:        length,
		Bytes:         bytes,
		TTL:           w.shared.ttl,
		MaxLength:     w.shared.maxLength,
		MaxBytes:      w.shared.maxBytes,
		HitRate:       hitRate,
	}
}

// Entries returns a MRU→LRU snapshot for the cache/stats?details=true
// response.
func (w *WorkerCache) Entries() []EntrySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]EntrySnapshot, 0, w.order.Len())
	pos := 0
	for el := w.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		out = append(out, EntrySnapshot{
			Position: pos,
			Key:      e.Key,
			Age:      time.Since(e.InsertedAt),
			Hits:     e.Hits,
			Length:   w.order.Len(),
			Bytes:    sizeOf(e.Key, e.Value),
		})
		pos++
	}
	return out
}

func (w *WorkerCache) applyLocalSet(key string, value interface{}) {
	w.mu.Lock()
	w.applyLocalSetLocked(key, value)
	w.enforceLimitsLocked()
	w.mu.Unlock()
	w.updateGauges()
}

func (w *WorkerCache) applyLocalSetLocked(key string, value interface{}) {
	if el, ok := w.items[key]; ok {
		entry := el.Value.(*Entry)
		w.bytes -= sizeOf(key, entry.Value)
		entry.Value = value
		entry.InsertedAt = time.Now()
		entry.LastAccessed = entry.InsertedAt
		w.bytes += sizeOf(key, value)
		w.order.MoveToFront(el)
		return
	}
	entry := &Entry{Key: key, Value: value, InsertedAt: time.Now(), LastAccessed: time.Now()}
	el := w.order.PushFront(entry)
	w.items[key] = el
	w.bytes += sizeOf(key, value)
}

func (w *WorkerCache) applyLocalDelete(key string) {
	w.mu.Lock()
	w.applyLocalDeleteLocked(key)
	w.mu.Unlock()
	w.updateGauges()
}

func (w *WorkerCache) applyLocalDeleteLocked(key string) {
	if el, ok := w.items[key]; ok {
		w.removeElementLocked(el)
	}
}

func (w *WorkerCache) applyLocalClear() {
	w.mu.Lock()
	w.items = make(map[string]*list.Element)
	w.order = list.New()
	w.bytes = 0
	w.mu.Unlock()
	w.updateGauges()
}

func (w *WorkerCache) removeElementLocked(el *list.Element) {
	entry := el.Value.(*Entry)
	w.bytes -= sizeOf(entry.Key, entry.Value)
	delete(w.items, entry.Key)
	w.order.Remove(el)
}

// enforceLimitsLocked evicts LRU-tail entries until both caps hold. Caller
// must hold w.mu.
func (w *WorkerCache) enforceLimitsLocked() {
	for w.order.Len() > w.shared.maxLength || w.bytes > w.shared.maxBytes {
		tail := w.order.Back()
		if tail == nil {
			break
		}
		entry := tail.Value.(*Entry)
		w.removeElementLocked(tail)
		atomic.AddInt64(&w.shared.evictions, 1)
		obsmetrics.CacheEvictionsTotal.WithLabelValues("lru").Inc()
		w.broker.Publish(Op{Kind: OpDelete, Key: entry.Key, Origin: w.id})
	}
}
