// Package invalidate implements the invalidation engine (spec §4.C): given
// a mutation event, it selects and evicts every cache key whose cached
// query or search result could be affected by the write, across every
// worker cache reachable through the cluster broker.
package invalidate

import (
	"encoding/json"
	"strings"

	"github.com/hollowcrest/annocache/internal/cachekey"
	"github.com/hollowcrest/annocache/internal/clustercache"
	"github.com/hollowcrest/annocache/internal/docmodel"
	"github.com/hollowcrest/annocache/internal/obslog"
	"github.com/hollowcrest/annocache/internal/obsmetrics"
)

// Kind identifies the mutation that produced an Event.
type Kind int

const (
	KindCreate Kind = iota
	KindUpdate
	KindOverwrite
	KindDelete
)

// Event is the message the engine consumes (spec §3's "mutation event").
// Updates carry both Before and After; creates carry only After; deletes
// carry only Before.
type Event struct {
	Kind   Kind
	Before docmodel.Document
	After  docmodel.Document
}

// structuredNamespaces are the cache namespaces whose keys encode a
// predicate payload rather than a scalar parameter list.
var structuredNamespaces = map[string]bool{
	"query":        true,
	"search":       true,
	"searchPhrase": true,
}

// Run evicts every affected key on cache and returns the count of distinct
// keys evicted, per the 7-step procedure in §4.C. It is safe to call
// concurrently with reads/writes on cache; each eviction is itself
// broadcast by WorkerCache.Delete.
func Run(cache *clustercache.WorkerCache, e Event) int {
	timer := obsmetrics.NewTimer()
	defer timer.ObserveDuration(obsmetrics.InvalidationDuration)

	keys := cache.Keys() // step 1: one snapshot, not per-check probing
	evicted := make(map[string]bool)

	evict := func(key string) {
		if key == "" || evicted[key] {
			return
		}
		evicted[key] = true
		cache.Delete(key)
		// history/since read keys carry ":{limit}:{skip}" after the id, so
		// every cached page for that id goes along with the bare key.
		if strings.HasPrefix(key, "history:") || strings.HasPrefix(key, "since:") {
			for _, k := range keys {
				if strings.HasPrefix(k, key+":") && !evicted[k] {
					evicted[k] = true
					cache.Delete(k)
				}
			}
		}
	}

	switch e.Kind {
	case KindCreate:
		evictMatching(keys, e.After, evict)
	case KindUpdate:
		evictMatching(keys, e.After, evict)
		evictMatching(keys, e.Before, evict)
		evictScalarsForUpdate(e, evict)
	case KindOverwrite:
		evict(cachekey.ScalarKey("id", e.After.ID()))
		evictMatching(keys, e.After, evict)
		evictMatching(keys, e.Before, evict)
	case KindDelete:
		evict(cachekey.ScalarKey("id", e.Before.ID()))
		evictMatching(keys, e.Before, evict)
		evictScalarsForDelete(e, evict)
	}

	if len(evicted) > 0 {
		obslog.WithComponent("invalidate").Debug().
			Int("count", len(evicted)).Msg("evicted cache keys")
		obsmetrics.CacheInvalidationsTotal.Add(float64(len(evicted)))
	}
	return len(evicted)
}

// evictMatching partitions keys by namespace (step 2) and, for the
// structured namespaces, runs the predicate engine against doc (steps 3-6).
func evictMatching(keys []string, doc docmodel.Document, evict func(string)) {
	if doc == nil {
		return
	}
	for _, key := range keys {
		ns, rest, ok := splitNamespace(key)
		if !ok || !structuredNamespaces[ns] {
			continue
		}
		payload, ok := decodePayload(rest)
		if !ok {
			continue
		}
		if cachekey.Evaluate(doc, payload) {
			evict(key)
		}
	}
}

// evictScalarsForUpdate handles the id/history/since eviction set for
// update/patch/set/unset (§4.C step 4).
func evictScalarsForUpdate(e Event, evict func(string)) {
	evict(cachekey.ScalarKey("id", e.Before.ID()))
	evict(cachekey.ScalarKey("id", e.After.ID()))

	for _, x := range updateHistoryTargets(e) {
		evict(cachekey.ScalarKey("history", x))
		evict(cachekey.ScalarKey("since", x))
	}
}

func updateHistoryTargets(e Event) []string {
	history := e.After.RerumBlock().History
	candidates := []string{
		e.After.ID(),
		e.Before.ID(),
		extractID(history.Previous),
		extractID(history.Prime),
	}
	seen := make(map[string]bool)
	var out []string
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// evictScalarsForDelete handles the id/history/since eviction set for
// delete (§4.C step 6).
func evictScalarsForDelete(e Event, evict func(string)) {
	history := e.Before.RerumBlock().History
	candidates := []string{
		e.Before.ID(),
		extractID(history.Previous),
		extractID(history.Prime),
	}
	seen := make(map[string]bool)
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		evict(cachekey.ScalarKey("history", c))
		evict(cachekey.ScalarKey("since", c))
	}
}

// extractID takes the trailing path segment of a URL; "" for empty input;
// "root" is ignored (per §4.C's extractId semantics).
func extractID(url string) string {
	if url == "" || url == "root" {
		return ""
	}
	idx := strings.LastIndex(url, "/")
	if idx == -1 {
		return url
	}
	return url[idx+1:]
}

// IsReleaseOnly reports whether a write touches only __rerum, in which
// case invalidation must be skipped entirely (§4.C: "release-only writes
// skip invalidation").
func IsReleaseOnly(before, after docmodel.Document) bool {
	return sameUserFields(before, after)
}

func sameUserFields(before, after docmodel.Document) bool {
	b := docmodel.StripReserved(before)
	a := docmodel.StripReserved(after)
	return cachekey.CanonicalJSON(map[string]interface{}(b)) == cachekey.CanonicalJSON(map[string]interface{}(a))
}

func splitNamespace(key string) (ns, rest string, ok bool) {
	idx := strings.IndexByte(key, ':')
	if idx == -1 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}

func decodePayload(structuredJSON string) (map[string]interface{}, bool) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(structuredJSON), &payload); err != nil {
		return nil, false
	}
	return payload, true
}
