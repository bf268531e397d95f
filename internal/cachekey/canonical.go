// Package cachekey implements canonical cache-key generation and the
// MongoDB-subset predicate evaluator used by the invalidation engine
// (spec §4.A): two key shapes (scalar-parameter and structured-parameter),
// a canonical JSON serializer with lexicographically sorted object keys at
// every depth, and a predicate tree parsed once and evaluated many times.
package cachekey

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ScalarKey builds a cache key for routes with a fixed, known parameter set
// (id, history, since, and similar lookups). No JSON encoding or quoting is
// used so the key can be matched with a plain prefix regex
// (e.g. "^(history|since):{id}").
func ScalarKey(namespace string, parts ...string) string {
	var b strings.Builder
	b.WriteString(namespace)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

// StructuredKey builds a cache key for query/search/searchPhrase routes. The
// key is "{namespace}:{canonical-json}" where the canonical JSON is the
// serialization of {__cached: payload, limit, skip} with object keys sorted
// lexicographically at every depth and no emitted whitespace. Two logically
// equal payloads (same fields, any order) always produce the same key.
func StructuredKey(namespace string, payload interface{}, limit, skip int) string {
	wrapped := map[string]interface{}{
		"__cached": payload,
		"limit":    limit,
		"skip":     skip,
	}
	return namespace + ":" + CanonicalJSON(wrapped)
}

// CanonicalJSON serializes v with object keys sorted lexicographically at
// every depth, arrays in original order, and no whitespace. It supports the
// JSON-compatible value shapes produced by encoding/json.Unmarshal into
// interface{} (map[string]interface{}, []interface{}, string, float64/int,
// bool, nil) plus native Go maps/slices/scalars built in-process.
func CanonicalJSON(v interface{}) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v interface{}) {
	switch vv := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if vv {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		writeJSONString(b, vv)
	case float64:
		writeNumber(b, vv)
	case float32:
		writeNumber(b, float64(vv))
	case int:
		b.WriteString(strconv.Itoa(vv))
	case int64:
		b.WriteString(strconv.FormatInt(vv, 10))
	case map[string]interface{}:
		writeCanonicalObject(b, vv)
	case []interface{}:
		writeCanonicalArray(b, vv)
	default:
		// Unknown concrete type: fall back to a stable, explicit
		// representation rather than silently dropping the value.
		fmt.Fprintf(b, "%q", fmt.Sprintf("%v", vv))
	}
}

func writeCanonicalObject(b *strings.Builder, m map[string]interface{}) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		writeJSONString(b, k)
		b.WriteByte(':')
		writeCanonical(b, m[k])
	}
	b.WriteByte('}')
}

func writeCanonicalArray(b *strings.Builder, arr []interface{}) {
	b.WriteByte('[')
	for i, e := range arr {
		if i > 0 {
			b.WriteByte(',')
		}
		writeCanonical(b, e)
	}
	b.WriteByte(']')
}

func writeNumber(b *strings.Builder, f float64) {
	if f == float64(int64(f)) {
		b.WriteString(strconv.FormatInt(int64(f), 10))
		return
	}
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

func writeJSONString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}
