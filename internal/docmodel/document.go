// Package docmodel defines the stored document shape and the server-managed
// __rerum-equivalent metadata block described in the data model: identity,
// canonical URL composition, and version lineage links.
package docmodel

import "time"

// Document is a schema-free JSON object. User-supplied fields may be any
// JSON-compatible value; server-managed fields are held under the reserved
// top-level keys defined below.
type Document map[string]interface{}

// Reserved top-level keys managed by the server, never accepted verbatim
// from a caller's write payload.
const (
	FieldID     = "_id"
	FieldAtID   = "@id"
	FieldRerum  = "__rerum"
	FieldDelete = "__deleted"
)

// History captures the version-chain links for one document.
type History struct {
	Previous string   `json:"previous"`
	Next     []string `json:"next"`
	Prime    string   `json:"prime"`
}

// Rerum is the server metadata block stored under "__rerum".
type Rerum struct {
	History       History  `json:"history"`
	IsOverwritten string   `json:"isOverwritten"`
	GeneratedBy   string   `json:"generatedBy"`
	CreatedAt     string   `json:"createdAt"`
	IsReleased    bool     `json:"isReleased"`
	Releases      []string `json:"releases"`
}

// Deleted is the tombstone record stored under "__deleted".
type Deleted struct {
	Time   string     `json:"time"`
	Agent  string      `json:"agent"`
	Object Document    `json:"object"`
}

// ID returns the document's "_id", or "" if absent.
func (d Document) ID() string {
	return stringField(d, FieldID)
}

// AtID returns the document's "@id", or "" if absent.
func (d Document) AtID() string {
	return stringField(d, FieldAtID)
}

func stringField(d Document, key string) string {
	v, ok := d[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// RerumBlock decodes the "__rerum" field into a Rerum struct. A missing or
// malformed block returns the zero value.
func (d Document) RerumBlock() Rerum {
	raw, ok := d[FieldRerum]
	if !ok {
		return Rerum{}
	}
	return decodeRerum(raw)
}

// SetRerumBlock writes the "__rerum" field from a Rerum struct.
func (d Document) SetRerumBlock(r Rerum) {
	d[FieldRerum] = encodeRerum(r)
}

// StripReserved returns a copy of d with server-managed fields removed, for
// use when composing a new write payload from caller input.
func StripReserved(d Document) Document {
	out := make(Document, len(d))
	for k, v := range d {
		switch k {
		case FieldID, FieldAtID, FieldRerum, FieldDelete:
			continue
		}
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy of d (sufficient for our purposes: nested
// user-field mutation always goes through a freshly composed map, never
// in-place edits of a shared nested value).
func Clone(d Document) Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// NowISO returns the current instant formatted the way "isOverwritten" and
// "createdAt" expect: RFC3339 with millisecond precision.
func NowISO(now time.Time) string {
	return now.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func decodeRerum(raw interface{}) Rerum {
	m, ok := raw.(map[string]interface{})
	if !ok {
		// go.mongodb.org/mongo-driver round-trips bson.M; docstore
		// implementations normalize to map[string]interface{} before this
		// is ever reached, so this branch only guards hand-built fixtures.
		return Rerum{}
	}
	var r Rerum
	r.IsOverwritten = asString(m["isOverwritten"])
	r.GeneratedBy = asString(m["generatedBy"])
	r.CreatedAt = asString(m["createdAt"])
	if b, ok := m["isReleased"].(bool); ok {
		r.IsReleased = b
	}
	r.Releases = asStringSlice(m["releases"])

	if h, ok := m["history"].(map[string]interface{}); ok {
		r.History.Previous = asString(h["previous"])
		r.History.Prime = asString(h["prime"])
		r.History.Next = asStringSlice(h["next"])
	}
	return r
}

func encodeRerum(r Rerum) map[string]interface{} {
	releases := r.Releases
	if releases == nil {
		releases = []string{}
	}
	next := r.History.Next
	if next == nil {
		next = []string{}
	}
	return map[string]interface{}{
		"history": map[string]interface{}{
			"previous": r.History.Previous,
			"next":     next,
			"prime":    r.History.Prime,
		},
		"isOverwritten": r.IsOverwritten,
		"generatedBy":   r.GeneratedBy,
		"createdAt":     r.CreatedAt,
		"isReleased":    r.IsReleased,
		"releases":      releases,
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asStringSlice(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
