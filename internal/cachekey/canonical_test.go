package cachekey

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestStructuredKeyStability covers testable property 1: logically equal
// query objects (same fields, any key order) must produce the same key.
func TestStructuredKeyStability(t *testing.T) {
	q1 := map[string]interface{}{"type": "Annotation", "body.target": "http://e/t1"}
	q2 := map[string]interface{}{"body.target": "http://e/t1", "type": "Annotation"}

	k1 := StructuredKey("query", q1, 10, 0)
	k2 := StructuredKey("query", q2, 10, 0)

	assert.Equal(t, k1, k2)
}

// TestStructuredKeyPaginationDiffers covers scenario S2.
func TestStructuredKeyPaginationDiffers(t *testing.T) {
	q := map[string]interface{}{"type": "A"}

	k10 := StructuredKey("query", q, 10, 0)
	k20 := StructuredKey("query", q, 20, 0)

	assert.NotEqual(t, k10, k20)
}

func TestScalarKeyConcatenation(t *testing.T) {
	assert.Equal(t, "id:abc123", ScalarKey("id", "abc123"))
	assert.Equal(t, "since:abc:10:0", ScalarKey("since", "abc", "10", "0"))
}

// TestCanonicalJSONRoundTrip covers testable property 8.
func TestCanonicalJSONRoundTrip(t *testing.T) {
	cases := []interface{}{
		map[string]interface{}{"b": 1.0, "a": []interface{}{"x", "y"}},
		[]interface{}{1.0, 2.0, 3.0},
		"hello \"world\"",
		nil,
		true,
	}

	for _, c := range cases {
		out := CanonicalJSON(c)

		var roundTripped interface{}
		err := json.Unmarshal([]byte(out), &roundTripped)
		assert.NoError(t, err)
		assert.Equal(t, c, roundTripped)
	}
}

func TestCanonicalJSONSortsKeysAtEveryDepth(t *testing.T) {
	v := map[string]interface{}{
		"z": map[string]interface{}{"y": 1.0, "x": 2.0},
		"a": 1.0,
	}

	got := CanonicalJSON(v)
	assert.Equal(t, `{"a":1,"z":{"x":2,"y":1}}`, got)
}

func TestCanonicalJSONNoWhitespace(t *testing.T) {
	v := map[string]interface{}{"a": 1.0, "b": []interface{}{1.0, 2.0}}
	got := CanonicalJSON(v)
	assert.NotContains(t, got, " ")
	assert.NotContains(t, got, "\n")
}
