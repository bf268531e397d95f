package clustercache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCluster(t *testing.T, limits Limits, workers int) *Cluster {
	t.Helper()
	c, err := New(workers, limits)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestGetSetMiss(t *testing.T) {
	c := newTestCluster(t, DefaultLimits(), 1)
	w := c.Worker(0)

	_, ok := w.Get("query:missing")
	assert.False(t, ok)

	w.Set("query:present", "value")
	v, ok := w.Get("query:present")
	assert.True(t, ok)
	assert.Equal(t, "value", v)
}

// TestAtMostMax covers testable property 2.
func TestAtMostMax(t *testing.T) {
	limits := Limits{MaxLength: 3, MaxBytes: 1_000_000, TTL: time.Hour}
	c := newTestCluster(t, limits, 1)
	w := c.Worker(0)

	for i := 0; i < 10; i++ {
		w.Set(keyFor(i), "v")
	}

	s := w.Stats()
	assert.LessOrEqual(t, s.Length, limits.MaxLength)
}

func keyFor(i int) string {
	return "query:" + string(rune('a'+i))
}

// TestLRUOrder covers testable property 3.
func TestLRUOrder(t *testing.T) {
	limits := Limits{MaxLength: 2, MaxBytes: 1_000_000, TTL: time.Hour}
	c := newTestCluster(t, limits, 1)
	w := c.Worker(0)

	w.Set("a", "1")
	w.Set("b", "2")
	// Touch "a" so it becomes MRU; "b" becomes LRU and should be evicted
	// when a third entry is inserted.
	_, _ = w.Get("a")
	w.Set("c", "3")

	_, hasA := w.Get("a")
	_, hasB := w.Get("b")
	_, hasC := w.Get("c")
	assert.True(t, hasA)
	assert.False(t, hasB)
	assert.True(t, hasC)
}

// TestExpiry covers testable property 4.
func TestExpiry(t *testing.T) {
	limits := Limits{MaxLength: 10, MaxBytes: 1_000_000, TTL: 10 * time.Millisecond}
	c := newTestCluster(t, limits, 1)
	w := c.Worker(0)

	w.Set("k", "v")
	time.Sleep(30 * time.Millisecond)

	_, ok := w.Get("k")
	assert.False(t, ok)
}

// TestHitParityAcrossWorkers covers testable property 5.
func TestHitParityAcrossWorkers(t *testing.T) {
	c := newTestCluster(t, DefaultLimits(), 3)

	c.Worker(0).Set("query:x", "payload")

	assert.Eventually(t, func() bool {
		v, ok := c.Worker(1).Get("query:x")
		return ok && v == "payload"
	}, time.Second, time.Millisecond)

	assert.Eventually(t, func() bool {
		v, ok := c.Worker(2).Get("query:x")
		return ok && v == "payload"
	}, time.Second, time.Millisecond)
}

func TestDeletePropagatesAcrossWorkers(t *testing.T) {
	c := newTestCluster(t, DefaultLimits(), 2)

	c.Worker(0).Set("query:x", "payload")
	assert.Eventually(t, func() bool {
		_, ok := c.Worker(1).Get("query:x")
		return ok
	}, time.Second, time.Millisecond)

	c.Worker(0).Delete("query:x")
	assert.Eventually(t, func() bool {
		_, ok := c.Worker(1).Get("query:x")
		return !ok
	}, time.Second, time.Millisecond)
}

func TestClearPropagatesAcrossWorkers(t *testing.T) {
	c := newTestCluster(t, DefaultLimits(), 2)
	c.Worker(0).Set("query:a", "1")
	c.Worker(1).Set("query:b", "2")

	c.Clear()

	assert.Eventually(t, func() bool {
		_, ok0 := c.Worker(0).Get("query:a")
		_, ok1 := c.Worker(1).Get("query:b")
		return !ok0 && !ok1
	}, time.Second, time.Millisecond)
}

func TestLimitsValidation(t *testing.T) {
	_, err := New(1, Limits{MaxLength: 0, MaxBytes: 1, TTL: time.Second})
	assert.Error(t, err)

	_, err = New(1, Limits{MaxLength: 1, MaxBytes: 1, TTL: 31 * 24 * time.Hour})
	assert.Error(t, err)
}
