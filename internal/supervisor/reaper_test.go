package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowcrest/annocache/internal/clustercache"
)

func TestTTLReaperEvictsExpiredEntries(t *testing.T) {
	cluster, err := clustercache.New(1, clustercache.Limits{
		MaxLength: 100,
		MaxBytes:  1 << 20,
		TTL:       20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer cluster.Close()

	worker := cluster.Worker(0)
	worker.Set("query:{}", "cached")

	reaper := NewTTLReaper(cluster, 10*time.Millisecond)
	defer reaper.Stop()

	assert.Eventually(t, func() bool {
		// Keys does not expire entries itself, unlike Get, so only a reaper
		// sweep can empty it.
		return len(worker.Keys()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestGroupShutdownStopsInReverseOrder(t *testing.T) {
	var order []string
	g := NewGroup()
	g.Register(fakeComponent{name: "a", onStop: func() { order = append(order, "a") }})
	g.Register(fakeComponent{name: "b", onStop: func() { order = append(order, "b") }})

	g.Shutdown()

	assert.Equal(t, []string{"b", "a"}, order)
}

type fakeComponent struct {
	name   string
	onStop func()
}

func (f fakeComponent) Name() string { return f.name }
func (f fakeComponent) Stop()        { f.onStop() }
