// Package supervisor manages the server's long-running background
// components as one group, grounded on the teacher's ordered shutdown
// sequence in cmd/warren (scheduler, reconciler, metrics collector,
// ingress, API server each stopped explicitly and in turn).
package supervisor

import (
	"sync"

	"github.com/hollowcrest/annocache/internal/obslog"
)

// Component is a long-running subsystem the supervisor starts once (at
// construction) and stops once, in reverse of the order it was registered.
type Component interface {
	Name() string
	Stop()
}

// Group owns a set of components and stops them together in reverse
// registration order (last started, first stopped), logging each.
type Group struct {
	mu         sync.Mutex
	components []Component
}

// NewGroup builds an empty supervisor group.
func NewGroup() *Group {
	return &Group{}
}

// Register adds c to the group. Not safe to call concurrently with
// Shutdown.
func (g *Group) Register(c Component) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.components = append(g.components, c)
}

// Shutdown stops every registered component, last-registered first.
func (g *Group) Shutdown() {
	g.mu.Lock()
	components := append([]Component(nil), g.components...)
	g.mu.Unlock()

	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		obslog.WithComponent("supervisor").Info().Str("name", c.Name()).Msg("stopping")
		c.Stop()
	}
}
