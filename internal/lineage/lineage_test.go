package lineage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowcrest/annocache/internal/apierr"
	"github.com/hollowcrest/annocache/internal/docmodel"
	"github.com/hollowcrest/annocache/internal/docstore/memstore"
)

func newTestWriter() *Writer {
	w := NewWriter(memstore.New(), "http://example.org/id/")
	counter := 0
	w.NewID = func() string {
		counter++
		return "id" + string(rune('0'+counter))
	}
	w.Now = func() time.Time { return time.Unix(1700000000, 0) }
	return w
}

// TestVersionChain covers scenario S5.
func TestVersionChain(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter()

	p, err := w.Create(ctx, map[string]interface{}{"type": "T"}, "agent-1", "")
	require.NoError(t, err)

	q, before, err := w.Update(ctx, p.AtID(), map[string]interface{}{"type": "T", "v": 2}, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, p.AtID(), before.AtID())

	r, _, err := w.Update(ctx, q.AtID(), map[string]interface{}{"type": "T", "v": 3}, "agent-1")
	require.NoError(t, err)

	updatedP, err := w.Store.FindOne(ctx, map[string]interface{}{"@id": p.AtID()})
	require.NoError(t, err)
	assert.Contains(t, updatedP.RerumBlock().History.Next, q.AtID())
	assert.Equal(t, p.AtID(), r.RerumBlock().History.Prime)
}

func TestUpdateForbiddenForWrongAgent(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter()
	p, err := w.Create(ctx, map[string]interface{}{"type": "T"}, "agent-1", "")
	require.NoError(t, err)

	_, _, err = w.Update(ctx, p.AtID(), map[string]interface{}{"type": "T"}, "agent-2")
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.Forbidden, apiErr.Kind)
}

func TestPatchRejectsNewFields(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter()
	p, err := w.Create(ctx, map[string]interface{}{"type": "T"}, "agent-1", "")
	require.NoError(t, err)

	_, _, err = w.Mutate(ctx, p.AtID(), map[string]interface{}{"newField": "x"}, "agent-1", ModePatch)
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.BadInput, apiErr.Kind)
}

func TestUnsetRemovesNullFields(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter()
	p, err := w.Create(ctx, map[string]interface{}{"type": "T", "note": "x"}, "agent-1", "")
	require.NoError(t, err)

	after, _, err := w.Mutate(ctx, p.AtID(), map[string]interface{}{"note": nil}, "agent-1", ModeUnset)
	require.NoError(t, err)
	_, hasNote := after["note"]
	assert.False(t, hasNote)
	assert.Equal(t, "T", after["type"])
}

// TestOverwriteOptimisticLock covers scenario S6.
func TestOverwriteOptimisticLock(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter()
	x, err := w.Create(ctx, map[string]interface{}{"type": "T"}, "agent-1", "")
	require.NoError(t, err)
	assert.Equal(t, "", x.RerumBlock().IsOverwritten)

	empty := ""
	after, before, err := w.Overwrite(ctx, x.AtID(), map[string]interface{}{"type": "T2"}, &empty)
	require.NoError(t, err)
	assert.Equal(t, x.AtID(), before.AtID())
	assert.NotEmpty(t, after.RerumBlock().IsOverwritten)

	_, _, err = w.Overwrite(ctx, x.AtID(), map[string]interface{}{"type": "T3"}, &empty)
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.Conflict, apiErr.Kind)
	assert.NotEmpty(t, apiErr.Extra["currentVersion"])
}

func TestDeleteRewiresLineage(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter()
	p, err := w.Create(ctx, map[string]interface{}{"type": "T"}, "agent-1", "")
	require.NoError(t, err)
	q, _, err := w.Update(ctx, p.AtID(), map[string]interface{}{"type": "T2"}, "agent-1")
	require.NoError(t, err)
	r, _, err := w.Update(ctx, q.AtID(), map[string]interface{}{"type": "T3"}, "agent-1")
	require.NoError(t, err)

	before, err := w.Delete(ctx, q.AtID(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, q.AtID(), before.AtID())

	updatedP, err := w.Store.FindOne(ctx, map[string]interface{}{"@id": p.AtID()})
	require.NoError(t, err)
	assert.NotContains(t, updatedP.RerumBlock().History.Next, q.AtID())

	updatedR, err := w.Store.FindOne(ctx, map[string]interface{}{"@id": r.AtID()})
	require.NoError(t, err)
	assert.Equal(t, p.AtID(), updatedR.RerumBlock().History.Previous)
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	w := newTestWriter()
	p, err := w.Create(ctx, map[string]interface{}{"type": "T"}, "agent-1", "")
	require.NoError(t, err)

	released, err := w.Release(ctx, p.AtID())
	require.NoError(t, err)
	assert.True(t, released.RerumBlock().IsReleased)
	assert.Len(t, released.RerumBlock().Releases, 1)
}
