// Package lineage implements the versioning & lineage writer (spec §4.E):
// create, update, patch/set/unset, optimistic-locking overwrite, tombstone
// delete, and the release supplement (§3), all against the docstore.Store
// collaborator.
package lineage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hollowcrest/annocache/internal/apierr"
	"github.com/hollowcrest/annocache/internal/docmodel"
	"github.com/hollowcrest/annocache/internal/docstore"
	"github.com/hollowcrest/annocache/internal/obsmetrics"
)

// Mode distinguishes patch/set/unset merge semantics (spec §4.E: "same as
// update, but the new body is derived from previous ∪ caller-supplied
// fields").
type Mode int

const (
	ModePatch Mode = iota
	ModeSet
	ModeUnset
)

// Writer composes and persists new document versions.
type Writer struct {
	Store    docstore.Store
	IDPrefix string

	// Now and NewID are overridable for deterministic tests.
	Now   func() time.Time
	NewID func() string
}

// NewWriter builds a Writer with real clock/id generation.
func NewWriter(store docstore.Store, idPrefix string) *Writer {
	return &Writer{
		Store:    store,
		IDPrefix: idPrefix,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

func (w *Writer) composeAtID(id string) string {
	return w.IDPrefix + id
}

func (w *Writer) findByAtID(ctx context.Context, atID string) (docmodel.Document, error) {
	doc, err := w.Store.FindOne(ctx, map[string]interface{}{docmodel.FieldAtID: atID})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apierr.New(apierr.NotFound, "no such object")
		}
		return nil, apierr.Wrap(apierr.StoreError, "find by @id", err)
	}
	return doc, nil
}

// Create validates body is a JSON object (guaranteed by the map type),
// strips reserved fields, assigns an id (the Slug header value if given
// and free), composes a root __rerum block, and inserts.
func (w *Writer) Create(ctx context.Context, body map[string]interface{}, agent, slug string) (docmodel.Document, error) {
	id := slug
	if id == "" {
		id = w.NewID()
	} else if _, err := w.findByAtID(ctx, w.composeAtID(id)); err == nil {
		return nil, apierr.New(apierr.Conflict, "slug already in use")
	}

	doc := docmodel.Document(docmodel.StripReserved(body))
	doc[docmodel.FieldID] = id
	doc[docmodel.FieldAtID] = w.composeAtID(id)
	doc.SetRerumBlock(docmodel.Rerum{
		History:     docmodel.History{Prime: "root"},
		GeneratedBy: agent,
		CreatedAt:   docmodel.NowISO(w.Now()),
	})

	if err := w.Store.InsertOne(ctx, doc); err != nil {
		if errors.Is(err, docstore.ErrConflict) {
			return nil, apierr.New(apierr.Conflict, "slug already in use")
		}
		return nil, apierr.Wrap(apierr.StoreError, "insert", err)
	}
	obsmetrics.VersionsCreatedTotal.WithLabelValues("create").Inc()
	return doc, nil
}

// Update reads the previous version by @id, asserts agent ownership, and
// inserts a new version whose body is exactly the caller-supplied fields.
// Returns (after, before, error); before is the previous version as it
// existed prior to the lineage rewrite.
func (w *Writer) Update(ctx context.Context, atID string, body map[string]interface{}, agent string) (docmodel.Document, docmodel.Document, error) {
	return w.newVersion(ctx, atID, body, agent, nil)
}

// Mutate implements patch/set/unset: the new body starts from the
// previous version's user fields and is overlaid with the caller's.
func (w *Writer) Mutate(ctx context.Context, atID string, body map[string]interface{}, agent string, mode Mode) (docmodel.Document, docmodel.Document, error) {
	return w.newVersion(ctx, atID, body, agent, &mode)
}

func (w *Writer) newVersion(ctx context.Context, atID string, body map[string]interface{}, agent string, mode *Mode) (docmodel.Document, docmodel.Document, error) {
	previous, err := w.findByAtID(ctx, atID)
	if err != nil {
		return nil, nil, err
	}
	if previous.RerumBlock().GeneratedBy != agent {
		return nil, nil, apierr.New(apierr.Forbidden, "not the generating agent")
	}

	newBody, err := mergeBody(previous, body, mode)
	if err != nil {
		return nil, nil, err
	}

	prevHistory := previous.RerumBlock().History
	prime := prevHistory.Prime
	if prime == "root" {
		prime = previous.AtID()
	}

	id := w.NewID()
	after := docmodel.Document(docmodel.StripReserved(newBody))
	after[docmodel.FieldID] = id
	after[docmodel.FieldAtID] = w.composeAtID(id)
	after.SetRerumBlock(docmodel.Rerum{
		History:     docmodel.History{Previous: previous.AtID(), Prime: prime},
		GeneratedBy: agent,
		CreatedAt:   docmodel.NowISO(w.Now()),
	})

	if err := w.Store.InsertOne(ctx, after); err != nil {
		return nil, nil, apierr.Wrap(apierr.StoreError, "insert new version", err)
	}

	updatedPrev := docmodel.Clone(previous)
	prevRerum := updatedPrev.RerumBlock()
	prevRerum.History.Next = append(append([]string{}, prevRerum.History.Next...), after.AtID())
	updatedPrev.SetRerumBlock(prevRerum)
	if err := w.Store.UpdateOne(ctx, map[string]interface{}{docmodel.FieldID: previous.ID()}, updatedPrev); err != nil {
		return nil, nil, apierr.Wrap(apierr.StoreError, "link previous version", err)
	}

	obsmetrics.VersionsCreatedTotal.WithLabelValues(operationLabel(mode)).Inc()
	return after, previous, nil
}

func operationLabel(mode *Mode) string {
	if mode == nil {
		return "update"
	}
	switch *mode {
	case ModeSet:
		return "set"
	case ModeUnset:
		return "unset"
	default:
		return "patch"
	}
}

func mergeBody(previous docmodel.Document, body map[string]interface{}, mode *Mode) (map[string]interface{}, error) {
	if mode == nil {
		return body, nil
	}
	base := map[string]interface{}(docmodel.StripReserved(previous))
	switch *mode {
	case ModePatch:
		for k, v := range body {
			if _, exists := base[k]; !exists {
				return nil, apierr.New(apierr.BadInput, "patch: field \""+k+"\" does not exist on the prior version")
			}
			base[k] = v
		}
	case ModeSet:
		for k, v := range body {
			base[k] = v
		}
	case ModeUnset:
		for k, v := range body {
			if v == nil {
				delete(base, k)
			} else {
				base[k] = v
			}
		}
	}
	return base, nil
}

// Overwrite replaces a document in place without creating a new version.
// expectedVersion, when non-nil, must equal the document's current
// isOverwritten timestamp or the call fails with Conflict (the current
// version is attached as Extra["currentVersion"] for the caller to echo).
func (w *Writer) Overwrite(ctx context.Context, atID string, body map[string]interface{}, expectedVersion *string) (after, before docmodel.Document, err error) {
	current, err := w.findByAtID(ctx, atID)
	if err != nil {
		return nil, nil, err
	}

	rerum := current.RerumBlock()
	if expectedVersion != nil && *expectedVersion != rerum.IsOverwritten {
		obsmetrics.OverwriteConflictsTotal.Inc()
		apiErr := apierr.New(apierr.Conflict, "overwrite version mismatch")
		apiErr.WithExtra("currentVersion", rerum.IsOverwritten)
		return nil, nil, apiErr
	}

	rerum.IsOverwritten = docmodel.NowISO(w.Now())
	newDoc := docmodel.Document(docmodel.StripReserved(body))
	newDoc[docmodel.FieldID] = current.ID()
	newDoc[docmodel.FieldAtID] = current.AtID()
	newDoc.SetRerumBlock(rerum)

	if err := w.Store.UpdateOne(ctx, map[string]interface{}{docmodel.FieldID: current.ID()}, newDoc); err != nil {
		return nil, nil, apierr.Wrap(apierr.StoreError, "overwrite", err)
	}
	obsmetrics.OverwritesTotal.Inc()
	return newDoc, current, nil
}

// Delete tombstones the target document, rewiring sibling lineage links to
// skip it, and returns the document as it existed before tombstoning (for
// invalidation).
func (w *Writer) Delete(ctx context.Context, atID, agent string) (docmodel.Document, error) {
	current, err := w.findByAtID(ctx, atID)
	if err != nil {
		return nil, err
	}
	if current.RerumBlock().GeneratedBy != agent {
		return nil, apierr.New(apierr.Forbidden, "not the generating agent")
	}

	rerum := current.RerumBlock()
	tombstone := docmodel.Document{
		docmodel.FieldID:   current.ID(),
		docmodel.FieldAtID: current.AtID(),
	}
	tombstone.SetRerumBlock(rerum)
	tombstone[docmodel.FieldDelete] = map[string]interface{}{
		"time":   docmodel.NowISO(w.Now()),
		"agent":  agent,
		"object": map[string]interface{}(docmodel.StripReserved(current)),
	}

	if err := w.Store.UpdateOne(ctx, map[string]interface{}{docmodel.FieldID: current.ID()}, tombstone); err != nil {
		return nil, apierr.Wrap(apierr.StoreError, "tombstone", err)
	}
	obsmetrics.DeletesTotal.Inc()

	if rerum.History.Previous != "" {
		if prev, err := w.findByAtID(ctx, rerum.History.Previous); err == nil {
			updated := docmodel.Clone(prev)
			prevRerum := updated.RerumBlock()
			prevRerum.History.Next = removeString(prevRerum.History.Next, current.AtID())
			updated.SetRerumBlock(prevRerum)
			_ = w.Store.UpdateOne(ctx, map[string]interface{}{docmodel.FieldID: prev.ID()}, updated)
		}
	}

	for _, childAtID := range rerum.History.Next {
		child, err := w.findByAtID(ctx, childAtID)
		if err != nil {
			continue
		}
		updated := docmodel.Clone(child)
		childRerum := updated.RerumBlock()
		childRerum.History.Previous = rerum.History.Previous
		updated.SetRerumBlock(childRerum)
		_ = w.Store.UpdateOne(ctx, map[string]interface{}{docmodel.FieldID: child.ID()}, updated)
	}

	return current, nil
}

// Release flips isReleased and appends a release timestamp without
// creating a new version and without triggering invalidation (§3
// supplement, Open Question (b) resolved: no).
func (w *Writer) Release(ctx context.Context, atID string) (docmodel.Document, error) {
	current, err := w.findByAtID(ctx, atID)
	if err != nil {
		return nil, err
	}

	rerum := current.RerumBlock()
	rerum.IsReleased = true
	rerum.Releases = append(rerum.Releases, docmodel.NowISO(w.Now()))

	updated := docmodel.Clone(current)
	updated.SetRerumBlock(rerum)
	if err := w.Store.UpdateOne(ctx, map[string]interface{}{docmodel.FieldID: current.ID()}, updated); err != nil {
		return nil, apierr.Wrap(apierr.StoreError, "release", err)
	}
	return updated, nil
}

func removeString(ss []string, target string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
