// Package manifest implements the canonical, object-store-native manifest
// (C6): per-stream, per-date version files published by compare-and-set,
// plus retention GC and orphan reconciliation.
//
// The manifest has no single-writer database: it versions by CAS directly
// against object storage,
// and operates over the dynamic per-stream schema from internal/model
// rather than a fixed tenant/user_id/event_time row shape.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stratumlake/stratum/internal/apperrors"
	"github.com/stratumlake/stratum/internal/model"
	"github.com/stratumlake/stratum/internal/objstore"
	"github.com/stratumlake/stratum/internal/router"
	"github.com/stratumlake/stratum/pkg/ulid"
)

const maxCASRetries = 8

// Manager owns manifest reads and CAS-based publishes for every stream.
type Manager struct {
	store objstore.Store
	gen   *ulid.Generator

	pending  *pendingLog
	notifier *router.Notifier
}

// SetNotifier wires a notifier that receives a ManifestPublished
// notification after every successful publish. Optional; nil is a no-op.
func (m *Manager) SetNotifier(n *router.Notifier) {
	m.notifier = n
}

// NewManager creates a Manager backed by store, with pending deltas that
// survived a repeated CAS failure persisted under pendingDir.
func NewManager(store objstore.Store, pendingDir string) (*Manager, error) {
	pending, err := newPendingLog(pendingDir)
	if err != nil {
		return nil, err
	}
	return &Manager{store: store, gen: ulid.NewGenerator(), pending: pending}, nil
}

func manifestPrefix(stream, date string) string {
	return fmt.Sprintf("%s/.stream/manifest/%s/", stream, date)
}

// pointerKey is a small object holding the key of the latest manifest
// version for (stream, date). Publishing CASes this pointer so two writers
// racing to publish a new version detect each other even though every
// version itself lands at a fresh, never-colliding ulid-suffixed key.
func pointerKey(stream, date string) string {
	return manifestPrefix(stream, date) + "LATEST"
}

// LoadLatest resolves and reads the latest manifest version for (stream,
// date) via the LATEST pointer object. Returns a zero-value Manifest and
// empty pointer ETag if none exists yet.
func (m *Manager) LoadLatest(ctx context.Context, stream, date string) (model.Manifest, string, error) {
	ptr, err := m.store.Get(ctx, pointerKey(stream, date))
	if err == objstore.ErrNotFound {
		return model.Manifest{Stream: stream, Date: date}, "", nil
	}
	if err != nil {
		return model.Manifest{}, "", err
	}

	head, err := m.store.Head(ctx, pointerKey(stream, date))
	if err != nil {
		return model.Manifest{}, "", err
	}

	data, err := m.store.Get(ctx, string(ptr))
	if err != nil {
		return model.Manifest{}, "", err
	}

	var man model.Manifest
	if err := json.Unmarshal(data, &man); err != nil {
		return model.Manifest{}, "", apperrors.NewManifestError(apperrors.CodeManifestCorrupt, "failed to decode manifest "+string(ptr), err)
	}
	return man, head.ETag, nil
}

// Publish merges delta into the canonical manifest for (stream, date) via
// compare-and-set on the LATEST pointer, retrying up to maxCASRetries times
// on conflict. On repeated failure the delta is appended to the durable
// pending log for the next tick to retry.
func (m *Manager) Publish(ctx context.Context, stream, date string, delta []model.ArtifactEntry) error {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		current, ptrETag, err := m.LoadLatest(ctx, stream, date)
		if err != nil {
			return err
		}

		merged := mergeEntries(current, delta)

		id, err := m.gen.Generate()
		if err != nil {
			return err
		}
		merged.Version = id.String()

		data, err := json.Marshal(merged)
		if err != nil {
			return apperrors.NewManifestError(apperrors.CodeManifestCorrupt, "failed to marshal manifest", err)
		}

		key := manifestPrefix(stream, date) + merged.Version + ".json"
		if err := m.store.Put(ctx, key, data); err != nil {
			return apperrors.NewObjectStoreError(apperrors.CodeObjectStoreTransient, "failed to write manifest version", err)
		}

		if _, err := m.store.PutIfMatch(ctx, pointerKey(stream, date), []byte(key), ptrETag); err != nil {
			if err == objstore.ErrPrecondition {
				continue // another writer advanced the pointer first; re-read and retry
			}
			return apperrors.NewObjectStoreError(apperrors.CodeObjectStoreTransient, "failed to advance manifest pointer", err)
		}
		if m.notifier != nil {
			m.notifier.Publish(router.Notification{
				Type:      router.ManifestPublished,
				Stream:    stream,
				Date:      date,
				Version:   merged.Version,
				Timestamp: time.Now().UnixNano(),
			})
		}
		return nil
	}

	if err := m.pending.Append(pendingDelta{Stream: stream, Date: date, Entries: delta, QueuedAt: time.Now().UTC()}); err != nil {
		return err
	}
	return apperrors.NewManifestError(apperrors.CodeManifestCASConflict, fmt.Sprintf("manifest publish for %s/%s exceeded %d CAS retries; deferred to pending log", stream, date, maxCASRetries), nil)
}

// DrainPending retries every entry in the pending log once, removing
// whatever succeeds. Called once per retention tick, after retention GC and
// orphan reconciliation.
func (m *Manager) DrainPending(ctx context.Context) error {
	deltas, err := m.pending.ReadAll()
	if err != nil {
		return err
	}

	var remaining []pendingDelta
	for _, d := range deltas {
		if err := m.Publish(ctx, d.Stream, d.Date, d.Entries); err != nil {
			remaining = append(remaining, d)
		}
	}
	return m.pending.Replace(remaining)
}

// mergeEntries appends delta to current's entries, deduplicating by key so
// a re-published orphan (caught by OrphanReconciler) never double-counts.
func mergeEntries(current model.Manifest, delta []model.ArtifactEntry) model.Manifest {
	seen := make(map[string]bool, len(current.Entries))
	out := make([]model.ArtifactEntry, 0, len(current.Entries)+len(delta))
	for _, e := range current.Entries {
		if !seen[e.Key] {
			seen[e.Key] = true
			out = append(out, e)
		}
	}
	for _, e := range delta {
		if !seen[e.Key] {
			seen[e.Key] = true
			out = append(out, e)
		}
	}

	return model.Manifest{Stream: current.Stream, Date: current.Date, Entries: out}
}

// PublishOrphans republishes artifacts discovered by OrphanReconciler.
// These entries carry only key and size -- the original column stats were
// never captured if the conversion run crashed before Publish -- so a
// these entries have no column stats and query pruning never skips them.
func (m *Manager) PublishOrphans(ctx context.Context, stream, date string, orphans []orphanArtifact) error {
	if len(orphans) == 0 {
		return nil
	}
	delta := make([]model.ArtifactEntry, 0, len(orphans))
	for _, o := range orphans {
		delta = append(delta, model.ArtifactEntry{Key: o.key, ByteSize: o.size})
	}
	return m.Publish(ctx, stream, date, delta)
}

// orphanArtifact is the minimal identity of a re-discovered artifact.
type orphanArtifact struct {
	key  string
	size int64
}

func marshalManifest(m model.Manifest) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, apperrors.NewManifestError(apperrors.CodeManifestCorrupt, "failed to marshal manifest", err)
	}
	return data, nil
}
