// Package schema holds the per-stream current-schema registry: reconciling
// incoming schemas against what a stream has seen so far, merging them
// under the lattice defined in internal/model, and persisting the result to
// object storage by compare-and-swap.
package schema

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/stratumlake/stratum/internal/apperrors"
	"github.com/stratumlake/stratum/internal/model"
	"github.com/stratumlake/stratum/internal/objstore"
)

// entry holds one stream's current schema behind its own guard so that one
// busy stream never blocks reconciliation on another.
type entry struct {
	mu     sync.RWMutex
	schema model.Schema
	etag   string // ETag of the persisted schema; "" means never persisted (or not yet loaded)
}

const maxSchemaCASRetries = 8

// Registry holds the current schema for every stream known to this process.
type Registry struct {
	store objstore.Store

	mu      sync.RWMutex
	streams map[string]*entry
}

// New creates an empty Registry backed by store for CAS persistence.
func New(store objstore.Store) *Registry {
	return &Registry{
		store:   store,
		streams: make(map[string]*entry),
	}
}

func (r *Registry) entryFor(stream string) *entry {
	r.mu.RLock()
	e, ok := r.streams[stream]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.streams[stream]; ok {
		return e
	}
	e = &entry{}
	r.streams[stream] = e
	return e
}

// Snapshot returns the current schema for stream without blocking any writer.
func (r *Registry) Snapshot(stream string) model.Schema {
	e := r.entryFor(stream)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.schema
}

// ReconcileResult is returned by Reconcile.
type ReconcileResult struct {
	Merged      model.Schema
	Fingerprint uint64
	DidChange   bool
}

// Reconcile merges incoming into stream's current schema. If the stream is
// configured static-schema, incoming must already be a subset of static;
// otherwise the merge rule from internal/model applies. On success the
// registry's in-memory schema is swapped atomically and, if the fingerprint
// changed, persisted to object storage at <stream>/.stream/schema via CAS
// against the ETag this process last observed -- the same pattern
// internal/manifest uses against its LATEST pointer. The persist happens
// before e.mu is released, so two racing Reconcile calls can never write
// their schemas to disk out of the order they applied in memory.
func (r *Registry) Reconcile(ctx context.Context, cfg model.StreamConfig, incoming model.Schema) (ReconcileResult, error) {
	e := r.entryFor(cfg.Name)

	if cfg.StaticSchemaFlag {
		if err := model.AssertSubset(incoming, cfg.StaticSchema); err != nil {
			return ReconcileResult{}, err
		}
		e.mu.RLock()
		defer e.mu.RUnlock()
		return ReconcileResult{Merged: cfg.StaticSchema, Fingerprint: cfg.StaticSchema.Fingerprint(), DidChange: false}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.schema.Fingerprint()
	merged, err := model.Merge(e.schema, incoming)
	if err != nil {
		return ReconcileResult{}, err
	}
	after := merged.Fingerprint()
	didChange := before != after

	if didChange {
		persisted, etag, err := r.persist(ctx, cfg.Name, merged, e.etag)
		if err != nil {
			return ReconcileResult{}, err
		}
		merged = persisted
		after = merged.Fingerprint()
		e.etag = etag
	}

	e.schema = merged
	return ReconcileResult{Merged: merged, Fingerprint: after, DidChange: didChange}, nil
}

// persist CASes merged into object storage starting from etag, the last
// version this process observed ("" if it has never persisted or loaded
// this stream's schema, matching PutIfMatch's "must not currently exist"
// convention). A precondition failure means some other node advanced the
// schema since: reload what's there, fold merged into it the same way
// Reconcile folds an incoming record's schema into e.schema, and retry.
func (r *Registry) persist(ctx context.Context, stream string, merged model.Schema, etag string) (model.Schema, string, error) {
	key := schemaKey(stream)

	for attempt := 0; attempt < maxSchemaCASRetries; attempt++ {
		data, err := json.Marshal(merged)
		if err != nil {
			return model.Schema{}, "", apperrors.NewSchemaError(apperrors.CodeSchemaInvalid, "failed to marshal schema: "+err.Error())
		}

		newETag, err := r.store.PutIfMatch(ctx, key, data, etag)
		if err == nil {
			return merged, newETag, nil
		}
		if err != objstore.ErrPrecondition {
			return model.Schema{}, "", apperrors.NewObjectStoreError(apperrors.CodeObjectStoreTransient, "failed to persist schema for "+stream, err)
		}

		head, current, loadErr := r.loadCurrent(ctx, key)
		if loadErr != nil {
			return model.Schema{}, "", loadErr
		}
		merged, err = model.Merge(current, merged)
		if err != nil {
			return model.Schema{}, "", err
		}
		etag = head.ETag
	}

	return model.Schema{}, "", apperrors.NewObjectStoreError(apperrors.CodeObjectStoreTransient, "exhausted CAS retries persisting schema for "+stream, objstore.ErrPrecondition)
}

func (r *Registry) loadCurrent(ctx context.Context, key string) (objstore.ObjectMetadata, model.Schema, error) {
	head, err := r.store.Head(ctx, key)
	if err != nil {
		return objstore.ObjectMetadata{}, model.Schema{}, apperrors.NewObjectStoreError(apperrors.CodeObjectStoreTransient, "failed to head schema", err)
	}
	data, err := r.store.Get(ctx, key)
	if err != nil {
		return objstore.ObjectMetadata{}, model.Schema{}, apperrors.NewObjectStoreError(apperrors.CodeObjectStoreTransient, "failed to read schema", err)
	}
	var s model.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return objstore.ObjectMetadata{}, model.Schema{}, apperrors.NewSchemaError(apperrors.CodeSchemaInvalid, "failed to unmarshal persisted schema: "+err.Error())
	}
	return head, s, nil
}

func schemaKey(stream string) string {
	return stream + "/.stream/schema"
}

// Load reads the persisted schema for stream from object storage, populating
// the in-memory registry and its CAS ETag. Used on startup to rebuild state.
func (r *Registry) Load(ctx context.Context, stream string) error {
	head, s, err := r.loadCurrent(ctx, schemaKey(stream))
	if err != nil {
		return err
	}

	e := r.entryFor(stream)
	e.mu.Lock()
	e.schema = s
	e.etag = head.ETag
	e.mu.Unlock()
	return nil
}
