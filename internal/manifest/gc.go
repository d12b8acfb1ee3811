package manifest

import (
	"context"
	"log"
	"time"

	"github.com/stratumlake/stratum/internal/catalog"
	"github.com/stratumlake/stratum/internal/model"
	"github.com/stratumlake/stratum/internal/objstore"
)

// DefaultGCInterval is how often retention GC runs.
const DefaultGCInterval = time.Hour

// RetentionGC periodically enumerates manifest entries whose MaxTS falls
// outside a stream's retention window, deletes their artifact keys, and
// publishes a new manifest version omitting them.
type RetentionGC struct {
	store   objstore.Store
	catalog *catalog.Catalog
	manager *Manager
}

// NewRetentionGC creates a RetentionGC over every stream in catalog.
func NewRetentionGC(store objstore.Store, cat *catalog.Catalog, manager *Manager) *RetentionGC {
	return &RetentionGC{store: store, catalog: cat, manager: manager}
}

// Run sweeps every stream's manifests for the given date and deletes
// entries past retention. Call once per DefaultGCInterval per date in
// scope (typically "today" and a handful of recent days).
func (g *RetentionGC) Run(ctx context.Context, date string) error {
	for _, cfg := range g.catalog.List() {
		if cfg.Retention.Days <= 0 {
			continue
		}
		if err := g.sweepStream(ctx, cfg, date); err != nil {
			log.Printf("manifest: retention GC failed for stream %s: %v", cfg.Name, err)
		}
	}
	return nil
}

func (g *RetentionGC) sweepStream(ctx context.Context, cfg model.StreamConfig, date string) error {
	man, ptrETag, err := g.manager.LoadLatest(ctx, cfg.Name, date)
	if err != nil {
		return err
	}
	if len(man.Entries) == 0 {
		return nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.Retention.Days)

	var kept, expired []model.ArtifactEntry
	for _, e := range man.Entries {
		if e.MaxTS.Before(cutoff) {
			expired = append(expired, e)
		} else {
			kept = append(kept, e)
		}
	}
	if len(expired) == 0 {
		return nil
	}

	for _, e := range expired {
		if err := g.store.Delete(ctx, e.Key); err != nil {
			log.Printf("manifest: failed to delete expired artifact %s: %v", e.Key, err)
		}
	}

	return g.publishPruned(ctx, cfg.Name, date, kept, ptrETag)
}

// publishPruned writes a manifest version containing only kept entries,
// CASing the pointer the same way Publish does.
func (g *RetentionGC) publishPruned(ctx context.Context, stream, date string, kept []model.ArtifactEntry, ptrETag string) error {
	man := model.Manifest{Stream: stream, Date: date, Entries: kept}

	id, err := g.manager.gen.Generate()
	if err != nil {
		return err
	}
	man.Version = id.String()

	data, err := marshalManifest(man)
	if err != nil {
		return err
	}

	key := manifestPrefix(stream, date) + man.Version + ".json"
	if err := g.store.Put(ctx, key, data); err != nil {
		return err
	}

	_, err = g.store.PutIfMatch(ctx, pointerKey(stream, date), []byte(key), ptrETag)
	return err
}
