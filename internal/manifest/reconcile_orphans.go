package manifest

import (
	"context"
	"log"
	"strings"

	"github.com/stratumlake/stratum/internal/catalog"
	"github.com/stratumlake/stratum/internal/convert"
	"github.com/stratumlake/stratum/internal/objstore"
)

// OrphanReconciler re-discovers artifacts that were uploaded but never made
// it into a published manifest -- the idempotence gap between convert's
// Upload and Publish steps when a process dies in between.
type OrphanReconciler struct {
	store   objstore.Store
	catalog *catalog.Catalog
	manager *Manager
}

// NewOrphanReconciler creates a reconciler over every stream in catalog.
func NewOrphanReconciler(store objstore.Store, cat *catalog.Catalog, manager *Manager) *OrphanReconciler {
	return &OrphanReconciler{store: store, catalog: cat, manager: manager}
}

// Run performs a list-and-diff for (stream, date): every object under the
// date's artifact prefix that's a .parquet artifact but absent from the
// published manifest is re-published. Duplicate publishes are harmless
// because manifest entries are deduplicated by key (see mergeEntries).
func (r *OrphanReconciler) Run(ctx context.Context, date string) error {
	for _, cfg := range r.catalog.List() {
		if err := r.reconcileStream(ctx, cfg.Name, date); err != nil {
			log.Printf("manifest: orphan reconciliation failed for stream %s: %v", cfg.Name, err)
		}
	}
	return nil
}

func (r *OrphanReconciler) reconcileStream(ctx context.Context, stream, date string) error {
	prefix := convert.ArtifactDatePrefix(stream, date)
	lister, err := r.store.List(ctx, prefix)
	if err != nil {
		return err
	}
	objectKeys, err := objstore.Drain(lister)
	if err != nil {
		return err
	}

	man, _, err := r.manager.LoadLatest(ctx, stream, date)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(man.Entries))
	for _, e := range man.Entries {
		known[e.Key] = true
	}

	var orphans []string
	for _, key := range objectKeys {
		if !strings.HasSuffix(key, ".parquet") {
			continue
		}
		if !known[key] {
			orphans = append(orphans, key)
		}
	}

	if len(orphans) == 0 {
		return nil
	}

	log.Printf("manifest: found %d orphaned artifact(s) for stream %s/%s, re-publishing", len(orphans), stream, date)
	return r.republish(ctx, stream, date, orphans)
}

func (r *OrphanReconciler) republish(ctx context.Context, stream, date string, orphanKeys []string) error {
	var delta []orphanArtifact
	for _, key := range orphanKeys {
		head, err := r.store.Head(ctx, key)
		if err != nil {
			log.Printf("manifest: failed to head orphan %s: %v", key, err)
			continue
		}
		delta = append(delta, orphanArtifact{key: head.Key, size: head.Size})
	}

	return r.manager.PublishOrphans(ctx, stream, date, delta)
}
