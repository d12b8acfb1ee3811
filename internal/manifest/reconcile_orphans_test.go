package manifest

import (
	"context"
	"testing"

	"github.com/stratumlake/stratum/internal/catalog"
	"github.com/stratumlake/stratum/internal/model"
	"github.com/stratumlake/stratum/internal/objstore"
)

func TestOrphanReconciler_RepublishesUnknownArtifacts(t *testing.T) {
	ctx := context.Background()
	store, err := objstore.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS failed: %v", err)
	}
	cat := catalog.New(store)
	if err := cat.Create(ctx, model.StreamConfig{Name: "app"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	m, err := NewManager(store, t.TempDir())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	date := "2026-08-06"
	orphanKey := "app/date=" + date + "/hour=00/minute=00/_/orphan.parquet"
	if err := store.Put(ctx, orphanKey, []byte("orphaned bytes")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	reconciler := NewOrphanReconciler(store, cat, m)
	if err := reconciler.Run(ctx, date); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	man, _, err := m.LoadLatest(ctx, "app", date)
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if len(man.Entries) != 1 || man.Entries[0].Key != orphanKey {
		t.Fatalf("expected orphan to be republished, got %+v", man.Entries)
	}
	if man.Entries[0].ByteSize != int64(len("orphaned bytes")) {
		t.Errorf("expected ByteSize %d, got %d", len("orphaned bytes"), man.Entries[0].ByteSize)
	}
}

func TestOrphanReconciler_SkipsKnownArtifacts(t *testing.T) {
	ctx := context.Background()
	store, err := objstore.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS failed: %v", err)
	}
	cat := catalog.New(store)
	if err := cat.Create(ctx, model.StreamConfig{Name: "app"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	m, err := NewManager(store, t.TempDir())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	date := "2026-08-06"
	knownKey := "app/date=" + date + "/hour=00/minute=00/_/known.parquet"
	if err := store.Put(ctx, knownKey, []byte("z")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := m.Publish(ctx, "app", date, []model.ArtifactEntry{{Key: knownKey, ByteSize: 1}}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	reconciler := NewOrphanReconciler(store, cat, m)
	if err := reconciler.Run(ctx, date); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	man, _, err := m.LoadLatest(ctx, "app", date)
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if len(man.Entries) != 1 {
		t.Fatalf("expected no duplicate republish, got %d entries", len(man.Entries))
	}
}
