package schema

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stratumlake/stratum/internal/apperrors"
	"github.com/stratumlake/stratum/internal/model"
	"github.com/stratumlake/stratum/internal/objstore"
)

func newTestRegistry(t *testing.T) *Registry {
	store, err := objstore.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS failed: %v", err)
	}
	return New(store)
}

func TestRegistry_ReconcileMergesAndPersistsOnChange(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	cfg := model.StreamConfig{Name: "logs"}

	res, err := reg.Reconcile(ctx, cfg, model.Schema{Fields: []model.Field{{Name: "a", Type: model.TypeInt64, Nullable: true}}})
	if err != nil {
		t.Fatalf("first reconcile failed: %v", err)
	}
	if !res.DidChange {
		t.Error("expected DidChange on first reconcile")
	}

	res2, err := reg.Reconcile(ctx, cfg, model.Schema{Fields: []model.Field{
		{Name: "a", Type: model.TypeInt64, Nullable: true},
		{Name: "b", Type: model.TypeUtf8, Nullable: true},
	}})
	if err != nil {
		t.Fatalf("second reconcile failed: %v", err)
	}
	if !res2.DidChange {
		t.Error("expected DidChange when schema grows a field")
	}
	if len(res2.Merged.Fields) != 2 {
		t.Errorf("expected 2 merged fields, got %d", len(res2.Merged.Fields))
	}

	res3, err := reg.Reconcile(ctx, cfg, model.Schema{Fields: []model.Field{{Name: "a", Type: model.TypeInt64, Nullable: true}}})
	if err != nil {
		t.Fatalf("third reconcile failed: %v", err)
	}
	if res3.DidChange {
		t.Error("expected no change when re-ingesting a schema already covered by the merged schema")
	}
}

func TestRegistry_StaticSchemaRejectsSuperset(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	cfg := model.StreamConfig{
		Name:             "metrics",
		StaticSchemaFlag: true,
		StaticSchema:     model.Schema{Fields: []model.Field{{Name: "v", Type: model.TypeFloat64, Nullable: false}}},
	}

	_, err := reg.Reconcile(ctx, cfg, model.Schema{Fields: []model.Field{
		{Name: "v", Type: model.TypeFloat64, Nullable: false},
		{Name: "extra", Type: model.TypeUtf8, Nullable: true},
	}})

	if apperrors.GetCode(err) != apperrors.CodeSchemaIncompatible {
		t.Errorf("expected SchemaIncompatible, got %v", err)
	}
}

func TestRegistry_IncompatibleTypesFailMerge(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	cfg := model.StreamConfig{Name: "app"}

	if _, err := reg.Reconcile(ctx, cfg, model.Schema{Fields: []model.Field{{Name: "a", Type: model.TypeInt64}}}); err != nil {
		t.Fatalf("seed reconcile failed: %v", err)
	}

	_, err := reg.Reconcile(ctx, cfg, model.Schema{Fields: []model.Field{{Name: "a", Type: model.TypeUtf8}}})
	if apperrors.GetCode(err) != apperrors.CodeSchemaIncompatible {
		t.Errorf("expected SchemaIncompatible on type mismatch, got %v", err)
	}
}

func TestRegistry_PersistRetriesOnConcurrentExternalWrite(t *testing.T) {
	store, err := objstore.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS failed: %v", err)
	}
	reg := New(store)
	ctx := context.Background()
	cfg := model.StreamConfig{Name: "app"}

	if _, err := reg.Reconcile(ctx, cfg, model.Schema{Fields: []model.Field{{Name: "a", Type: model.TypeInt64, Nullable: true}}}); err != nil {
		t.Fatalf("seed reconcile failed: %v", err)
	}

	// Simulate a peer node persisting a schema addition without this
	// registry's knowledge, advancing the object's ETag out from under
	// the one this process cached.
	external := model.Schema{Fields: []model.Field{
		{Name: "a", Type: model.TypeInt64, Nullable: true},
		{Name: "c", Type: model.TypeBoolean, Nullable: true},
	}}
	data, err := json.Marshal(external)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := store.Put(ctx, schemaKey(cfg.Name), data); err != nil {
		t.Fatalf("external put failed: %v", err)
	}

	res, err := reg.Reconcile(ctx, cfg, model.Schema{Fields: []model.Field{
		{Name: "a", Type: model.TypeInt64, Nullable: true},
		{Name: "b", Type: model.TypeUtf8, Nullable: true},
	}})
	if err != nil {
		t.Fatalf("reconcile after external write failed: %v", err)
	}
	if len(res.Merged.Fields) != 3 {
		t.Fatalf("expected the merge to fold in the externally-written field c, got %+v", res.Merged.Fields)
	}

	_, persisted, err := reg.loadCurrent(ctx, schemaKey(cfg.Name))
	if err != nil {
		t.Fatalf("loadCurrent failed: %v", err)
	}
	if len(persisted.Fields) != 3 {
		t.Fatalf("expected the on-disk schema to have 3 fields after the CAS retry, got %+v", persisted.Fields)
	}
}
