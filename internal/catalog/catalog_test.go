package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stratumlake/stratum/internal/model"
	"github.com/stratumlake/stratum/internal/objstore"
)

func newTestCatalog(t *testing.T) *Catalog {
	store, err := objstore.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS failed: %v", err)
	}
	return New(store)
}

func TestValidateName(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"app", true},
		{"app-logs-2024", true},
		{"App", false},
		{"has space", false},
		{"", false},
		{".stream", false},
	}
	for _, tc := range cases {
		err := ValidateName(tc.name)
		if (err == nil) != tc.valid {
			t.Errorf("ValidateName(%q) = %v, want valid=%v", tc.name, err, tc.valid)
		}
	}
}

func TestCatalog_CreateAndRebuild(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	if err := c.Create(ctx, model.StreamConfig{Name: "app"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := c.Create(ctx, model.StreamConfig{Name: "app"}); err != objstore.ErrAlreadyExists {
		t.Errorf("expected ErrAlreadyExists on duplicate create, got %v", err)
	}

	fresh := New(c.store)
	if err := fresh.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if _, ok := fresh.Get("app"); !ok {
		t.Error("expected rebuilt catalog to contain stream 'app'")
	}
}

func TestCatalog_AddCustomPartitionFieldsRejectedAfterFirstEvent(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	if err := c.Create(ctx, model.StreamConfig{Name: "app"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := c.MarkFirstEvent(ctx, "app", time.Now()); err != nil {
		t.Fatalf("MarkFirstEvent failed: %v", err)
	}

	if err := c.AddCustomPartitionFields(ctx, "app", []string{"tenant"}); err == nil {
		t.Error("expected error adding custom partition fields after first event")
	}
}

func TestCatalog_UpsertCreatesAndOverwrites(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	if err := c.Upsert(ctx, model.StreamConfig{Name: "app"}); err != nil {
		t.Fatalf("Upsert (create) failed: %v", err)
	}
	created, ok := c.Get("app")
	if !ok {
		t.Fatal("expected stream to exist after Upsert")
	}
	if created.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set on first Upsert")
	}

	if err := c.Upsert(ctx, model.StreamConfig{Name: "app", Retention: model.RetentionPolicy{Days: 30}}); err != nil {
		t.Fatalf("Upsert (overwrite) failed: %v", err)
	}
	updated, ok := c.Get("app")
	if !ok {
		t.Fatal("expected stream to still exist after second Upsert")
	}
	if updated.Retention.Days != 30 {
		t.Errorf("expected retention to be updated, got %d days", updated.Retention.Days)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Error("expected CreatedAt to be preserved across Upsert")
	}
}

func TestCatalog_UpsertRejectsInvalidName(t *testing.T) {
	c := newTestCatalog(t)
	if err := c.Upsert(context.Background(), model.StreamConfig{Name: "Invalid Name"}); err == nil {
		t.Error("expected error for invalid stream name")
	}
}
