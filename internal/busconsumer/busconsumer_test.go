package busconsumer

import (
	"context"
	"testing"
	"time"

	"github.com/stratumlake/stratum/internal/catalog"
	"github.com/stratumlake/stratum/internal/objstore"
	"github.com/stratumlake/stratum/internal/schema"
	"github.com/stratumlake/stratum/internal/staging"
)

func TestNew_CreatesOneReaderPerBinding(t *testing.T) {
	store, err := objstore.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS failed: %v", err)
	}
	cat := catalog.New(store)
	reg := schema.New(store)
	stagingEngine, err := staging.New(t.TempDir(), "host1", 1<<30)
	if err != nil {
		t.Fatalf("staging.New failed: %v", err)
	}
	defer stagingEngine.Close()

	cfg := Config{
		Brokers: []string{"localhost:9092"},
		GroupID: "stratum",
		Bindings: []TopicBinding{
			{Topic: "app-topic", Stream: "app"},
			{Topic: "other-topic", Stream: "other", CustomPartition: "tenant=acme"},
		},
	}
	c := New(cfg, cat, reg, stagingEngine)
	if len(c.readers) != 2 {
		t.Fatalf("expected 2 readers, got %d", len(c.readers))
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestRun_ReturnsWhenContextCancelledWithNoBindings(t *testing.T) {
	store, err := objstore.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS failed: %v", err)
	}
	cat := catalog.New(store)
	reg := schema.New(store)
	stagingEngine, err := staging.New(t.TempDir(), "host1", 1<<30)
	if err != nil {
		t.Fatalf("staging.New failed: %v", err)
	}
	defer stagingEngine.Close()

	c := New(Config{}, cat, reg, stagingEngine)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
