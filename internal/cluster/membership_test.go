package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stratumlake/stratum/internal/model"
	"github.com/stratumlake/stratum/internal/objstore"
)

func TestMembership_HeartbeatWritesOwnRecord(t *testing.T) {
	ctx := context.Background()
	store, err := objstore.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS failed: %v", err)
	}

	m := NewMembership(store, "node-a", model.RoleAll, "127.0.0.1", 8000)
	if err := m.heartbeat(ctx); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}

	exists, err := store.Exists(ctx, nodeKey("node-a"))
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Fatal("expected heartbeat to write a node record")
	}
}

func TestMembership_RefreshSeesLivePeerButNotSelf(t *testing.T) {
	ctx := context.Background()
	store, err := objstore.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS failed: %v", err)
	}

	a := NewMembership(store, "node-a", model.RoleIngestor, "10.0.0.1", 8000)
	b := NewMembership(store, "node-b", model.RoleQuerier, "10.0.0.2", 8000)

	if err := a.heartbeat(ctx); err != nil {
		t.Fatalf("a.heartbeat failed: %v", err)
	}
	if err := b.heartbeat(ctx); err != nil {
		t.Fatalf("b.heartbeat failed: %v", err)
	}

	if err := a.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	members := a.Members()
	if len(members) != 2 {
		t.Fatalf("expected 2 members (self + peer), got %d", len(members))
	}

	ingestors := a.LiveIngestors()
	if len(ingestors) != 0 {
		t.Fatalf("expected node-a to see no live ingestor peers (only itself is one), got %d", len(ingestors))
	}

	queriers := a.LiveQueriers()
	if len(queriers) != 1 || queriers[0].NodeID != "node-b" {
		t.Fatalf("expected node-a to see node-b as the only live querier, got %+v", queriers)
	}
}

func TestMember_Expired(t *testing.T) {
	now := time.Now().UTC()
	fresh := model.Member{LastHeartbeat: now}
	if fresh.Expired(now.Add(30 * time.Second)) {
		t.Error("expected a 30s-old heartbeat to still be live")
	}

	stale := model.Member{LastHeartbeat: now.Add(-90 * time.Second)}
	if !stale.Expired(now) {
		t.Error("expected a 90s-old heartbeat to be expired")
	}
}
