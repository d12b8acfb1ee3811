package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stratumlake/stratum/internal/model"
	"github.com/stratumlake/stratum/internal/objstore"
)

// fakeIngestor starts an httptest server answering /api/v1/liveness and
// /api/v1/logstream/{name}/sync, and returns the (host, port) to register
// as a membership record.
func fakeIngestor(t *testing.T, syncHits *int) (string, int) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/liveness":
			w.WriteHeader(http.StatusOK)
		case strings.HasSuffix(r.URL.Path, "/sync"):
			*syncHits++
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	host := strings.TrimPrefix(srv.URL, "http://")
	parts := strings.Split(host, ":")
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		t.Fatalf("failed to parse test server port: %v", err)
	}
	return parts[0], port
}

func TestGossip_SyncStreamConfigForwardsToLiveIngestor(t *testing.T) {
	ctx := context.Background()
	store, err := objstore.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS failed: %v", err)
	}

	var syncHits int
	host, port := fakeIngestor(t, &syncHits)

	self := NewMembership(store, "querier-1", model.RoleQuerier, "127.0.0.1", 9000)
	if err := self.heartbeat(ctx); err != nil {
		t.Fatalf("self heartbeat failed: %v", err)
	}

	ingestor := NewMembership(store, "ingestor-1", model.RoleIngestor, host, port)
	if err := ingestor.heartbeat(ctx); err != nil {
		t.Fatalf("ingestor heartbeat failed: %v", err)
	}

	if err := self.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	gossip := NewGossip(self, nil, "")
	if err := gossip.SyncStreamConfig(ctx, model.StreamConfig{Name: "app"}); err != nil {
		t.Fatalf("SyncStreamConfig failed: %v", err)
	}

	if syncHits != 1 {
		t.Errorf("expected sync endpoint to be hit once, got %d", syncHits)
	}
}

func TestGossip_ForEachLiveIngestorSkipsUnreachable(t *testing.T) {
	ctx := context.Background()
	store, err := objstore.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS failed: %v", err)
	}

	self := NewMembership(store, "querier-1", model.RoleQuerier, "127.0.0.1", 9000)
	if err := self.heartbeat(ctx); err != nil {
		t.Fatalf("self heartbeat failed: %v", err)
	}

	dead := NewMembership(store, "ingestor-dead", model.RoleIngestor, "127.0.0.1", 1)
	if err := dead.heartbeat(ctx); err != nil {
		t.Fatalf("dead heartbeat failed: %v", err)
	}

	if err := self.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	gossip := NewGossip(self, nil, "")
	results := gossip.ForEachLiveIngestor(ctx, func(ctx context.Context, node model.Member) error {
		return nil
	})

	if len(results) != 1 {
		t.Fatalf("expected 1 candidate result, got %d", len(results))
	}
	if results[0].Err == nil {
		t.Error("expected unreachable ingestor to report an error")
	}
}

func TestGossip_FanOutQueryCollectsBatches(t *testing.T) {
	ctx := context.Background()
	store, err := objstore.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS failed: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/liveness":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/api/v1/query-live":
			json.NewEncoder(w).Encode([]json.RawMessage{[]byte(`{"count":1}`)})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	parts := strings.Split(host, ":")
	port, _ := strconv.Atoi(parts[1])

	self := NewMembership(store, "querier-1", model.RoleQuerier, "127.0.0.1", 9000)
	if err := self.heartbeat(ctx); err != nil {
		t.Fatalf("self heartbeat failed: %v", err)
	}
	ingestor := NewMembership(store, "ingestor-1", model.RoleIngestor, parts[0], port)
	if err := ingestor.heartbeat(ctx); err != nil {
		t.Fatalf("ingestor heartbeat failed: %v", err)
	}
	if err := self.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	gossip := NewGossip(self, nil, "")
	batches, partial, err := gossip.FanOutQuery(ctx, LiveQueryRequest{Query: "SELECT count(*) FROM app"})
	if err != nil {
		t.Fatalf("FanOutQuery failed: %v", err)
	}
	if partial {
		t.Error("expected no partial result when the only ingestor is reachable")
	}
	if len(batches) != 1 || len(batches[0].Rows) != 1 {
		t.Fatalf("expected 1 batch with 1 row, got %+v", batches)
	}
}
