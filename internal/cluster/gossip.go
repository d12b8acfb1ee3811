package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/stratumlake/stratum/internal/apperrors"
	"github.com/stratumlake/stratum/internal/model"
	"github.com/stratumlake/stratum/internal/router"
)

// DefaultFanOutTimeout bounds any single inter-node HTTP call.
const DefaultFanOutTimeout = 30 * time.Second

// Gossip fans requests out across live ingestors and pushes local
// cluster-local invalidation events, mirroring for_each_live_ingestor and
// sync_streams_with_ingestors from the system this was adapted from.
type Gossip struct {
	membership *Membership
	notifier   *router.Notifier
	client     *http.Client
	authToken  string
}

// NewGossip creates a Gossip over membership, publishing local cache
// invalidation through notifier (may be nil).
func NewGossip(membership *Membership, notifier *router.Notifier, authToken string) *Gossip {
	return &Gossip{
		membership: membership,
		notifier:   notifier,
		client:     &http.Client{Timeout: DefaultFanOutTimeout},
		authToken:  authToken,
	}
}

// IngestorResult is one ingestor's outcome from a fan-out call.
type IngestorResult struct {
	Node model.Member
	Err  error
}

// ForEachLiveIngestor checks liveness of and then invokes fn against every
// cached live ingestor, in parallel, tolerating individual unreachable
// nodes. It returns every per-node result; callers decide how to treat
// partial failure (query fan-out surfaces X-P-Partial, sync treats any
// failure as log-and-continue).
func (g *Gossip) ForEachLiveIngestor(ctx context.Context, fn func(ctx context.Context, node model.Member) error) []IngestorResult {
	candidates := g.membership.LiveIngestors()

	var wg sync.WaitGroup
	results := make([]IngestorResult, len(candidates))
	for i, node := range candidates {
		wg.Add(1)
		go func(i int, node model.Member) {
			defer wg.Done()
			if !g.checkLiveness(ctx, node) {
				results[i] = IngestorResult{Node: node, Err: apperrors.NewClusterError(apperrors.CodeNodeUnreachable, fmt.Sprintf("ingestor %s failed liveness check", node.NodeID), nil)}
				return
			}
			results[i] = IngestorResult{Node: node, Err: fn(ctx, node)}
		}(i, node)
	}
	wg.Wait()
	return results
}

func (g *Gossip) checkLiveness(ctx context.Context, node model.Member) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+node.Addr()+"/api/v1/liveness", nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// SyncStreamConfig forwards a stream create/update to every live ingestor's
// internal sync endpoint so catalog state converges without a shared
// database, then publishes a local invalidation event.
func (g *Gossip) SyncStreamConfig(ctx context.Context, cfg model.StreamConfig) error {
	body, err := json.Marshal(cfg)
	if err != nil {
		return apperrors.NewInternalError("failed to marshal stream config for sync", err)
	}

	results := g.ForEachLiveIngestor(ctx, func(ctx context.Context, node model.Member) error {
		url := fmt.Sprintf("http://%s/api/v1/logstream/%s/sync", node.Addr(), cfg.Name)
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if g.authToken != "" {
			req.Header.Set("Authorization", g.authToken)
		}
		resp, err := g.client.Do(req)
		if err != nil {
			return apperrors.NewClusterError(apperrors.CodeNodeUnreachable, "failed to forward stream sync to "+node.NodeID, err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= 300 {
			return apperrors.NewClusterError(apperrors.CodeNodeUnreachable, fmt.Sprintf("ingestor %s rejected stream sync with status %d", node.NodeID, resp.StatusCode), nil)
		}
		return nil
	})

	if g.notifier != nil {
		g.notifier.Publish(router.Notification{
			Type:      router.StreamConfigChanged,
			Stream:    cfg.Name,
			Timestamp: time.Now().UnixNano(),
		})
	}

	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
