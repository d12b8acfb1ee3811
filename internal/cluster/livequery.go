package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/stratumlake/stratum/internal/apperrors"
	"github.com/stratumlake/stratum/internal/model"
)

// LiveQueryRequest is forwarded verbatim to /api/v1/query-live on every
// live ingestor, which returns the rows it currently has staged for
// Stream. The ingestor does not evaluate Query or the time bounds.
type LiveQueryRequest struct {
	Stream    string    `json:"stream"`
	Query     string    `json:"query"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// LiveQueryBatch is one ingestor's columnar result batch, passed through
// as opaque JSON rows -- the querier unions these with object-store-backed
// results without needing to understand row shape itself.
type LiveQueryBatch struct {
	NodeID string
	Rows   []json.RawMessage
}

// FanOutQuery issues req to every live ingestor in parallel and collects
// whatever batches come back within DefaultFanOutTimeout. A timed-out or
// erroring ingestor never blocks the others; Partial reports whether any
// ingestor was dropped, so callers can set the X-P-Partial response
// header without losing the durable object-store results.
func (g *Gossip) FanOutQuery(ctx context.Context, req LiveQueryRequest) ([]LiveQueryBatch, bool, error) {
	candidates := g.membership.LiveIngestors()
	if len(candidates) == 0 {
		return nil, false, nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, false, apperrors.NewInternalError("failed to marshal live query request", err)
	}

	var (
		mu      sync.Mutex
		batches []LiveQueryBatch
		partial bool
		wg      sync.WaitGroup
	)

	for _, node := range candidates {
		wg.Add(1)
		go func(node model.Member) {
			defer wg.Done()
			batch, err := g.queryOne(ctx, node, body)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				partial = true
				return
			}
			batches = append(batches, batch)
		}(node)
	}
	wg.Wait()

	return batches, partial, nil
}

func (g *Gossip) queryOne(ctx context.Context, node model.Member, body []byte) (LiveQueryBatch, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultFanOutTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/api/v1/query-live", node.Addr())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return LiveQueryBatch{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.authToken != "" {
		httpReq.Header.Set("Authorization", g.authToken)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return LiveQueryBatch{}, apperrors.NewClusterError(apperrors.CodeNodeUnreachable, "live query fan-out to "+node.NodeID+" failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return LiveQueryBatch{}, apperrors.NewClusterError(apperrors.CodeNodeUnreachable, fmt.Sprintf("ingestor %s returned status %d for live query", node.NodeID, resp.StatusCode), nil)
	}

	var rows []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return LiveQueryBatch{}, apperrors.NewClusterError(apperrors.CodeNodeUnreachable, "failed to decode live query response from "+node.NodeID, err)
	}

	return LiveQueryBatch{NodeID: node.NodeID, Rows: rows}, nil
}
