package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stratumlake/stratum/internal/staging"
)

// LiveQueryHandler serves POST /api/v1/query-live, the cluster-internal
// fan-out target: return this ingestor's currently staged, unpublished
// rows for the queried stream as a raw JSON array. The caller (another
// node's Gossip.FanOutQuery) applies filtering and projection itself; this
// endpoint does no SQL evaluation, it just hands back what it has.
type LiveQueryHandler struct {
	staging *staging.Engine
}

// NewLiveQueryHandler creates a LiveQueryHandler over this node's staging engine.
func NewLiveQueryHandler(stagingEngine *staging.Engine) *LiveQueryHandler {
	return &LiveQueryHandler{staging: stagingEngine}
}

func (h *LiveQueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req liveQueryBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if req.Stream == "" {
		writeError(w, http.StatusBadRequest, "stream is required", requestID)
		return
	}

	records, err := h.staging.ScanStream(req.Stream)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("scan failed: %v", err), requestID)
		return
	}
	if records == nil {
		records = []json.RawMessage{}
	}

	writeJSON(w, http.StatusOK, records)
}

// liveQueryBody mirrors cluster.LiveQueryRequest's wire shape, decoded
// here independently to avoid a dependency from the HTTP package back
// onto the cluster package for just this struct.
type liveQueryBody struct {
	Stream    string `json:"stream"`
	Query     string `json:"query"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}
