package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stratumlake/stratum/internal/catalog"
	"github.com/stratumlake/stratum/internal/cluster"
	"github.com/stratumlake/stratum/internal/model"
)

// StreamHandler serves the /api/v1/logstream[/{name}][/retention] surface
// and the cluster-internal /api/v1/logstream/{name}/sync target that
// Gossip.SyncStreamConfig calls on every live ingestor.
type StreamHandler struct {
	catalog *catalog.Catalog
	gossip  *cluster.Gossip
}

// NewStreamHandler creates a StreamHandler over the process-wide catalog.
// gossip may be nil: a node running in ingest-only mode still serves the
// /sync endpoint but never originates a sync fan-out itself.
func NewStreamHandler(cat *catalog.Catalog, gossip *cluster.Gossip) *StreamHandler {
	return &StreamHandler{catalog: cat, gossip: gossip}
}

type createStreamRequest struct {
	TimePartitionField    string       `json:"time_partition_field,omitempty"`
	CustomPartitionFields []string     `json:"custom_partition_fields,omitempty"`
	StaticSchemaFlag      bool         `json:"static_schema_flag,omitempty"`
	StaticSchema          model.Schema `json:"static_schema,omitempty"`
	Retention             struct {
		Days   int    `json:"days"`
		Action string `json:"action"`
	} `json:"retention,omitempty"`
}

type retentionRequest struct {
	Days   int    `json:"days"`
	Action string `json:"action"`
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/logstream")
	path = strings.Trim(path, "/")
	if path == "" {
		h.serveList(w, r)
		return
	}

	parts := strings.SplitN(path, "/", 2)
	name := parts[0]

	if len(parts) == 2 {
		switch parts[1] {
		case "retention":
			h.serveRetention(w, r, name)
			return
		case "sync":
			h.serveSync(w, r, name)
			return
		default:
			writeError(w, http.StatusNotFound, "unknown sub-resource", requestID)
			return
		}
	}

	switch r.Method {
	case http.MethodPut:
		h.serveCreate(w, r, name)
	case http.MethodGet:
		h.serveGet(w, r, name)
	case http.MethodDelete:
		h.serveDelete(w, r, name)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
	}
}

func (h *StreamHandler) serveList(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	writeJSON(w, http.StatusOK, h.catalog.List())
}

func (h *StreamHandler) serveCreate(w http.ResponseWriter, r *http.Request, name string) {
	requestID := GetRequestID(r.Context())

	var req createStreamRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
			return
		}
	}

	cfg := model.StreamConfig{
		Name:                  name,
		TimePartitionField:    req.TimePartitionField,
		CustomPartitionFields: req.CustomPartitionFields,
		StaticSchemaFlag:      req.StaticSchemaFlag,
		StaticSchema:          req.StaticSchema,
		Retention:             model.RetentionPolicy{Days: req.Retention.Days, Action: req.Retention.Action},
		CreatedAt:             time.Now().UTC(),
	}
	if err := catalog.ValidateName(name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	if err := h.catalog.Create(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), requestID)
		return
	}

	if h.gossip != nil {
		if err := h.gossip.SyncStreamConfig(r.Context(), cfg); err != nil {
			warning := fmt.Sprintf("stream %q created but sync to some ingestors failed: %v", name, err)
			writeJSON(w, http.StatusCreated, map[string]string{"status": "created", "warning": warning})
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (h *StreamHandler) serveGet(w http.ResponseWriter, r *http.Request, name string) {
	requestID := GetRequestID(r.Context())
	cfg, ok := h.catalog.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown stream: "+name, requestID)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *StreamHandler) serveDelete(w http.ResponseWriter, r *http.Request, name string) {
	requestID := GetRequestID(r.Context())
	if err := h.catalog.Delete(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StreamHandler) serveRetention(w http.ResponseWriter, r *http.Request, name string) {
	requestID := GetRequestID(r.Context())

	switch r.Method {
	case http.MethodGet:
		cfg, ok := h.catalog.Get(name)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown stream: "+name, requestID)
			return
		}
		writeJSON(w, http.StatusOK, cfg.Retention)
	case http.MethodPut:
		var req retentionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
			return
		}
		policy := model.RetentionPolicy{Days: req.Days, Action: req.Action}
		if err := h.catalog.UpdateRetention(r.Context(), name, policy); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error(), requestID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
	}
}

// serveSync is the cluster-internal endpoint a querier's
// Gossip.SyncStreamConfig PUTs a stream's config to on every live
// ingestor, so stream creation and retention changes propagate without
// waiting on each ingestor's own catalog rebuild.
func (h *StreamHandler) serveSync(w http.ResponseWriter, r *http.Request, name string) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var cfg model.StreamConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	cfg.Name = name

	if err := h.catalog.Upsert(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}
