package http

import (
	"io"
	"net/http"

	"github.com/stratumlake/stratum/internal/apperrors"
	"github.com/stratumlake/stratum/internal/catalog"
	"github.com/stratumlake/stratum/internal/ingestpath"
	"github.com/stratumlake/stratum/internal/schema"
	"github.com/stratumlake/stratum/internal/staging"
)

// MaxIngestBodyBytes is the oversize-batch cutoff; larger bodies are
// rejected with 413 before decoding.
const MaxIngestBodyBytes = 10 * 1024 * 1024

// IngestResponse is the body of every POST /api/v1/ingest response.
type IngestResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message,omitempty"`
	IngestedCount  int    `json:"ingested_count"`
}

// IngestHandler serves POST /api/v1/ingest: decode body, reconcile schema,
// append to the staging engine keyed by (stream, minute, customparts,
// fingerprint).
type IngestHandler struct {
	catalog  *catalog.Catalog
	registry *schema.Registry
	staging  *staging.Engine
}

// NewIngestHandler creates an IngestHandler over the process-wide catalog,
// schema registry, and staging engine.
func NewIngestHandler(cat *catalog.Catalog, reg *schema.Registry, stagingEngine *staging.Engine) *IngestHandler {
	return &IngestHandler{catalog: cat, registry: reg, staging: stagingEngine}
}

func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	stream := r.Header.Get("X-P-Stream")
	if stream == "" {
		writeIngestResult(w, http.StatusBadRequest, "X-P-Stream header is required")
		return
	}

	if _, ok := h.catalog.Get(stream); !ok {
		writeIngestResult(w, http.StatusBadRequest, "unknown stream: "+stream)
		return
	}

	limited := http.MaxBytesReader(w, r.Body, MaxIngestBodyBytes)
	body, err := io.ReadAll(limited)
	if err != nil {
		writeIngestResult(w, http.StatusRequestEntityTooLarge, "request body exceeds the 10 MiB ingest limit")
		return
	}

	rows, err := ingestpath.DecodeRows(body)
	if err != nil {
		writeIngestResult(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(rows) == 0 {
		writeIngestResult(w, http.StatusBadRequest, "request body contained no records")
		return
	}

	customParts := r.Header.Get("X-P-Custom-Partition")

	count, err := ingestpath.Append(r.Context(), h.catalog, h.registry, h.staging, stream, customParts, rows)
	if err != nil {
		switch apperrors.GetCode(err) {
		case apperrors.CodeSchemaIncompatible:
			writeIngestResult(w, http.StatusBadRequest, err.Error())
		case apperrors.CodeStagingFull:
			writeIngestResult(w, http.StatusServiceUnavailable, "staging capacity exceeded, retry later")
		default:
			writeIngestResult(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	resp := IngestResponse{Success: true, IngestedCount: count}
	writeJSON(w, http.StatusOK, resp)
}

func writeIngestResult(w http.ResponseWriter, status int, message string) {
	resp := IngestResponse{Success: status == http.StatusOK, Message: message}
	writeJSON(w, status, resp)
}
