package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stratumlake/stratum/internal/query/parser"
	"github.com/stratumlake/stratum/internal/queryengine"
)

// QueryRequest is the body of POST /api/v1/query and /api/v1/query-live.
type QueryRequest struct {
	Query     string    `json:"query"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// QueryHandler serves POST /api/v1/query: parse SQL, execute against
// published artifacts plus a live ingestor fan-out, return a JSON array
// of result rows. A partial fan-out sets X-P-Partial: true rather than
// failing the request.
type QueryHandler struct {
	engine *queryengine.Engine
}

// NewQueryHandler creates a QueryHandler over the process-wide query engine.
func NewQueryHandler(engine *queryengine.Engine) *QueryHandler {
	return &QueryHandler{engine: engine}
}

func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required", requestID)
		return
	}

	stmt, err := parser.Parse(req.Query)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid SQL: %v", err), requestID)
		return
	}
	selectStmt, ok := stmt.(*parser.SelectStatement)
	if !ok {
		writeError(w, http.StatusBadRequest, "only SELECT statements are supported", requestID)
		return
	}

	startTime, endTime := req.StartTime, req.EndTime
	if endTime.IsZero() {
		endTime = time.Now().UTC()
	}
	if startTime.IsZero() {
		startTime = endTime.Add(-24 * time.Hour)
	}

	result, err := h.engine.Execute(r.Context(), selectStmt, startTime, endTime)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("query execution failed: %v", err), requestID)
		return
	}

	if result.Partial {
		w.Header().Set("X-P-Partial", "true")
	}

	rows := rowsToObjects(result.Columns, result.Rows)
	writeJSON(w, http.StatusOK, rows)
}

// rowsToObjects turns a column-projected row set into the array-of-objects
// shape the HTTP query response uses, keyed by column name.
func rowsToObjects(columns []string, rows [][]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if i < len(row) {
				obj[col] = row[i]
			}
		}
		out = append(out, obj)
	}
	return out
}
