package api

import (
	"net/http"
	"strings"

	"github.com/askdb/askdb/internal/auth"
)

type queryRequest struct {
	SQL      string `json:"sql"`
	RowLimit int    `json:"row_limit,omitempty"`
}

type queryResponse struct {
	Columns []string       `json:"columns"`
	Rows    [][]any        `json:"rows"`
	Stats   map[string]any `json:"stats"`
}

// handleQuery runs caller-supplied SQL through the same gate and executor
// as generated SQL; there is no privileged path around the classifier.
func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Classifier == nil || deps.Runner == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAsk); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request queryRequest
	if err := decodeStrict(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	if request.RowLimit < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ROW_LIMIT", "row_limit must not be negative", false, nil)
		return
	}

	verdict := deps.Classifier.Check(request.SQL)
	if !verdict.Safe {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_BLOCKED", "query blocked for security reasons", false, map[string]any{
			"reason": verdict.Reason,
		})
		return
	}

	outcome := deps.Runner.Run(r.Context(), request.SQL)
	if outcome.IsError() {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", outcome.Err.Message, false, map[string]any{
			"kind": string(outcome.Err.Kind),
		})
		return
	}

	rows := outcome.Result.Rows
	truncated := false
	if request.RowLimit > 0 && len(rows) > request.RowLimit {
		rows = rows[:request.RowLimit]
		truncated = true
	}

	stats := map[string]any{
		"duration_ms": outcome.Result.Duration.Milliseconds(),
		"row_count":   len(outcome.Result.Rows),
	}
	if truncated {
		stats["truncated"] = true
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Columns: outcome.Result.Columns,
		Rows:    rows,
		Stats:   stats,
	})
}
