package api

import (
	"net/http"
	"strings"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/workflow"
)

type askRequest struct {
	Question     string `json:"question"`
	IncludeTrace bool   `json:"include_trace"`
}

type askResponse struct {
	Answer   string             `json:"answer"`
	SQL      string             `json:"sql,omitempty"`
	Step     string             `json:"step"`
	Attempts int                `json:"attempts"`
	Result   *query.Result      `json:"result,omitempty"`
	Trace    []workflow.Message `json:"trace,omitempty"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Workflow == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAsk); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request askRequest
	if err := decodeStrict(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	state, err := deps.Workflow.Run(r.Context(), request.Question)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REJECTED", err.Error(), false, nil)
		return
	}

	response := askResponse{
		Answer:   state.Answer,
		SQL:      state.SQL,
		Step:     string(state.Step),
		Attempts: state.Attempts,
		Result:   state.Result,
	}
	if request.IncludeTrace {
		response.Trace = state.Trace
	}
	writeJSON(w, http.StatusOK, response)
}
