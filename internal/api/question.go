package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dataomen/dataomen/internal/answer"
	"github.com/dataomen/dataomen/internal/compiler"
)

type questionRequest struct {
	Question      string `json:"question"`
	WithNarrative bool   `json:"with_narrative"`
}

type questionResponse struct {
	Question  string           `json:"question"`
	SQL       string           `json:"sql"`
	Rationale string           `json:"rationale"`
	Display   compiler.Display `json:"display"`
	Columns   []string         `json:"columns"`
	Rows      [][]any          `json:"rows"`
	Attempts  int              `json:"attempts"`
	Narrative string           `json:"narrative,omitempty"`
}

func handleQuestion(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Answer == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUESTIONS_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, "query_reader"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request questionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid question request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	result, err := deps.Answer.Ask(r.Context(), tenantID, r.PathValue("dataset"), request.Question)
	if err != nil {
		var exhausted *answer.ExhaustedError
		if errors.As(err, &exhausted) {
			writeError(r.Context(), w, http.StatusUnprocessableEntity, "QUESTION_EXHAUSTED", exhausted.Error(), false, map[string]any{"attempts": exhausted.Attempts})
			return
		}
		writeRegistryError(r.Context(), w, err, "failed to answer question")
		return
	}

	response := questionResponse{
		Question:  result.Question,
		SQL:       result.SQL,
		Rationale: result.Rationale,
		Display:   result.Display,
		Columns:   result.Columns,
		Rows:      result.Rows,
		Attempts:  result.Attempts,
	}
	if request.WithNarrative && deps.Narrator != nil {
		response.Narrative = deps.Narrator.SummarizeResult(r.Context(), result.Question, result.Columns, result.Rows)
	}
	writeJSON(w, http.StatusOK, response)
}

func handleDashboard(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Answer == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUESTIONS_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, "query_reader"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	dashboard, err := deps.Answer.BuildDashboard(r.Context(), tenantID, r.PathValue("dataset"))
	if err != nil {
		writeRegistryError(r.Context(), w, err, "failed to build dashboard")
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}
