package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/RuleNotify/internal/models"
	"github.com/BTreeMap/RuleNotify/internal/rules"
)

// HealthStatus is the result body of GET /healthz.
type HealthStatus struct {
	Service        string `json:"service"`
	DatasetVersion string `json:"dataset_version"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(HealthStatus{
		Service:        "rulenotify",
		DatasetVersion: s.engine.DatasetVersion(),
	}))
}

// decodeRuleRequest reads and validates the request body. On failure it writes the
// response itself and returns false.
func decodeRuleRequest(w http.ResponseWriter, r *http.Request, handler string) (models.RuleRequest, bool) {
	var req models.RuleRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		slog.Warn(handler+": failed to decode JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return req, false
	}
	if err := req.Validate(); err != nil {
		slog.Warn(handler+": validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	return req, true
}

func (s *Server) parseHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRuleRequest(w, r, "Server.parseHandler")
	if !ok {
		return
	}
	rule, err := rules.Parse(req.Rule)
	if err != nil {
		slog.Info("Server.parseHandler: rule did not parse", "error", err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	slog.Debug("Server.parseHandler: parsed rule", "rule_id", rule.ID, "conditions", len(rule.Conditions), "actions", len(rule.Actions))
	writeJSONResponse(w, http.StatusOK, models.Success(rule))
}

func (s *Server) evaluateHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRuleRequest(w, r, "Server.evaluateHandler")
	if !ok {
		return
	}
	result, err := s.engine.EvaluateRun(r.Context(), req.Rule, req.Limit)
	var parseErr *rules.ParseError
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, models.Success(result))
	case errors.As(err, &parseErr):
		writeJSONResponse(w, http.StatusUnprocessableEntity, models.ErrorWithResult(err.Error(), result))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		slog.Warn("Server.evaluateHandler: evaluation aborted", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Evaluation timed out")
	default:
		slog.Error("Server.evaluateHandler: evaluation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Evaluation failed")
	}
}
