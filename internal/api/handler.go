package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kestrelhq/kestrel/internal/alerting"
	"github.com/kestrelhq/kestrel/internal/domain"
	"github.com/kestrelhq/kestrel/internal/engine"
	"github.com/kestrelhq/kestrel/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	bus      domain.EventBus
	engine   *engine.Engine
	workflow *alerting.Workflow
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, bus domain.EventBus, eng *engine.Engine, workflow *alerting.Workflow, version string) *Handler {
	return &Handler{
		repo:     repo,
		bus:      bus,
		engine:   eng,
		workflow: workflow,
		version:  version,
	}
}

// TransactionRequest is the request body for POST /evaluate.
type TransactionRequest struct {
	ID           string         `json:"id,omitempty"`
	AccountID    string         `json:"accountId"`
	Amount       float64        `json:"amount"`
	Currency     string         `json:"currency"`
	Timestamp    time.Time      `json:"timestamp,omitempty"`
	Type         string         `json:"type"`
	Counterparty string         `json:"counterparty,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// EvaluateResponse is the response for POST /evaluate.
type EvaluateResponse struct {
	EvaluationID string              `json:"evaluationId"`
	TxID         string              `json:"txId"`
	Score        float64             `json:"score"`
	Tier         string              `json:"tier"`
	AlertID      string              `json:"alertId,omitempty"`
	RuleResults  []domain.RuleResult `json:"ruleResults"`

	Metadata domain.EvaluationMetadata `json:"metadata"`
}

// Evaluate handles POST /evaluate requests: it runs one transaction through
// the full pipeline synchronously and returns the evaluation.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "type is required",
		})
		return
	}
	if req.AccountID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "accountId is required",
		})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}

	txID := req.ID
	if txID == "" {
		txID = uuid.New().String()
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	tx := &domain.Transaction{
		ID:           txID,
		AccountID:    req.AccountID,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Timestamp:    ts,
		Type:         req.Type,
		Counterparty: req.Counterparty,
		CreatedAt:    time.Now().UTC(),
		Metadata:     req.Metadata,
	}

	eval, alert, err := h.engine.EvaluateTransaction(ctx, tx)
	if err != nil {
		slog.Error("evaluation failed", "tx_id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "evaluation failed",
		})
		return
	}

	resp := EvaluateResponse{
		EvaluationID: eval.ID,
		TxID:         txID,
		Score:        eval.Score,
		Tier:         eval.Tier,
		RuleResults:  eval.RuleResults,
		Metadata:     eval.Metadata,
	}
	if alert != nil {
		resp.AlertID = alert.ID
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetEvaluation retrieves an evaluation by ID.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	evalID := chi.URLParam(r, "id")

	eval, err := h.repo.GetEvaluation(r.Context(), evalID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get evaluation", "id", evalID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "evaluation not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(r.Context(), txID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get transaction", "id", txID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListRules returns the rule definitions currently active in the registry.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	snapshot := h.engine.Registry().Snapshot()

	defs := make([]*domain.RuleDefinition, 0, snapshot.Len())
	for _, rule := range snapshot.Rules() {
		defs = append(defs, rule.Definition())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":    defs,
		"count":    len(defs),
		"loadedAt": snapshot.LoadedAt(),
	})
}

// GetRule retrieves a rule definition by ID from the repository.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	def, err := h.repo.GetRuleDefinition(r.Context(), ruleID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get rule", "id", ruleID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, def)
}

// CreateRule validates and persists a rule definition. The new definition
// takes effect after POST /rules/reload.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var def domain.RuleDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if def.ID == "" || def.Type == "" || def.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, type, and name are required",
		})
		return
	}

	// Reject invalid definitions before they reach the database: instantiate
	// once against the parameter schema.
	if _, err := h.engine.Registry().Instantiate(&def); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule definition: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveRuleDefinition(ctx, &def); err != nil {
		slog.Error("failed to save rule definition", "id", def.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("rule created", "id", def.ID, "type", def.Type, "name", def.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    def,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all rule definitions from the database into the
// registry. This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	count, err := h.engine.ReloadDefinitions(r.Context())
	if err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

// ListAlerts returns alerts, optionally filtered by ?state=.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	state := domain.AlertState(r.URL.Query().Get("state"))

	alerts, err := h.repo.ListAlerts(r.Context(), state)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlert retrieves an alert with its transition history.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")

	alert, err := h.repo.GetAlert(r.Context(), alertID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get alert", "id", alertID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "alert not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// TransitionAlertRequest is the request body for POST /alerts/{id}/transitions.
type TransitionAlertRequest struct {
	To           string `json:"to"`
	Actor        string `json:"actor"`
	Note         string `json:"note,omitempty"`
	Reviewer     string `json:"reviewer,omitempty"`
	Reason       string `json:"reason,omitempty"`
	SARReference string `json:"sarReference,omitempty"`
}

// TransitionAlert advances an alert through the review workflow.
func (h *Handler) TransitionAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")

	var req TransitionAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.To == "" || req.Actor == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "to and actor are required",
		})
		return
	}

	alert, err := h.workflow.Transition(r.Context(), alertID, alerting.TransitionRequest{
		To:           domain.AlertState(req.To),
		Actor:        req.Actor,
		Note:         req.Note,
		Reviewer:     req.Reviewer,
		Reason:       req.Reason,
		SARReference: req.SARReference,
	})
	if err != nil {
		var invalid *domain.InvalidTransitionError
		switch {
		case errors.As(err, &invalid):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": invalid.Error(),
			})
		case errors.Is(err, repository.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert not found",
			})
		default:
			slog.Error("alert transition failed", "id", alertID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "alert transition failed",
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
