package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/marginops/dealguard/internal/aiport"
	"github.com/marginops/dealguard/internal/domain"
	"github.com/marginops/dealguard/internal/guardrail"
	"github.com/marginops/dealguard/internal/workflow"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	workflow  *workflow.Service
	validator *guardrail.Validator
	facade    *aiport.Facade
	version   string
}

// NewHandler creates a new API handler. facade may be nil when the AI
// metrics endpoint is not wanted.
func NewHandler(repo domain.Repository, cache domain.Cache, wf *workflow.Service, validator *guardrail.Validator, facade *aiport.Facade, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		workflow:  wf,
		validator: validator,
		facade:    facade,
		version:   version,
	}
}

// CreateRequestBody is the request body for POST /requests.
type CreateRequestBody struct {
	CustomerID           string               `json:"customerId"`
	SalespersonID        string               `json:"salespersonId"`
	SalespersonRole      string               `json:"salespersonRole,omitempty"`
	Items                []domain.RequestItem `json:"items"`
	RequestedDiscountPct float64              `json:"requestedDiscountPct"`
	EstimatedMarginPct   *float64             `json:"estimatedMarginPct,omitempty"`
	Justification        string               `json:"justification,omitempty"`
}

// CreateRequest handles POST /requests.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var body CreateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	req := &domain.DiscountRequest{
		TenantID:             tenantID,
		CustomerID:           body.CustomerID,
		SalespersonID:        body.SalespersonID,
		SalespersonRole:      body.SalespersonRole,
		Items:                body.Items,
		RequestedDiscountPct: body.RequestedDiscountPct,
		EstimatedMarginPct:   body.EstimatedMarginPct,
		Justification:        body.Justification,
	}

	created, err := h.workflow.CreateRequest(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// GetRequest handles GET /requests/{id}.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	requestID := chi.URLParam(r, "id")

	req, err := h.repo.GetRequest(ctx, tenantID, requestID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, req)
}

// EvaluateRequest handles POST /requests/{id}/evaluate. Runs guardrails,
// risk scoring, and the auto-approval gate synchronously.
func (h *Handler) EvaluateRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	requestID := chi.URLParam(r, "id")

	eval, err := h.workflow.EvaluateRequest(ctx, tenantID, requestID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// DecisionBody is the request body for the decision endpoints.
type DecisionBody struct {
	ApproverID string `json:"approverId"`
	Comment    string `json:"comment,omitempty"`
}

// Approve handles POST /requests/{id}/approve.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, domain.ActionApprove)
}

// Reject handles POST /requests/{id}/reject.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, domain.ActionReject)
}

// RequestAdjustment handles POST /requests/{id}/adjust.
func (h *Handler) RequestAdjustment(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, domain.ActionRequestAdjustment)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, action string) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	requestID := chi.URLParam(r, "id")

	var body DecisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	req, err := h.workflow.Decide(ctx, tenantID, requestID, body.ApproverID, action, body.Comment)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, req)
}

// GetRecommendation handles GET /requests/{id}/recommendation.
func (h *Handler) GetRecommendation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	requestID := chi.URLParam(r, "id")

	rec, err := h.workflow.Recommend(ctx, tenantID, requestID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// GetExplanation handles GET /requests/{id}/explanation.
func (h *Handler) GetExplanation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	requestID := chi.URLParam(r, "id")

	exp, err := h.workflow.Explain(ctx, tenantID, requestID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, exp)
}

// ListApprovals handles GET /requests/{id}/approvals.
func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	requestID := chi.URLParam(r, "id")

	approvals, err := h.repo.ListApprovalsByRequest(ctx, tenantID, requestID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"approvals": approvals,
		"count":     len(approvals),
	})
}

// GetEvaluation handles GET /evaluations/{id}.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	evalID := chi.URLParam(r, "id")

	eval, err := h.repo.GetEvaluation(ctx, tenantID, evalID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// SaveCustomer handles PUT /customers/{id}.
func (h *Handler) SaveCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	customerID := chi.URLParam(r, "id")

	var customer domain.Customer
	if err := json.NewDecoder(r.Body).Decode(&customer); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	customer.ID = customerID
	customer.TenantID = tenantID
	if customer.Status == "" {
		customer.Status = domain.CustomerActive
	}
	now := time.Now().UTC()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}
	customer.UpdatedAt = now

	if err := h.repo.SaveCustomer(ctx, tenantID, &customer); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &customer)
}

// GetCustomer handles GET /customers/{id}.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	customerID := chi.URLParam(r, "id")

	customer, err := h.repo.GetCustomer(ctx, tenantID, customerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, customer)
}

// CreateRuleRequest is the request body for creating a business rule.
type CreateRuleRequest struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Type        domain.RuleType  `json:"type"`
	Scope       domain.RuleScope `json:"scope"`
	TargetID    string           `json:"targetId,omitempty"`
	Params      json.RawMessage  `json:"params"`
	WarnOnly    bool             `json:"warnOnly"`
	Active      bool             `json:"active"`
}

// CreateRule handles POST /rules. The rule is validated (including CEL
// compilation for custom rules) before it is persisted.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Name == "" || req.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and type are required",
		})
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Scope == "" {
		req.Scope = domain.ScopeGlobal
	}

	now := time.Now().UTC()
	rule := &domain.BusinessRule{
		ID:          req.ID,
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Type:        req.Type,
		Scope:       req.Scope,
		TargetID:    req.TargetID,
		Params:      req.Params,
		WarnOnly:    req.WarnOnly,
		Active:      req.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.validator.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveBusinessRule(ctx, tenantID, rule); err != nil {
		slog.Error("failed to save business rule", "id", rule.ID, "error", err)
		writeError(w, err)
		return
	}

	slog.Info("business rule created", "tenant_id", tenantID, "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ListRules handles GET /rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	rules, err := h.repo.ListBusinessRules(ctx, tenantID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  rules,
		"count":  len(rules),
		"loaded": h.validator.RulesCount(tenantID),
	})
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetBusinessRule(ctx, tenantID, ruleID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// ReloadRules handles POST /rules/reload. Recompiles the tenant's rules
// from storage into the validator without a restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	count, err := h.workflow.ReloadRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to reload rules", "tenant_id", tenantID, "error", err)
		writeError(w, err)
		return
	}

	slog.Info("rules reloaded", "tenant_id", tenantID, "count", count)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

// GetGovernance handles GET /governance. Tenants without stored settings
// get the conservative defaults.
func (h *Handler) GetGovernance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	settings, err := h.repo.GetGovernanceSettings(ctx, tenantID)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusOK, domain.DefaultGovernanceSettings(tenantID))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

// UpdateGovernance handles PUT /governance.
func (h *Handler) UpdateGovernance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var settings domain.AIGovernanceSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if settings.MaxRiskScoreForAutoApproval < 0 || settings.MaxRiskScoreForAutoApproval > 100 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "maxRiskScoreForAutoApproval must be in [0,100]",
		})
		return
	}
	if settings.MinConfidenceForAutoApproval < 0 || settings.MinConfidenceForAutoApproval > 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "minConfidenceForAutoApproval must be in [0,1]",
		})
		return
	}
	if settings.MaxAutoApprovalDiscountPct < 0 || settings.MaxAutoApprovalDiscountPct > 100 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "maxAutoApprovalDiscountPct must be in [0,100]",
		})
		return
	}

	settings.TenantID = tenantID
	settings.UpdatedAt = time.Now().UTC()

	if err := h.repo.SaveGovernanceSettings(ctx, &settings); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("governance settings updated",
		"tenant_id", tenantID,
		"ai_enabled", settings.AIEnabled,
		"require_human_review", settings.RequireHumanReview,
	)
	writeJSON(w, http.StatusOK, &settings)
}

// AIMetrics handles GET /metrics/ai. Exposes per-operation counters,
// latency percentiles, and circuit breaker states from the AI facade.
func (h *Handler) AIMetrics(w http.ResponseWriter, r *http.Request) {
	if h.facade == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "ai facade not available",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"operations": h.facade.Metrics().Snapshot(),
		"breakers":   h.facade.BreakerStates(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
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

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidScore):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	default:
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
