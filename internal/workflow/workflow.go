// Package workflow orchestrates the discount request lifecycle: intake,
// guardrail validation, risk scoring, the auto-approval gate, and human
// decisions.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marginops/dealguard/internal/domain"
	"github.com/marginops/dealguard/internal/gate"
	"github.com/marginops/dealguard/internal/guardrail"
	"github.com/marginops/dealguard/internal/history"
)

// autoApprovalCounterWindow is the tally window for per-tenant auto-approval
// counters kept in the cache.
const autoApprovalCounterWindow = 24 * time.Hour

// Service runs the discount approval workflow. All entry points are
// tenant-scoped and safe for concurrent use.
type Service struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	ai        domain.AIService
	validator *guardrail.Validator
	history   *history.Service
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.Mutex
	rulesLoaded map[string]bool
}

// NewService wires the workflow. cache and bus may be nil in minimal setups;
// repo, ai, validator, and history are required.
func NewService(repo domain.Repository, cache domain.Cache, bus domain.EventBus, ai domain.AIService, validator *guardrail.Validator, hist *history.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		cache:       cache,
		bus:         bus,
		ai:          ai,
		validator:   validator,
		history:     hist,
		logger:      logger,
		now:         time.Now,
		rulesLoaded: make(map[string]bool),
	}
}

// CreateRequest validates and persists a new discount request and announces
// it for evaluation.
func (s *Service) CreateRequest(ctx context.Context, req *domain.DiscountRequest) (*domain.DiscountRequest, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Status = domain.StatusUnderAnalysis
	now := s.now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	req.DecidedAt = nil
	req.RiskScore = nil

	if err := req.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.SaveRequest(ctx, req.TenantID, req); err != nil {
		return nil, fmt.Errorf("failed to save request: %w", err)
	}

	s.publish(ctx, req.TenantID, domain.TopicRequestCreated, req)

	s.logger.Info("discount request created",
		"tenant_id", req.TenantID,
		"request_id", req.ID,
		"discount_pct", req.RequestedDiscountPct)
	return req, nil
}

// EvaluateRequest runs the full evaluation pipeline for a pending request:
// guardrails, risk scoring, and the auto-approval gate. Qualified requests
// are auto-approved in the same call; everything else is routed to review.
func (s *Service) EvaluateRequest(ctx context.Context, tenantID, requestID string) (*domain.AutoApprovalEvaluation, error) {
	req, err := s.repo.GetRequest(ctx, tenantID, requestID)
	if err != nil {
		return nil, err
	}
	if !req.IsPending() {
		return nil, fmt.Errorf("%w: request %s is already %s", domain.ErrInvalidTransition, requestID, req.Status)
	}

	if err := s.ensureRules(ctx, tenantID); err != nil {
		return nil, err
	}

	ec, err := s.history.BuildContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build evaluation context: %w", err)
	}

	guardrailResult := s.validator.Validate(ctx, ec)

	assessment, err := s.ai.CalculateRiskScore(ctx, ec)
	if err != nil {
		return nil, fmt.Errorf("risk scoring failed: %w", err)
	}

	if err := req.SetRiskScore(assessment.Score); err != nil {
		return nil, err
	}

	settings, err := s.governanceSettings(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	eval := gate.Evaluate(&gate.Input{
		Request:    req,
		Settings:   settings,
		Guardrail:  guardrailResult,
		Assessment: assessment,
	}, s.now())

	if err := s.repo.SaveEvaluation(ctx, tenantID, eval); err != nil {
		return nil, fmt.Errorf("failed to save evaluation: %w", err)
	}
	s.publish(ctx, tenantID, domain.TopicRequestEvaluated, eval)

	if eval.CanAutoApprove {
		if err := s.autoApprove(ctx, req, eval); err != nil {
			return nil, err
		}
	} else {
		// Persist the risk score and hand the request to a human.
		if err := s.repo.SaveRequest(ctx, tenantID, req); err != nil {
			return nil, fmt.Errorf("failed to update request: %w", err)
		}
		s.publish(ctx, tenantID, domain.TopicReview, req)
	}

	s.logger.Info("request evaluated",
		"tenant_id", tenantID,
		"request_id", requestID,
		"risk_score", assessment.Score,
		"risk_source", assessment.Source,
		"auto_approved", eval.CanAutoApprove)
	return eval, nil
}

func (s *Service) autoApprove(ctx context.Context, req *domain.DiscountRequest, eval *domain.AutoApprovalEvaluation) error {
	now := s.now().UTC()
	if err := req.AutoApprove(now); err != nil {
		return err
	}
	if err := s.repo.SaveRequest(ctx, req.TenantID, req); err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}

	approval := &domain.Approval{
		ID:         uuid.NewString(),
		TenantID:   req.TenantID,
		RequestID:  req.ID,
		ApproverID: domain.SystemApproverID,
		Action:     domain.ActionAutoApprove,
		Comment:    eval.ApprovalReason,
		RiskScore:  req.RiskScore,
		CreatedAt:  now,
	}
	if err := s.repo.SaveApproval(ctx, req.TenantID, approval); err != nil {
		return fmt.Errorf("failed to save approval: %w", err)
	}

	if s.cache != nil {
		if _, err := s.cache.IncrementCounter(ctx, req.TenantID, "auto_approvals", autoApprovalCounterWindow); err != nil {
			s.logger.Warn("failed to bump auto-approval counter", "error", err)
		}
	}

	s.publish(ctx, req.TenantID, domain.TopicDecision, approval)
	return nil
}

// Decide applies a human decision to a pending request and records it in
// the audit trail. Decided requests optionally feed the learning loop.
func (s *Service) Decide(ctx context.Context, tenantID, requestID, approverID, action, comment string) (*domain.DiscountRequest, error) {
	if approverID == "" {
		return nil, fmt.Errorf("%w: approverID is required", domain.ErrInvalidInput)
	}

	req, err := s.repo.GetRequest(ctx, tenantID, requestID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	switch action {
	case domain.ActionApprove:
		err = req.Approve(now)
	case domain.ActionReject:
		err = req.Reject(now)
	case domain.ActionRequestAdjustment:
		err = req.RequestAdjustment(now)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidInput, action)
	}
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveRequest(ctx, tenantID, req); err != nil {
		return nil, fmt.Errorf("failed to update request: %w", err)
	}

	approval := &domain.Approval{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		RequestID:  requestID,
		ApproverID: approverID,
		Action:     action,
		Comment:    comment,
		RiskScore:  req.RiskScore,
		CreatedAt:  now,
	}
	if err := s.repo.SaveApproval(ctx, tenantID, approval); err != nil {
		return nil, fmt.Errorf("failed to save approval: %w", err)
	}

	s.publish(ctx, tenantID, domain.TopicDecision, approval)
	s.feedLearning(ctx, tenantID, req)

	s.logger.Info("request decided",
		"tenant_id", tenantID,
		"request_id", requestID,
		"action", action,
		"approver_id", approverID)
	return req, nil
}

// Recommend returns the AI's (or fallback's) suggested discount for a
// request in its current state.
func (s *Service) Recommend(ctx context.Context, tenantID, requestID string) (*domain.DiscountRecommendation, error) {
	req, err := s.repo.GetRequest(ctx, tenantID, requestID)
	if err != nil {
		return nil, err
	}
	ec, err := s.history.BuildContext(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.ai.RecommendDiscount(ctx, ec)
}

// Explain narrates the decision on a request using the stored evaluation
// when one exists.
func (s *Service) Explain(ctx context.Context, tenantID, requestID string) (*domain.DecisionExplanation, error) {
	req, err := s.repo.GetRequest(ctx, tenantID, requestID)
	if err != nil {
		return nil, err
	}

	expReq := &domain.ExplanationRequest{
		TenantID: tenantID,
		Request:  req,
	}
	if req.RiskScore != nil {
		expReq.Assessment = &domain.RiskAssessment{Score: *req.RiskScore}
	}
	return s.ai.ExplainDecision(ctx, expReq)
}

// ReloadRules recompiles a tenant's business rules from storage. Called
// after rule mutations and by the reload endpoint.
func (s *Service) ReloadRules(ctx context.Context, tenantID string) (int, error) {
	rules, err := s.repo.ListBusinessRules(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to list business rules: %w", err)
	}
	s.validator.ReloadRules(tenantID, rules)

	s.mu.Lock()
	s.rulesLoaded[tenantID] = true
	s.mu.Unlock()

	return s.validator.RulesCount(tenantID), nil
}

// ensureRules loads the tenant's rules on first use.
func (s *Service) ensureRules(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	loaded := s.rulesLoaded[tenantID]
	s.mu.Unlock()
	if loaded {
		return nil
	}
	_, err := s.ReloadRules(ctx, tenantID)
	return err
}

// governanceSettings loads the tenant's settings, falling back to the
// conservative defaults for tenants that never configured any.
func (s *Service) governanceSettings(ctx context.Context, tenantID string) (*domain.AIGovernanceSettings, error) {
	settings, err := s.repo.GetGovernanceSettings(ctx, tenantID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DefaultGovernanceSettings(tenantID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load governance settings: %w", err)
	}
	return settings, nil
}

// feedLearning submits a decided request as a training data point when the
// tenant opted in. Best effort: training failures never affect decisions.
func (s *Service) feedLearning(ctx context.Context, tenantID string, req *domain.DiscountRequest) {
	settings, err := s.governanceSettings(ctx, tenantID)
	if err != nil || !settings.LearningEnabled {
		return
	}

	var score float64
	if req.RiskScore != nil {
		score = *req.RiskScore
	}
	_, err = s.ai.TrainModel(ctx, &domain.TrainRequest{
		TenantID: tenantID,
		DataPoints: []domain.LearningDataPoint{{
			RequestID:   req.ID,
			Outcome:     string(req.Status),
			RiskScore:   score,
			DiscountPct: req.RequestedDiscountPct,
		}},
	})
	if err != nil {
		s.logger.Debug("learning feedback skipped", "error", err)
	}
}

func (s *Service) publish(ctx context.Context, tenantID, topic string, payload any) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, tenantID, topic, data); err != nil {
		s.logger.Warn("failed to publish event", "topic", topic, "error", err)
	}
}
