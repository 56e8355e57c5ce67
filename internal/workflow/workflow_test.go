package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/marginops/dealguard/internal/domain"
	"github.com/marginops/dealguard/internal/guardrail"
	"github.com/marginops/dealguard/internal/history"
)

// memRepo is an in-memory repository for workflow tests.
type memRepo struct {
	domain.Repository

	mu          sync.Mutex
	requests    map[string]*domain.DiscountRequest
	customers   map[string]*domain.Customer
	rules       []*domain.BusinessRule
	settings    map[string]*domain.AIGovernanceSettings
	evaluations map[string]*domain.AutoApprovalEvaluation
	approvals   []*domain.Approval
}

func newMemRepo() *memRepo {
	return &memRepo{
		requests:    make(map[string]*domain.DiscountRequest),
		customers:   make(map[string]*domain.Customer),
		settings:    make(map[string]*domain.AIGovernanceSettings),
		evaluations: make(map[string]*domain.AutoApprovalEvaluation),
	}
}

func (r *memRepo) SaveRequest(ctx context.Context, tenantID string, req *domain.DiscountRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *req
	r.requests[req.ID] = &cp
	return nil
}

func (r *memRepo) GetRequest(ctx context.Context, tenantID, requestID string) (*domain.DiscountRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[requestID]
	if !ok || req.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (r *memRepo) ListRequestsByCustomer(ctx context.Context, tenantID, customerID string, since time.Time) ([]*domain.DiscountRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.DiscountRequest
	for _, req := range r.requests {
		if req.TenantID == tenantID && req.CustomerID == customerID {
			out = append(out, req)
		}
	}
	return out, nil
}

func (r *memRepo) ListRequestsBySalesperson(ctx context.Context, tenantID, salespersonID string, since time.Time) ([]*domain.DiscountRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.DiscountRequest
	for _, req := range r.requests {
		if req.TenantID == tenantID && req.SalespersonID == salespersonID {
			out = append(out, req)
		}
	}
	return out, nil
}

func (r *memRepo) GetCustomer(ctx context.Context, tenantID, customerID string) (*domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.customers[customerID]; ok && c.TenantID == tenantID {
		return c, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memRepo) ListBusinessRules(ctx context.Context, tenantID string) ([]*domain.BusinessRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.BusinessRule
	for _, rule := range r.rules {
		if rule.TenantID == tenantID {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *memRepo) GetGovernanceSettings(ctx context.Context, tenantID string) (*domain.AIGovernanceSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.settings[tenantID]; ok {
		return s, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memRepo) SaveEvaluation(ctx context.Context, tenantID string, eval *domain.AutoApprovalEvaluation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluations[eval.ID] = eval
	return nil
}

func (r *memRepo) SaveApproval(ctx context.Context, tenantID string, approval *domain.Approval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvals = append(r.approvals, approval)
	return nil
}

// memBus records published events.
type memBus struct {
	domain.EventBus

	mu     sync.Mutex
	events map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{events: make(map[string][][]byte)}
}

func (b *memBus) Publish(ctx context.Context, tenantID, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[topic] = append(b.events[topic], payload)
	return nil
}

func (b *memBus) published(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events[topic])
}

// stubAI returns a fixed risk assessment.
type stubAI struct {
	domain.AIService

	score      float64
	confidence *float64
	trained    int
}

func (s *stubAI) CalculateRiskScore(ctx context.Context, ec *domain.EvaluationContext) (*domain.RiskAssessment, error) {
	return &domain.RiskAssessment{
		Score:      s.score,
		Level:      domain.RiskLow,
		Confidence: s.confidence,
		Source:     domain.SourceAI,
	}, nil
}

func (s *stubAI) TrainModel(ctx context.Context, req *domain.TrainRequest) (*domain.TrainResult, error) {
	s.trained += len(req.DataPoints)
	return &domain.TrainResult{Success: true, DataPointsProcessed: len(req.DataPoints)}, nil
}

func testService(t *testing.T, repo *memRepo, bus *memBus, ai domain.AIService) *Service {
	t.Helper()
	validator, err := guardrail.NewValidator(slog.Default())
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	return NewService(repo, nil, bus, ai, validator, history.NewService(repo), slog.Default())
}

func newRequest(discountPct float64) *domain.DiscountRequest {
	return &domain.DiscountRequest{
		TenantID:      "acme",
		CustomerID:    "cust-1",
		SalespersonID: "sp-1",
		Items: []domain.RequestItem{
			{ProductID: "p1", Quantity: 1, UnitPrice: 1000, DiscountPct: discountPct},
		},
		RequestedDiscountPct: discountPct,
	}
}

func TestCreateRequest(t *testing.T) {
	repo := newMemRepo()
	bus := newMemBus()
	svc := testService(t, repo, bus, &stubAI{score: 10})

	req, err := svc.CreateRequest(context.Background(), newRequest(15))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if req.ID == "" || req.Status != domain.StatusUnderAnalysis {
		t.Errorf("request not initialized: %+v", req)
	}
	if _, err := repo.GetRequest(context.Background(), "acme", req.ID); err != nil {
		t.Errorf("request not persisted: %v", err)
	}
	if bus.published(domain.TopicRequestCreated) != 1 {
		t.Error("created event not published")
	}
}

func TestCreateRequestInvalid(t *testing.T) {
	svc := testService(t, newMemRepo(), newMemBus(), &stubAI{})

	bad := newRequest(15)
	bad.Items = nil
	if _, err := svc.CreateRequest(context.Background(), bad); err == nil {
		t.Error("invalid request must be rejected")
	}
}

func TestEvaluateAutoApproves(t *testing.T) {
	repo := newMemRepo()
	repo.settings["acme"] = &domain.AIGovernanceSettings{
		TenantID:                    "acme",
		AIEnabled:                   true,
		MaxRiskScoreForAutoApproval: 50,
		MaxAutoApprovalDiscountPct:  20,
	}
	bus := newMemBus()
	svc := testService(t, repo, bus, &stubAI{score: 25})

	req, _ := svc.CreateRequest(context.Background(), newRequest(15))
	eval, err := svc.EvaluateRequest(context.Background(), "acme", req.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !eval.CanAutoApprove {
		t.Fatalf("expected auto-approval, got: %v", eval.RejectionDetails)
	}

	stored, _ := repo.GetRequest(context.Background(), "acme", req.ID)
	if stored.Status != domain.StatusAutoApproved {
		t.Errorf("expected auto_approved, got %s", stored.Status)
	}
	if stored.RiskScore == nil || *stored.RiskScore != 25 {
		t.Errorf("risk score not persisted: %v", stored.RiskScore)
	}

	if len(repo.approvals) != 1 {
		t.Fatalf("expected one approval record, got %d", len(repo.approvals))
	}
	approval := repo.approvals[0]
	if approval.ApproverID != domain.SystemApproverID || approval.Action != domain.ActionAutoApprove {
		t.Errorf("wrong approval record: %+v", approval)
	}

	if bus.published(domain.TopicRequestEvaluated) != 1 || bus.published(domain.TopicDecision) != 1 {
		t.Error("evaluated and decision events must be published")
	}
	if bus.published(domain.TopicReview) != 0 {
		t.Error("auto-approved request must not be routed to review")
	}
}

func TestEvaluateRoutesToReview(t *testing.T) {
	repo := newMemRepo()
	// Defaults: AI disabled, human review required.
	bus := newMemBus()
	svc := testService(t, repo, bus, &stubAI{score: 5})

	req, _ := svc.CreateRequest(context.Background(), newRequest(5))
	eval, err := svc.EvaluateRequest(context.Background(), "acme", req.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if eval.CanAutoApprove {
		t.Fatal("default settings must never auto-approve")
	}

	stored, _ := repo.GetRequest(context.Background(), "acme", req.ID)
	if stored.Status != domain.StatusUnderAnalysis {
		t.Errorf("request must stay pending, got %s", stored.Status)
	}
	if stored.RiskScore == nil {
		t.Error("risk score must be persisted even without auto-approval")
	}
	if bus.published(domain.TopicReview) != 1 {
		t.Error("review event not published")
	}
}

func TestEvaluateGuardrailBlocksAutoApproval(t *testing.T) {
	repo := newMemRepo()
	repo.settings["acme"] = &domain.AIGovernanceSettings{
		TenantID:                    "acme",
		AIEnabled:                   true,
		MaxRiskScoreForAutoApproval: 90,
		MaxAutoApprovalDiscountPct:  50,
	}
	params, _ := json.Marshal(domain.DiscountLimitParams{MaxDiscountPct: 10})
	repo.rules = append(repo.rules, &domain.BusinessRule{
		ID:       "limit-10",
		TenantID: "acme",
		Name:     "limit-10",
		Type:     domain.RuleDiscountLimit,
		Scope:    domain.ScopeGlobal,
		Params:   params,
		Active:   true,
	})
	svc := testService(t, repo, newMemBus(), &stubAI{score: 5})

	req, _ := svc.CreateRequest(context.Background(), newRequest(15))
	eval, err := svc.EvaluateRequest(context.Background(), "acme", req.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if eval.CanAutoApprove {
		t.Fatal("guardrail violation must block auto-approval")
	}
	if eval.Guardrail.Valid {
		t.Error("guardrail result must record the violation")
	}
}

func TestEvaluateAlreadyDecided(t *testing.T) {
	repo := newMemRepo()
	svc := testService(t, repo, newMemBus(), &stubAI{score: 5})

	req, _ := svc.CreateRequest(context.Background(), newRequest(5))
	if _, err := svc.Decide(context.Background(), "acme", req.ID, "mgr-1", domain.ActionReject, "no"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.EvaluateRequest(context.Background(), "acme", req.ID); err == nil {
		t.Error("decided requests must not be re-evaluated")
	}
}

func TestDecide(t *testing.T) {
	repo := newMemRepo()
	bus := newMemBus()
	svc := testService(t, repo, bus, &stubAI{score: 5})

	req, _ := svc.CreateRequest(context.Background(), newRequest(5))
	decided, err := svc.Decide(context.Background(), "acme", req.ID, "mgr-1", domain.ActionApprove, "looks good")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decided.Status != domain.StatusApproved {
		t.Errorf("expected approved, got %s", decided.Status)
	}
	if len(repo.approvals) != 1 || repo.approvals[0].ApproverID != "mgr-1" {
		t.Errorf("approval record wrong: %+v", repo.approvals)
	}
	if bus.published(domain.TopicDecision) != 1 {
		t.Error("decision event not published")
	}

	// Second decision on the same request fails.
	if _, err := svc.Decide(context.Background(), "acme", req.ID, "mgr-2", domain.ActionReject, ""); err == nil {
		t.Error("double decision must fail")
	}
}

func TestDecideUnknownAction(t *testing.T) {
	repo := newMemRepo()
	svc := testService(t, repo, newMemBus(), &stubAI{score: 5})

	req, _ := svc.CreateRequest(context.Background(), newRequest(5))
	if _, err := svc.Decide(context.Background(), "acme", req.ID, "mgr-1", "escalate", ""); err == nil {
		t.Error("unknown action must be rejected")
	}
}

func TestDecideFeedsLearning(t *testing.T) {
	repo := newMemRepo()
	repo.settings["acme"] = &domain.AIGovernanceSettings{
		TenantID:        "acme",
		LearningEnabled: true,
	}
	ai := &stubAI{score: 5}
	svc := testService(t, repo, newMemBus(), ai)

	req, _ := svc.CreateRequest(context.Background(), newRequest(5))
	if _, err := svc.Decide(context.Background(), "acme", req.ID, "mgr-1", domain.ActionApprove, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ai.trained != 1 {
		t.Errorf("expected one training data point, got %d", ai.trained)
	}
}

func TestTenantIsolationOnGet(t *testing.T) {
	repo := newMemRepo()
	svc := testService(t, repo, newMemBus(), &stubAI{score: 5})

	req, _ := svc.CreateRequest(context.Background(), newRequest(5))
	if _, err := svc.EvaluateRequest(context.Background(), "other-tenant", req.ID); err == nil {
		t.Error("another tenant must not see the request")
	}
}
