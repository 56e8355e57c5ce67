package aiport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marginops/dealguard/internal/domain"
)

// stubAI is a scriptable AIService for facade tests.
type stubAI struct {
	mu    sync.Mutex
	calls int
	fail  error

	recommendation *domain.DiscountRecommendation
	assessment     *domain.RiskAssessment
}

func (s *stubAI) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubAI) RecommendDiscount(ctx context.Context, ec *domain.EvaluationContext) (*domain.DiscountRecommendation, error) {
	s.mu.Lock()
	s.calls++
	fail := s.fail
	rec := s.recommendation
	s.mu.Unlock()

	if fail != nil {
		return nil, fail
	}
	if rec == nil {
		rec = &domain.DiscountRecommendation{DiscountPct: 12, MarginPct: 18, Confidence: 0.9}
	}
	return rec, nil
}

func (s *stubAI) CalculateRiskScore(ctx context.Context, ec *domain.EvaluationContext) (*domain.RiskAssessment, error) {
	s.mu.Lock()
	s.calls++
	fail := s.fail
	assessment := s.assessment
	s.mu.Unlock()

	if fail != nil {
		return nil, fail
	}
	if assessment == nil {
		conf := 0.9
		assessment = &domain.RiskAssessment{Score: 42, Level: domain.RiskMedium, Confidence: &conf}
	}
	return assessment, nil
}

func (s *stubAI) ExplainDecision(ctx context.Context, req *domain.ExplanationRequest) (*domain.DecisionExplanation, error) {
	s.mu.Lock()
	s.calls++
	fail := s.fail
	s.mu.Unlock()

	if fail != nil {
		return nil, fail
	}
	return &domain.DecisionExplanation{Summary: "looks fine"}, nil
}

func (s *stubAI) TrainModel(ctx context.Context, req *domain.TrainRequest) (*domain.TrainResult, error) {
	s.mu.Lock()
	s.calls++
	fail := s.fail
	s.mu.Unlock()

	if fail != nil {
		return nil, fail
	}
	return &domain.TrainResult{Success: true, DataPointsProcessed: len(req.DataPoints)}, nil
}

func (s *stubAI) IsAvailable(ctx context.Context, tenantID string) bool {
	return true
}

// memCache is a minimal in-memory domain.Cache for tests.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Get(ctx context.Context, tenantID, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[tenantID+":"+key], nil
}

func (c *memCache) Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[tenantID+":"+key] = value
	return nil
}

func (c *memCache) Delete(ctx context.Context, tenantID, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, tenantID+":"+key)
	return nil
}

func (c *memCache) IncrementCounter(ctx context.Context, tenantID, key string, window time.Duration) (int64, error) {
	return 0, nil
}

func (c *memCache) Ping(ctx context.Context) error { return nil }
func (c *memCache) Close() error                   { return nil }

func testContext() *domain.EvaluationContext {
	return &domain.EvaluationContext{
		TenantID: "acme",
		Request: &domain.DiscountRequest{
			ID:                   "req-1",
			TenantID:             "acme",
			RequestedDiscountPct: 15,
		},
	}
}

func TestFacadeSuccessPath(t *testing.T) {
	ai := &stubAI{}
	f := NewFacade(ai, nil, nil)

	assessment, err := f.CalculateRiskScore(context.Background(), testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if assessment.Source != domain.SourceAI || assessment.IsFallback {
		t.Errorf("expected AI source, got %+v", assessment)
	}
	if assessment.Score != 42 {
		t.Errorf("expected score 42, got %.1f", assessment.Score)
	}
}

func TestFacadeNilInnerFallsBack(t *testing.T) {
	f := NewFacade(nil, nil, nil)

	assessment, err := f.CalculateRiskScore(context.Background(), testContext())
	if err != nil {
		t.Fatalf("fallback must not error: %v", err)
	}
	if !assessment.IsFallback || assessment.FallbackReason != domain.FallbackReasonDisabled {
		t.Errorf("expected disabled fallback, got %+v", assessment)
	}

	rec, err := f.RecommendDiscount(context.Background(), testContext())
	if err != nil {
		t.Fatalf("fallback must not error: %v", err)
	}
	if rec.DiscountPct != 5 || rec.Confidence != 0.5 || !rec.IsFallback {
		t.Errorf("expected conservative fallback recommendation, got %+v", rec)
	}

	if f.IsAvailable(context.Background(), "acme") {
		t.Error("nil inner must report unavailable")
	}
}

func TestFacadeErrorFallsBack(t *testing.T) {
	ai := &stubAI{fail: errors.New("model exploded")}
	f := NewFacade(ai, nil, nil)

	assessment, err := f.CalculateRiskScore(context.Background(), testContext())
	if err != nil {
		t.Fatalf("errors must not surface: %v", err)
	}
	if !assessment.IsFallback || assessment.FallbackReason != domain.FallbackReasonError {
		t.Errorf("expected error fallback, got %+v", assessment)
	}

	// The fallback runs the deterministic path: 15% discount, no history.
	if assessment.Breakdown.DiscountDeviationScore != 50 {
		t.Errorf("fallback must use rule-based scoring, got %+v", assessment.Breakdown)
	}
}

func TestFacadeTimeoutFallsBack(t *testing.T) {
	ai := &stubAI{fail: context.DeadlineExceeded}
	f := NewFacade(ai, nil, nil)

	assessment, err := f.CalculateRiskScore(context.Background(), testContext())
	if err != nil {
		t.Fatalf("timeouts must not surface: %v", err)
	}
	if assessment.FallbackReason != domain.FallbackReasonTimeout {
		t.Errorf("expected timeout fallback, got %s", assessment.FallbackReason)
	}

	snap := f.Metrics().Snapshot()[OpRiskScore]
	if snap.Timeouts != 1 || snap.Fallbacks != 1 {
		t.Errorf("timeout metrics not recorded: %+v", snap)
	}
}

func TestFacadeRejectsOutOfRangeScore(t *testing.T) {
	ai := &stubAI{assessment: &domain.RiskAssessment{Score: 150}}
	f := NewFacade(ai, nil, nil)

	assessment, err := f.CalculateRiskScore(context.Background(), testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !assessment.IsFallback {
		t.Error("out-of-range AI score must be replaced by the fallback")
	}
	if assessment.Score < 0 || assessment.Score > 100 {
		t.Errorf("fallback score out of bounds: %.1f", assessment.Score)
	}
}

func TestFacadeCircuitBreakerOpens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	ai := &stubAI{fail: errors.New("down")}
	f := NewFacade(ai, nil, nil, WithClock(clock))
	ctx := context.Background()

	for i := 0; i < breakerFailureThreshold; i++ {
		if _, err := f.CalculateRiskScore(ctx, testContext()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := ai.callCount(); got != breakerFailureThreshold {
		t.Fatalf("expected %d inner calls, got %d", breakerFailureThreshold, got)
	}

	// The breaker is now open: the next call skips the AI entirely.
	assessment, _ := f.CalculateRiskScore(ctx, testContext())
	if assessment.FallbackReason != domain.FallbackReasonCircuitOpen {
		t.Errorf("expected circuit_open fallback, got %s", assessment.FallbackReason)
	}
	if got := ai.callCount(); got != breakerFailureThreshold {
		t.Errorf("open breaker must not call the AI: %d calls", got)
	}

	// After the cooldown one trial call goes through; success closes it.
	now = now.Add(breakerOpenDuration)
	ai.mu.Lock()
	ai.fail = nil
	ai.mu.Unlock()

	assessment, _ = f.CalculateRiskScore(ctx, testContext())
	if assessment.IsFallback {
		t.Errorf("trial call should have reached the recovered AI: %+v", assessment)
	}

	assessment, _ = f.CalculateRiskScore(ctx, testContext())
	if assessment.IsFallback {
		t.Error("breaker should be closed after trial success")
	}
}

func TestFacadeBreakerReopensOnTrialFailure(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	ai := &stubAI{fail: errors.New("down")}
	f := NewFacade(ai, nil, nil, WithClock(clock))
	ctx := context.Background()

	for i := 0; i < breakerFailureThreshold; i++ {
		f.CalculateRiskScore(ctx, testContext())
	}

	now = now.Add(breakerOpenDuration)
	// Trial fails, breaker re-opens immediately.
	f.CalculateRiskScore(ctx, testContext())
	calls := ai.callCount()

	f.CalculateRiskScore(ctx, testContext())
	if got := ai.callCount(); got != calls {
		t.Error("breaker must be open again after failed trial")
	}
}

func TestFacadeCacheHitBypassesAI(t *testing.T) {
	ai := &stubAI{}
	f := NewFacade(ai, newMemCache(), nil)
	ctx := context.Background()

	first, err := f.CalculateRiskScore(ctx, testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.CalculateRiskScore(ctx, testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ai.callCount() != 1 {
		t.Errorf("second call must come from cache, got %d AI calls", ai.callCount())
	}
	if second.Score != first.Score || second.Source != domain.SourceAI {
		t.Errorf("cached result differs: %+v vs %+v", first, second)
	}

	snap := f.Metrics().Snapshot()[OpRiskScore]
	if snap.CacheHits != 1 || snap.CacheMisses != 1 || snap.Success != 1 {
		t.Errorf("cache metrics wrong: %+v", snap)
	}
}

func TestFacadeCacheKeyDependsOnInput(t *testing.T) {
	ai := &stubAI{}
	f := NewFacade(ai, newMemCache(), nil)
	ctx := context.Background()

	f.CalculateRiskScore(ctx, testContext())

	other := testContext()
	other.Request.RequestedDiscountPct = 30
	f.CalculateRiskScore(ctx, other)

	if ai.callCount() != 2 {
		t.Errorf("different inputs must not share a cache entry, got %d AI calls", ai.callCount())
	}
}

func TestFacadeTrainErrorsSurface(t *testing.T) {
	ai := &stubAI{fail: errors.New("training infra down")}
	f := NewFacade(ai, nil, nil)

	if _, err := f.TrainModel(context.Background(), &domain.TrainRequest{TenantID: "acme"}); err == nil {
		t.Error("training failures must surface to the caller")
	}
}

func TestFacadeExplainFallback(t *testing.T) {
	f := NewFacade(nil, nil, nil)

	exp, err := f.ExplainDecision(context.Background(), &domain.ExplanationRequest{
		TenantID: "acme",
		Request:  testContext().Request,
		Evaluation: &domain.AutoApprovalEvaluation{
			CanAutoApprove:   false,
			RejectionDetails: []string{"risk score 70.0 exceeds threshold 30.0"},
		},
	})
	if err != nil {
		t.Fatalf("fallback must not error: %v", err)
	}
	if !exp.IsFallback || len(exp.Details) == 0 {
		t.Errorf("expected populated fallback explanation, got %+v", exp)
	}
}

func TestBreakerStates(t *testing.T) {
	f := NewFacade(&stubAI{}, nil, nil)
	states := f.BreakerStates()
	for op, state := range states {
		if state != stateClosed {
			t.Errorf("breaker %s should start closed, got %s", op, state)
		}
	}
	if len(states) != 4 {
		t.Errorf("expected 4 breakers, got %d", len(states))
	}
}
