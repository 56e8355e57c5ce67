// Package aiport wraps the AI service with timeouts, caching, a circuit
// breaker, and deterministic fallbacks. Callers never see a transient AI
// failure: they get an answer from the AI or from the rule-based path, with
// the source recorded on the result.
package aiport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/marginops/dealguard/internal/domain"
)

// Operation names used for breakers and metrics.
const (
	OpRecommend    = "recommend_discount"
	OpRiskScore    = "risk_score"
	OpExplain      = "explain_decision"
	OpTrain        = "train_model"
	OpAvailability = "availability"
)

// Per-operation call timeouts. Interactive operations are tight; training
// runs longer.
const (
	recommendTimeout    = 2 * time.Second
	riskScoreTimeout    = 2 * time.Second
	explainTimeout      = 2 * time.Second
	trainTimeout        = 30 * time.Second
	availabilityTimeout = 500 * time.Millisecond
)

// Cache TTLs. Explanations change less often than live recommendations.
const (
	recommendTTL = 5 * time.Minute
	riskScoreTTL = 5 * time.Minute
	explainTTL   = 15 * time.Minute
)

// Circuit breaker tuning.
const (
	breakerFailureThreshold = 5
	breakerOpenDuration     = 30 * time.Second
)

// Facade implements domain.AIService around an inner provider. A nil inner
// service means AI is disabled and every call takes the fallback path.
type Facade struct {
	inner    domain.AIService
	cache    domain.Cache
	breakers map[string]*breaker
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Facade.
type Option func(*Facade)

// WithClock overrides the time source. Used by tests to drive the breaker
// cooldown without sleeping.
func WithClock(now func() time.Time) Option {
	return func(f *Facade) { f.now = now }
}

// NewFacade wraps the inner AI service. cache may be nil to disable
// response caching; inner may be nil to run fallback-only.
func NewFacade(inner domain.AIService, cache domain.Cache, logger *slog.Logger, opts ...Option) *Facade {
	if logger == nil {
		logger = slog.Default()
	}

	f := &Facade{
		inner:   inner,
		cache:   cache,
		metrics: NewMetrics(OpRecommend, OpRiskScore, OpExplain, OpTrain, OpAvailability),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}

	f.breakers = map[string]*breaker{
		OpRecommend: newBreaker(breakerFailureThreshold, breakerOpenDuration, f.now),
		OpRiskScore: newBreaker(breakerFailureThreshold, breakerOpenDuration, f.now),
		OpExplain:   newBreaker(breakerFailureThreshold, breakerOpenDuration, f.now),
		OpTrain:     newBreaker(breakerFailureThreshold, breakerOpenDuration, f.now),
	}
	return f
}

// Metrics exposes the facade's counters for the metrics endpoint.
func (f *Facade) Metrics() *Metrics {
	return f.metrics
}

// BreakerStates returns the current state of each operation's breaker.
func (f *Facade) BreakerStates() map[string]string {
	states := make(map[string]string, len(f.breakers))
	for op, br := range f.breakers {
		states[op] = br.State()
	}
	return states
}

// RecommendDiscount returns the AI's suggested discount, or the
// conservative fallback when the AI cannot answer in time.
func (f *Facade) RecommendDiscount(ctx context.Context, ec *domain.EvaluationContext) (*domain.DiscountRecommendation, error) {
	key := cacheKey(OpRecommend, ec)
	if data := f.cacheGet(ctx, ec.TenantID, key); data != nil {
		var rec domain.DiscountRecommendation
		if err := json.Unmarshal(data, &rec); err == nil {
			f.metrics.CacheHit(OpRecommend)
			return &rec, nil
		}
	}
	f.metrics.CacheMiss(OpRecommend)

	if f.inner == nil {
		f.metrics.Fallback(OpRecommend)
		return fallbackRecommendation(domain.FallbackReasonDisabled), nil
	}

	br := f.breakers[OpRecommend]
	if !br.Allow() {
		f.metrics.CircuitOpen(OpRecommend)
		f.metrics.Fallback(OpRecommend)
		return fallbackRecommendation(domain.FallbackReasonCircuitOpen), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, recommendTimeout)
	defer cancel()

	start := f.now()
	rec, err := f.inner.RecommendDiscount(callCtx, ec)
	if err != nil {
		reason := f.recordFailure(OpRecommend, br, err)
		return fallbackRecommendation(reason), nil
	}

	br.Success()
	f.metrics.Success(OpRecommend, f.now().Sub(start))
	rec.Source = domain.SourceAI
	rec.IsFallback = false
	f.cacheSet(ctx, ec.TenantID, key, rec, recommendTTL)
	return rec, nil
}

// CalculateRiskScore returns the AI's risk assessment, falling back to the
// deterministic scoring path on any failure.
func (f *Facade) CalculateRiskScore(ctx context.Context, ec *domain.EvaluationContext) (*domain.RiskAssessment, error) {
	key := cacheKey(OpRiskScore, ec)
	if data := f.cacheGet(ctx, ec.TenantID, key); data != nil {
		var assessment domain.RiskAssessment
		if err := json.Unmarshal(data, &assessment); err == nil {
			f.metrics.CacheHit(OpRiskScore)
			return &assessment, nil
		}
	}
	f.metrics.CacheMiss(OpRiskScore)

	if f.inner == nil {
		f.metrics.Fallback(OpRiskScore)
		return fallbackRiskScore(ec, domain.FallbackReasonDisabled), nil
	}

	br := f.breakers[OpRiskScore]
	if !br.Allow() {
		f.metrics.CircuitOpen(OpRiskScore)
		f.metrics.Fallback(OpRiskScore)
		return fallbackRiskScore(ec, domain.FallbackReasonCircuitOpen), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, riskScoreTimeout)
	defer cancel()

	start := f.now()
	assessment, err := f.inner.CalculateRiskScore(callCtx, ec)
	if err == nil && (assessment.Score < 0 || assessment.Score > 100) {
		err = errors.New("ai returned risk score outside [0,100]")
	}
	if err != nil {
		reason := f.recordFailure(OpRiskScore, br, err)
		return fallbackRiskScore(ec, reason), nil
	}

	br.Success()
	f.metrics.Success(OpRiskScore, f.now().Sub(start))
	assessment.Source = domain.SourceAI
	assessment.IsFallback = false
	f.cacheSet(ctx, ec.TenantID, key, assessment, riskScoreTTL)
	return assessment, nil
}

// ExplainDecision returns the AI's explanation, or a rule-based template
// explanation built from the assessment and evaluation.
func (f *Facade) ExplainDecision(ctx context.Context, req *domain.ExplanationRequest) (*domain.DecisionExplanation, error) {
	key := cacheKey(OpExplain, req)
	if data := f.cacheGet(ctx, req.TenantID, key); data != nil {
		var exp domain.DecisionExplanation
		if err := json.Unmarshal(data, &exp); err == nil {
			f.metrics.CacheHit(OpExplain)
			return &exp, nil
		}
	}
	f.metrics.CacheMiss(OpExplain)

	if f.inner == nil {
		f.metrics.Fallback(OpExplain)
		return fallbackExplanation(req, domain.FallbackReasonDisabled), nil
	}

	br := f.breakers[OpExplain]
	if !br.Allow() {
		f.metrics.CircuitOpen(OpExplain)
		f.metrics.Fallback(OpExplain)
		return fallbackExplanation(req, domain.FallbackReasonCircuitOpen), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, explainTimeout)
	defer cancel()

	start := f.now()
	exp, err := f.inner.ExplainDecision(callCtx, req)
	if err != nil {
		reason := f.recordFailure(OpExplain, br, err)
		return fallbackExplanation(req, reason), nil
	}

	br.Success()
	f.metrics.Success(OpExplain, f.now().Sub(start))
	exp.Source = domain.SourceAI
	exp.IsFallback = false
	f.cacheSet(ctx, req.TenantID, key, exp, explainTTL)
	return exp, nil
}

// TrainModel submits feedback for incremental learning. Training has no
// fallback: failures surface to the caller, who treats them as advisory.
func (f *Facade) TrainModel(ctx context.Context, req *domain.TrainRequest) (*domain.TrainResult, error) {
	if f.inner == nil {
		return nil, errors.New("ai service is not configured")
	}

	br := f.breakers[OpTrain]
	if !br.Allow() {
		f.metrics.CircuitOpen(OpTrain)
		return nil, errors.New("ai training circuit is open")
	}

	callCtx, cancel := context.WithTimeout(ctx, trainTimeout)
	defer cancel()

	start := f.now()
	result, err := f.inner.TrainModel(callCtx, req)
	if err != nil {
		f.recordFailure(OpTrain, br, err)
		return nil, err
	}

	br.Success()
	f.metrics.Success(OpTrain, f.now().Sub(start))
	return result, nil
}

// IsAvailable probes the inner service with a short timeout.
func (f *Facade) IsAvailable(ctx context.Context, tenantID string) bool {
	if f.inner == nil {
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()

	start := f.now()
	available := f.inner.IsAvailable(callCtx, tenantID)
	if available {
		f.metrics.Success(OpAvailability, f.now().Sub(start))
	} else {
		f.metrics.Error(OpAvailability)
	}
	return available
}

// recordFailure classifies the error, updates the breaker and metrics, and
// returns the fallback reason.
func (f *Facade) recordFailure(op string, br *breaker, err error) string {
	br.Failure()
	f.metrics.Fallback(op)

	reason := domain.FallbackReasonError
	if errors.Is(err, context.DeadlineExceeded) {
		reason = domain.FallbackReasonTimeout
		f.metrics.Timeout(op)
	} else {
		f.metrics.Error(op)
	}

	f.logger.Warn("ai call failed, using fallback",
		"operation", op,
		"reason", reason,
		"error", err)
	return reason
}

func (f *Facade) cacheGet(ctx context.Context, tenantID, key string) []byte {
	if f.cache == nil {
		return nil
	}
	data, err := f.cache.Get(ctx, tenantID, key)
	if err != nil {
		f.logger.Warn("ai cache get failed", "error", err)
		return nil
	}
	return data
}

func (f *Facade) cacheSet(ctx context.Context, tenantID, key string, value any, ttl time.Duration) {
	if f.cache == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := f.cache.Set(ctx, tenantID, key, data, ttl); err != nil {
		f.logger.Warn("ai cache set failed", "error", err)
	}
}

// cacheKey derives a stable key from the operation and the serialized
// payload. json.Marshal is deterministic for structs, so identical inputs
// hash identically.
func cacheKey(op string, payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(op)
	}
	sum := sha256.Sum256(append([]byte(op+":"), data...))
	return "ai:" + op + ":" + hex.EncodeToString(sum[:])
}
