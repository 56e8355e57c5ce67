package domain

import "context"

// EvaluationContext carries everything the AI (or the deterministic
// fallback) needs to assess one request. All fields are immutable inputs.
type EvaluationContext struct {
	TenantID           string                      `json:"tenantId"`
	Request            *DiscountRequest            `json:"request"`
	Customer           *Customer                   `json:"customer,omitempty"`
	CustomerHistory    *CustomerDiscountHistory    `json:"customerHistory,omitempty"`
	SalespersonHistory *SalespersonDiscountHistory `json:"salespersonHistory,omitempty"`
}

// DiscountRecommendation is the AI's suggested discount for a request.
type DiscountRecommendation struct {
	DiscountPct float64 `json:"discountPct"`
	MarginPct   float64 `json:"marginPct"`
	Confidence  float64 `json:"confidence"` // 0.0-1.0
	Explanation string  `json:"explanation,omitempty"`

	Source         string `json:"source"`
	IsFallback     bool   `json:"isFallback"`
	FallbackReason string `json:"fallbackReason,omitempty"`
}

// DecisionExplanation is a human-readable account of a decision.
type DecisionExplanation struct {
	Summary         string   `json:"summary"`
	Details         []string `json:"details,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`

	Source         string `json:"source"`
	IsFallback     bool   `json:"isFallback"`
	FallbackReason string `json:"fallbackReason,omitempty"`
}

// ExplanationRequest asks for an explanation of an evaluation outcome.
type ExplanationRequest struct {
	TenantID   string                  `json:"tenantId"`
	Request    *DiscountRequest        `json:"request"`
	Assessment *RiskAssessment         `json:"assessment,omitempty"`
	Evaluation *AutoApprovalEvaluation `json:"evaluation,omitempty"`
}

// LearningDataPoint is one decided request fed back for training.
type LearningDataPoint struct {
	RequestID   string  `json:"requestId"`
	Outcome     string  `json:"outcome"` // final request status
	RiskScore   float64 `json:"riskScore"`
	DiscountPct float64 `json:"discountPct"`
}

// TrainRequest submits decided requests for incremental learning.
type TrainRequest struct {
	TenantID   string              `json:"tenantId"`
	DataPoints []LearningDataPoint `json:"dataPoints"`
}

// TrainResult reports the outcome of a training run.
type TrainResult struct {
	Success             bool   `json:"success"`
	ModelVersion        string `json:"modelVersion,omitempty"`
	DataPointsProcessed int    `json:"dataPointsProcessed"`
}

// AIService is the port to the recommendation/risk model. Implementations
// may be slow or unavailable; callers go through the resilience facade,
// never through this interface directly.
type AIService interface {
	RecommendDiscount(ctx context.Context, ec *EvaluationContext) (*DiscountRecommendation, error)
	CalculateRiskScore(ctx context.Context, ec *EvaluationContext) (*RiskAssessment, error)
	ExplainDecision(ctx context.Context, req *ExplanationRequest) (*DecisionExplanation, error)
	TrainModel(ctx context.Context, req *TrainRequest) (*TrainResult, error)

	// IsAvailable reports whether the service can take calls right now.
	IsAvailable(ctx context.Context, tenantID string) bool
}
