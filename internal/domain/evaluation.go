package domain

import (
	"time"
)

// RiskLevel is the discrete classification of a risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskVeryHigh RiskLevel = "very_high"
)

// RiskWeights is the weight vector applied to the four sub-scores.
// Weights always sum to 1.0.
type RiskWeights struct {
	CustomerHistory     float64 `json:"customerHistory"`
	DiscountDeviation   float64 `json:"discountDeviation"`
	SalespersonBehavior float64 `json:"salespersonBehavior"`
	MarginImpact        float64 `json:"marginImpact"`
}

// Sum returns the total of all weights.
func (w RiskWeights) Sum() float64 {
	return w.CustomerHistory + w.DiscountDeviation + w.SalespersonBehavior + w.MarginImpact
}

// RiskScoreBreakdown exposes the sub-scores and weights behind a risk score.
// Transparency artifact; never mutated after construction.
type RiskScoreBreakdown struct {
	CustomerHistoryScore     float64     `json:"customerHistoryScore"`
	DiscountDeviationScore   float64     `json:"discountDeviationScore"`
	SalespersonBehaviorScore float64     `json:"salespersonBehaviorScore"`
	MarginImpactScore        float64     `json:"marginImpactScore"`
	Weights                  RiskWeights `json:"weights"`
}

// Source values for risk assessments and recommendations.
const (
	SourceAI       = "ai"
	SourceFallback = "fallback"
)

// Fallback reasons recorded when the deterministic path substitutes for AI.
const (
	FallbackReasonTimeout     = "timeout"
	FallbackReasonCircuitOpen = "circuit_open"
	FallbackReasonError       = "error"
	FallbackReasonDisabled    = "disabled"
)

// RiskAssessment is the result of scoring a discount request.
type RiskAssessment struct {
	Score     float64            `json:"score"` // 0-100
	Level     RiskLevel          `json:"level"`
	Breakdown RiskScoreBreakdown `json:"breakdown"`

	// Factors are human-readable drivers of the score.
	Factors []string `json:"factors,omitempty"`

	// Confidence is the AI model's confidence in [0,1]. Nil on the
	// rule-based path; absence is not zero confidence.
	Confidence *float64 `json:"confidence,omitempty"`

	Source         string `json:"source"` // "ai" or "fallback"
	IsFallback     bool   `json:"isFallback"`
	FallbackReason string `json:"fallbackReason,omitempty"`
}

// GuardrailResult is the outcome of validating a request against the
// tenant's business rules.
type GuardrailResult struct {
	Valid        bool     `json:"valid"`
	Errors       []string `json:"errors,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	RulesApplied int      `json:"rulesApplied"`
}

// AutoApprovalEvaluation is the gate's decision record. Constructed once per
// evaluation; immutable; side-effect free.
type AutoApprovalEvaluation struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	RequestID string `json:"requestId"`

	CanAutoApprove bool `json:"canAutoApprove"`

	ApprovalReason  string `json:"approvalReason,omitempty"`
	RejectionReason string `json:"rejectionReason,omitempty"`

	// RejectionDetails lists every failed condition, not just the first.
	RejectionDetails []string `json:"rejectionDetails,omitempty"`

	Guardrail GuardrailResult `json:"guardrail"`

	RiskScore    float64  `json:"riskScore"`
	AIConfidence *float64 `json:"aiConfidence,omitempty"`

	// Thresholds actually applied, echoed for audit.
	MaxRiskScoreThreshold    float64 `json:"maxRiskScoreThreshold"`
	MinAIConfidenceThreshold float64 `json:"minAiConfidenceThreshold"`
	MaxDiscountThreshold     float64 `json:"maxDiscountThreshold"`

	Source      string    `json:"source"` // risk source: "ai" or "fallback"
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// Approval records a decision on a request, human or system.
type Approval struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	RequestID  string    `json:"requestId"`
	ApproverID string    `json:"approverId"` // "system:ai" for auto-approvals
	Action     string    `json:"action"`     // approve, reject, request_adjustment, auto_approve
	Comment    string    `json:"comment,omitempty"`
	RiskScore  *float64  `json:"riskScore,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Approval actions.
const (
	ActionApprove           = "approve"
	ActionReject            = "reject"
	ActionRequestAdjustment = "request_adjustment"
	ActionAutoApprove       = "auto_approve"
)

// SystemApproverID identifies auto-approvals in the audit trail.
const SystemApproverID = "system:ai"
