package domain

import "time"

// AIGovernanceSettings controls whether and how aggressively AI may
// auto-approve discount requests for a tenant. Read by the auto-approval
// gate on every evaluation.
type AIGovernanceSettings struct {
	TenantID string `json:"tenantId"`

	// AIEnabled gates all AI involvement. When false the gate always defers
	// to human review.
	AIEnabled bool `json:"aiEnabled"`

	// AutonomyLevel expresses how much latitude the AI has, 0-100.
	// Informational for reporting; the gate decides on the thresholds below.
	AutonomyLevel int `json:"autonomyLevel"`

	// MaxRiskScoreForAutoApproval is the inclusive risk ceiling, 0-100.
	MaxRiskScoreForAutoApproval float64 `json:"maxRiskScoreForAutoApproval"`

	// MinConfidenceForAutoApproval is the inclusive AI confidence floor,
	// 0.0-1.0. Only applied when a confidence value is present.
	MinConfidenceForAutoApproval float64 `json:"minConfidenceForAutoApproval"`

	// RequireHumanReview forces every request to a human regardless of risk.
	RequireHumanReview bool `json:"requireHumanReview"`

	// MaxAutoApprovalDiscountPct is the inclusive discount ceiling for
	// auto-approval, percent.
	MaxAutoApprovalDiscountPct float64 `json:"maxAutoApprovalDiscountPct"`

	// LearningEnabled allows decided requests to feed incremental training.
	LearningEnabled bool `json:"learningEnabled"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultGovernanceSettings returns conservative defaults for a new tenant:
// AI assists but nothing is auto-approved until an admin opts in.
func DefaultGovernanceSettings(tenantID string) *AIGovernanceSettings {
	return &AIGovernanceSettings{
		TenantID:                     tenantID,
		AIEnabled:                    false,
		AutonomyLevel:                0,
		MaxRiskScoreForAutoApproval:  30,
		MinConfidenceForAutoApproval: 0.8,
		RequireHumanReview:           true,
		MaxAutoApprovalDiscountPct:   10,
		LearningEnabled:              false,
		UpdatedAt:                    time.Now().UTC(),
	}
}
