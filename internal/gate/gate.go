// Package gate decides whether a discount request qualifies for
// auto-approval under the tenant's AI governance settings.
package gate

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marginops/dealguard/internal/domain"
)

// Input carries everything one gate evaluation needs. The gate itself is
// pure: it reads the input and produces a decision record, nothing else.
type Input struct {
	Request    *domain.DiscountRequest
	Settings   *domain.AIGovernanceSettings
	Guardrail  *domain.GuardrailResult
	Assessment *domain.RiskAssessment
}

// Evaluate applies the auto-approval conditions in order and records every
// failure, not just the first. All threshold comparisons are inclusive: a
// value exactly at the limit passes. The gate tolerates any settings values,
// including inconsistent ones; it only compares.
func Evaluate(in *Input, now time.Time) *domain.AutoApprovalEvaluation {
	settings := in.Settings
	assessment := in.Assessment

	eval := &domain.AutoApprovalEvaluation{
		ID:                       uuid.NewString(),
		TenantID:                 in.Request.TenantID,
		RequestID:                in.Request.ID,
		Guardrail:                *in.Guardrail,
		RiskScore:                assessment.Score,
		AIConfidence:             assessment.Confidence,
		MaxRiskScoreThreshold:    settings.MaxRiskScoreForAutoApproval,
		MinAIConfidenceThreshold: settings.MinConfidenceForAutoApproval,
		MaxDiscountThreshold:     settings.MaxAutoApprovalDiscountPct,
		Source:                   assessment.Source,
		EvaluatedAt:              now.UTC(),
	}

	var failures []string

	if !settings.AIEnabled {
		failures = append(failures, "AI is disabled for this tenant")
	} else if settings.RequireHumanReview {
		failures = append(failures, "tenant requires human review for all requests")
	}

	if !in.Guardrail.Valid {
		failures = append(failures, fmt.Sprintf("guardrail validation failed: %d violation(s)", len(in.Guardrail.Errors)))
	}

	if assessment.Score > settings.MaxRiskScoreForAutoApproval {
		failures = append(failures, fmt.Sprintf("risk score %.1f exceeds threshold %.1f",
			assessment.Score, settings.MaxRiskScoreForAutoApproval))
	}

	// Confidence is only checked when the assessment carries one. A missing
	// confidence is unknown, not zero.
	if assessment.Confidence != nil && *assessment.Confidence < settings.MinConfidenceForAutoApproval {
		failures = append(failures, fmt.Sprintf("AI confidence %.2f is below threshold %.2f",
			*assessment.Confidence, settings.MinConfidenceForAutoApproval))
	}

	if in.Request.RequestedDiscountPct > settings.MaxAutoApprovalDiscountPct {
		failures = append(failures, fmt.Sprintf("requested discount %.1f%% exceeds auto-approval limit %.1f%%",
			in.Request.RequestedDiscountPct, settings.MaxAutoApprovalDiscountPct))
	}

	if len(failures) > 0 {
		eval.CanAutoApprove = false
		eval.RejectionReason = failures[0]
		eval.RejectionDetails = failures
		return eval
	}

	eval.CanAutoApprove = true
	eval.ApprovalReason = fmt.Sprintf("risk score %.1f within threshold %.1f, all guardrails passed",
		assessment.Score, settings.MaxRiskScoreForAutoApproval)
	return eval
}
