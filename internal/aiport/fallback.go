package aiport

import (
	"fmt"

	"github.com/marginops/dealguard/internal/domain"
	"github.com/marginops/dealguard/internal/scoring"
)

// Fallback recommendation constants. Deliberately conservative: a safe
// discount suggestion with low confidence so the gate defers to humans.
const (
	fallbackDiscountPct = 5.0
	fallbackMarginPct   = 20.0
	fallbackConfidence  = 0.5
)

// fallbackRiskScore runs the deterministic scoring path in place of the AI.
func fallbackRiskScore(ec *domain.EvaluationContext, reason string) *domain.RiskAssessment {
	assessment := scoring.Assess(ec)
	assessment.IsFallback = true
	assessment.FallbackReason = reason
	return assessment
}

// fallbackRecommendation returns the static conservative recommendation.
func fallbackRecommendation(reason string) *domain.DiscountRecommendation {
	return &domain.DiscountRecommendation{
		DiscountPct:    fallbackDiscountPct,
		MarginPct:      fallbackMarginPct,
		Confidence:     fallbackConfidence,
		Explanation:    "conservative default recommendation while the AI service is unavailable",
		Source:         domain.SourceFallback,
		IsFallback:     true,
		FallbackReason: reason,
	}
}

// fallbackExplanation builds a template explanation from whatever the
// caller already knows about the decision.
func fallbackExplanation(req *domain.ExplanationRequest, reason string) *domain.DecisionExplanation {
	exp := &domain.DecisionExplanation{
		Summary:        "decision explained by rule-based analysis",
		Source:         domain.SourceFallback,
		IsFallback:     true,
		FallbackReason: reason,
	}

	if req.Assessment != nil {
		exp.Details = append(exp.Details, fmt.Sprintf("risk score %.1f (%s)", req.Assessment.Score, req.Assessment.Level))
		exp.Details = append(exp.Details, req.Assessment.Factors...)
	}
	if req.Evaluation != nil {
		if req.Evaluation.CanAutoApprove {
			exp.Summary = "request qualified for auto-approval"
			exp.Details = append(exp.Details, req.Evaluation.ApprovalReason)
		} else {
			exp.Summary = "request routed to human review"
			exp.Details = append(exp.Details, req.Evaluation.RejectionDetails...)
		}
	}
	if req.Request != nil && req.Request.RequestedDiscountPct > 20 {
		exp.Recommendations = append(exp.Recommendations,
			"consider lowering the requested discount to reduce risk")
	}

	return exp
}
