package scoring

import "github.com/marginops/dealguard/internal/domain"

// DefaultWeights is the fixed weight vector for risk aggregation.
// The weights sum to 1.0.
var DefaultWeights = domain.RiskWeights{
	CustomerHistory:     0.25,
	DiscountDeviation:   0.35,
	SalespersonBehavior: 0.15,
	MarginImpact:        0.25,
}

// Assess computes the full deterministic risk assessment for a request.
// It never fails: missing histories and unknown margins fall back to the
// defaults defined by the scoring primitives, and the result is always a
// finite score in [0,100].
func Assess(ec *domain.EvaluationContext) *domain.RiskAssessment {
	req := ec.Request

	breakdown := domain.RiskScoreBreakdown{
		CustomerHistoryScore:     CustomerHistoryRisk(ec.Customer, ec.CustomerHistory),
		DiscountDeviationScore:   DiscountDeviationRisk(req.RequestedDiscountPct, ec.CustomerHistory),
		SalespersonBehaviorScore: SalespersonBehaviorRisk(ec.SalespersonHistory),
		MarginImpactScore:        MarginImpactRisk(req.EstimatedMarginPct),
		Weights:                  DefaultWeights,
	}

	score := Aggregate(breakdown)

	return &domain.RiskAssessment{
		Score:     score,
		Level:     DetermineRiskLevel(score),
		Breakdown: breakdown,
		Factors:   describeFactors(breakdown),
		Source:    domain.SourceFallback,
	}
}

// Aggregate combines the four sub-scores using the breakdown's weight
// vector, clamped to [0,100].
func Aggregate(b domain.RiskScoreBreakdown) float64 {
	score := b.CustomerHistoryScore*b.Weights.CustomerHistory +
		b.DiscountDeviationScore*b.Weights.DiscountDeviation +
		b.SalespersonBehaviorScore*b.Weights.SalespersonBehavior +
		b.MarginImpactScore*b.Weights.MarginImpact
	return clamp(score)
}

// DetermineRiskLevel maps a numeric score to a discrete level. Monotonic:
// a higher score never yields a lower level.
func DetermineRiskLevel(score float64) domain.RiskLevel {
	switch {
	case score < 30:
		return domain.RiskLow
	case score < 60:
		return domain.RiskMedium
	case score < 80:
		return domain.RiskHigh
	default:
		return domain.RiskVeryHigh
	}
}

// describeFactors lists the dominant score drivers for explainability.
func describeFactors(b domain.RiskScoreBreakdown) []string {
	var factors []string
	if b.CustomerHistoryScore >= 60 {
		factors = append(factors, "customer history is limited or shows payment issues")
	}
	if b.DiscountDeviationScore >= 60 {
		factors = append(factors, "requested discount deviates strongly from historical approvals")
	}
	if b.SalespersonBehaviorScore >= 60 {
		factors = append(factors, "salesperson has a weak approval track record")
	}
	if b.MarginImpactScore >= 60 {
		factors = append(factors, "estimated margin is thin or negative")
	}
	return factors
}
