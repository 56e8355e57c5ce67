// Package scoring computes deterministic risk sub-scores for discount
// requests. Every function here is pure: same inputs, same score. The AI
// fallback path depends on that reproducibility.
package scoring

import "github.com/marginops/dealguard/internal/domain"

// Penalty constants for customer payment behavior. Defaults increase risk
// more than delays.
const (
	paymentDelayPenalty   = 25.0
	paymentDefaultPenalty = 40.0
)

// unknownCustomerRisk is assigned when the customer has no request history
// or is still a prospect.
const unknownCustomerRisk = 60.0

// neutralSalespersonRisk is assigned when the salesperson has no history.
const neutralSalespersonRisk = 50.0

// CustomerHistoryRisk scores the customer signal in [0,100]. Unknown
// customers and prospects carry elevated base risk; payment delays and
// defaults add fixed penalties on top of the approval-rate base.
func CustomerHistoryRisk(customer *domain.Customer, history *domain.CustomerDiscountHistory) float64 {
	if history.IsEmpty() || (customer != nil && customer.Status == domain.CustomerProspect) {
		risk := unknownCustomerRisk
		if history != nil {
			risk = applyPaymentPenalties(risk, history)
		}
		return clamp(risk)
	}

	// Base risk falls as the approval rate rises: 0% approvals -> 80,
	// 100% approvals -> 20.
	risk := 20.0 + (1.0-history.ApprovalRate())*60.0
	risk = applyPaymentPenalties(risk, history)
	return clamp(risk)
}

func applyPaymentPenalties(risk float64, history *domain.CustomerDiscountHistory) float64 {
	if history.HasPaymentDelays {
		risk += paymentDelayPenalty
	}
	if history.HasDefaults {
		risk += paymentDefaultPenalty
	}
	return risk
}

// DiscountDeviationRisk scores how far the requested discount strays from
// the customer's historical average, in [0,100]. Without history the
// absolute discount size drives the score.
func DiscountDeviationRisk(requestedPct float64, history *domain.CustomerDiscountHistory) float64 {
	if history.IsEmpty() {
		switch {
		case requestedPct > 30:
			return 90
		case requestedPct > 20:
			return 70
		case requestedPct > 10:
			return 50
		default:
			return 30
		}
	}

	avg := history.AvgApprovedDiscountPct
	var deviationPct float64
	if avg == 0 {
		deviationPct = requestedPct * 10
	} else {
		deviationPct = abs(requestedPct-avg) / avg * 100
	}

	switch {
	case deviationPct > 100:
		return 90
	case deviationPct > 75:
		return 75
	case deviationPct > 50:
		return 60
	case deviationPct > 25:
		return 40
	default:
		return 20
	}
}

// SalespersonBehaviorRisk scores the salesperson signal in [0,100]. Risk
// grows as the historical approval rate drops below 60% and as the average
// requested discount exceeds 20%; a recent rejection streak adds more.
func SalespersonBehaviorRisk(history *domain.SalespersonDiscountHistory) float64 {
	if history.IsEmpty() {
		return neutralSalespersonRisk
	}

	risk := 30.0

	if rate := history.ApprovalRate(); rate < 0.60 {
		risk += (0.60 - rate) * 100
	}
	if history.AvgRequestedDiscountPct > 20 {
		risk += (history.AvgRequestedDiscountPct - 20) * 1.5
	}
	if history.RecentRejections >= 3 {
		risk += 10
	}

	return clamp(risk)
}

// MarginImpactRisk scores the margin signal in [0,100]. A nil margin is
// unknown and scores medium; the bands are strictly decreasing in margin.
func MarginImpactRisk(estimatedMarginPct *float64) float64 {
	if estimatedMarginPct == nil {
		return 50
	}

	margin := *estimatedMarginPct
	switch {
	case margin < 0:
		return 100
	case margin < 5:
		return 95
	case margin < 10:
		return 80
	case margin < 15:
		return 60
	case margin < 20:
		return 40
	case margin < 25:
		return 25
	case margin < 30:
		return 15
	default:
		return 5
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
