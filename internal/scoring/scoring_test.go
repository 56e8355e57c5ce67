package scoring

import (
	"testing"

	"github.com/marginops/dealguard/internal/domain"
)

func TestCustomerHistoryRiskNoHistory(t *testing.T) {
	risk := CustomerHistoryRisk(nil, nil)
	if risk != 60 {
		t.Errorf("expected 60 for no history, got %.2f", risk)
	}
}

func TestCustomerHistoryRiskProspect(t *testing.T) {
	customer := &domain.Customer{Status: domain.CustomerProspect}
	history := &domain.CustomerDiscountHistory{TotalRequests: 10, ApprovedCount: 9}

	risk := CustomerHistoryRisk(customer, history)
	if risk != 60 {
		t.Errorf("expected 60 for prospect, got %.2f", risk)
	}
}

func TestCustomerHistoryRiskDecreasesWithApprovalRate(t *testing.T) {
	low := &domain.CustomerDiscountHistory{TotalRequests: 10, ApprovedCount: 2}
	high := &domain.CustomerDiscountHistory{TotalRequests: 10, ApprovedCount: 9}

	riskLow := CustomerHistoryRisk(nil, low)
	riskHigh := CustomerHistoryRisk(nil, high)

	if riskHigh >= riskLow {
		t.Errorf("risk should fall with approval rate: low=%.2f high=%.2f", riskLow, riskHigh)
	}
}

func TestCustomerHistoryRiskPaymentPenalties(t *testing.T) {
	base := &domain.CustomerDiscountHistory{TotalRequests: 10, ApprovedCount: 10}
	delays := &domain.CustomerDiscountHistory{TotalRequests: 10, ApprovedCount: 10, HasPaymentDelays: true}
	defaults := &domain.CustomerDiscountHistory{TotalRequests: 10, ApprovedCount: 10, HasDefaults: true}
	both := &domain.CustomerDiscountHistory{TotalRequests: 10, ApprovedCount: 10, HasPaymentDelays: true, HasDefaults: true}

	baseRisk := CustomerHistoryRisk(nil, base)

	if got := CustomerHistoryRisk(nil, delays); got != baseRisk+25 {
		t.Errorf("delay penalty: expected %.2f, got %.2f", baseRisk+25, got)
	}
	if got := CustomerHistoryRisk(nil, defaults); got != baseRisk+40 {
		t.Errorf("default penalty: expected %.2f, got %.2f", baseRisk+40, got)
	}
	if got := CustomerHistoryRisk(nil, both); got != baseRisk+65 {
		t.Errorf("combined penalty: expected %.2f, got %.2f", baseRisk+65, got)
	}
}

func TestCustomerHistoryRiskClamped(t *testing.T) {
	history := &domain.CustomerDiscountHistory{
		TotalRequests:    10,
		ApprovedCount:    0,
		HasPaymentDelays: true,
		HasDefaults:      true,
	}
	if risk := CustomerHistoryRisk(nil, history); risk != 100 {
		t.Errorf("expected clamp at 100, got %.2f", risk)
	}
}

func TestDiscountDeviationRiskNoHistory(t *testing.T) {
	tests := []struct {
		requested float64
		want      float64
	}{
		{40, 90},
		{31, 90},
		{30, 70},
		{21, 70},
		{20, 50},
		{11, 50},
		{10, 30},
		{5, 30},
		{0, 30},
	}

	for _, tt := range tests {
		if got := DiscountDeviationRisk(tt.requested, nil); got != tt.want {
			t.Errorf("DiscountDeviationRisk(%.0f, nil) = %.0f, want %.0f", tt.requested, got, tt.want)
		}
	}
}

func TestDiscountDeviationRiskWithHistory(t *testing.T) {
	history := &domain.CustomerDiscountHistory{
		TotalRequests:          20,
		ApprovedCount:          15,
		AvgApprovedDiscountPct: 10,
	}

	// deviation = |requested-10|/10*100
	cases := []struct {
		requested float64
		want      float64
	}{
		{25, 90},   // 150% deviation
		{18.5, 75}, // 85%
		{16, 60},   // 60%
		{13, 40},   // 30%
		{11, 20},   // 10%
		{10, 20},   // 0%
	}
	for _, tt := range cases {
		if got := DiscountDeviationRisk(tt.requested, history); got != tt.want {
			t.Errorf("DiscountDeviationRisk(%.1f) = %.0f, want %.0f", tt.requested, got, tt.want)
		}
	}
}

func TestDiscountDeviationRiskZeroAverage(t *testing.T) {
	history := &domain.CustomerDiscountHistory{
		TotalRequests:          5,
		ApprovedCount:          5,
		AvgApprovedDiscountPct: 0,
	}

	// Fallback deviation = requested*10: 15% -> 150 -> top band.
	if got := DiscountDeviationRisk(15, history); got != 90 {
		t.Errorf("expected 90 for zero average fallback, got %.0f", got)
	}
	// 2% -> 20 -> 20 band (<=25).
	if got := DiscountDeviationRisk(2, history); got != 20 {
		t.Errorf("expected 20 for small discount with zero average, got %.0f", got)
	}
}

func TestSalespersonBehaviorRiskNoHistory(t *testing.T) {
	if got := SalespersonBehaviorRisk(nil); got != 50 {
		t.Errorf("expected neutral 50, got %.2f", got)
	}
}

func TestSalespersonBehaviorRiskLowApprovalRate(t *testing.T) {
	healthy := &domain.SalespersonDiscountHistory{TotalRequests: 10, ApprovedCount: 8, AvgRequestedDiscountPct: 10}
	weak := &domain.SalespersonDiscountHistory{TotalRequests: 10, ApprovedCount: 3, AvgRequestedDiscountPct: 10}

	if h, w := SalespersonBehaviorRisk(healthy), SalespersonBehaviorRisk(weak); w <= h {
		t.Errorf("weak approval rate should raise risk: healthy=%.2f weak=%.2f", h, w)
	}
}

func TestSalespersonBehaviorRiskHighAverageDiscount(t *testing.T) {
	modest := &domain.SalespersonDiscountHistory{TotalRequests: 10, ApprovedCount: 8, AvgRequestedDiscountPct: 15}
	aggressive := &domain.SalespersonDiscountHistory{TotalRequests: 10, ApprovedCount: 8, AvgRequestedDiscountPct: 35}

	if m, a := SalespersonBehaviorRisk(modest), SalespersonBehaviorRisk(aggressive); a <= m {
		t.Errorf("high average discount should raise risk: modest=%.2f aggressive=%.2f", m, a)
	}
}

func TestSalespersonBehaviorRiskRejectionStreak(t *testing.T) {
	calm := &domain.SalespersonDiscountHistory{TotalRequests: 10, ApprovedCount: 8, RecentRejections: 1}
	streak := &domain.SalespersonDiscountHistory{TotalRequests: 10, ApprovedCount: 8, RecentRejections: 4}

	if c, s := SalespersonBehaviorRisk(calm), SalespersonBehaviorRisk(streak); s != c+10 {
		t.Errorf("rejection streak should add 10: calm=%.2f streak=%.2f", c, s)
	}
}

func TestMarginImpactRisk(t *testing.T) {
	ptr := func(v float64) *float64 { return &v }

	tests := []struct {
		name   string
		margin *float64
		want   float64
	}{
		{"nil margin", nil, 50},
		{"negative", ptr(-5), 100},
		{"under 5", ptr(3), 95},
		{"under 10", ptr(7), 80},
		{"under 15", ptr(12), 60},
		{"under 20", ptr(18), 40},
		{"under 25", ptr(22), 25},
		{"under 30", ptr(28), 15},
		{"healthy", ptr(35), 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MarginImpactRisk(tt.margin); got != tt.want {
				t.Errorf("MarginImpactRisk = %.0f, want %.0f", got, tt.want)
			}
		})
	}
}

func TestMarginImpactRiskMonotonic(t *testing.T) {
	prev := 101.0
	for m := -10.0; m <= 40; m += 0.5 {
		margin := m
		got := MarginImpactRisk(&margin)
		if got > prev {
			t.Fatalf("MarginImpactRisk not decreasing at margin %.1f: %.0f > %.0f", m, got, prev)
		}
		prev = got
	}
}

func TestAllPrimitivesBounded(t *testing.T) {
	ptr := func(v float64) *float64 { return &v }

	histories := []*domain.CustomerDiscountHistory{
		nil,
		{TotalRequests: 1, ApprovedCount: 0, HasDefaults: true, HasPaymentDelays: true},
		{TotalRequests: 100, ApprovedCount: 100, AvgApprovedDiscountPct: 50},
	}
	for _, h := range histories {
		for _, pct := range []float64{0, 10, 50, 100} {
			if r := CustomerHistoryRisk(nil, h); r < 0 || r > 100 {
				t.Errorf("CustomerHistoryRisk out of bounds: %.2f", r)
			}
			if r := DiscountDeviationRisk(pct, h); r < 0 || r > 100 {
				t.Errorf("DiscountDeviationRisk out of bounds: %.2f", r)
			}
		}
	}
	for _, m := range []*float64{nil, ptr(-100), ptr(0), ptr(50), ptr(1000)} {
		if r := MarginImpactRisk(m); r < 0 || r > 100 {
			t.Errorf("MarginImpactRisk out of bounds: %.2f", r)
		}
	}
}
