package gate

import (
	"strings"
	"testing"
	"time"

	"github.com/marginops/dealguard/internal/domain"
)

func permissiveSettings() *domain.AIGovernanceSettings {
	return &domain.AIGovernanceSettings{
		TenantID:                     "acme",
		AIEnabled:                    true,
		MaxRiskScoreForAutoApproval:  50,
		MinConfidenceForAutoApproval: 0.7,
		RequireHumanReview:           false,
		MaxAutoApprovalDiscountPct:   20,
	}
}

func gateInput(riskScore, discountPct float64) *Input {
	return &Input{
		Request: &domain.DiscountRequest{
			ID:                   "req-1",
			TenantID:             "acme",
			RequestedDiscountPct: discountPct,
		},
		Settings:  permissiveSettings(),
		Guardrail: &domain.GuardrailResult{Valid: true},
		Assessment: &domain.RiskAssessment{
			Score:  riskScore,
			Level:  domain.RiskLow,
			Source: domain.SourceFallback,
		},
	}
}

func TestEvaluateApproves(t *testing.T) {
	eval := Evaluate(gateInput(25, 10), time.Now())

	if !eval.CanAutoApprove {
		t.Fatalf("expected auto-approval, got rejection: %v", eval.RejectionDetails)
	}
	if eval.ApprovalReason == "" {
		t.Error("approval must carry a reason")
	}
	if eval.RejectionReason != "" || len(eval.RejectionDetails) != 0 {
		t.Error("approval must not carry rejection fields")
	}
}

func TestEvaluateAIDisabled(t *testing.T) {
	in := gateInput(10, 5)
	in.Settings.AIEnabled = false

	eval := Evaluate(in, time.Now())
	if eval.CanAutoApprove {
		t.Fatal("AI disabled must always reject")
	}
	if !strings.Contains(eval.RejectionReason, "disabled") {
		t.Errorf("unexpected reason: %s", eval.RejectionReason)
	}
}

func TestEvaluateRequireHumanReview(t *testing.T) {
	in := gateInput(10, 5)
	in.Settings.RequireHumanReview = true

	eval := Evaluate(in, time.Now())
	if eval.CanAutoApprove {
		t.Fatal("human-review tenants must always reject")
	}
	if !strings.Contains(eval.RejectionReason, "human review") {
		t.Errorf("unexpected reason: %s", eval.RejectionReason)
	}
}

func TestEvaluateGuardrailFailure(t *testing.T) {
	in := gateInput(10, 5)
	in.Guardrail = &domain.GuardrailResult{
		Valid:  false,
		Errors: []string{"margin too low"},
	}

	eval := Evaluate(in, time.Now())
	if eval.CanAutoApprove {
		t.Fatal("guardrail failure must reject")
	}
	if !strings.Contains(eval.RejectionReason, "guardrail") {
		t.Errorf("unexpected reason: %s", eval.RejectionReason)
	}
}

func TestEvaluateRiskBoundaryInclusive(t *testing.T) {
	// Exactly at the threshold passes.
	eval := Evaluate(gateInput(50, 10), time.Now())
	if !eval.CanAutoApprove {
		t.Errorf("risk score equal to threshold must pass: %v", eval.RejectionDetails)
	}

	// Just above fails.
	eval = Evaluate(gateInput(50.01, 10), time.Now())
	if eval.CanAutoApprove {
		t.Error("risk score above threshold must fail")
	}
}

func TestEvaluateDiscountBoundaryInclusive(t *testing.T) {
	eval := Evaluate(gateInput(10, 20), time.Now())
	if !eval.CanAutoApprove {
		t.Errorf("discount equal to limit must pass: %v", eval.RejectionDetails)
	}

	eval = Evaluate(gateInput(10, 20.01), time.Now())
	if eval.CanAutoApprove {
		t.Error("discount above limit must fail")
	}
}

func TestEvaluateConfidence(t *testing.T) {
	conf := 0.6
	in := gateInput(10, 5)
	in.Assessment.Confidence = &conf

	eval := Evaluate(in, time.Now())
	if eval.CanAutoApprove {
		t.Fatal("confidence below floor must reject")
	}

	// Confidence exactly at the floor passes.
	conf = 0.7
	eval = Evaluate(in, time.Now())
	if !eval.CanAutoApprove {
		t.Errorf("confidence at floor must pass: %v", eval.RejectionDetails)
	}

	// Absent confidence is not checked.
	in.Assessment.Confidence = nil
	eval = Evaluate(in, time.Now())
	if !eval.CanAutoApprove {
		t.Errorf("missing confidence must not reject: %v", eval.RejectionDetails)
	}
}

func TestEvaluateCollectsAllFailures(t *testing.T) {
	in := gateInput(90, 50)
	in.Settings.AIEnabled = false
	in.Guardrail = &domain.GuardrailResult{Valid: false, Errors: []string{"x"}}
	conf := 0.1
	in.Assessment.Confidence = &conf

	eval := Evaluate(in, time.Now())
	if eval.CanAutoApprove {
		t.Fatal("expected rejection")
	}
	if len(eval.RejectionDetails) != 5 {
		t.Errorf("expected all 5 failing conditions recorded, got %d: %v",
			len(eval.RejectionDetails), eval.RejectionDetails)
	}
	if eval.RejectionReason != eval.RejectionDetails[0] {
		t.Error("primary reason must be the first failure")
	}
}

func TestEvaluatePerTenantThresholds(t *testing.T) {
	// Same 15% request, two tenants with different discount ceilings.
	strict := gateInput(10, 15)
	strict.Settings.MaxAutoApprovalDiscountPct = 10

	lenient := gateInput(10, 15)
	lenient.Settings.MaxAutoApprovalDiscountPct = 20

	if Evaluate(strict, time.Now()).CanAutoApprove {
		t.Error("strict tenant must reject 15% request")
	}
	if !Evaluate(lenient, time.Now()).CanAutoApprove {
		t.Error("lenient tenant must approve 15% request")
	}
}

func TestEvaluateEchoesThresholds(t *testing.T) {
	now := time.Now()
	eval := Evaluate(gateInput(25, 10), now)

	if eval.MaxRiskScoreThreshold != 50 || eval.MinAIConfidenceThreshold != 0.7 || eval.MaxDiscountThreshold != 20 {
		t.Errorf("thresholds not echoed: %+v", eval)
	}
	if eval.RiskScore != 25 {
		t.Errorf("risk score not echoed: %.1f", eval.RiskScore)
	}
	if !eval.EvaluatedAt.Equal(now.UTC()) {
		t.Error("EvaluatedAt must be the evaluation time in UTC")
	}
	if eval.ID == "" {
		t.Error("evaluation must get an ID")
	}
}
