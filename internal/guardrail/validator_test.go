package guardrail

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/marginops/dealguard/internal/domain"
)

func testValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(slog.Default())
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	return v
}

func discountLimitRule(id, tenantID string, maxPct float64) *domain.BusinessRule {
	params, _ := json.Marshal(domain.DiscountLimitParams{MaxDiscountPct: maxPct})
	return &domain.BusinessRule{
		ID:       id,
		TenantID: tenantID,
		Name:     id,
		Type:     domain.RuleDiscountLimit,
		Scope:    domain.ScopeGlobal,
		Params:   params,
		Active:   true,
	}
}

func minMarginRule(id, tenantID string, minPct float64) *domain.BusinessRule {
	params, _ := json.Marshal(domain.MinMarginParams{MinMarginPct: minPct})
	return &domain.BusinessRule{
		ID:       id,
		TenantID: tenantID,
		Name:     id,
		Type:     domain.RuleMinimumMargin,
		Scope:    domain.ScopeGlobal,
		Params:   params,
		Active:   true,
	}
}

func customRule(id, tenantID, expression string) *domain.BusinessRule {
	params, _ := json.Marshal(domain.CustomParams{Expression: expression})
	return &domain.BusinessRule{
		ID:       id,
		TenantID: tenantID,
		Name:     id,
		Type:     domain.RuleCustom,
		Scope:    domain.ScopeGlobal,
		Params:   params,
		Active:   true,
	}
}

func evalContext(discountPct float64, marginPct *float64) *domain.EvaluationContext {
	return &domain.EvaluationContext{
		TenantID: "acme",
		Request: &domain.DiscountRequest{
			ID:                   "req-1",
			TenantID:             "acme",
			CustomerID:           "cust-1",
			SalespersonID:        "sp-1",
			SalespersonRole:      "rep",
			RequestedDiscountPct: discountPct,
			EstimatedMarginPct:   marginPct,
			Items: []domain.RequestItem{
				{ProductID: "prod-1", Category: "hardware", Quantity: 5, UnitPrice: 200, DiscountPct: discountPct},
			},
		},
		Customer: &domain.Customer{ID: "cust-1", TenantID: "acme", Status: domain.CustomerActive, Segment: "smb"},
	}
}

func TestValidateNoRules(t *testing.T) {
	v := testValidator(t)

	result := v.Validate(context.Background(), evalContext(15, nil))
	if !result.Valid {
		t.Errorf("expected valid with no rules, got errors: %v", result.Errors)
	}
	if result.RulesApplied != 0 {
		t.Errorf("expected 0 rules applied, got %d", result.RulesApplied)
	}
}

func TestValidateBlockedCustomer(t *testing.T) {
	v := testValidator(t)

	ec := evalContext(5, nil)
	ec.Customer.Status = domain.CustomerBlocked

	result := v.Validate(context.Background(), ec)
	if result.Valid {
		t.Fatal("blocked customer must fail validation")
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "blocked") {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
}

func TestValidateStrictestCeilingWins(t *testing.T) {
	v := testValidator(t)
	v.ReloadRules("acme", []*domain.BusinessRule{
		discountLimitRule("limit-15", "acme", 15),
		discountLimitRule("limit-10", "acme", 10),
	})

	// 12% violates the 10% ceiling even though the 15% one allows it.
	result := v.Validate(context.Background(), evalContext(12, nil))
	if result.Valid {
		t.Fatal("expected violation of strictest ceiling")
	}
	if len(result.Errors) != 1 {
		t.Fatalf("strictest ceiling must produce exactly one error, got %v", result.Errors)
	}
	if !strings.Contains(result.Errors[0], "10.0%") {
		t.Errorf("error should cite the strictest ceiling: %s", result.Errors[0])
	}

	// 8% satisfies both.
	result = v.Validate(context.Background(), evalContext(8, nil))
	if !result.Valid {
		t.Errorf("8%% should pass both ceilings, got errors: %v", result.Errors)
	}
}

func TestValidateBlockingCeilingNotMaskedByWarnOnly(t *testing.T) {
	v := testValidator(t)
	warn := discountLimitRule("warn-5", "acme", 5)
	warn.WarnOnly = true
	v.ReloadRules("acme", []*domain.BusinessRule{
		discountLimitRule("limit-10", "acme", 10),
		warn,
	})

	result := v.Validate(context.Background(), evalContext(12, nil))
	if result.Valid {
		t.Fatal("blocking ceiling must still fail when a stricter warn-only rule exists")
	}
	if len(result.Errors) != 1 || len(result.Warnings) != 1 {
		t.Errorf("expected one error and one warning, got errors=%v warnings=%v", result.Errors, result.Warnings)
	}
}

func TestValidateMinMargin(t *testing.T) {
	v := testValidator(t)
	v.ReloadRules("acme", []*domain.BusinessRule{minMarginRule("margin-20", "acme", 20)})

	margin := 15.0
	result := v.Validate(context.Background(), evalContext(10, &margin))
	if result.Valid {
		t.Fatal("margin below floor must fail")
	}

	margin = 25.0
	result = v.Validate(context.Background(), evalContext(10, &margin))
	if !result.Valid {
		t.Errorf("margin above floor should pass, got %v", result.Errors)
	}

	// Unknown margin cannot satisfy a margin floor.
	result = v.Validate(context.Background(), evalContext(10, nil))
	if result.Valid {
		t.Fatal("nil margin must fail a minimum_margin rule")
	}
}

func TestValidateWarnOnly(t *testing.T) {
	v := testValidator(t)
	rule := minMarginRule("margin-warn", "acme", 20)
	rule.WarnOnly = true
	v.ReloadRules("acme", []*domain.BusinessRule{rule})

	margin := 10.0
	result := v.Validate(context.Background(), evalContext(10, &margin))
	if !result.Valid {
		t.Errorf("warn-only violation must not invalidate, got %v", result.Errors)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("expected one warning, got %v", result.Warnings)
	}
}

func TestValidateCustomRule(t *testing.T) {
	v := testValidator(t)
	v.ReloadRules("acme", []*domain.BusinessRule{
		customRule("big-deal", "acme", "amount > 500.0 && requested_discount > 10.0"),
	})

	// amount = 5*200 = 1000, discount 12 -> violation.
	result := v.Validate(context.Background(), evalContext(12, nil))
	if result.Valid {
		t.Fatal("expected custom rule violation")
	}

	result = v.Validate(context.Background(), evalContext(8, nil))
	if !result.Valid {
		t.Errorf("8%% should pass custom rule, got %v", result.Errors)
	}
}

func TestValidateCustomRuleVariables(t *testing.T) {
	v := testValidator(t)
	v.ReloadRules("acme", []*domain.BusinessRule{
		customRule("segment", "acme", `customer_segment == "smb" && salesperson_role == "rep" && item_count >= 1`),
	})

	result := v.Validate(context.Background(), evalContext(5, nil))
	if result.Valid {
		t.Fatal("expected violation from matching segment/role expression")
	}
}

func TestReloadSkipsMalformedRules(t *testing.T) {
	v := testValidator(t)

	bad := &domain.BusinessRule{
		ID:       "bad",
		TenantID: "acme",
		Name:     "bad",
		Type:     domain.RuleDiscountLimit,
		Scope:    domain.ScopeGlobal,
		Params:   json.RawMessage(`{"maxDiscountPercentage": "not a number"}`),
		Active:   true,
	}
	v.ReloadRules("acme", []*domain.BusinessRule{
		bad,
		discountLimitRule("limit-10", "acme", 10),
	})

	if got := v.RulesCount("acme"); got != 1 {
		t.Errorf("malformed rule must be skipped: expected 1 loaded, got %d", got)
	}

	// The well-formed rule still enforces.
	result := v.Validate(context.Background(), evalContext(12, nil))
	if result.Valid {
		t.Error("surviving rule should still enforce")
	}
}

func TestReloadSkipsInactiveRules(t *testing.T) {
	v := testValidator(t)

	inactive := discountLimitRule("limit-10", "acme", 10)
	inactive.Active = false
	v.ReloadRules("acme", []*domain.BusinessRule{inactive})

	result := v.Validate(context.Background(), evalContext(50, nil))
	if !result.Valid {
		t.Errorf("inactive rules must not apply, got %v", result.Errors)
	}
}

func TestValidateRuleRejectsBadExpression(t *testing.T) {
	v := testValidator(t)

	if err := v.ValidateRule(customRule("bad-expr", "acme", "requested_discount >")); err == nil {
		t.Error("expected compile error for malformed expression")
	}
	if err := v.ValidateRule(customRule("bad-type", "acme", `"a string"`)); err == nil {
		t.Error("expected type error for non-numeric, non-bool expression")
	}
	if err := v.ValidateRule(customRule("ok", "acme", "requested_discount > 10.0")); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
}

func TestScopeMatching(t *testing.T) {
	v := testValidator(t)

	productRule := discountLimitRule("prod-limit", "acme", 5)
	productRule.Scope = domain.ScopeProduct
	productRule.TargetID = "prod-1"

	categoryRule := discountLimitRule("cat-limit", "acme", 5)
	categoryRule.Scope = domain.ScopeCategory
	categoryRule.TargetID = "software"

	customerRule := minMarginRule("cust-margin", "acme", 30)
	customerRule.Scope = domain.ScopeCustomer
	customerRule.TargetID = "cust-other"

	roleRule := discountLimitRule("role-limit", "acme", 8)
	roleRule.Scope = domain.ScopeRole
	roleRule.TargetID = "rep"

	v.ReloadRules("acme", []*domain.BusinessRule{productRule, categoryRule, customerRule, roleRule})

	// Request has prod-1 (hardware) and role rep: product and role rules
	// apply, category and customer rules do not.
	result := v.Validate(context.Background(), evalContext(10, nil))
	if result.Valid {
		t.Fatal("expected product/role ceiling violations")
	}
	if result.RulesApplied != 2 {
		t.Errorf("expected 2 applicable rules, got %d", result.RulesApplied)
	}
	// Strictest applicable ceiling is the product rule at 5%.
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "5.0%") {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
}

func TestTenantIsolation(t *testing.T) {
	v := testValidator(t)
	v.ReloadRules("other-tenant", []*domain.BusinessRule{discountLimitRule("limit-1", "other-tenant", 1)})

	result := v.Validate(context.Background(), evalContext(50, nil))
	if !result.Valid {
		t.Errorf("rules from another tenant must not apply, got %v", result.Errors)
	}
}
