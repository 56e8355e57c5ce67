package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RuleType identifies what a business rule constrains.
type RuleType string

const (
	// RuleMinimumMargin requires the request's estimated margin to stay at
	// or above a configured floor.
	RuleMinimumMargin RuleType = "minimum_margin"

	// RuleDiscountLimit caps the requested discount percentage. When several
	// applicable limits exist, the lowest ceiling wins.
	RuleDiscountLimit RuleType = "discount_limit"

	// RuleCustom evaluates a CEL expression against the request. A nonzero
	// or true result is a violation.
	RuleCustom RuleType = "custom"
)

// RuleScope narrows the set of requests a rule applies to.
type RuleScope string

const (
	ScopeGlobal   RuleScope = "global"
	ScopeProduct  RuleScope = "product"
	ScopeCategory RuleScope = "category"
	ScopeCustomer RuleScope = "customer"
	ScopeRole     RuleScope = "role"
)

// BusinessRule is an admin-configured guardrail, read-only to the validator.
type BusinessRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`

	Type  RuleType  `json:"type"`
	Scope RuleScope `json:"scope"`

	// TargetID identifies the product/category/customer/role the scope
	// applies to. Empty for global scope.
	TargetID string `json:"targetId,omitempty"`

	// Params is the rule-type specific payload, decoded once at load time.
	Params json.RawMessage `json:"params"`

	// WarnOnly rules report violations as warnings instead of errors.
	WarnOnly bool `json:"warnOnly"`

	Active bool `json:"active"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MinMarginParams configures a minimum_margin rule.
type MinMarginParams struct {
	MinMarginPct float64 `json:"minMarginPercentage"`
}

// DiscountLimitParams configures a discount_limit rule.
type DiscountLimitParams struct {
	MaxDiscountPct float64 `json:"maxDiscountPercentage"`
}

// CustomParams configures a custom rule.
type CustomParams struct {
	Expression string `json:"expression"`
}

// DecodeMinMargin parses the rule's params as a margin floor.
func (r *BusinessRule) DecodeMinMargin() (*MinMarginParams, error) {
	if r.Type != RuleMinimumMargin {
		return nil, fmt.Errorf("%w: rule %s is not a minimum_margin rule", ErrInvalidInput, r.ID)
	}
	var p MinMarginParams
	if err := json.Unmarshal(r.Params, &p); err != nil {
		return nil, fmt.Errorf("rule %s: malformed params: %w", r.ID, err)
	}
	if p.MinMarginPct < 0 || p.MinMarginPct > 100 {
		return nil, fmt.Errorf("rule %s: minMarginPercentage out of range: %.2f", r.ID, p.MinMarginPct)
	}
	return &p, nil
}

// DecodeDiscountLimit parses the rule's params as a discount ceiling.
func (r *BusinessRule) DecodeDiscountLimit() (*DiscountLimitParams, error) {
	if r.Type != RuleDiscountLimit {
		return nil, fmt.Errorf("%w: rule %s is not a discount_limit rule", ErrInvalidInput, r.ID)
	}
	var p DiscountLimitParams
	if err := json.Unmarshal(r.Params, &p); err != nil {
		return nil, fmt.Errorf("rule %s: malformed params: %w", r.ID, err)
	}
	if p.MaxDiscountPct < 0 || p.MaxDiscountPct > 100 {
		return nil, fmt.Errorf("rule %s: maxDiscountPercentage out of range: %.2f", r.ID, p.MaxDiscountPct)
	}
	return &p, nil
}

// DecodeCustom parses the rule's params as a CEL expression.
func (r *BusinessRule) DecodeCustom() (*CustomParams, error) {
	if r.Type != RuleCustom {
		return nil, fmt.Errorf("%w: rule %s is not a custom rule", ErrInvalidInput, r.ID)
	}
	var p CustomParams
	if err := json.Unmarshal(r.Params, &p); err != nil {
		return nil, fmt.Errorf("rule %s: malformed params: %w", r.ID, err)
	}
	if p.Expression == "" {
		return nil, fmt.Errorf("rule %s: expression is required", r.ID)
	}
	return &p, nil
}
