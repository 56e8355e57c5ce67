// Package guardrail validates discount requests against admin-configured
// business rules before any approval path runs.
package guardrail

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/marginops/dealguard/internal/domain"
)

// loadedRule is a business rule with its params decoded once at load time.
// Exactly one of the param fields is set, matching the rule type.
type loadedRule struct {
	rule          *domain.BusinessRule
	minMargin     *domain.MinMarginParams
	discountLimit *domain.DiscountLimitParams
	program       cel.Program
}

// Validator evaluates a tenant's active business rules against requests.
// Rules are compiled and decoded at load time and evaluated read-only, so
// concurrent Validate calls are safe.
type Validator struct {
	mu     sync.RWMutex
	env    *cel.Env
	rules  map[string]map[string]*loadedRule // tenantID -> ruleID -> rule
	logger *slog.Logger
}

// NewValidator creates a rule validator with an empty rule set.
func NewValidator(logger *slog.Logger) (*Validator, error) {
	env, err := newEnv()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		env:    env,
		rules:  make(map[string]map[string]*loadedRule),
		logger: logger,
	}, nil
}

// ValidateRule decodes and compiles a rule without loading it. Used by the
// API to reject malformed rules at save time.
func (v *Validator) ValidateRule(rule *domain.BusinessRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", domain.ErrInvalidInput)
	}
	_, err := v.load(rule)
	return err
}

// LoadRule decodes, compiles, and loads a single rule. Malformed rules are
// rejected, never partially loaded.
func (v *Validator) LoadRule(rule *domain.BusinessRule) error {
	loaded, err := v.load(rule)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	tenant := v.rules[rule.TenantID]
	if tenant == nil {
		tenant = make(map[string]*loadedRule)
		v.rules[rule.TenantID] = tenant
	}
	tenant[rule.ID] = loaded
	return nil
}

// UnloadRule removes a rule from the validator.
func (v *Validator) UnloadRule(tenantID, ruleID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.rules[tenantID], ruleID)
}

// ReloadRules replaces a tenant's loaded rules with the given set. Inactive
// rules are skipped; malformed rules are logged and skipped so one bad rule
// cannot take down validation for the tenant.
func (v *Validator) ReloadRules(tenantID string, rules []*domain.BusinessRule) {
	loaded := make(map[string]*loadedRule)
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		lr, err := v.load(rule)
		if err != nil {
			v.logger.Warn("skipping malformed business rule",
				"tenant_id", tenantID,
				"rule_id", rule.ID,
				"error", err)
			continue
		}
		loaded[rule.ID] = lr
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules[tenantID] = loaded
}

// RulesCount returns the number of loaded rules for a tenant.
func (v *Validator) RulesCount(tenantID string) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.rules[tenantID])
}

// Validate checks a request against the tenant's loaded rules. It never
// returns an error: validation problems surface in the result, and a rule
// whose evaluation fails at runtime is skipped.
func (v *Validator) Validate(ctx context.Context, ec *domain.EvaluationContext) *domain.GuardrailResult {
	result := &domain.GuardrailResult{Valid: true}

	// A blocked customer fails validation outright, no rule needed.
	if ec.Customer != nil && ec.Customer.IsBlocked() {
		result.Valid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("customer %s is blocked from new discounts", ec.Customer.ID))
		return result
	}

	applicable := v.applicableRules(ec)
	if len(applicable) == 0 {
		return result
	}

	vars := activation(ec)
	req := ec.Request

	// Among applicable discount limits the strictest ceiling wins, tracked
	// separately for blocking and warn-only rules.
	var blockingCeiling, warnCeiling *loadedRule

	for _, lr := range applicable {
		select {
		case <-ctx.Done():
			return result
		default:
		}

		switch lr.rule.Type {
		case domain.RuleMinimumMargin:
			v.checkMinMargin(lr, req, result)
			result.RulesApplied++

		case domain.RuleDiscountLimit:
			if lr.rule.WarnOnly {
				if warnCeiling == nil || lr.discountLimit.MaxDiscountPct < warnCeiling.discountLimit.MaxDiscountPct {
					warnCeiling = lr
				}
			} else {
				if blockingCeiling == nil || lr.discountLimit.MaxDiscountPct < blockingCeiling.discountLimit.MaxDiscountPct {
					blockingCeiling = lr
				}
			}
			result.RulesApplied++

		case domain.RuleCustom:
			v.checkCustom(lr, vars, result)
			result.RulesApplied++
		}
	}

	if blockingCeiling != nil && req.RequestedDiscountPct > blockingCeiling.discountLimit.MaxDiscountPct {
		result.Errors = append(result.Errors, fmt.Sprintf(
			"requested discount %.1f%% exceeds limit %.1f%% (%s)",
			req.RequestedDiscountPct, blockingCeiling.discountLimit.MaxDiscountPct, blockingCeiling.rule.Name))
	}
	if warnCeiling != nil && req.RequestedDiscountPct > warnCeiling.discountLimit.MaxDiscountPct {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"requested discount %.1f%% exceeds advisory limit %.1f%% (%s)",
			req.RequestedDiscountPct, warnCeiling.discountLimit.MaxDiscountPct, warnCeiling.rule.Name))
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func (v *Validator) checkMinMargin(lr *loadedRule, req *domain.DiscountRequest, result *domain.GuardrailResult) {
	var msg string
	switch {
	case req.EstimatedMarginPct == nil:
		msg = fmt.Sprintf("estimated margin is required by rule %s", lr.rule.Name)
	case *req.EstimatedMarginPct < lr.minMargin.MinMarginPct:
		msg = fmt.Sprintf("estimated margin %.1f%% is below minimum %.1f%% (%s)",
			*req.EstimatedMarginPct, lr.minMargin.MinMarginPct, lr.rule.Name)
	default:
		return
	}

	if lr.rule.WarnOnly {
		result.Warnings = append(result.Warnings, msg)
	} else {
		result.Errors = append(result.Errors, msg)
	}
}

func (v *Validator) checkCustom(lr *loadedRule, vars map[string]any, result *domain.GuardrailResult) {
	out, _, err := lr.program.Eval(vars)
	if err != nil {
		// Runtime evaluation errors must not block the request.
		v.logger.Warn("custom rule evaluation failed",
			"rule_id", lr.rule.ID,
			"error", err)
		return
	}
	if !isViolation(out) {
		return
	}

	msg := lr.rule.Description
	if msg == "" {
		msg = fmt.Sprintf("rule %s violated", lr.rule.Name)
	}
	if lr.rule.WarnOnly {
		result.Warnings = append(result.Warnings, msg)
	} else {
		result.Errors = append(result.Errors, msg)
	}
}

// applicableRules snapshots the tenant's rules that match the request scope.
func (v *Validator) applicableRules(ec *domain.EvaluationContext) []*loadedRule {
	v.mu.RLock()
	defer v.mu.RUnlock()

	tenant := v.rules[ec.TenantID]
	if len(tenant) == 0 {
		return nil
	}

	applicable := make([]*loadedRule, 0, len(tenant))
	for _, lr := range tenant {
		if scopeMatches(lr.rule, ec.Request) {
			applicable = append(applicable, lr)
		}
	}
	return applicable
}

func scopeMatches(rule *domain.BusinessRule, req *domain.DiscountRequest) bool {
	switch rule.Scope {
	case domain.ScopeGlobal:
		return true
	case domain.ScopeProduct:
		for _, item := range req.Items {
			if item.ProductID == rule.TargetID {
				return true
			}
		}
		return false
	case domain.ScopeCategory:
		for _, item := range req.Items {
			if item.Category == rule.TargetID {
				return true
			}
		}
		return false
	case domain.ScopeCustomer:
		return req.CustomerID == rule.TargetID
	case domain.ScopeRole:
		return req.SalespersonRole == rule.TargetID
	default:
		return false
	}
}

// load decodes and compiles a rule into its evaluated form.
func (v *Validator) load(rule *domain.BusinessRule) (*loadedRule, error) {
	lr := &loadedRule{rule: rule}

	switch rule.Type {
	case domain.RuleMinimumMargin:
		p, err := rule.DecodeMinMargin()
		if err != nil {
			return nil, err
		}
		lr.minMargin = p

	case domain.RuleDiscountLimit:
		p, err := rule.DecodeDiscountLimit()
		if err != nil {
			return nil, err
		}
		lr.discountLimit = p

	case domain.RuleCustom:
		p, err := rule.DecodeCustom()
		if err != nil {
			return nil, err
		}
		program, err := compileExpression(v.env, rule.ID, p.Expression)
		if err != nil {
			return nil, err
		}
		lr.program = program

	default:
		return nil, fmt.Errorf("%w: unknown rule type %q", domain.ErrInvalidInput, rule.Type)
	}

	return lr, nil
}

// Close releases all loaded rules.
func (v *Validator) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules = make(map[string]map[string]*loadedRule)
	return nil
}
