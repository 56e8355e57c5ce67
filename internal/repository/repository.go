// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marginops/dealguard/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRequest upserts a discount request with tenant isolation.
func (r *SQLRepository) SaveRequest(ctx context.Context, tenantID string, req *domain.DiscountRequest) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	items, _ := json.Marshal(req.Items)

	query := `
		INSERT INTO discount_requests (
			id, tenant_id, customer_id, salesperson_id, salesperson_role,
			items, requested_discount_pct, estimated_margin_pct, risk_score,
			status, justification, created_at, updated_at, decided_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			risk_score = excluded.risk_score,
			status = excluded.status,
			updated_at = excluded.updated_at,
			decided_at = excluded.decided_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		req.ID, tenantID, req.CustomerID, req.SalespersonID, req.SalespersonRole,
		string(items), req.RequestedDiscountPct,
		nullFloat(req.EstimatedMarginPct), nullFloat(req.RiskScore),
		string(req.Status), req.Justification,
		req.CreatedAt, req.UpdatedAt, nullTime(req.DecidedAt),
	)
	return err
}

// GetRequest retrieves a discount request by ID with tenant isolation.
func (r *SQLRepository) GetRequest(ctx context.Context, tenantID string, requestID string) (*domain.DiscountRequest, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, customer_id, salesperson_id, salesperson_role,
			   items, requested_discount_pct, estimated_margin_pct, risk_score,
			   status, justification, created_at, updated_at, decided_at
		FROM discount_requests
		WHERE tenant_id = ? AND id = ?
	`

	req, err := scanRequest(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return req, err
}

// ListRequestsByCustomer retrieves a customer's requests since a point in time.
func (r *SQLRepository) ListRequestsByCustomer(ctx context.Context, tenantID string, customerID string, since time.Time) ([]*domain.DiscountRequest, error) {
	query := `
		SELECT id, tenant_id, customer_id, salesperson_id, salesperson_role,
			   items, requested_discount_pct, estimated_margin_pct, risk_score,
			   status, justification, created_at, updated_at, decided_at
		FROM discount_requests
		WHERE tenant_id = ? AND customer_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`
	return r.listRequests(ctx, query, tenantID, customerID, since)
}

// ListRequestsBySalesperson retrieves a salesperson's requests since a point in time.
func (r *SQLRepository) ListRequestsBySalesperson(ctx context.Context, tenantID string, salespersonID string, since time.Time) ([]*domain.DiscountRequest, error) {
	query := `
		SELECT id, tenant_id, customer_id, salesperson_id, salesperson_role,
			   items, requested_discount_pct, estimated_margin_pct, risk_score,
			   status, justification, created_at, updated_at, decided_at
		FROM discount_requests
		WHERE tenant_id = ? AND salesperson_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`
	return r.listRequests(ctx, query, tenantID, salespersonID, since)
}

func (r *SQLRepository) listRequests(ctx context.Context, query string, args ...any) ([]*domain.DiscountRequest, error) {
	if args[0] == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*domain.DiscountRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*domain.DiscountRequest, error) {
	var req domain.DiscountRequest
	var items, status string
	var margin, score sql.NullFloat64
	var decidedAt sql.NullTime

	err := row.Scan(
		&req.ID, &req.TenantID, &req.CustomerID, &req.SalespersonID, &req.SalespersonRole,
		&items, &req.RequestedDiscountPct, &margin, &score,
		&status, &req.Justification, &req.CreatedAt, &req.UpdatedAt, &decidedAt,
	)
	if err != nil {
		return nil, err
	}

	req.Status = domain.RequestStatus(status)
	if err := json.Unmarshal([]byte(items), &req.Items); err != nil {
		return nil, fmt.Errorf("failed to parse request items: %w", err)
	}
	if margin.Valid {
		req.EstimatedMarginPct = &margin.Float64
	}
	if score.Valid {
		req.RiskScore = &score.Float64
	}
	if decidedAt.Valid {
		req.DecidedAt = &decidedAt.Time
	}
	return &req, nil
}

// SaveCustomer upserts a customer with tenant isolation.
func (r *SQLRepository) SaveCustomer(ctx context.Context, tenantID string, customer *domain.Customer) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO customers (
			id, tenant_id, name, status, segment,
			has_payment_delays, has_defaults, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			segment = excluded.segment,
			has_payment_delays = excluded.has_payment_delays,
			has_defaults = excluded.has_defaults,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		customer.ID, tenantID, customer.Name, string(customer.Status), customer.Segment,
		boolInt(customer.HasPaymentDelays), boolInt(customer.HasDefaults),
		customer.CreatedAt, customer.UpdatedAt,
	)
	return err
}

// GetCustomer retrieves a customer by ID with tenant isolation.
func (r *SQLRepository) GetCustomer(ctx context.Context, tenantID string, customerID string) (*domain.Customer, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, status, segment,
			   has_payment_delays, has_defaults, created_at, updated_at
		FROM customers
		WHERE tenant_id = ? AND id = ?
	`

	var c domain.Customer
	var status string
	var delays, defaults int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, customerID).Scan(
		&c.ID, &c.TenantID, &c.Name, &status, &c.Segment,
		&delays, &defaults, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Status = domain.CustomerStatus(status)
	c.HasPaymentDelays = delays == 1
	c.HasDefaults = defaults == 1
	return &c, nil
}

// SaveBusinessRule upserts a business rule with tenant isolation.
func (r *SQLRepository) SaveBusinessRule(ctx context.Context, tenantID string, rule *domain.BusinessRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO business_rules (
			id, tenant_id, name, description, version, type, scope, target_id,
			params, warn_only, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			type = excluded.type,
			scope = excluded.scope,
			target_id = excluded.target_id,
			params = excluded.params,
			warn_only = excluded.warn_only,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description, rule.Version,
		string(rule.Type), string(rule.Scope), rule.TargetID,
		string(rule.Params), boolInt(rule.WarnOnly), boolInt(rule.Active),
		rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// GetBusinessRule retrieves a business rule by ID with tenant isolation.
func (r *SQLRepository) GetBusinessRule(ctx context.Context, tenantID string, ruleID string) (*domain.BusinessRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, type, scope, target_id,
			   params, warn_only, active, created_at, updated_at
		FROM business_rules
		WHERE tenant_id = ? AND id = ?
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rule, err
}

// ListBusinessRules retrieves all business rules for a tenant, active or not.
// The guardrail validator filters inactive rules itself.
func (r *SQLRepository) ListBusinessRules(ctx context.Context, tenantID string) ([]*domain.BusinessRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, type, scope, target_id,
			   params, warn_only, active, created_at, updated_at
		FROM business_rules
		WHERE tenant_id = ?
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.BusinessRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanRule(row rowScanner) (*domain.BusinessRule, error) {
	var rule domain.BusinessRule
	var ruleType, scope, params string
	var warnOnly, active int

	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description, &rule.Version,
		&ruleType, &scope, &rule.TargetID,
		&params, &warnOnly, &active, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Type = domain.RuleType(ruleType)
	rule.Scope = domain.RuleScope(scope)
	rule.Params = json.RawMessage(params)
	rule.WarnOnly = warnOnly == 1
	rule.Active = active == 1
	return &rule, nil
}

// SaveGovernanceSettings upserts the tenant's governance settings.
func (r *SQLRepository) SaveGovernanceSettings(ctx context.Context, settings *domain.AIGovernanceSettings) error {
	if settings.TenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO governance_settings (
			tenant_id, ai_enabled, autonomy_level, max_risk_score, min_confidence,
			require_human_review, max_auto_discount_pct, learning_enabled, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			ai_enabled = excluded.ai_enabled,
			autonomy_level = excluded.autonomy_level,
			max_risk_score = excluded.max_risk_score,
			min_confidence = excluded.min_confidence,
			require_human_review = excluded.require_human_review,
			max_auto_discount_pct = excluded.max_auto_discount_pct,
			learning_enabled = excluded.learning_enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		settings.TenantID, boolInt(settings.AIEnabled), settings.AutonomyLevel,
		settings.MaxRiskScoreForAutoApproval, settings.MinConfidenceForAutoApproval,
		boolInt(settings.RequireHumanReview), settings.MaxAutoApprovalDiscountPct,
		boolInt(settings.LearningEnabled), settings.UpdatedAt,
	)
	return err
}

// GetGovernanceSettings retrieves the tenant's governance settings.
func (r *SQLRepository) GetGovernanceSettings(ctx context.Context, tenantID string) (*domain.AIGovernanceSettings, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT tenant_id, ai_enabled, autonomy_level, max_risk_score, min_confidence,
			   require_human_review, max_auto_discount_pct, learning_enabled, updated_at
		FROM governance_settings
		WHERE tenant_id = ?
	`

	var s domain.AIGovernanceSettings
	var aiEnabled, humanReview, learning int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(
		&s.TenantID, &aiEnabled, &s.AutonomyLevel,
		&s.MaxRiskScoreForAutoApproval, &s.MinConfidenceForAutoApproval,
		&humanReview, &s.MaxAutoApprovalDiscountPct, &learning, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.AIEnabled = aiEnabled == 1
	s.RequireHumanReview = humanReview == 1
	s.LearningEnabled = learning == 1
	return &s, nil
}

// SaveEvaluation stores a gate evaluation with tenant isolation.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, tenantID string, eval *domain.AutoApprovalEvaluation) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	details, _ := json.Marshal(eval.RejectionDetails)
	guardrailJSON, _ := json.Marshal(eval.Guardrail)

	query := `
		INSERT INTO evaluations (
			id, tenant_id, request_id, can_auto_approve,
			approval_reason, rejection_reason, rejection_details, guardrail,
			risk_score, ai_confidence,
			max_risk_threshold, min_confidence_threshold, max_discount_threshold,
			source, evaluated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		eval.ID, tenantID, eval.RequestID, boolInt(eval.CanAutoApprove),
		eval.ApprovalReason, eval.RejectionReason, string(details), string(guardrailJSON),
		eval.RiskScore, nullFloat(eval.AIConfidence),
		eval.MaxRiskScoreThreshold, eval.MinAIConfidenceThreshold, eval.MaxDiscountThreshold,
		eval.Source, eval.EvaluatedAt,
	)
	return err
}

// GetEvaluation retrieves a gate evaluation by ID with tenant isolation.
func (r *SQLRepository) GetEvaluation(ctx context.Context, tenantID string, evalID string) (*domain.AutoApprovalEvaluation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, request_id, can_auto_approve,
			   approval_reason, rejection_reason, rejection_details, guardrail,
			   risk_score, ai_confidence,
			   max_risk_threshold, min_confidence_threshold, max_discount_threshold,
			   source, evaluated_at
		FROM evaluations
		WHERE tenant_id = ? AND id = ?
	`

	var eval domain.AutoApprovalEvaluation
	var canApprove int
	var details, guardrailJSON string
	var confidence sql.NullFloat64

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, evalID).Scan(
		&eval.ID, &eval.TenantID, &eval.RequestID, &canApprove,
		&eval.ApprovalReason, &eval.RejectionReason, &details, &guardrailJSON,
		&eval.RiskScore, &confidence,
		&eval.MaxRiskScoreThreshold, &eval.MinAIConfidenceThreshold, &eval.MaxDiscountThreshold,
		&eval.Source, &eval.EvaluatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	eval.CanAutoApprove = canApprove == 1
	json.Unmarshal([]byte(details), &eval.RejectionDetails)
	json.Unmarshal([]byte(guardrailJSON), &eval.Guardrail)
	if confidence.Valid {
		eval.AIConfidence = &confidence.Float64
	}
	return &eval, nil
}

// SaveApproval stores an approval audit record with tenant isolation.
func (r *SQLRepository) SaveApproval(ctx context.Context, tenantID string, approval *domain.Approval) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO approvals (
			id, tenant_id, request_id, approver_id, action, comment, risk_score, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		approval.ID, tenantID, approval.RequestID, approval.ApproverID,
		approval.Action, approval.Comment, nullFloat(approval.RiskScore), approval.CreatedAt,
	)
	return err
}

// ListApprovalsByRequest retrieves the approval trail for a request.
func (r *SQLRepository) ListApprovalsByRequest(ctx context.Context, tenantID string, requestID string) ([]*domain.Approval, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, request_id, approver_id, action, comment, risk_score, created_at
		FROM approvals
		WHERE tenant_id = ? AND request_id = ?
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []*domain.Approval
	for rows.Next() {
		var a domain.Approval
		var score sql.NullFloat64

		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.RequestID, &a.ApproverID,
			&a.Action, &a.Comment, &score, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		if score.Valid {
			a.RiskScore = &score.Float64
		}
		approvals = append(approvals, &a)
	}
	return approvals, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
