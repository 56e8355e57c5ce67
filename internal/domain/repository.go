package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist for the tenant.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned for structurally invalid arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Discount request operations
	SaveRequest(ctx context.Context, tenantID string, req *DiscountRequest) error
	GetRequest(ctx context.Context, tenantID string, requestID string) (*DiscountRequest, error)
	ListRequestsByCustomer(ctx context.Context, tenantID string, customerID string, since time.Time) ([]*DiscountRequest, error)
	ListRequestsBySalesperson(ctx context.Context, tenantID string, salespersonID string, since time.Time) ([]*DiscountRequest, error)

	// Customer operations
	SaveCustomer(ctx context.Context, tenantID string, customer *Customer) error
	GetCustomer(ctx context.Context, tenantID string, customerID string) (*Customer, error)

	// Business rule operations
	SaveBusinessRule(ctx context.Context, tenantID string, rule *BusinessRule) error
	GetBusinessRule(ctx context.Context, tenantID string, ruleID string) (*BusinessRule, error)
	ListBusinessRules(ctx context.Context, tenantID string) ([]*BusinessRule, error)

	// Governance settings (one row per tenant)
	SaveGovernanceSettings(ctx context.Context, settings *AIGovernanceSettings) error
	GetGovernanceSettings(ctx context.Context, tenantID string) (*AIGovernanceSettings, error)

	// Evaluation and approval audit records
	SaveEvaluation(ctx context.Context, tenantID string, eval *AutoApprovalEvaluation) error
	GetEvaluation(ctx context.Context, tenantID string, evalID string) (*AutoApprovalEvaluation, error)
	SaveApproval(ctx context.Context, tenantID string, approval *Approval) error
	ListApprovalsByRequest(ctx context.Context, tenantID string, requestID string) ([]*Approval, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
