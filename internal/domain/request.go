// Package domain defines the core interfaces and types for Dealguard.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// RequestStatus is the lifecycle state of a discount request.
type RequestStatus string

const (
	StatusUnderAnalysis       RequestStatus = "under_analysis"
	StatusApproved            RequestStatus = "approved"
	StatusRejected            RequestStatus = "rejected"
	StatusAdjustmentRequested RequestStatus = "adjustment_requested"
	StatusAutoApproved        RequestStatus = "auto_approved"
)

var (
	// ErrInvalidTransition is returned when a status transition is attempted
	// from any state other than under_analysis.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidScore is returned when a risk score is outside [0,100].
	ErrInvalidScore = errors.New("risk score must be between 0 and 100")
)

// RequestItem is a single line of a discount request.
type RequestItem struct {
	ProductID   string  `json:"productId"`
	Category    string  `json:"category,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	DiscountPct float64 `json:"discountPct"`
}

// DiscountRequest is the aggregate under evaluation. State is mutated only
// through the transition methods; every transition is valid only from
// under_analysis.
type DiscountRequest struct {
	ID              string `json:"id"`
	TenantID        string `json:"tenantId"`
	CustomerID      string `json:"customerId"`
	SalespersonID   string `json:"salespersonId"`
	SalespersonRole string `json:"salespersonRole,omitempty"`

	Items []RequestItem `json:"items"`

	// Overall requested discount across all items, percent.
	RequestedDiscountPct float64 `json:"requestedDiscountPct"`

	// Estimated margin after discount, percent. Unknown when nil.
	EstimatedMarginPct *float64 `json:"estimatedMarginPct,omitempty"`

	// Risk score assigned during evaluation, 0-100. Unset when nil.
	RiskScore *float64 `json:"riskScore,omitempty"`

	Status        RequestStatus `json:"status"`
	Justification string        `json:"justification,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DecidedAt *time.Time `json:"decidedAt,omitempty"`
}

// Validate checks the structural invariants of a new request.
func (r *DiscountRequest) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if r.CustomerID == "" || r.SalespersonID == "" {
		return fmt.Errorf("%w: customerId and salespersonId are required", ErrInvalidInput)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidInput)
	}
	if r.RequestedDiscountPct < 0 || r.RequestedDiscountPct > 100 {
		return fmt.Errorf("%w: requestedDiscountPct must be in [0,100]", ErrInvalidInput)
	}
	for i, item := range r.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive", ErrInvalidInput, i)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("%w: item %d unit price must be non-negative", ErrInvalidInput, i)
		}
		if item.DiscountPct < 0 || item.DiscountPct > 100 {
			return fmt.Errorf("%w: item %d discountPct must be in [0,100]", ErrInvalidInput, i)
		}
	}
	return nil
}

// TotalValue returns the undiscounted value of all items.
func (r *DiscountRequest) TotalValue() float64 {
	var total float64
	for _, item := range r.Items {
		total += float64(item.Quantity) * item.UnitPrice
	}
	return total
}

// SetRiskScore records the computed risk score. Scores outside [0,100] are
// rejected.
func (r *DiscountRequest) SetRiskScore(score float64) error {
	if score < 0 || score > 100 {
		return fmt.Errorf("%w: got %.2f", ErrInvalidScore, score)
	}
	s := score
	r.RiskScore = &s
	return nil
}

// Approve transitions the request to approved.
func (r *DiscountRequest) Approve(now time.Time) error {
	return r.transition(StatusApproved, now)
}

// Reject transitions the request to rejected.
func (r *DiscountRequest) Reject(now time.Time) error {
	return r.transition(StatusRejected, now)
}

// RequestAdjustment transitions the request to adjustment_requested.
func (r *DiscountRequest) RequestAdjustment(now time.Time) error {
	return r.transition(StatusAdjustmentRequested, now)
}

// AutoApprove transitions the request to auto_approved.
func (r *DiscountRequest) AutoApprove(now time.Time) error {
	return r.transition(StatusAutoApproved, now)
}

func (r *DiscountRequest) transition(to RequestStatus, now time.Time) error {
	if r.Status != StatusUnderAnalysis {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = now
	decided := now
	r.DecidedAt = &decided
	return nil
}

// IsPending reports whether the request still awaits a decision.
func (r *DiscountRequest) IsPending() bool {
	return r.Status == StatusUnderAnalysis
}
