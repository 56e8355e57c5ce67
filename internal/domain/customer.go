package domain

import "time"

// CustomerStatus classifies a customer for risk purposes.
type CustomerStatus string

const (
	CustomerActive   CustomerStatus = "active"
	CustomerProspect CustomerStatus = "prospect"
	CustomerBlocked  CustomerStatus = "blocked"
)

// Customer is the counterparty of a discount request.
type Customer struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenantId"`
	Name     string         `json:"name"`
	Status   CustomerStatus `json:"status"`
	Segment  string         `json:"segment,omitempty"`

	// Payment behavior flags. Populated by the billing integration; both
	// default to false when no payment data exists for the customer.
	HasPaymentDelays bool `json:"hasPaymentDelays"`
	HasDefaults      bool `json:"hasDefaults"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsBlocked reports whether the customer is blocked from new discounts.
func (c *Customer) IsBlocked() bool {
	return c.Status == CustomerBlocked
}
