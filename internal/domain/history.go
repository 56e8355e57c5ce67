package domain

// CustomerDiscountHistory aggregates a customer's past discount requests.
// Computed fresh per evaluation; never persisted.
type CustomerDiscountHistory struct {
	TotalRequests          int     `json:"totalRequests"`
	ApprovedCount          int     `json:"approvedCount"`
	RejectedCount          int     `json:"rejectedCount"`
	AvgApprovedDiscountPct float64 `json:"avgApprovedDiscountPct"`
	MaxApprovedDiscountPct float64 `json:"maxApprovedDiscountPct"`
	HasPaymentDelays       bool    `json:"hasPaymentDelays"`
	HasDefaults            bool    `json:"hasDefaults"`
}

// ApprovalRate returns the fraction of requests that were approved, in [0,1].
func (h *CustomerDiscountHistory) ApprovalRate() float64 {
	if h == nil || h.TotalRequests == 0 {
		return 0
	}
	return float64(h.ApprovedCount) / float64(h.TotalRequests)
}

// IsEmpty reports whether the customer has no request history.
func (h *CustomerDiscountHistory) IsEmpty() bool {
	return h == nil || h.TotalRequests == 0
}

// SalespersonDiscountHistory aggregates a salesperson's past requests.
// Same lifecycle as CustomerDiscountHistory.
type SalespersonDiscountHistory struct {
	TotalRequests           int     `json:"totalRequests"`
	ApprovedCount           int     `json:"approvedCount"`
	AvgRequestedDiscountPct float64 `json:"avgRequestedDiscountPct"`
	WinRate                 float64 `json:"winRate"`

	// Rejections in the trailing 30 days.
	RecentRejections int `json:"recentRejections"`
}

// ApprovalRate returns the fraction of requests that were approved, in [0,1].
func (h *SalespersonDiscountHistory) ApprovalRate() float64 {
	if h == nil || h.TotalRequests == 0 {
		return 0
	}
	return float64(h.ApprovedCount) / float64(h.TotalRequests)
}

// IsEmpty reports whether the salesperson has no request history.
func (h *SalespersonDiscountHistory) IsEmpty() bool {
	return h == nil || h.TotalRequests == 0
}
