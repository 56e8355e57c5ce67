// Package history aggregates past discount requests into the rolling
// profiles the scoring primitives consume.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marginops/dealguard/internal/domain"
)

// Aggregation windows. The scoring model looks at a year of requests and a
// month of rejections.
const (
	historyWindow   = 365 * 24 * time.Hour
	rejectionWindow = 30 * 24 * time.Hour
)

// Service builds customer and salesperson history profiles on demand.
// Profiles are computed fresh per evaluation; they are cheap tenant-scoped
// aggregates and caching them would mask same-day decisions.
type Service struct {
	repo domain.Repository
	now  func() time.Time
}

// NewService creates a history service.
func NewService(repo domain.Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// BuildCustomerHistory aggregates the customer's requests over the trailing
// year. Payment behavior flags come from the customer record, not the
// requests. A customer with no requests yields an empty (zero) history.
func (s *Service) BuildCustomerHistory(ctx context.Context, tenantID, customerID string) (*domain.CustomerDiscountHistory, error) {
	if tenantID == "" || customerID == "" {
		return nil, fmt.Errorf("%w: tenantID and customerID are required", domain.ErrInvalidInput)
	}

	since := s.now().Add(-historyWindow)
	requests, err := s.repo.ListRequestsByCustomer(ctx, tenantID, customerID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list customer requests: %w", err)
	}

	h := &domain.CustomerDiscountHistory{}
	var approvedSum float64
	for _, req := range requests {
		h.TotalRequests++
		switch req.Status {
		case domain.StatusApproved, domain.StatusAutoApproved:
			h.ApprovedCount++
			approvedSum += req.RequestedDiscountPct
			if req.RequestedDiscountPct > h.MaxApprovedDiscountPct {
				h.MaxApprovedDiscountPct = req.RequestedDiscountPct
			}
		case domain.StatusRejected:
			h.RejectedCount++
		}
	}
	if h.ApprovedCount > 0 {
		h.AvgApprovedDiscountPct = approvedSum / float64(h.ApprovedCount)
	}

	customer, err := s.repo.GetCustomer(ctx, tenantID, customerID)
	if err == nil {
		h.HasPaymentDelays = customer.HasPaymentDelays
		h.HasDefaults = customer.HasDefaults
	} else if !isNotFound(err) {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}

	return h, nil
}

// BuildSalespersonHistory aggregates the salesperson's requests over the
// trailing year, with the rejection streak counted over the last 30 days.
func (s *Service) BuildSalespersonHistory(ctx context.Context, tenantID, salespersonID string) (*domain.SalespersonDiscountHistory, error) {
	if tenantID == "" || salespersonID == "" {
		return nil, fmt.Errorf("%w: tenantID and salespersonID are required", domain.ErrInvalidInput)
	}

	since := s.now().Add(-historyWindow)
	requests, err := s.repo.ListRequestsBySalesperson(ctx, tenantID, salespersonID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list salesperson requests: %w", err)
	}

	recentCutoff := s.now().Add(-rejectionWindow)

	h := &domain.SalespersonDiscountHistory{}
	var requestedSum float64
	var decided int
	for _, req := range requests {
		h.TotalRequests++
		requestedSum += req.RequestedDiscountPct

		switch req.Status {
		case domain.StatusApproved, domain.StatusAutoApproved:
			h.ApprovedCount++
			decided++
		case domain.StatusRejected:
			decided++
			if req.DecidedAt != nil && req.DecidedAt.After(recentCutoff) {
				h.RecentRejections++
			}
		}
	}
	if h.TotalRequests > 0 {
		h.AvgRequestedDiscountPct = requestedSum / float64(h.TotalRequests)
	}
	if decided > 0 {
		h.WinRate = float64(h.ApprovedCount) / float64(decided)
	}

	return h, nil
}

// BuildContext assembles the full evaluation context for one request.
// Missing customers and empty histories are tolerated: the scoring
// primitives have defaults for every absent signal.
func (s *Service) BuildContext(ctx context.Context, req *domain.DiscountRequest) (*domain.EvaluationContext, error) {
	ec := &domain.EvaluationContext{
		TenantID: req.TenantID,
		Request:  req,
	}

	customer, err := s.repo.GetCustomer(ctx, req.TenantID, req.CustomerID)
	if err == nil {
		ec.Customer = customer
	} else if !isNotFound(err) {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}

	if ec.CustomerHistory, err = s.BuildCustomerHistory(ctx, req.TenantID, req.CustomerID); err != nil {
		return nil, err
	}
	if ec.SalespersonHistory, err = s.BuildSalespersonHistory(ctx, req.TenantID, req.SalespersonID); err != nil {
		return nil, err
	}

	return ec, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
