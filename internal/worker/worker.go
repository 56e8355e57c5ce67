// Package worker provides async request evaluation for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/marginops/dealguard/internal/domain"
	"github.com/marginops/dealguard/internal/workflow"
)

// Worker consumes created discount requests from the EventBus and runs the
// evaluation pipeline asynchronously. The synchronous evaluate endpoint
// stays available; requests already decided by the time a message arrives
// are skipped.
type Worker struct {
	bus      domain.EventBus
	workflow *workflow.Service

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process.
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, wf *workflow.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		workflow: wf,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing created requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startTenantWorker subscribes a tenant to the request.created topic.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicRequestCreated, func(ctx context.Context, msg *domain.Message) error {
		return w.processRequest(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicRequestCreated,
	)

	return nil
}

// RequestMessage is the payload published on request.created. Only the
// identifiers matter to the worker; the pipeline reloads the request from
// storage to avoid acting on a stale snapshot.
type RequestMessage struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
}

// processRequest runs the evaluation pipeline for one created request.
func (w *Worker) processRequest(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var reqMsg RequestMessage
	if err := json.Unmarshal(msg.Payload, &reqMsg); err != nil {
		slog.Error("failed to parse request message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if reqMsg.TenantID != "" {
		tenantID = reqMsg.TenantID
	}

	slog.Debug("processing request",
		"request_id", reqMsg.ID,
		"tenant_id", tenantID,
	)

	eval, err := w.workflow.EvaluateRequest(ctx, tenantID, reqMsg.ID)
	if err != nil {
		// Someone (or the synchronous endpoint) got there first.
		if errors.Is(err, domain.ErrInvalidTransition) {
			slog.Debug("request already decided, skipping",
				"request_id", reqMsg.ID,
				"tenant_id", tenantID,
			)
			return nil
		}
		slog.Error("async evaluation failed",
			"request_id", reqMsg.ID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	slog.Info("request processed",
		"request_id", reqMsg.ID,
		"tenant_id", tenantID,
		"auto_approved", eval.CanAutoApprove,
		"risk_score", eval.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
