// Package worker provides async validation processing from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/bankprofile"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/validator"
)

// Worker consumes validation requests from the EventBus, runs them through
// the validation service, persists the summaries and publishes results.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	validator *validator.Service
	banks     *bankprofile.Registry

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global subscription)
	TenantIDs []string
}

// NewWorker creates a new async worker. repo and banks may be nil.
func NewWorker(bus domain.EventBus, repo domain.Repository, svc *validator.Service, banks *bankprofile.Registry) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		validator: svc,
		banks:     banks,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing validation requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

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

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID. In production, subscribe
	// per tenant or use NATS wildcards.
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicValidationRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts a worker for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicValidationRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processRequest(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicValidationRequested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processRequest(ctx, msg.TenantID, msg)
}

// RequestMessage is the bus payload asking for an async validation.
type RequestMessage struct {
	RequestID string `json:"requestId"`
	TenantID  string `json:"tenantId"`
	domain.ValidationRequest
}

// processRequest validates a document from a bus message.
func (w *Worker) processRequest(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var req RequestMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse validation request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if req.TenantID != "" {
		tenantID = req.TenantID
	}

	slog.Debug("processing validation request",
		"request_id", req.RequestID,
		"tenant_id", tenantID,
	)

	summary, err := w.validator.ValidateRequest(ctx, tenantID, &req.ValidationRequest)
	if err != nil {
		slog.Error("validation failed",
			"request_id", req.RequestID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	if req.BankCode != "" && w.banks != nil {
		summary = w.banks.Apply(summary, req.BankCode)
	}

	if w.repo != nil {
		if err := w.repo.SaveValidation(ctx, tenantID, summary); err != nil {
			slog.Error("failed to save validation",
				"summary_id", summary.ID,
				"error", err,
			)
		}
	}

	resultPayload, _ := json.Marshal(summary)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicValidationCompleted, resultPayload); err != nil {
		slog.Error("failed to publish validation result",
			"summary_id", summary.ID,
			"error", err,
		)
	}

	if summary.UpsellTriggered {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicUpsellTriggered, resultPayload); err != nil {
			slog.Error("failed to publish upsell event",
				"summary_id", summary.ID,
				"error", err,
			)
		}
	}

	slog.Info("validation request processed",
		"request_id", req.RequestID,
		"tenant_id", tenantID,
		"status", summary.Status,
		"score", summary.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

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
