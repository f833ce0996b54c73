package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bankprofile"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/validator"
)

func newTestValidator(t *testing.T) *validator.Service {
	t.Helper()

	engine, err := rules.NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	set := &rules.RuleSet{
		Name:    "UCP600",
		Version: "1.0.0",
		Rules: []*domain.RuleDefinition{
			{ID: "UCP600-1", Condition: `doc.not_empty("lc_number")`, Severity: domain.SeverityCritical, Message: "LC number is required"},
			{ID: "UCP600-6", Condition: `doc.not_empty("expiry_place")`, Severity: domain.SeverityMajor, Message: "expiry place missing", Field: "expiry_place"},
		},
	}
	if err := engine.Load([]*rules.RuleSet{set}); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	return validator.NewService(engine, domain.ScoringConfig{}, nil, nil)
}

func awaitSummary(t *testing.T, ch <-chan *domain.ValidationSummary) *domain.ValidationSummary {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for validation result")
		return nil
	}
}

func publishRequest(t *testing.T, b domain.EventBus, tenantID string, req RequestMessage) {
	t.Helper()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	if err := b.Publish(context.Background(), tenantID, domain.TopicValidationRequested, payload); err != nil {
		t.Fatalf("failed to publish request: %v", err)
	}
}

func TestWorkerProcessesRequest(t *testing.T) {
	b := bus.NewChannelBus(100)
	defer b.Close()
	ctx := context.Background()

	w := NewWorker(b, nil, newTestValidator(t), nil)
	if err := w.Start(Config{TenantIDs: []string{"tenant-1"}}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	results := make(chan *domain.ValidationSummary, 1)
	sub, err := b.Subscribe(ctx, "tenant-1", domain.TopicValidationCompleted, func(ctx context.Context, msg *domain.Message) error {
		var s domain.ValidationSummary
		if err := json.Unmarshal(msg.Payload, &s); err != nil {
			return err
		}
		results <- &s
		return nil
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	publishRequest(t, b, "tenant-1", RequestMessage{
		RequestID: "req-1",
		ValidationRequest: domain.ValidationRequest{
			Document: domain.Document{
				"lc_number":    "LC-2024-001",
				"expiry_place": "Dhaka, Bangladesh",
			},
			Tier: domain.TierPro,
		},
	})

	summary := awaitSummary(t, results)
	if summary.Status != domain.StatusCompliant {
		t.Errorf("expected compliant, got %s", summary.Status)
	}
	if summary.TotalRules != 2 {
		t.Errorf("expected 2 rules evaluated, got %d", summary.TotalRules)
	}
}

func TestWorkerPublishesUpsell(t *testing.T) {
	b := bus.NewChannelBus(100)
	defer b.Close()
	ctx := context.Background()

	w := NewWorker(b, nil, newTestValidator(t), nil)
	if err := w.Start(Config{TenantIDs: []string{"tenant-1"}}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	upsells := make(chan *domain.ValidationSummary, 1)
	sub, _ := b.Subscribe(ctx, "tenant-1", domain.TopicUpsellTriggered, func(ctx context.Context, msg *domain.Message) error {
		var s domain.ValidationSummary
		json.Unmarshal(msg.Payload, &s)
		upsells <- &s
		return nil
	})
	defer sub.Unsubscribe()

	// Free tier with checks remaining still nudges toward pro.
	remaining := 2
	publishRequest(t, b, "tenant-1", RequestMessage{
		RequestID: "req-2",
		ValidationRequest: domain.ValidationRequest{
			Document:            domain.Document{"lc_number": "LC-1"},
			Tier:                domain.TierFree,
			RemainingFreeChecks: &remaining,
		},
	})

	summary := awaitSummary(t, upsells)
	if !summary.UpsellTriggered {
		t.Error("expected upsell flag on published summary")
	}
	if summary.ChecksRemaining != 1 {
		t.Errorf("expected 1 check remaining, got %d", summary.ChecksRemaining)
	}
}

func TestWorkerAppliesBankOverlay(t *testing.T) {
	b := bus.NewChannelBus(100)
	defer b.Close()
	ctx := context.Background()

	banks := bankprofile.NewRegistry([]*domain.BankProfile{
		{
			Code:             "SONALI",
			Name:             "Sonali Bank Limited",
			Category:         domain.BankStateOwned,
			EnforcementLevel: domain.EnforcementHyperConservative,
			Patterns:         []string{"expiry"},
		},
	})

	w := NewWorker(b, nil, newTestValidator(t), banks)
	if err := w.Start(Config{TenantIDs: []string{"tenant-1"}}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	results := make(chan *domain.ValidationSummary, 1)
	sub, _ := b.Subscribe(ctx, "tenant-1", domain.TopicValidationCompleted, func(ctx context.Context, msg *domain.Message) error {
		var s domain.ValidationSummary
		json.Unmarshal(msg.Payload, &s)
		results <- &s
		return nil
	})
	defer sub.Unsubscribe()

	// Missing expiry_place fails UCP600-6, triggering the overlay.
	publishRequest(t, b, "tenant-1", RequestMessage{
		RequestID: "req-3",
		ValidationRequest: domain.ValidationRequest{
			Document: domain.Document{"lc_number": "LC-1"},
			Tier:     domain.TierPro,
			BankCode: "SONALI",
		},
	})

	summary := awaitSummary(t, results)
	if summary.Bank == nil {
		t.Fatal("expected bank assessment on summary")
	}
	if summary.Bank.Code != "SONALI" {
		t.Errorf("unexpected bank %s", summary.Bank.Code)
	}
	if summary.Bank.AdjustedScore >= summary.Bank.BaseScore {
		t.Errorf("overlay should lower the score: base=%.3f adjusted=%.3f",
			summary.Bank.BaseScore, summary.Bank.AdjustedScore)
	}
}

func TestWorkerIgnoresMalformedPayload(t *testing.T) {
	b := bus.NewChannelBus(100)
	defer b.Close()
	ctx := context.Background()

	w := NewWorker(b, nil, newTestValidator(t), nil)
	if err := w.Start(Config{TenantIDs: []string{"tenant-1"}}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	results := make(chan *domain.ValidationSummary, 1)
	sub, _ := b.Subscribe(ctx, "tenant-1", domain.TopicValidationCompleted, func(ctx context.Context, msg *domain.Message) error {
		var s domain.ValidationSummary
		json.Unmarshal(msg.Payload, &s)
		results <- &s
		return nil
	})
	defer sub.Unsubscribe()

	// Garbage first, then a real request. The worker must survive the
	// garbage and process the real one.
	b.Publish(ctx, "tenant-1", domain.TopicValidationRequested, []byte("{not json"))
	publishRequest(t, b, "tenant-1", RequestMessage{
		RequestID: "req-4",
		ValidationRequest: domain.ValidationRequest{
			Document: domain.Document{"lc_number": "LC-1", "expiry_place": "Dhaka"},
			Tier:     domain.TierPro,
		},
	})

	summary := awaitSummary(t, results)
	if summary.Status != domain.StatusCompliant {
		t.Errorf("expected compliant, got %s", summary.Status)
	}
}

func TestWorkerStopAndStats(t *testing.T) {
	b := bus.NewChannelBus(100)
	defer b.Close()

	w := NewWorker(b, nil, newTestValidator(t), nil)
	if err := w.Start(Config{TenantIDs: []string{"tenant-1", "tenant-2"}}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}

	stats := w.GetStats()
	if stats.SubscriptionCount != 2 {
		t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if w.GetStats().SubscriptionCount != 0 {
		t.Error("subscriptions not cleared after stop")
	}
}
