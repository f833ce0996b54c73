package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUBasicOperations(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "tenant-1", "key1", []byte("value1"), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	data, err := c.Get(ctx, "tenant-1", "key1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(data) != "value1" {
		t.Errorf("expected value1, got %s", data)
	}

	// Missing key returns nil, nil
	data, err = c.Get(ctx, "tenant-1", "missing")
	if err != nil || data != nil {
		t.Errorf("expected nil for missing key, got %s / %v", data, err)
	}

	if err := c.Delete(ctx, "tenant-1", "key1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	data, _ = c.Get(ctx, "tenant-1", "key1")
	if data != nil {
		t.Error("deleted key still present")
	}
}

func TestLRUTenantIsolation(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "tenant-1", "key", []byte("one"), time.Minute)
	c.Set(ctx, "tenant-2", "key", []byte("two"), time.Minute)

	data, _ := c.Get(ctx, "tenant-1", "key")
	if string(data) != "one" {
		t.Errorf("tenant-1 got %s", data)
	}
	data, _ = c.Get(ctx, "tenant-2", "key")
	if string(data) != "two" {
		t.Errorf("tenant-2 got %s", data)
	}

	if _, err := c.Get(ctx, "", "key"); err == nil {
		t.Error("expected error for empty tenant")
	}
}

func TestLRUTTLExpiry(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "tenant-1", "shortlived", []byte("x"), 20*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	data, err := c.Get(ctx, "tenant-1", "shortlived")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if data != nil {
		t.Error("expired entry still readable")
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRUCache(3)
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("key%d", i)
		c.Set(ctx, "tenant-1", key, []byte(key), time.Minute)
	}

	size, capacity := c.Stats()
	if size != 3 || capacity != 3 {
		t.Errorf("expected size 3/3, got %d/%d", size, capacity)
	}

	// Oldest entries evicted
	if data, _ := c.Get(ctx, "tenant-1", "key0"); data != nil {
		t.Error("key0 should have been evicted")
	}
	if data, _ := c.Get(ctx, "tenant-1", "key4"); data == nil {
		t.Error("key4 should still be present")
	}
}

func TestLRUCounters(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrementCounter(ctx, "tenant-1", "quota:free_checks", time.Minute)
		if err != nil {
			t.Fatalf("increment failed: %v", err)
		}
		if got != want {
			t.Errorf("expected count %d, got %d", want, got)
		}
	}

	// Peek without consuming
	got, err := c.GetCounter(ctx, "tenant-1", "quota:free_checks")
	if err != nil {
		t.Fatalf("get counter failed: %v", err)
	}
	if got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
	if got, _ := c.GetCounter(ctx, "tenant-1", "quota:free_checks"); got != 3 {
		t.Errorf("peek must not consume, got %d", got)
	}

	// Other tenants have their own counters
	if got, _ := c.GetCounter(ctx, "tenant-2", "quota:free_checks"); got != 0 {
		t.Errorf("expected 0 for other tenant, got %d", got)
	}
}

func TestLRUCounterWindowExpiry(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	c.IncrementCounter(ctx, "tenant-1", "k", 20*time.Millisecond)
	c.IncrementCounter(ctx, "tenant-1", "k", 20*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	if got, _ := c.GetCounter(ctx, "tenant-1", "k"); got != 0 {
		t.Errorf("expired window should read 0, got %d", got)
	}

	// Next increment starts a fresh window
	got, _ := c.IncrementCounter(ctx, "tenant-1", "k", time.Minute)
	if got != 1 {
		t.Errorf("expected fresh window to start at 1, got %d", got)
	}
}

func TestSummaryRoundTrip(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	summary := &domain.ValidationSummary{
		ID:          "sum-1",
		TenantID:    "tenant-1",
		Status:      domain.StatusIssuesFound,
		Score:       0.75,
		TotalRules:  4,
		FailedRules: 1,
		Results: []domain.ValidationResult{
			{RuleID: "UCP600-6", Status: domain.StatusRuleFail, Severity: domain.SeverityMajor},
		},
		RuleVersions: map[string]string{"UCP600-1": "1.2.0"},
		TierUsed:     domain.TierPro,
	}

	if err := c.SetSummary(ctx, "tenant-1", summary.ID, summary, time.Minute); err != nil {
		t.Fatalf("set summary failed: %v", err)
	}

	got, err := c.GetSummary(ctx, "tenant-1", "sum-1")
	if err != nil {
		t.Fatalf("get summary failed: %v", err)
	}
	if got == nil {
		t.Fatal("summary not found")
	}
	if got.Score != 0.75 || got.Status != domain.StatusIssuesFound {
		t.Errorf("summary mangled: %+v", got)
	}
	if len(got.Results) != 1 || got.Results[0].RuleID != "UCP600-6" {
		t.Errorf("results mangled: %+v", got.Results)
	}

	// Missing summary returns nil, nil
	got, err = c.GetSummary(ctx, "tenant-1", "nope")
	if err != nil || got != nil {
		t.Errorf("expected nil for missing summary, got %+v / %v", got, err)
	}
}

func TestNewFactory(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	defer c.Close()

	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("ping failed: %v", err)
	}

	if _, err := New(domain.CacheConfig{Type: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown cache type")
	}
}
