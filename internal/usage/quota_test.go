package usage

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeLimits is a static LimitSource for tests.
type fakeLimits map[string]int64

func (f fakeLimits) Limit(plan, productID, metric string) (int64, bool) {
	limit, ok := f[plan+"/"+productID+"/"+metric]
	return limit, ok
}

// fakeDurable returns a fixed total or error.
type fakeDurable struct {
	total int64
	err   error
	calls int
}

func (f *fakeDurable) MetricTotal(ctx context.Context, tenantID, productID, metric string, periodStart time.Time) (int64, error) {
	f.calls++
	return f.total, f.err
}

func newTestChecker(counters CounterStore, durable DurableTotals, limits LimitSource) *QuotaChecker {
	q := NewQuotaChecker(counters, durable, limits)
	q.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return q
}

func TestCheckLimitUnbounded(t *testing.T) {
	q := newTestChecker(newMockCounters(), &fakeDurable{}, fakeLimits{})

	res := q.CheckLimit(context.Background(), "acme", "chatbot", "messages", "scale")
	if !res.Allowed {
		t.Error("unbounded metric should always be allowed")
	}
	if !res.Unbounded {
		t.Error("expected Unbounded true")
	}
	if res.Remaining != -1 {
		t.Errorf("Remaining = %d, want -1", res.Remaining)
	}
	if res.Source != QuotaSourceNone {
		t.Errorf("Source = %q, want %q", res.Source, QuotaSourceNone)
	}
}

func TestCheckLimitFromCounter(t *testing.T) {
	mc := newMockCounters()
	mc.totals["usage:acme:chatbot:messages:2025-06-15"] = 400
	limits := fakeLimits{"starter/chatbot/messages": 1000}
	q := newTestChecker(mc, &fakeDurable{}, limits)

	res := q.CheckLimit(context.Background(), "acme", "chatbot", "messages", "starter")
	if !res.Allowed {
		t.Error("usage under limit should be allowed")
	}
	if res.Current != 400 {
		t.Errorf("Current = %d, want 400", res.Current)
	}
	if res.Remaining != 600 {
		t.Errorf("Remaining = %d, want 600", res.Remaining)
	}
	if res.Source != QuotaSourceCounter {
		t.Errorf("Source = %q, want %q", res.Source, QuotaSourceCounter)
	}
}

func TestCheckLimitAtLimitDenied(t *testing.T) {
	mc := newMockCounters()
	mc.totals["usage:acme:chatbot:messages:2025-06-15"] = 1000
	limits := fakeLimits{"starter/chatbot/messages": 1000}
	q := newTestChecker(mc, &fakeDurable{}, limits)

	res := q.CheckLimit(context.Background(), "acme", "chatbot", "messages", "starter")
	if res.Allowed {
		t.Error("usage at limit should be denied")
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", res.Remaining)
	}
}

func TestCheckLimitOverLimitClamped(t *testing.T) {
	mc := newMockCounters()
	mc.totals["usage:acme:chatbot:messages:2025-06-15"] = 1200
	limits := fakeLimits{"starter/chatbot/messages": 1000}
	q := newTestChecker(mc, &fakeDurable{}, limits)

	res := q.CheckLimit(context.Background(), "acme", "chatbot", "messages", "starter")
	if res.Allowed {
		t.Error("overshoot should be denied")
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0 (never negative)", res.Remaining)
	}
	if res.Current != 1200 {
		t.Errorf("Current = %d, want 1200", res.Current)
	}
}

func TestCheckLimitDurableFallback(t *testing.T) {
	mc := newMockCounters()
	mc.err = errors.New("redis down")
	durable := &fakeDurable{total: 900}
	limits := fakeLimits{"starter/chatbot/messages": 1000}
	q := newTestChecker(mc, durable, limits)

	res := q.CheckLimit(context.Background(), "acme", "chatbot", "messages", "starter")
	if !res.Allowed {
		t.Error("usage under limit should be allowed via fallback")
	}
	if res.Current != 900 {
		t.Errorf("Current = %d, want 900", res.Current)
	}
	if res.Source != QuotaSourceDurable {
		t.Errorf("Source = %q, want %q", res.Source, QuotaSourceDurable)
	}
	if durable.calls != 1 {
		t.Errorf("durable store called %d times, want 1", durable.calls)
	}
}

func TestCheckLimitBothStoresDown(t *testing.T) {
	mc := newMockCounters()
	mc.err = errors.New("redis down")
	durable := &fakeDurable{err: errors.New("database down")}
	limits := fakeLimits{"starter/chatbot/messages": 1000}
	q := newTestChecker(mc, durable, limits)

	// Quota checks are advisory; total outage reads as zero usage rather
	// than blocking the tenant.
	res := q.CheckLimit(context.Background(), "acme", "chatbot", "messages", "starter")
	if !res.Allowed {
		t.Error("total outage should fail open")
	}
	if res.Current != 0 {
		t.Errorf("Current = %d, want 0", res.Current)
	}
	if res.Source != QuotaSourceNone {
		t.Errorf("Source = %q, want %q", res.Source, QuotaSourceNone)
	}
}

func TestCheckLimitNilCounters(t *testing.T) {
	durable := &fakeDurable{total: 100}
	limits := fakeLimits{"starter/chatbot/messages": 1000}
	q := newTestChecker(nil, durable, limits)

	res := q.CheckLimit(context.Background(), "acme", "chatbot", "messages", "starter")
	if res.Source != QuotaSourceDurable {
		t.Errorf("Source = %q, want %q with nil counter store", res.Source, QuotaSourceDurable)
	}
	if res.Current != 100 {
		t.Errorf("Current = %d, want 100", res.Current)
	}
}
