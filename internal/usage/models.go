package usage

import (
	"errors"
	"fmt"
	"time"
)

// Metric names tracked by the engine. Each has a matching numeric column on
// the usage_aggregates table; events carrying any other type are logged
// durably but never aggregated.
const (
	MetricMessages = "messages"
	MetricEmails   = "emails"
	MetricLookups  = "lookups"
	MetricAPICalls = "api_calls"
)

// trackedMetrics is the ordered list of aggregate columns.
var trackedMetrics = []string{MetricMessages, MetricEmails, MetricLookups, MetricAPICalls}

// metricSet guards column interpolation in aggregate upserts.
var metricSet = func() map[string]struct{} {
	s := make(map[string]struct{}, len(trackedMetrics))
	for _, m := range trackedMetrics {
		s[m] = struct{}{}
	}
	return s
}()

// TrackedMetrics returns the metric names the aggregation layer understands.
func TrackedMetrics() []string {
	out := make([]string, len(trackedMetrics))
	copy(out, trackedMetrics)
	return out
}

// IsTrackedMetric reports whether the aggregation layer has a column for the
// given metric name.
func IsTrackedMetric(metric string) bool {
	_, ok := metricSet[metric]
	return ok
}

// Event is a single immutable usage fact: one billable action performed by a
// tenant against a product. Quantity defaults to 1 at the Track boundary.
type Event struct {
	ID         string            `json:"id,omitempty"`
	TenantID   string            `json:"tenant_id"`
	ProductID  string            `json:"product_id"`
	EventType  string            `json:"event_type"`
	Quantity   int64             `json:"quantity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Validate checks the caller-supplied fields and normalizes defaults in
// place. It is the only error path a Track caller ever sees.
func (e *Event) Validate() error {
	if e.TenantID == "" {
		return errors.New("tenant_id is required")
	}
	if e.ProductID == "" {
		return errors.New("product_id is required")
	}
	if e.EventType == "" {
		return errors.New("event_type is required")
	}
	if e.Quantity < 0 {
		return fmt.Errorf("quantity must be positive, got %d", e.Quantity)
	}
	if e.Quantity == 0 {
		e.Quantity = 1
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return nil
}

// Aggregate is the durable per-period accumulator: one row per tenant,
// product and billing-period start, with one total per tracked metric.
type Aggregate struct {
	TenantID    string           `json:"tenant_id"`
	ProductID   string           `json:"product_id"`
	PeriodStart time.Time        `json:"period_start"`
	PeriodEnd   time.Time        `json:"period_end"`
	Totals      map[string]int64 `json:"totals"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Total returns the aggregate total for the given metric, zero when the
// metric has no column or no recorded usage.
func (a *Aggregate) Total(metric string) int64 {
	if a == nil || a.Totals == nil {
		return 0
	}
	return a.Totals[metric]
}

// EventQuery defines filters and cursor pagination for listing raw events.
// The time window is half-open: From inclusive, To exclusive.
type EventQuery struct {
	TenantID  string    `json:"tenant_id,omitempty"`
	ProductID string    `json:"product_id,omitempty"`
	EventType string    `json:"event_type,omitempty"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Cursor    string    `json:"cursor,omitempty"`
	Limit     int       `json:"limit"`
}

// QuotaResult is the answer to a single limit check. Remaining is -1 when
// the metric is unbounded for the plan.
type QuotaResult struct {
	Allowed   bool   `json:"allowed"`
	Unbounded bool   `json:"unbounded"`
	Current   int64  `json:"current"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
	Source    string `json:"source"`
}

// Sources reported by QuotaResult.
const (
	QuotaSourceCounter = "counter"
	QuotaSourceDurable = "durable"
	QuotaSourceNone    = "none"
)

// Entitlement is one product/metric limit a plan grants. Bounded is false
// for unlimited metrics, in which case Limit is meaningless.
type Entitlement struct {
	ProductID string `json:"product_id"`
	Metric    string `json:"metric"`
	Limit     int64  `json:"limit"`
	Bounded   bool   `json:"bounded"`
}

// MetricUsage annotates one product metric with its plan limit for
// reporting. PercentUsed is 0 when the limit is unbounded.
type MetricUsage struct {
	ProductID   string  `json:"product_id"`
	Metric      string  `json:"metric"`
	Used        int64   `json:"used"`
	Limit       int64   `json:"limit"`
	Unbounded   bool    `json:"unbounded"`
	PercentUsed float64 `json:"percent_used"`
}

// EventCount is a raw event total grouped by product and event type.
type EventCount struct {
	ProductID string `json:"product_id"`
	EventType string `json:"event_type"`
	Count     int64  `json:"count"`
	Quantity  int64  `json:"quantity"`
}

// Report is the dashboard view of a tenant's usage over a window: raw
// event counts, the stored period aggregates, and the percent-used
// summary against the tenant's plan.
type Report struct {
	TenantID   string        `json:"tenant_id"`
	Plan       string        `json:"plan"`
	From       time.Time     `json:"from"`
	To         time.Time     `json:"to"`
	Events     []EventCount  `json:"events"`
	Aggregates []*Aggregate  `json:"aggregates"`
	Summary    []MetricUsage `json:"summary"`
}
