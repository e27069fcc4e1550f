package usage

import (
	"context"
	"log/slog"
	"time"
)

// LimitSource answers "what does this plan include for this metric".
// Implemented by the billing tables.
type LimitSource interface {
	Limit(plan, productID, metric string) (int64, bool)
}

// DurableTotals is the slow-but-authoritative read path behind the
// counter store, implemented by Store.MetricTotal.
type DurableTotals interface {
	MetricTotal(ctx context.Context, tenantID, productID, metric string, periodStart time.Time) (int64, error)
}

// QuotaMetrics receives instrumentation callbacks from the checker. A nil
// implementation is valid.
type QuotaMetrics interface {
	QuotaCheck(allowed bool, source string)
}

// QuotaChecker answers advisory limit checks. The fast path reads the
// day-scoped counter key; when the counter store is unavailable it falls
// back to the period aggregate in the database. Results can be stale by up
// to one flush interval, so checks gate future actions rather than
// reserving capacity; a small overshoot past the limit is expected under
// load.
type QuotaChecker struct {
	counters CounterStore
	durable  DurableTotals
	limits   LimitSource
	metrics  QuotaMetrics
	now      func() time.Time // injectable clock for testing
}

// NewQuotaChecker creates a checker over the given stores and plan tables.
func NewQuotaChecker(counters CounterStore, durable DurableTotals, limits LimitSource) *QuotaChecker {
	return &QuotaChecker{
		counters: counters,
		durable:  durable,
		limits:   limits,
		now:      time.Now,
	}
}

// WithMetrics attaches instrumentation callbacks and returns the checker.
func (q *QuotaChecker) WithMetrics(m QuotaMetrics) *QuotaChecker {
	q.metrics = m
	return q
}

// CheckLimit reports whether the tenant may perform one more metered
// action for the given product metric under the given plan. It never
// mutates state. An unbounded or unconfigured metric is always allowed.
func (q *QuotaChecker) CheckLimit(ctx context.Context, tenantID, productID, metric, plan string) QuotaResult {
	limit, bounded := q.limits.Limit(plan, productID, metric)
	if !bounded {
		res := QuotaResult{
			Allowed:   true,
			Unbounded: true,
			Remaining: -1,
			Source:    QuotaSourceNone,
		}
		q.observe(res)
		return res
	}

	now := q.now().UTC()
	current, source := q.currentTotal(ctx, tenantID, productID, metric, now)

	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	res := QuotaResult{
		Allowed:   remaining > 0,
		Current:   current,
		Limit:     limit,
		Remaining: remaining,
		Source:    source,
	}
	q.observe(res)
	return res
}

// currentTotal reads the daily counter key, degrading to the durable
// period aggregate when the counter store errors. The fallback is silent
// beyond a warning; quota checks must never fail a request path.
func (q *QuotaChecker) currentTotal(ctx context.Context, tenantID, productID, metric string, now time.Time) (int64, string) {
	if q.counters != nil {
		total, err := q.counters.Get(ctx, dailyCounterKey(tenantID, productID, metric, now))
		if err == nil {
			return total, QuotaSourceCounter
		}
		slog.Warn("counter store read failed, using durable fallback",
			"tenant_id", tenantID,
			"product_id", productID,
			"metric", metric,
			"error", err,
		)
	}

	total, err := q.durable.MetricTotal(ctx, tenantID, productID, metric, PeriodFor(now).Start)
	if err != nil {
		slog.Warn("durable quota fallback failed, treating usage as zero",
			"tenant_id", tenantID,
			"product_id", productID,
			"metric", metric,
			"error", err,
		)
		return 0, QuotaSourceNone
	}
	return total, QuotaSourceDurable
}

func (q *QuotaChecker) observe(res QuotaResult) {
	if q.metrics != nil {
		q.metrics.QuotaCheck(res.Allowed, res.Source)
	}
}
