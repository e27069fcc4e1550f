package usage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tallyworks/gabelle/internal/tenant"
)

// EntitlementSource enumerates the product/metric limits a plan grants.
// Implemented by the billing tables.
type EntitlementSource interface {
	Entitlements(plan string) []Entitlement
}

// TenantGetter resolves tenant records for report annotation.
type TenantGetter interface {
	Get(ctx context.Context, id string) (*tenant.Tenant, error)
}

// ReportStore is the read surface the Reporter needs, implemented by Store.
type ReportStore interface {
	EventCounts(ctx context.Context, tenantID string, from, to time.Time) ([]EventCount, error)
	ListAggregates(ctx context.Context, tenantID string, periodStart time.Time) ([]*Aggregate, error)
}

// EventLister pages through the raw event log, implemented by Store.
type EventLister interface {
	ListEvents(ctx context.Context, q EventQuery) ([]*Event, string, error)
}

// Reporter assembles the dashboard usage view: raw event counts over a
// window, the stored period aggregates, and a percent-used summary against
// the tenant's plan.
type Reporter struct {
	store        ReportStore
	tenants      TenantGetter
	entitlements EntitlementSource
	now          func() time.Time // injectable clock for testing
}

// NewReporter creates a Reporter over the given store and plan tables.
func NewReporter(store ReportStore, tenants TenantGetter, entitlements EntitlementSource) *Reporter {
	return &Reporter{
		store:        store,
		tenants:      tenants,
		entitlements: entitlements,
		now:          time.Now,
	}
}

// GetUsageReport returns the tenant's usage between from and to. The
// summary section always reflects the current billing period regardless of
// the query window, since that is what plan limits apply to.
func (r *Reporter) GetUsageReport(ctx context.Context, tenantID string, from, to time.Time) (*Report, error) {
	ten, err := r.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolving tenant %s: %w", tenantID, err)
	}

	counts, err := r.store.EventCounts(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("counting usage events: %w", err)
	}

	period := PeriodFor(r.now())
	aggs, err := r.store.ListAggregates(ctx, tenantID, period.Start)
	if err != nil {
		return nil, fmt.Errorf("loading usage aggregates: %w", err)
	}

	report := &Report{
		TenantID:   tenantID,
		Plan:       ten.Plan,
		From:       from,
		To:         to,
		Events:     counts,
		Aggregates: aggs,
		Summary:    buildSummary(ten, aggs, r.entitlements.Entitlements(ten.Plan)),
	}
	return report, nil
}

// buildSummary annotates each entitled metric with the tenant's period
// usage and percent-used. Percent-used is reported as 0 for unbounded
// metrics since the ratio is undefined.
func buildSummary(ten *tenant.Tenant, aggs []*Aggregate, ents []Entitlement) []MetricUsage {
	enabled := make(map[string]struct{}, len(ten.Products))
	for _, p := range ten.Products {
		enabled[p] = struct{}{}
	}
	byProduct := make(map[string]*Aggregate, len(aggs))
	for _, agg := range aggs {
		byProduct[agg.ProductID] = agg
	}

	var summary []MetricUsage
	for _, ent := range ents {
		if _, ok := enabled[ent.ProductID]; !ok {
			continue
		}
		used := byProduct[ent.ProductID].Total(ent.Metric)
		mu := MetricUsage{
			ProductID: ent.ProductID,
			Metric:    ent.Metric,
			Used:      used,
		}
		if ent.Bounded {
			mu.Limit = ent.Limit
			if ent.Limit > 0 {
				mu.PercentUsed = float64(used) / float64(ent.Limit) * 100
			}
		} else {
			mu.Limit = -1
			mu.Unbounded = true
		}
		summary = append(summary, mu)
	}

	sort.Slice(summary, func(i, j int) bool {
		a, b := summary[i], summary[j]
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		return a.Metric < b.Metric
	})
	return summary
}
