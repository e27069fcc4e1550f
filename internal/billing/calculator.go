package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tallyworks/gabelle/internal/tenant"
	"github.com/tallyworks/gabelle/internal/usage"
)

// OverageLine is one breakdown entry: a metric billed past its included
// limit. Metrics at or under their limit never appear here.
type OverageLine struct {
	ProductID string          `json:"product_id"`
	Metric    string          `json:"metric"`
	Included  int64           `json:"included"`
	Used      int64           `json:"used"`
	Overage   int64           `json:"overage"`
	Rate      decimal.Decimal `json:"rate"`
	Charge    decimal.Decimal `json:"charge"`
}

// Report is the billing view of one tenant for one period: base price plus
// linear overage charges. It is derived on demand and never persisted.
type Report struct {
	TenantID       string          `json:"tenant_id"`
	Plan           string          `json:"plan"`
	Period         usage.Period    `json:"period"`
	Currency       string          `json:"currency"`
	BasePrice      decimal.Decimal `json:"base_price"`
	OverageCharges decimal.Decimal `json:"overage_charges"`
	Total          decimal.Decimal `json:"total"`
	Breakdown      []OverageLine   `json:"breakdown"`
}

// TenantGetter resolves a tenant's plan tier and enabled products.
type TenantGetter interface {
	Get(ctx context.Context, id string) (*tenant.Tenant, error)
}

// AggregateLister reads the durable per-period usage totals. The counter
// store is never consulted for billing; only the relational aggregates are
// authoritative.
type AggregateLister interface {
	ListAggregates(ctx context.Context, tenantID string, periodStart time.Time) ([]*usage.Aggregate, error)
}

// Calculator derives billing reports from the plan tables and the usage
// aggregates. It is stateless and safe for concurrent use.
type Calculator struct {
	tables     *Tables
	tenants    TenantGetter
	aggregates AggregateLister
	now        func() time.Time // injectable clock for testing
}

// NewCalculator creates a Calculator over the given tables and stores.
func NewCalculator(tables *Tables, tenants TenantGetter, aggregates AggregateLister) *Calculator {
	return &Calculator{
		tables:     tables,
		tenants:    tenants,
		aggregates: aggregates,
		now:        time.Now,
	}
}

// minor renders an amount of minor currency units as a two-place decimal.
func minor(units int64) decimal.Decimal {
	return decimal.New(units, -2)
}

// CalculateBilling produces the current-period billing report for a
// tenant: base plan price plus one linear overage charge per metric over
// its included limit. Configuration gaps (unknown plan tier, missing rate
// entry) degrade to zero amounts with a warning rather than failing.
func (c *Calculator) CalculateBilling(ctx context.Context, tenantID string) (*Report, error) {
	ten, err := c.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolving tenant %s: %w", tenantID, err)
	}

	period := usage.PeriodFor(c.now())
	aggs, err := c.aggregates.ListAggregates(ctx, tenantID, period.Start)
	if err != nil {
		return nil, fmt.Errorf("loading usage aggregates: %w", err)
	}
	byProduct := make(map[string]*usage.Aggregate, len(aggs))
	for _, agg := range aggs {
		byProduct[agg.ProductID] = agg
	}

	report := &Report{
		TenantID: tenantID,
		Plan:     ten.Plan,
		Period:   period,
		Currency: c.tables.Currency,
	}

	basePrice, ok := c.tables.BasePrice(ten.Plan)
	if !ok {
		slog.Warn("unknown plan tier, billing with zero base price",
			"tenant_id", tenantID, "plan", ten.Plan)
	}
	report.BasePrice = minor(basePrice)

	planCfg := c.tables.Plans[ten.Plan]
	var overageTotal int64
	for _, productID := range ten.Products {
		metrics, ok := planCfg.Products[productID]
		if !ok {
			continue
		}
		for metric, limit := range metrics {
			if limit == Unlimited {
				continue
			}
			used := byProduct[productID].Total(metric)
			if used <= limit {
				continue
			}
			excess := used - limit

			rate, ok := c.tables.Rate(productID, metric)
			if !ok {
				slog.Warn("no overage rate configured, charging nothing",
					"product_id", productID, "metric", metric)
			}
			charge := excess * rate
			overageTotal += charge

			report.Breakdown = append(report.Breakdown, OverageLine{
				ProductID: productID,
				Metric:    metric,
				Included:  limit,
				Used:      used,
				Overage:   excess,
				Rate:      minor(rate),
				Charge:    minor(charge),
			})
		}
	}

	sort.Slice(report.Breakdown, func(i, j int) bool {
		a, b := report.Breakdown[i], report.Breakdown[j]
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		return a.Metric < b.Metric
	})

	report.OverageCharges = minor(overageTotal)
	report.Total = minor(basePrice + overageTotal)
	return report, nil
}
