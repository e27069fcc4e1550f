// Package billing holds the static plan configuration (included limits,
// overage rates, base prices) and derives billing reports from the usage
// aggregates. All monetary amounts are carried as int64 minor currency
// units internally; only report surfaces render decimals.
package billing

import (
	"github.com/tallyworks/gabelle/internal/usage"
)

// Unlimited marks a metric with no included ceiling. It is distinct from a
// limit of zero, which means nothing is included and all usage is overage.
const Unlimited int64 = -1

// PlanConfig describes one plan tier: its base price in minor units and
// the included limit per product and metric.
type PlanConfig struct {
	BasePrice int64                       `yaml:"base_price"`
	Products  map[string]map[string]int64 `yaml:"products"`
}

// Tables is the static configuration the engine is started with: plan
// tiers, per-metric overage rates (minor units per unit of excess usage)
// and the report currency. Read-only at runtime.
type Tables struct {
	Currency string                      `yaml:"currency"`
	Plans    map[string]PlanConfig       `yaml:"plans"`
	Rates    map[string]map[string]int64 `yaml:"overage_rates"`
}

// Limit returns the included limit for a plan/product/metric and whether
// it is bounded. An absent plan, product or metric entry and an explicit
// Unlimited value all mean unbounded.
func (t *Tables) Limit(plan, productID, metric string) (int64, bool) {
	p, ok := t.Plans[plan]
	if !ok {
		return 0, false
	}
	metrics, ok := p.Products[productID]
	if !ok {
		return 0, false
	}
	limit, ok := metrics[metric]
	if !ok || limit == Unlimited {
		return 0, false
	}
	return limit, true
}

// Rate returns the overage rate in minor units for a product/metric pair.
// A missing entry reads as no charge.
func (t *Tables) Rate(productID, metric string) (int64, bool) {
	metrics, ok := t.Rates[productID]
	if !ok {
		return 0, false
	}
	rate, ok := metrics[metric]
	return rate, ok
}

// BasePrice returns the plan's base price in minor units. An unknown plan
// reads as zero; billing must never fail a request path over a
// configuration gap.
func (t *Tables) BasePrice(plan string) (int64, bool) {
	p, ok := t.Plans[plan]
	if !ok {
		return 0, false
	}
	return p.BasePrice, true
}

// Entitlements returns every product/metric pair the plan defines a limit
// for, used by the usage report to annotate percent-used.
func (t *Tables) Entitlements(plan string) []usage.Entitlement {
	p, ok := t.Plans[plan]
	if !ok {
		return nil
	}
	var ents []usage.Entitlement
	for productID, metrics := range p.Products {
		for metric, limit := range metrics {
			e := usage.Entitlement{ProductID: productID, Metric: metric}
			if limit != Unlimited {
				e.Limit = limit
				e.Bounded = true
			}
			ents = append(ents, e)
		}
	}
	return ents
}

// Defaults returns the built-in plan and rate tables used when the config
// file does not override them.
func Defaults() Tables {
	return Tables{
		Currency: "GBP",
		Plans: map[string]PlanConfig{
			"starter": {
				BasePrice: 1900,
				Products: map[string]map[string]int64{
					"chatbot": {usage.MetricMessages: 1000},
					"mailer":  {usage.MetricEmails: 500},
					"lookup":  {usage.MetricLookups: 250},
				},
			},
			"growth": {
				BasePrice: 4900,
				Products: map[string]map[string]int64{
					"chatbot": {usage.MetricMessages: 10000},
					"mailer":  {usage.MetricEmails: 5000},
					"lookup":  {usage.MetricLookups: 2500},
					"api":     {usage.MetricAPICalls: 50000},
				},
			},
			"scale": {
				BasePrice: 9900,
				Products: map[string]map[string]int64{
					"chatbot": {usage.MetricMessages: Unlimited},
					"mailer":  {usage.MetricEmails: 25000},
					"lookup":  {usage.MetricLookups: Unlimited},
					"api":     {usage.MetricAPICalls: Unlimited},
				},
			},
		},
		Rates: map[string]map[string]int64{
			"chatbot": {usage.MetricMessages: 1},
			"mailer":  {usage.MetricEmails: 2},
			"lookup":  {usage.MetricLookups: 5},
			"api":     {usage.MetricAPICalls: 1},
		},
	}
}
