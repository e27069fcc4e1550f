package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tallyworks/gabelle/internal/billing"
	"github.com/tallyworks/gabelle/internal/metrics"
	"github.com/tallyworks/gabelle/internal/ratelimit"
	"github.com/tallyworks/gabelle/internal/usage"
)

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Collector   *usage.Collector
	Reporter    *usage.Reporter
	Events      usage.EventLister
	Quota       *usage.QuotaChecker
	Tenants     usage.TenantGetter
	Calculator  *billing.Calculator
	Tables      *billing.Tables
	Limiter     *ratelimit.Limiter
	Metrics     *metrics.Metrics
	CORSOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.CORSOrigins))
	r.Use(requestLogger(deps.Metrics))

	// Handlers.
	usg := newUsageHandler(deps.Collector, deps.Reporter, deps.Events, deps.Limiter, deps.Metrics)
	quota := newQuotaHandler(deps.Quota, deps.Tenants)
	bill := newBillingHandler(deps.Calculator, deps.Tables)

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Metrics: full Prometheus exposition plus the JSON digest.
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
		r.Get("/metrics/summary", deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(ar chi.Router) {
		// Ingest.
		ar.Post("/usage/track", usg.TrackEvent)

		// Queries.
		ar.Get("/usage/report", usg.GetUsageReport)
		ar.Get("/usage/events", usg.ListEvents)
		ar.Get("/quota/check", quota.CheckQuota)
		ar.Get("/billing/{tenantID}", bill.GetBilling)
		ar.Get("/plans", bill.ListPlans)
	})

	return r
}
