package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tallyworks/gabelle/internal/billing"
	"github.com/tallyworks/gabelle/internal/tenant"
)

// billingHandler serves derived billing reports and the plan tables.
type billingHandler struct {
	calc   *billing.Calculator
	tables *billing.Tables
}

func newBillingHandler(calc *billing.Calculator, tables *billing.Tables) *billingHandler {
	return &billingHandler{calc: calc, tables: tables}
}

type planTablesResponse struct {
	Currency string                        `json:"currency"`
	Plans    map[string]billing.PlanConfig `json:"plans"`
	Rates    map[string]map[string]int64   `json:"overage_rates"`
}

// GetBilling handles GET /api/v1/billing/{tenantID}: the current-period
// billing report.
func (h *billingHandler) GetBilling(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	report, err := h.calc.CalculateBilling(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, fmt.Sprintf("tenant %s not found", tenantID))
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to calculate billing")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ListPlans handles GET /api/v1/plans: the static limit and rate tables,
// for pricing pages and admin UIs.
func (h *billingHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, planTablesResponse{
		Currency: h.tables.Currency,
		Plans:    h.tables.Plans,
		Rates:    h.tables.Rates,
	})
}
