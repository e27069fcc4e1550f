package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tallyworks/gabelle/internal/tenant"
	"github.com/tallyworks/gabelle/internal/usage"
)

// quotaHandler serves advisory limit checks.
type quotaHandler struct {
	checker *usage.QuotaChecker
	tenants usage.TenantGetter
}

func newQuotaHandler(checker *usage.QuotaChecker, tenants usage.TenantGetter) *quotaHandler {
	return &quotaHandler{checker: checker, tenants: tenants}
}

// CheckQuota handles GET /api/v1/quota/check. The plan may be passed
// explicitly by trusted callers; otherwise it is resolved from the tenant
// record.
func (h *quotaHandler) CheckQuota(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	tenantID := params.Get("tenant_id")
	productID := params.Get("product_id")
	metric := params.Get("metric")
	if tenantID == "" || productID == "" || metric == "" {
		writeError(w, http.StatusBadRequest, codeInvalidParams, "tenant_id, product_id and metric are required")
		return
	}

	plan := params.Get("plan")
	if plan == "" {
		ten, err := h.tenants.Get(r.Context(), tenantID)
		if err != nil {
			if errors.Is(err, tenant.ErrNotFound) {
				writeError(w, http.StatusNotFound, codeNotFound, fmt.Sprintf("tenant %s not found", tenantID))
				return
			}
			writeError(w, http.StatusInternalServerError, codeInternal, "failed to resolve tenant")
			return
		}
		plan = ten.Plan
	}

	result := h.checker.CheckLimit(r.Context(), tenantID, productID, metric, plan)
	writeJSON(w, http.StatusOK, result)
}
