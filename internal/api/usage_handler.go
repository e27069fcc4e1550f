package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tallyworks/gabelle/internal/metrics"
	"github.com/tallyworks/gabelle/internal/ratelimit"
	"github.com/tallyworks/gabelle/internal/tenant"
	"github.com/tallyworks/gabelle/internal/usage"
)

// usageHandler groups event ingest, report and event listing handlers.
type usageHandler struct {
	collector *usage.Collector
	reporter  *usage.Reporter
	events    usage.EventLister
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
}

func newUsageHandler(collector *usage.Collector, reporter *usage.Reporter, events usage.EventLister, limiter *ratelimit.Limiter, m *metrics.Metrics) *usageHandler {
	return &usageHandler{
		collector: collector,
		reporter:  reporter,
		events:    events,
		limiter:   limiter,
		metrics:   m,
	}
}

// parseTimeParam parses a date query param in YYYY-MM-DD or RFC3339 format.
func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// TrackEvent handles POST /api/v1/usage/track. Accepted events are buffered
// and flushed asynchronously, so success is 202 rather than 201.
func (h *usageHandler) TrackEvent(w http.ResponseWriter, r *http.Request) {
	var ev usage.Event
	if err := readJSON(r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidBody, "invalid JSON body: "+err.Error())
		return
	}
	if ev.TenantID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidEvent, "tenant_id is required")
		return
	}

	if h.limiter != nil && !h.limiter.Allow(ev.TenantID) {
		limit, remaining, resetAt := h.limiter.Status(ev.TenantID)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		if h.metrics != nil {
			h.metrics.IncIngestRejection()
		}
		writeError(w, http.StatusTooManyRequests, codeRateLimited, "ingest rate limit exceeded")
		return
	}

	if err := h.collector.Track(r.Context(), ev); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidEvent, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// GetUsageReport handles GET /api/v1/usage/report. The window defaults to
// the current billing period when from/to are omitted.
func (h *usageHandler) GetUsageReport(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidParams, "tenant_id is required")
		return
	}

	from, err := parseTimeParam(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, "invalid from parameter: "+err.Error())
		return
	}
	to, err := parseTimeParam(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, "invalid to parameter: "+err.Error())
		return
	}

	period := usage.CurrentPeriod()
	if from.IsZero() {
		from = period.Start
	}
	if to.IsZero() {
		to = period.NextStart()
	}

	report, err := h.reporter.GetUsageReport(r.Context(), tenantID, from, to)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, fmt.Sprintf("tenant %s not found", tenantID))
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to build usage report")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ListEvents handles GET /api/v1/usage/events with cursor pagination.
func (h *usageHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := usage.EventQuery{
		TenantID:  r.URL.Query().Get("tenant_id"),
		ProductID: r.URL.Query().Get("product_id"),
		EventType: r.URL.Query().Get("event_type"),
		Cursor:    r.URL.Query().Get("cursor"),
	}
	if q.TenantID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidParams, "tenant_id is required")
		return
	}

	from, err := parseTimeParam(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, "invalid from parameter: "+err.Error())
		return
	}
	q.From = from

	to, err := parseTimeParam(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, "invalid to parameter: "+err.Error())
		return
	}
	q.To = to

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, lErr := strconv.Atoi(limitStr)
		if lErr != nil || l < 1 {
			writeError(w, http.StatusBadRequest, codeInvalidParams, "limit must be a positive integer")
			return
		}
		q.Limit = l
	}

	events, next, err := h.events.ListEvents(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to list usage events")
		return
	}

	resp := struct {
		Events     []*usage.Event `json:"events"`
		NextCursor string         `json:"next_cursor,omitempty"`
	}{
		Events:     events,
		NextCursor: next,
	}
	if resp.Events == nil {
		resp.Events = []*usage.Event{}
	}
	writeJSON(w, http.StatusOK, resp)
}
