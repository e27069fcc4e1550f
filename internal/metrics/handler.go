package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON shape served next to the Prometheus endpoint for
// dashboards that want a digest rather than the full exposition format.
type Summary struct {
	HTTP      httpSummary   `json:"http"`
	Collector collectorInfo `json:"collector"`
	Quota     quotaInfo     `json:"quota"`
	Ingest    ingestInfo    `json:"ingest"`
	DB        dbInfo        `json:"db"`
	Server    serverInfo    `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type collectorInfo struct {
	BufferSize    float64 `json:"bufferSize"`
	TotalFlushes  float64 `json:"totalFlushes"`
	FlushErrors   float64 `json:"flushErrors"`
	EventsTracked float64 `json:"eventsTracked"`
	EventsFlushed float64 `json:"eventsFlushed"`
}

type quotaInfo struct {
	Checks           float64 `json:"checks"`
	Denied           float64 `json:"denied"`
	DurableFallbacks float64 `json:"durableFallbacks"`
	CounterErrors    float64 `json:"counterErrors"`
}

type ingestInfo struct {
	Rejections float64 `json:"rejections"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Handler returns an http.HandlerFunc that serves the JSON summary.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.handleSummary(w)
	}
}

func (m *Metrics) handleSummary(w http.ResponseWriter) {
	families, err := m.registry.Gather()
	if err != nil {
		http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
		return
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	startTime := gaugeValue(fam["gabelle_server_start_time_seconds"])
	summary := Summary{
		HTTP: httpSummary{
			TotalRequests: sumCounter(fam["gabelle_http_requests_total"]),
			ErrorRate:     computeErrorRate(fam["gabelle_http_requests_total"]),
			P50Latency:    histogramPercentile(fam["gabelle_http_request_duration_seconds"], 0.50),
			P95Latency:    histogramPercentile(fam["gabelle_http_request_duration_seconds"], 0.95),
			P99Latency:    histogramPercentile(fam["gabelle_http_request_duration_seconds"], 0.99),
		},
		Collector: collectorInfo{
			BufferSize:    gaugeValue(fam["gabelle_collector_buffer_size"]),
			TotalFlushes:  sumCounter(fam["gabelle_collector_flushes_total"]),
			FlushErrors:   counterWithLabel(fam["gabelle_collector_flushes_total"], "status", "error"),
			EventsTracked: counterValue(fam["gabelle_events_tracked_total"]),
			EventsFlushed: counterValue(fam["gabelle_events_flushed_total"]),
		},
		Quota: quotaInfo{
			Checks:           sumCounter(fam["gabelle_quota_checks_total"]),
			Denied:           counterWithLabel(fam["gabelle_quota_checks_total"], "result", "denied"),
			DurableFallbacks: counterWithLabel(fam["gabelle_quota_checks_total"], "source", "durable"),
			CounterErrors:    counterValue(fam["gabelle_counter_store_errors_total"]),
		},
		Ingest: ingestInfo{
			Rejections: counterValue(fam["gabelle_ingest_rejections_total"]),
		},
		DB: dbInfo{
			TotalConns:    gaugeValue(fam["gabelle_db_pool_total_conns"]),
			IdleConns:     gaugeValue(fam["gabelle_db_pool_idle_conns"]),
			AcquiredConns: gaugeValue(fam["gabelle_db_pool_acquired_conns"]),
		},
		Server: serverInfo{
			StartTime:     startTime,
			UptimeSeconds: float64(time.Now().Unix()) - startTime,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	_ = json.NewEncoder(w).Encode(summary)
}

// --- Prometheus metric helpers ---

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 || ms[0].GetGauge() == nil {
		return 0
	}
	return ms[0].GetGauge().GetValue()
}

func counterValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 || ms[0].GetCounter() == nil {
		return 0
	}
	return ms[0].GetCounter().GetValue()
}

// counterWithLabel sums counter samples whose label matches the value.
func counterWithLabel(f *dto.MetricFamily, label, value string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				total += m.GetCounter().GetValue()
				break
			}
		}
	}
	return total
}

// computeErrorRate returns the fraction of requests with a 5xx status.
func computeErrorRate(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total, errors float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" && len(lp.GetValue()) > 0 && lp.GetValue()[0] == '5' {
				errors += v
				break
			}
		}
	}
	if total == 0 {
		return 0
	}
	return errors / total
}

// histogramPercentile estimates a percentile from merged histogram buckets
// using linear interpolation within the bucket that crosses the rank.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	// Merge buckets across all label combinations.
	merged := make(map[float64]uint64)
	var count uint64
	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		count += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			merged[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}
	if count == 0 {
		return 0
	}

	bounds := make([]float64, 0, len(merged))
	for ub := range merged {
		bounds = append(bounds, ub)
	}
	sort.Float64s(bounds)

	rank := q * float64(count)
	var prevBound float64
	var prevCount uint64
	for _, ub := range bounds {
		c := merged[ub]
		if float64(c) >= rank {
			if math.IsInf(ub, 1) {
				return prevBound
			}
			bucketCount := c - prevCount
			if bucketCount == 0 {
				return ub
			}
			frac := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + (ub-prevBound)*frac
		}
		prevBound = ub
		prevCount = c
	}
	return prevBound
}
