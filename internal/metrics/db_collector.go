package metrics

import "github.com/prometheus/client_golang/prometheus"

// PoolStats is a point-in-time snapshot of the database connection pool.
type PoolStats struct {
	Total    int32
	Idle     int32
	Acquired int32
}

// PoolStatsFunc samples the pool. Keeping it a function avoids coupling
// this package to pgxpool.
type PoolStatsFunc func() PoolStats

// dbPoolCollector exposes pool stats as gauges on every scrape.
type dbPoolCollector struct {
	sample PoolStatsFunc

	totalDesc    *prometheus.Desc
	idleDesc     *prometheus.Desc
	acquiredDesc *prometheus.Desc
}

// NewDBPoolCollector creates a prometheus.Collector over the sampler.
func NewDBPoolCollector(sample PoolStatsFunc) prometheus.Collector {
	return &dbPoolCollector{
		sample: sample,
		totalDesc: prometheus.NewDesc(
			"gabelle_db_pool_total_conns",
			"Total number of connections in the DB pool.",
			nil, nil,
		),
		idleDesc: prometheus.NewDesc(
			"gabelle_db_pool_idle_conns",
			"Number of idle connections in the DB pool.",
			nil, nil,
		),
		acquiredDesc: prometheus.NewDesc(
			"gabelle_db_pool_acquired_conns",
			"Number of acquired connections in the DB pool.",
			nil, nil,
		),
	}
}

func (c *dbPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalDesc
	ch <- c.idleDesc
	ch <- c.acquiredDesc
}

func (c *dbPoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.sample()
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(s.Total))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(s.Idle))
	ch <- prometheus.MustNewConstMetric(c.acquiredDesc, prometheus.GaugeValue, float64(s.Acquired))
}
