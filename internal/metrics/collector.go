package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// statsCollector implements prometheus.Collector to read Stats' atomics at
// scrape time rather than duplicating each one as its own registered
// prometheus metric.
type statsCollector struct {
	stats *Stats

	connected         *prometheus.Desc
	dropped           *prometheus.Desc
	fanoutErrors      *prometheus.Desc
	queueSize         *prometheus.Desc
	activeConnections *prometheus.Desc
	timeoutsTotal     *prometheus.Desc
	parseErrorsTotal  *prometheus.Desc
	mongoErrorsTotal  *prometheus.Desc
	batchesFlushed    *prometheus.Desc
}

func newCollector(s *Stats) *statsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &statsCollector{
		stats:             s,
		connected:         desc("connected", "Whether the upstream broker/listener is currently connected."),
		dropped:           desc("dropped_total", "Messages dropped because the ingest queue was full."),
		fanoutErrors:      desc("fanout_errors_total", "Fan-out operations that missed their deadline."),
		queueSize:         desc("queue_size", "Current depth of the bounded ingest queue."),
		activeConnections: desc("active_connections", "Current number of live TCP client connections."),
		timeoutsTotal:     desc("timeouts_total", "TCP read timeouts observed."),
		parseErrorsTotal:  desc("parse_errors_total", "TCP payload decode failures."),
		mongoErrorsTotal:  desc("mongo_errors_total", "Document store write failures."),
		batchesFlushed:    desc("batches_flushed_total", "Batched writer flushes completed."),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connected
	ch <- c.dropped
	ch <- c.fanoutErrors
	ch <- c.queueSize
	ch <- c.activeConnections
	ch <- c.timeoutsTotal
	ch <- c.parseErrorsTotal
	ch <- c.mongoErrorsTotal
	ch <- c.batchesFlushed
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()
	connected := 0.0
	if snap.Connected {
		connected = 1
	}
	ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, connected)
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(snap.Dropped))
	ch <- prometheus.MustNewConstMetric(c.fanoutErrors, prometheus.CounterValue, float64(snap.FanoutErrors))
	ch <- prometheus.MustNewConstMetric(c.queueSize, prometheus.GaugeValue, float64(snap.QueueSize))
	ch <- prometheus.MustNewConstMetric(c.activeConnections, prometheus.GaugeValue, float64(snap.ActiveConnections))
	ch <- prometheus.MustNewConstMetric(c.timeoutsTotal, prometheus.CounterValue, float64(snap.TimeoutsTotal))
	ch <- prometheus.MustNewConstMetric(c.parseErrorsTotal, prometheus.CounterValue, float64(snap.ParseErrorsTotal))
	ch <- prometheus.MustNewConstMetric(c.mongoErrorsTotal, prometheus.CounterValue, float64(snap.MongoErrorsTotal))
	ch <- prometheus.MustNewConstMetric(c.batchesFlushed, prometheus.CounterValue, float64(snap.BatchesFlushed))
}

// DBPoolCollector exposes pgxpool's own stat snapshot as prometheus
// gauges.
type DBPoolCollector struct {
	pool *pgxpool.Pool

	total    *prometheus.Desc
	acquired *prometheus.Desc
	idle     *prometheus.Desc
}

// NewDBPoolCollector wraps pool for scrape-time stat export.
func NewDBPoolCollector(pool *pgxpool.Pool) *DBPoolCollector {
	return &DBPoolCollector{
		pool:     pool,
		total:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "db_pool", "total_conns"), "Total database pool connections.", nil, nil),
		acquired: prometheus.NewDesc(prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"), "Database pool connections currently in use.", nil, nil),
		idle:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "db_pool", "idle_conns"), "Database pool idle connections.", nil, nil),
	}
}

func (c *DBPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.acquired
	ch <- c.idle
}

func (c *DBPoolCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(stat.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(stat.IdleConns()))
}
