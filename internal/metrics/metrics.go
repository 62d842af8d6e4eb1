// Package metrics carries the service counters: connected, last_message,
// dropped, fanout_errors, queue_size, active_connections, timeouts_total,
// parse_errors_total, mongo_errors_total, batches_flushed. Each is an
// atomic field on Stats, read at scrape time by a custom
// prometheus.Collector (collector.go) registered under the "grid_engine"
// namespace rather than incremented redundantly on every hot-path call.
package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "grid_engine"

// HTTP metrics, incremented by middleware.
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed.",
	}, []string{"method", "path_pattern", "status_code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path_pattern"})

	HTTPResponseSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_response_size_bytes",
		Help:      "HTTP response size in bytes.",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 7), // 100B → 100MB
	}, []string{"method", "path_pattern"})
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal, HTTPRequestDuration, HTTPResponseSize)
}

// InstrumentHandler returns middleware that records HTTP request metrics,
// using chi's route pattern as the path label to avoid cardinality
// explosion.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unknown"
		}
		method := r.Method
		status := strconv.Itoa(sw.status)
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(method, pattern, status).Inc()
		HTTPRequestDuration.WithLabelValues(method, pattern).Observe(duration)
		HTTPResponseSize.WithLabelValues(method, pattern).Observe(float64(sw.written))
	})
}

// statusWriter wraps http.ResponseWriter to capture status code and bytes written.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Stats holds every counter the /health snapshot exposes. It is
// constructed once at startup and shared by every component that
// contributes to it.
type Stats struct {
	connected         atomic.Bool
	lastMessageUnixMs atomic.Int64
	dropped           atomic.Int64
	fanoutErrors      atomic.Int64
	queueSize         atomic.Int64
	activeConnections atomic.Int64
	timeoutsTotal     atomic.Int64
	parseErrorsTotal  atomic.Int64
	mongoErrorsTotal  atomic.Int64
	batchesFlushed    atomic.Int64
}

// NewStats constructs an empty Stats and registers its prometheus
// collector.
func NewStats() *Stats {
	s := &Stats{}
	prometheus.MustRegister(newCollector(s))
	return s
}

func (s *Stats) SetConnected(v bool) { s.connected.Store(v) }
func (s *Stats) Connected() bool     { return s.connected.Load() }

func (s *Stats) TouchLastMessage(t time.Time) {
	s.lastMessageUnixMs.Store(t.UnixMilli())
}

func (s *Stats) IncDropped()           { s.dropped.Add(1) }
func (s *Stats) IncFanoutErrors()      { s.fanoutErrors.Add(1) }
func (s *Stats) SetQueueSize(n int)    { s.queueSize.Store(int64(n)) }
func (s *Stats) IncActiveConnections() { s.activeConnections.Add(1) }
func (s *Stats) DecActiveConnections() { s.activeConnections.Add(-1) }
func (s *Stats) IncTimeouts()          { s.timeoutsTotal.Add(1) }
func (s *Stats) IncParseErrors()       { s.parseErrorsTotal.Add(1) }
func (s *Stats) IncMongoErrors()       { s.mongoErrorsTotal.Add(1) }
func (s *Stats) IncBatchesFlushed()    { s.batchesFlushed.Add(1) }

// Snapshot is the /health JSON body.
type Snapshot struct {
	Connected         bool   `json:"connected"`
	LastMessage       *int64 `json:"last_message,omitempty"`
	Dropped           int64  `json:"dropped"`
	FanoutErrors      int64  `json:"fanout_errors"`
	QueueSize         int64  `json:"queue_size"`
	ActiveConnections int64  `json:"active_connections"`
	TimeoutsTotal     int64  `json:"timeouts_total"`
	ParseErrorsTotal  int64  `json:"parse_errors_total"`
	MongoErrorsTotal  int64  `json:"mongo_errors_total"`
	BatchesFlushed    int64  `json:"batches_flushed"`
}

// Snapshot reads every counter for the /health handler.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Connected:         s.connected.Load(),
		Dropped:           s.dropped.Load(),
		FanoutErrors:      s.fanoutErrors.Load(),
		QueueSize:         s.queueSize.Load(),
		ActiveConnections: s.activeConnections.Load(),
		TimeoutsTotal:     s.timeoutsTotal.Load(),
		ParseErrorsTotal:  s.parseErrorsTotal.Load(),
		MongoErrorsTotal:  s.mongoErrorsTotal.Load(),
		BatchesFlushed:    s.batchesFlushed.Load(),
	}
	if ms := s.lastMessageUnixMs.Load(); ms != 0 {
		snap.LastMessage = &ms
	}
	return snap
}
