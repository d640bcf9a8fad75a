package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "report_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "report_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "report_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	fetchInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "report_layer",
			Subsystem: "fetch",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight upstream fetches.",
		},
	)

	fetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "report_layer",
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "Total number of upstream fetches by terminal outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "report_layer",
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Duration of upstream fetches including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"endpoint"},
	)

	fetchRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "report_layer",
			Subsystem: "fetch",
			Name:      "retries_total",
			Help:      "Total number of retry attempts issued by the gateway.",
		},
	)

	batchRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "report_layer",
			Subsystem: "batch",
			Name:      "runs_total",
			Help:      "Total number of batch runs by endpoint and result.",
		},
		[]string{"endpoint", "result"},
	)

	batchEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "report_layer",
			Subsystem: "batch",
			Name:      "entries_total",
			Help:      "Total number of batch entries by success flag.",
		},
		[]string{"ok"},
	)

	discoveryRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "report_layer",
			Subsystem: "discovery",
			Name:      "runs_total",
			Help:      "Total number of store discovery attempts per account.",
		},
		[]string{"account", "success"},
	)

	discoveredStores = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "report_layer",
			Subsystem: "discovery",
			Name:      "stores",
			Help:      "Number of stores currently known per account.",
		},
		[]string{"account"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		fetchInFlight,
		fetchTotal,
		fetchDuration,
		fetchRetries,
		batchRuns,
		batchEntries,
		discoveryRuns,
		discoveredStores,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// FetchStarted marks one upstream fetch as in flight and returns a done
// function recording its terminal outcome. outcome is "ok" or the error
// kind string.
func FetchStarted(endpoint string) func(outcome string, retries int, duration time.Duration) {
	fetchInFlight.Inc()
	return func(outcome string, retries int, duration time.Duration) {
		fetchInFlight.Dec()
		if duration <= 0 {
			duration = time.Millisecond
		}
		fetchTotal.WithLabelValues(endpoint, outcome).Inc()
		fetchDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
		if retries > 0 {
			fetchRetries.Add(float64(retries))
		}
	}
}

// RecordBatch records one finished batch run.
func RecordBatch(endpoint string, cancelled bool, succeeded, failed int) {
	result := "completed"
	if cancelled {
		result = "cancelled"
	}
	batchRuns.WithLabelValues(endpoint, result).Inc()
	if succeeded > 0 {
		batchEntries.WithLabelValues("true").Add(float64(succeeded))
	}
	if failed > 0 {
		batchEntries.WithLabelValues("false").Add(float64(failed))
	}
}

// RecordDiscovery records one discovery attempt for an account.
func RecordDiscovery(account string, stores int, success bool) {
	flag := "false"
	if success {
		flag = "true"
	}
	discoveryRuns.WithLabelValues(account, flag).Inc()
	if success {
		discoveredStores.WithLabelValues(account).Set(float64(stores))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack passes websocket upgrades through to the underlying connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "v1" {
		return "/" + parts[0]
	}
	if len(parts) < 3 {
		return "/" + strings.Join(parts, "/")
	}
	switch parts[1] {
	case "batches":
		if parts[2] == "current" {
			return "/v1/batches/current"
		}
		return "/v1/batches/:id"
	case "extensions":
		if len(parts) > 3 {
			return "/v1/extensions/:id/" + parts[3]
		}
		return "/v1/extensions/:id"
	}
	return "/" + strings.Join(parts[:2], "/")
}
