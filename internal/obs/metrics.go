package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Gateway metrics
var (
	consistentReadAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consistent_read_attempts_total",
			Help: "Warehouse query issuances made by the consistent reader.",
		},
		[]string{"query"},
	)

	consistentReadOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consistent_read_outcomes_total",
			Help: "Final outcome of consistent reads (found, not_found, error, canceled).",
		},
		[]string{"query", "outcome"},
	)

	offerSubqueryMissing = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offer_subquery_missing_total",
			Help: "Settlement offer sub-results replaced by an empty sequence.",
		},
		[]string{"part"},
	)

	videoCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_cache_total",
			Help: "Video listing cache lookups by result (hit, miss, upstream_error).",
		},
		[]string{"result"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness check passed.",
	})
)

var initOnce sync.Once

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			consistentReadAttempts, consistentReadOutcomes, offerSubqueryMissing,
			videoCacheTotal, readyGauge,
		)
	})
}

// Handler serves the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

var knownPaths = map[string]struct{}{
	"/get_contact":             {},
	"/get_payment_plan":        {},
	"/get_payment_plan_prev":   {},
	"/get_debts":               {},
	"/get_settlement_offer":    {},
	"/accept_settlement_offer": {},
	"/reject_settlement_offer": {},
	"/get_videos":              {},
	"/healthz":                 {},
	"/readyz":                  {},
	"/metrics":                 {},
	"/v1/info":                 {},
}

// CanonicalPath bounds label cardinality: unknown paths collapse to "other".
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	if p == "/" {
		return p
	}
	if _, ok := knownPaths[p]; ok {
		return p
	}
	return "other"
}

// ObserveReadAttempt counts one warehouse query issuance.
func ObserveReadAttempt(query string) {
	consistentReadAttempts.WithLabelValues(query).Inc()
}

// ObserveReadOutcome counts the final result of a consistent read.
func ObserveReadOutcome(query, outcome string) {
	consistentReadOutcomes.WithLabelValues(query, outcome).Inc()
}

// ObserveOfferMissing counts a sub-result replaced by an empty sequence.
func ObserveOfferMissing(part string) {
	offerSubqueryMissing.WithLabelValues(part).Inc()
}

// ObserveVideoCache counts a video listing lookup.
func ObserveVideoCache(result string) {
	videoCacheTotal.WithLabelValues(result).Inc()
}

// SetReady mirrors the readiness probe into a gauge.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
