package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatgate",
		Name:      "http_in_flight_requests",
		Help:      "In-flight HTTP requests.",
	})

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatgate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// Authorizations counts API key checks by reason code ("ok" on success).
	Authorizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "api_key_authorizations_total",
			Help:      "API key authorization outcomes.",
		},
		[]string{"result"},
	)

	// PolicyDecisions counts chat enforcement outcomes by code ("allowed" on success).
	PolicyDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "policy_decisions_total",
			Help:      "Chat policy enforcement outcomes.",
		},
		[]string{"code"},
	)

	// StoreFallbacks counts store failures replaced by a safe default.
	StoreFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "store_fallbacks_total",
			Help:      "Store reads that failed and fell back to a default.",
		},
		[]string{"component"},
	)

	UsageEventsIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatgate",
		Name:      "usage_events_ingested_total",
		Help:      "Usage events appended.",
	})

	UsageEventsPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chatgate",
		Name:      "usage_events_pruned_total",
		Help:      "Usage events removed by retention.",
	})
)

var registerOnce sync.Once

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight,
			httpRequestDuration,
			Authorizations,
			PolicyDecisions,
			StoreFallbacks,
			UsageEventsIngested,
			UsageEventsPruned,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records latency under a fixed route label so path parameters
// do not explode label cardinality.
func Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		httpRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(sw.code)).
			Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
