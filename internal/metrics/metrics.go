package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studium_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studium_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	AIGenerations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studium_ai_generations_total",
			Help: "Answer generations by provider and result",
		},
		[]string{"provider", "result"}, // "ok", "error", "open"
	)

	AIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studium_ai_generation_duration_seconds",
			Help:    "Answer generation latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider"},
	)

	AIBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "studium_ai_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
		},
		[]string{"provider"},
	)

	SourceExtractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studium_source_extractions_total",
			Help: "Source text extractions by file type and result",
		},
		[]string{"file_type", "result"},
	)

	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "studium_source_upload_bytes",
			Help:    "Size of uploaded source documents",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	MailDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studium_mail_deliveries_total",
			Help: "Outgoing mail by transport and result",
		},
		[]string{"transport", "result"},
	)

	SecurityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studium_security_events_total",
			Help: "Audited security events by event and outcome",
		},
		[]string{"event", "outcome"},
	)
)

// RecordHTTPRequest records one finished HTTP request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordGeneration records one generator call.
func RecordGeneration(provider, result string, duration time.Duration) {
	AIGenerations.WithLabelValues(provider, result).Inc()
	AIDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordExtraction(fileType string, err error) {
	SourceExtractions.WithLabelValues(fileType, resultLabel(err)).Inc()
}

func RecordMail(transport string, err error) {
	MailDeliveries.WithLabelValues(transport, resultLabel(err)).Inc()
}

func RecordSecurityEvent(event, outcome string) {
	SecurityEvents.WithLabelValues(event, outcome).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
