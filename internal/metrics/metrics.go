// Package metrics defines the Prometheus instruments of the verifier and the
// detection-engine stand-in.
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
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verify",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "verify",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"method", "route"},
	)

	// Transport to the engine under test
	transportLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "verify",
			Subsystem: "tms",
			Name:      "request_duration_seconds",
			Help:      "Latency of evaluation and confirmation requests",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"message_type", "outcome"},
	)

	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verify",
			Subsystem: "tms",
			Name:      "submissions_total",
			Help:      "Messages submitted to the engine by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// Simulation metrics
	simulationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verify",
			Subsystem: "simulation",
			Name:      "runs_total",
			Help:      "Fraud simulations by rule and final status",
		},
		[]string{"rule_id", "final_status"},
	)

	simulationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "verify",
			Subsystem: "simulation",
			Name:      "duration_seconds",
			Help:      "Wall time of a complete fraud simulation",
			Buckets:   prometheus.LinearBuckets(0.5, 0.5, 20),
		},
	)

	alertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verify",
			Subsystem: "extract",
			Name:      "alerts_total",
			Help:      "Alerts extracted from engine output by rule",
		},
		[]string{"rule_id"},
	)

	// Detection-engine stand-in
	verdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verify",
			Subsystem: "mock",
			Name:      "verdicts_total",
			Help:      "Evaluation endpoint verdicts by outcome",
		},
		[]string{"message_type", "outcome"},
	)

	ruleFindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verify",
			Subsystem: "mock",
			Name:      "rule_findings_total",
			Help:      "Rule processor findings by rule and result",
		},
		[]string{"rule_id", "triggered"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records one served request. route is the matched pattern.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, statusCodeClass(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTransport records one request to the engine. A zero status means
// the request never got a response.
func RecordTransport(messageType string, status int, duration time.Duration) {
	outcome := "error"
	if status != 0 {
		outcome = statusCodeClass(status)
	}
	transportLatency.WithLabelValues(messageType, outcome).Observe(duration.Seconds())
}

// RecordSubmission counts a pacs.008 or pacs.002 submission.
func RecordSubmission(kind string, success bool) {
	submissionsTotal.WithLabelValues(kind, outcome(success)).Inc()
}

// RecordSimulation records a finished fraud simulation.
func RecordSimulation(ruleID, finalStatus string, duration time.Duration) {
	simulationsTotal.WithLabelValues(ruleID, finalStatus).Inc()
	simulationDuration.Observe(duration.Seconds())
}

// RecordAlert counts one extracted alert.
func RecordAlert(ruleID string) {
	if ruleID == "" {
		ruleID = "unclassified"
	}
	alertsTotal.WithLabelValues(ruleID).Inc()
}

// RecordVerdict counts one evaluation endpoint answer.
func RecordVerdict(messageType, outcome string) {
	verdictsTotal.WithLabelValues(messageType, outcome).Inc()
}

// RecordFinding counts one rule processor finding.
func RecordFinding(ruleID string, triggered bool) {
	ruleFindingsTotal.WithLabelValues(ruleID, strconv.FormatBool(triggered)).Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func statusCodeClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
