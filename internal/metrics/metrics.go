// Package metrics holds the prometheus collectors for validation runs and ingest.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"x12ack/internal/domain"
)

const namespace = "x12ack"

// Ingest outcome labels.
const (
	OutcomeProcessed = "processed"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

var (
	validationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Completed validation runs by acknowledgment status",
		},
		[]string{"ack_status"},
	)

	diagnosticsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_total",
			Help:      "Diagnostics emitted by kind",
		},
		[]string{"kind"},
	)

	ingestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_total",
			Help:      "Messages received by ingest adapters",
		},
		[]string{"source", "outcome"},
	)

	validationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_duration_seconds",
			Help:      "Time spent processing one comparison job",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)
)

// ObserveResult records one finished run.
func ObserveResult(result domain.ValidationResult, took time.Duration) {
	validationsTotal.WithLabelValues(string(result.AckStatus)).Inc()
	for _, d := range result.AllErrors {
		diagnosticsTotal.WithLabelValues(diagnosticLabel(d.Kind)).Inc()
	}
	validationDuration.Observe(took.Seconds())
}

// element mismatches share one label so the series count stays bounded.
func diagnosticLabel(k domain.Kind) string {
	if k.IsElementMismatch() {
		return "ELEMENT_MISMATCH"
	}
	return string(k)
}

func IncIngest(source, outcome string) {
	ingestMessagesTotal.WithLabelValues(source, outcome).Inc()
}

func Handler() http.Handler { return promhttp.Handler() }

// Serve exposes /metrics on addr in the background.
func Serve(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint stopped", zap.Error(err))
		}
	}()
	return server
}
