// Package metrics exposes Prometheus metrics for extraction runs.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jackzampolin/tabextract/internal/extract"
)

// Namespace prefixes every metric name.
const Namespace = "tabextract"

// Metrics holds the run metrics. It implements extract.Observer and
// batch.RowObserver.
type Metrics struct {
	registry *prometheus.Registry

	RowsTotal        *prometheus.CounterVec
	AttemptsTotal    *prometheus.CounterVec
	AttemptDuration  *prometheus.HistogramVec
	TokensTotal      *prometheus.CounterVec
	RowAttempts      prometheus.Histogram
	LastRowTimestamp prometheus.Gauge
}

// New registers the metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RowsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "rows_total",
				Help:      "Rows that reached a terminal state, by status and failure reason",
			},
			[]string{"status", "reason"},
		),
		AttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "attempts_total",
				Help:      "Model calls, by outcome (ok or the failure reason)",
			},
			[]string{"provider", "model", "outcome"},
		),
		AttemptDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Latency of a single model call",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
			[]string{"provider", "model"},
		),
		TokensTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "tokens_total",
				Help:      "Tokens reported by the model server",
			},
			[]string{"direction"},
		),
		RowAttempts: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "row_attempts",
				Help:      "Attempts used per terminal row",
				Buckets:   prometheus.LinearBuckets(1, 1, 10),
			},
		),
		LastRowTimestamp: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "last_row_timestamp_seconds",
				Help:      "Unix time the last row finished",
			},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveAttempt records one model call.
func (m *Metrics) ObserveAttempt(e extract.AttemptEvent) {
	outcome := "ok"
	if e.Reason != "" {
		outcome = string(e.Reason)
	}
	m.AttemptsTotal.WithLabelValues(e.Provider, e.Model, outcome).Inc()
	m.AttemptDuration.WithLabelValues(e.Provider, e.Model).Observe(e.Latency.Seconds())
	if e.PromptTokens > 0 {
		m.TokensTotal.WithLabelValues("prompt").Add(float64(e.PromptTokens))
	}
	if e.CompletionTokens > 0 {
		m.TokensTotal.WithLabelValues("completion").Add(float64(e.CompletionTokens))
	}
}

// ObserveRow records a row reaching a terminal state.
func (m *Metrics) ObserveRow(_ int, res extract.Result) {
	m.RowsTotal.WithLabelValues(string(res.Status), string(res.Reason)).Inc()
	m.RowAttempts.Observe(float64(res.Attempts))
	m.LastRowTimestamp.SetToCurrentTime()
}

// Handler returns the HTTP handler serving /metrics and /health.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve runs the metrics server on address until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, address string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              address,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
