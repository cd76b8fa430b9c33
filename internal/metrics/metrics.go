// Package metrics exposes the engine's Prometheus instrumentation: ingestion
// drop/reconnect counts, out-of-order rejections, engine throughput,
// throttle suppressions, and journal write latency.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds every Prometheus collector the engine registers.
type Metrics struct {
	TicksIngested      *prometheus.CounterVec
	TicksDropped       *prometheus.CounterVec
	OutOfOrderRejected *prometheus.CounterVec
	UpstreamReconnects *prometheus.CounterVec
	UpstreamConnected  *prometheus.GaugeVec

	RulesEvaluated   *prometheus.CounterVec
	TriggersFired    *prometheus.CounterVec
	ThrottleSuppressed *prometheus.CounterVec
	TickProcessingLatency prometheus.Histogram

	JournalWrites  *prometheus.CounterVec
	JournalLatency prometheus.Histogram

	logger *zap.Logger
	server *http.Server
}

// New builds and registers every collector against the default registry.
func New(logger *zap.Logger) *Metrics {
	m := &Metrics{
		logger: logger.Named("metrics"),

		TicksIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_ticks_ingested_total",
			Help: "Ticks delivered by IngestionSource per exchange connector.",
		}, []string{"connector"}),

		TicksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_ticks_dropped_total",
			Help: "Ticks superseded in the per-symbol coalescing buffer before consumption.",
		}, []string{"connector"}),

		OutOfOrderRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_ticks_out_of_order_total",
			Help: "Ticks rejected by PriceCache for being older than a bucket's open time.",
		}, []string{"symbol"}),

		UpstreamReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_upstream_reconnects_total",
			Help: "IngestionSource reconnect attempts.",
		}, []string{"connector"}),

		UpstreamConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alertengine_upstream_connected",
			Help: "1 if the upstream connector's circuit breaker is closed, 0 otherwise.",
		}, []string{"connector"}),

		RulesEvaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_rules_evaluated_total",
			Help: "Rules whose predicate set was fully evaluated for a tick.",
		}, []string{"symbol"}),

		TriggersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_triggers_fired_total",
			Help: "TriggerEvents admitted by ThrottleGate and published to TriggerBus.",
		}, []string{"symbol"}),

		ThrottleSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_throttle_suppressed_total",
			Help: "Rule firings suppressed by ThrottleGate's per-bucket cap.",
		}, []string{"rule_id"}),

		TickProcessingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertengine_tick_processing_seconds",
			Help:    "End-to-end latency of EvaluationEngine.ProcessTick.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),

		JournalWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_journal_writes_total",
			Help: "Journal.Append calls by outcome.",
		}, []string{"outcome"}),

		JournalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertengine_journal_write_seconds",
			Help:    "Journal.Append latency, excluding the batched fsync.",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
	}

	prometheus.MustRegister(
		m.TicksIngested, m.TicksDropped, m.OutOfOrderRejected,
		m.UpstreamReconnects, m.UpstreamConnected,
		m.RulesEvaluated, m.TriggersFired, m.ThrottleSuppressed, m.TickProcessingLatency,
		m.JournalWrites, m.JournalLatency,
	)
	return m
}

// Serve starts the /metrics and /healthz HTTP server on addr.
func (m *Metrics) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	m.server = &http.Server{Addr: addr, Handler: mux}
	m.logger.Info("metrics server listening", zap.String("addr", addr))

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
}

// Shutdown gracefully stops the metrics server.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.server.Shutdown(ctx)
}
