// Package observability — metrics.go
//
// Prometheus metrics for the anomaly detection daemon.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: anomalyd_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process, carried over from the teacher's
// dedicated-registry convention.
//
// Cardinality control:
//   - Severity and detector-name labels are closed, small enumerations.
//   - Actor and repository ids are NEVER used as labels (unbounded
//     cardinality); per-actor/per-repo figures are aggregated before
//     recording, same discipline the teacher applies to PIDs.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for the daemon. It
// implements poller.Metrics and streamprocessor.Metrics so both
// subsystems can report through the same registry without those
// packages importing this one.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Poller ───────────────────────────────────────────────────────────

	PollFetchedTotal         prometheus.Counter
	PollDroppedTotal         *prometheus.CounterVec
	PollCircuitOpenTotal     prometheus.Counter
	PollQuotaRemaining       prometheus.Gauge

	// ─── EventQueue ───────────────────────────────────────────────────────

	QueueDepth prometheus.Gauge

	// ─── StreamProcessor ──────────────────────────────────────────────────

	BatchSizeHistogram    prometheus.Histogram
	BatchLatencyHistogram prometheus.Histogram
	DetectorTimeoutsTotal *prometheus.CounterVec
	AnomalyScoreHistogram prometheus.Histogram
	AnomaliesBySeverity   *prometheus.CounterVec

	// ─── ProfileStore ─────────────────────────────────────────────────────

	ProfileCacheHitsTotal   prometheus.Counter
	ProfileCacheMissesTotal prometheus.Counter

	// ─── Pub/Sub ──────────────────────────────────────────────────────────

	PublishDroppedTotal prometheus.Counter

	// ─── Storage ──────────────────────────────────────────────────────────

	StorageWriteLatency prometheus.Histogram

	// ─── Agent ────────────────────────────────────────────────────────────

	AgentUptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all Prometheus metrics for the daemon.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		PollFetchedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anomalyd",
			Subsystem: "poller",
			Name:      "events_fetched_total",
			Help:      "Total events fetched from the upstream activity feed.",
		}),

		PollDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anomalyd",
			Subsystem: "poller",
			Name:      "events_dropped_total",
			Help:      "Total events dropped by the poller, by priority.",
		}, []string{"priority"}),

		PollCircuitOpenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anomalyd",
			Subsystem: "poller",
			Name:      "circuit_open_total",
			Help:      "Total times the poller's circuit breaker tripped open.",
		}),

		PollQuotaRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "anomalyd",
			Subsystem: "poller",
			Name:      "quota_remaining",
			Help:      "Upstream rate-limit quota remaining as of the last poll response.",
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "anomalyd",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current depth of the durable event queue.",
		}),

		BatchSizeHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "anomalyd",
			Subsystem: "streamprocessor",
			Name:      "batch_size",
			Help:      "Distribution of processed batch sizes.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100},
		}),

		BatchLatencyHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "anomalyd",
			Subsystem: "streamprocessor",
			Name:      "batch_latency_seconds",
			Help:      "Wall-clock time to drain and process one batch.",
			Buckets:   prometheus.DefBuckets,
		}),

		DetectorTimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anomalyd",
			Subsystem: "streamprocessor",
			Name:      "detector_timeouts_total",
			Help:      "Total per-detector timeouts, by detector name.",
		}, []string{"detector"}),

		AnomalyScoreHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "anomalyd",
			Subsystem: "fuser",
			Name:      "final_score",
			Help:      "Distribution of fused final anomaly scores.",
			Buckets:   []float64{0.05, 0.15, 0.25, 0.35, 0.5, 0.65, 0.8, 0.85, 0.95, 1.0},
		}),

		AnomaliesBySeverity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anomalyd",
			Subsystem: "fuser",
			Name:      "anomalies_total",
			Help:      "Total reported anomalies, by severity level.",
		}, []string{"severity"}),

		ProfileCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anomalyd",
			Subsystem: "profilestore",
			Name:      "cache_hits_total",
			Help:      "Total profile lookups served from the in-memory LRU cache.",
		}),

		ProfileCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anomalyd",
			Subsystem: "profilestore",
			Name:      "cache_misses_total",
			Help:      "Total profile lookups that fell through to bbolt.",
		}),

		PublishDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "anomalyd",
			Subsystem: "pubsub",
			Name:      "dropped_total",
			Help:      "Total messages dropped because a subscriber's buffer was full.",
		}),

		StorageWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "anomalyd",
			Subsystem: "storage",
			Name:      "write_latency_seconds",
			Help:      "bbolt write transaction latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		AgentUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "anomalyd",
			Subsystem: "agent",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the daemon started.",
		}),
	}

	reg.MustRegister(
		m.PollFetchedTotal,
		m.PollDroppedTotal,
		m.PollCircuitOpenTotal,
		m.PollQuotaRemaining,
		m.QueueDepth,
		m.BatchSizeHistogram,
		m.BatchLatencyHistogram,
		m.DetectorTimeoutsTotal,
		m.AnomalyScoreHistogram,
		m.AnomaliesBySeverity,
		m.ProfileCacheHitsTotal,
		m.ProfileCacheMissesTotal,
		m.PublishDroppedTotal,
		m.StorageWriteLatency,
		m.AgentUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ─── poller.Metrics ───────────────────────────────────────────────────────

func (m *Metrics) ObservePollFetched(n int) {
	m.PollFetchedTotal.Add(float64(n))
}

func (m *Metrics) ObservePollDropped(priority string, n int) {
	m.PollDroppedTotal.WithLabelValues(priority).Add(float64(n))
}

func (m *Metrics) ObservePollCircuitOpen() {
	m.PollCircuitOpenTotal.Inc()
}

func (m *Metrics) ObservePollQuotaRemaining(n int) {
	m.PollQuotaRemaining.Set(float64(n))
}

// ─── streamprocessor.Metrics ──────────────────────────────────────────────

func (m *Metrics) ObserveBatch(size int, wallTime time.Duration) {
	m.BatchSizeHistogram.Observe(float64(size))
	m.BatchLatencyHistogram.Observe(wallTime.Seconds())
}

func (m *Metrics) ObserveDetectorTimeout(detector string) {
	m.DetectorTimeoutsTotal.WithLabelValues(detector).Inc()
}

func (m *Metrics) ObserveAnomalyScore(score float64) {
	m.AnomalyScoreHistogram.Observe(score)
}

func (m *Metrics) ObserveQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) ObservePublishDropped(n uint64) {
	m.PublishDroppedTotal.Add(float64(n))
}

// ObserveSeverity records one reported anomaly at the given severity.
func (m *Metrics) ObserveSeverity(severity string) {
	m.AnomaliesBySeverity.WithLabelValues(severity).Inc()
}

// ObserveProfileCache records a profile-store cache hit or miss.
func (m *Metrics) ObserveProfileCache(hit bool) {
	if hit {
		m.ProfileCacheHitsTotal.Inc()
	} else {
		m.ProfileCacheMissesTotal.Inc()
	}
}

// ObserveStorageWrite records the latency of one bbolt write transaction.
func (m *Metrics) ObserveStorageWrite(d time.Duration) {
	m.StorageWriteLatency.Observe(d.Seconds())
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given
// address. Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.AgentUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
