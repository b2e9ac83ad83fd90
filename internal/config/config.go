// Package config provides configuration loading, validation, and hot-reload
// for the anomalyd pipeline daemon.
//
// Configuration file: /etc/anomalyd/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - Daemon listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml.
//   - Apply non-destructive changes only (thresholds, weights, sampling
//     rate, batch sizing, log level).
//   - Destructive changes (queue backing store path, pub/sub bind address)
//     require restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The daemon does NOT crash on invalid hot-reload
//     config.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g., alpha ∈ [0,1], weights ≥ 0).
//   - File paths must be absolute.
//   - Invalid config on startup: daemon refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the Makefile via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for anomalyd.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// NodeID identifies this anomalyd instance in logs and correlation IDs.
	// Default: hostname.
	NodeID string `yaml:"node_id"`

	// Poller configures upstream polling.
	Poller PollerConfig `yaml:"poller"`

	// StreamProcessor configures batching and pipeline deadlines.
	StreamProcessor StreamProcessorConfig `yaml:"stream_processor"`

	// Behavioral configures the behavioral detector's baseline model.
	Behavioral BehavioralConfig `yaml:"behavioral"`

	// Temporal configures the temporal detector's burst/coordination rules.
	Temporal TemporalConfig `yaml:"temporal"`

	// Fuser configures score fusion and the reporting gate.
	Fuser FuserConfig `yaml:"fuser"`

	// Contextual configures the repository-criticality cache (spec §4.6, §4.8).
	Contextual ContextualConfig `yaml:"contextual"`

	// Dedup configures the poller's seen-event-id set.
	Dedup DedupConfig `yaml:"dedup"`

	// Storage configures the bbolt-backed ProfileStore, EventQueue, and sink.
	Storage StorageConfig `yaml:"storage"`

	// PubSub configures the in-process broker.
	PubSub PubSubConfig `yaml:"pubsub"`

	// Enrichment configures the pluggable summarizer stage.
	Enrichment EnrichmentConfig `yaml:"enrichment"`

	// Observability configures metrics and logging.
	Observability ObservabilityConfig `yaml:"observability"`
}

// PollerConfig holds upstream-polling parameters (spec §4.1).
type PollerConfig struct {
	// UpstreamBaseURL is the base URL of the public events API.
	UpstreamBaseURL string `yaml:"upstream_base_url"`

	// PollInterval is the tick interval between page fetches when quota
	// allows. Default: 1s.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PageSize is the maximum number of items requested per page.
	// Default: 100.
	PageSize int `yaml:"page_size"`

	// ActivePollers is the number of cooperating poller instances sharing
	// the upstream quota, used to compute each worker's token-bucket
	// share (§4.1 step 3). Default: 1.
	ActivePollers int `yaml:"active_pollers"`

	// PrioritySampleLow is the sampling fraction applied to low-priority
	// event types. Default: 0.20.
	PrioritySampleLow float64 `yaml:"priority_sample_low"`

	// CircuitBreakerThreshold is the number of consecutive failures
	// before the breaker trips. Default: 10.
	CircuitBreakerThreshold int `yaml:"circuit_breaker_threshold"`

	// CircuitBreakerCooldown is how long the breaker stays open before a
	// single probe request is attempted. Default: 30s.
	CircuitBreakerCooldown time.Duration `yaml:"circuit_breaker_cooldown"`

	// MaxBackoff caps exponential backoff on 5xx responses. Default: 60s.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// EnqueueWaitTimeout is the maximum time the poller blocks attempting
	// to enqueue before applying priority-based drop policy (§5). Default: 5s.
	EnqueueWaitTimeout time.Duration `yaml:"enqueue_wait_timeout"`
}

// StreamProcessorConfig holds batching and deadline parameters (spec §4.2, §5).
type StreamProcessorConfig struct {
	// BatchMax is the maximum batch size. Default: 50.
	BatchMax int `yaml:"batch_max"`

	// BatchMaxWait is the maximum accumulation latency. Default: 500ms.
	BatchMaxWait time.Duration `yaml:"batch_max_wait_ms"`

	// Lanes is the number of actor-sharded serialization lanes. Default: 64.
	Lanes int `yaml:"lanes"`

	// DetectorTimeout bounds each detector invocation. Default: 2s.
	DetectorTimeout time.Duration `yaml:"detector_timeout_ms"`

	// EventTimeout bounds end-to-end processing of a single event. Default: 5s.
	EventTimeout time.Duration `yaml:"event_timeout_ms"`

	// BatchTimeout bounds end-to-end processing of a batch. Default: 30s.
	BatchTimeout time.Duration `yaml:"batch_timeout_ms"`

	// PrefilterWarmN is the minimum sample count an actor's profile must
	// have before the cheap pre-filter heuristic applies (§4.2 step 1).
	// Default: 50.
	PrefilterWarmN int `yaml:"prefilter_warm_n"`

	// PrefilterShare is the minimum observed share of an event type in an
	// actor's profile before it is considered routine. Default: 0.20.
	PrefilterShare float64 `yaml:"prefilter_share"`
}

// BehavioralConfig holds the behavioral detector's EWMA and threshold
// parameters (spec §4.3).
type BehavioralConfig struct {
	// EWMAAlpha is the baseline learning rate α. Default: 0.05.
	EWMAAlpha float64 `yaml:"ewma_alpha"`

	// WarmN is the sample count at which per-dimension z-score tests
	// activate. Default: 10.
	WarmN int `yaml:"warm_n"`

	// MVNN is the sample count at which the multivariate Mahalanobis test
	// activates. Default: 30.
	MVNN int `yaml:"mvn_n"`

	// VarianceFloor is ε, the minimum variance per dimension. Default: 1e-6.
	VarianceFloor float64 `yaml:"variance_floor"`

	// ZScoreThreshold is the per-dimension anomaly threshold. Default: 3.0.
	ZScoreThreshold float64 `yaml:"z_score_threshold"`

	// MahalanobisAlpha is the chi-square significance level at df=10
	// used for the multivariate test. Default: 0.01.
	MahalanobisAlpha float64 `yaml:"mahalanobis_alpha"`

	// CustomScorerName selects a contrib.AnomalyScorer registered under
	// this name to replace the built-in warm-path scorer. Empty (the
	// default) keeps the built-in z-score/Mahalanobis scorer.
	CustomScorerName string `yaml:"custom_scorer"`
}

// TemporalConfig holds the temporal detector's burst/coordination rule
// parameters (spec §4.4).
type TemporalConfig struct {
	// BurstWindowMin is the sliding window for the burst rule. Default: 5.
	BurstWindowMin int `yaml:"burst_window_min"`

	// BurstMinCount is the minimum event count within the window. Default: 5.
	BurstMinCount int `yaml:"burst_min_count"`

	// BurstMinRate is the minimum events/minute rate. Default: 2.0.
	BurstMinRate float64 `yaml:"burst_min_rate"`

	// CoordWindowMin is the sliding window for the coordination rule. Default: 10.
	CoordWindowMin int `yaml:"coord_window_min"`

	// CoordMinActors is the minimum distinct-actor count. Default: 3.
	CoordMinActors int `yaml:"coord_min_actors"`

	// CoordMinEvents is the minimum total event count. Default: 10.
	CoordMinEvents int `yaml:"coord_min_events"`

	// ChiSquarePValue is the significance threshold for the unusual-timing
	// rule. Default: 0.01.
	ChiSquarePValue float64 `yaml:"chi_square_p_value"`
}

// FuserConfig holds score-fusion and reporting-gate parameters (spec §4.7, §4.2 step 5).
type FuserConfig struct {
	// ReportFloor is the minimum final score required to persist an
	// AnomalyRecord. Default: 0.15.
	ReportFloor float64 `yaml:"report_floor"`
}

// ContextualConfig holds the Contextual detector's criticality-cache
// parameters (spec §4.6, §4.8 "criticality score cached with TTL").
type ContextualConfig struct {
	// CriticalityTTL is how long a repository's cached criticality score
	// is trusted before the stream processor recomputes it. Default: 1h.
	CriticalityTTL time.Duration `yaml:"criticality_ttl"`
}

// DedupConfig holds the poller's seen-event-id set parameters (spec §4.1 step 5).
type DedupConfig struct {
	// TTL is how long an event id is remembered. Default: 10m.
	TTL time.Duration `yaml:"dedup_ttl_min"`
}

// StorageConfig holds bbolt and LRU cache parameters (spec §4.8).
type StorageConfig struct {
	// DBPath is the absolute path to the bbolt file backing the
	// ProfileStore, EventQueue, and AnomalyRecord sink.
	// Default: /var/lib/anomalyd/anomalyd.db.
	DBPath string `yaml:"db_path"`

	// ProfileCacheSize bounds the LRU cache fronting the profile store.
	// Default: 50000.
	ProfileCacheSize int `yaml:"profile_cache_size"`

	// ProfileTTL is how long a profile is retained after its last
	// observation before eviction eligibility. Default: 720h (30 days).
	ProfileTTL time.Duration `yaml:"profile_ttl"`

	// QueueRetention bounds how long consumed EventQueue entries are kept
	// for at-least-once redelivery audit before pruning. Default: 72h.
	QueueRetention time.Duration `yaml:"queue_retention"`

	// QueueMaxDepth bounds the durable EventQueue (spec §5 invariant P5):
	// once full, Enqueue fails transiently and the poller's priority-drop
	// policy sheds low, then medium priority events. Default: 200000.
	QueueMaxDepth int `yaml:"queue_max_depth"`
}

// PubSubConfig holds in-process broker parameters.
type PubSubConfig struct {
	// SubscriberBuffer is the per-subscriber channel depth. Sends beyond
	// this are dropped and counted, never blocked on. Default: 256.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// EnrichmentConfig holds the pluggable summarizer stage's parameters.
type EnrichmentConfig struct {
	// Enabled gates the optional LLM-summarizer enrichment stage.
	// Default: false.
	Enabled bool `yaml:"enabled"`

	// Summarizer selects the registered enrichment.Summarizer by name.
	// Default: "noop".
	Summarizer string `yaml:"summarizer"`

	// Timeout bounds a single summarization call. Default: 3s.
	Timeout time.Duration `yaml:"timeout"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9091.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	// Default: json.
	LogFormat string `yaml:"log_format"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Poller: PollerConfig{
			UpstreamBaseURL:         "https://api.github.com/events",
			PollInterval:            time.Second,
			PageSize:                100,
			ActivePollers:           1,
			PrioritySampleLow:       0.20,
			CircuitBreakerThreshold: 10,
			CircuitBreakerCooldown:  30 * time.Second,
			MaxBackoff:              60 * time.Second,
			EnqueueWaitTimeout:      5 * time.Second,
		},
		StreamProcessor: StreamProcessorConfig{
			BatchMax:        50,
			BatchMaxWait:    500 * time.Millisecond,
			Lanes:           64,
			DetectorTimeout: 2 * time.Second,
			EventTimeout:    5 * time.Second,
			BatchTimeout:    30 * time.Second,
			PrefilterWarmN:  50,
			PrefilterShare:  0.20,
		},
		Behavioral: BehavioralConfig{
			EWMAAlpha:        0.05,
			WarmN:            10,
			MVNN:             30,
			VarianceFloor:    1e-6,
			ZScoreThreshold:  3.0,
			MahalanobisAlpha: 0.01,
		},
		Temporal: TemporalConfig{
			BurstWindowMin:  5,
			BurstMinCount:   5,
			BurstMinRate:    2.0,
			CoordWindowMin:  10,
			CoordMinActors:  3,
			CoordMinEvents:  10,
			ChiSquarePValue: 0.01,
		},
		Fuser: FuserConfig{
			ReportFloor: 0.15,
		},
		Contextual: ContextualConfig{
			CriticalityTTL: time.Hour,
		},
		Dedup: DedupConfig{
			TTL: 10 * time.Minute,
		},
		Storage: StorageConfig{
			DBPath:           DefaultDBPath,
			ProfileCacheSize: 50000,
			ProfileTTL:       720 * time.Hour,
			QueueRetention:   72 * time.Hour,
			QueueMaxDepth:    200000,
		},
		PubSub: PubSubConfig{
			SubscriberBuffer: 256,
		},
		Enrichment: EnrichmentConfig{
			Enabled:    false,
			Summarizer: "noop",
			Timeout:    3 * time.Second,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// DefaultDBPath mirrors the storage package constant for use in config defaults.
const DefaultDBPath = "/var/lib/anomalyd/anomalyd.db"

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
// Returns an error if the file cannot be read, parsed, or validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if cfg.Poller.UpstreamBaseURL == "" {
		errs = append(errs, "poller.upstream_base_url must not be empty")
	}
	if cfg.Poller.PageSize < 1 || cfg.Poller.PageSize > 1000 {
		errs = append(errs, fmt.Sprintf("poller.page_size must be in [1, 1000], got %d", cfg.Poller.PageSize))
	}
	if cfg.Poller.ActivePollers < 1 {
		errs = append(errs, fmt.Sprintf("poller.active_pollers must be >= 1, got %d", cfg.Poller.ActivePollers))
	}
	if cfg.Poller.PrioritySampleLow < 0.0 || cfg.Poller.PrioritySampleLow > 1.0 {
		errs = append(errs, fmt.Sprintf("poller.priority_sample_low must be in [0.0, 1.0], got %f", cfg.Poller.PrioritySampleLow))
	}
	if cfg.Poller.CircuitBreakerThreshold < 1 {
		errs = append(errs, fmt.Sprintf("poller.circuit_breaker_threshold must be >= 1, got %d", cfg.Poller.CircuitBreakerThreshold))
	}
	if cfg.StreamProcessor.BatchMax < 1 || cfg.StreamProcessor.BatchMax > 10000 {
		errs = append(errs, fmt.Sprintf("stream_processor.batch_max must be in [1, 10000], got %d", cfg.StreamProcessor.BatchMax))
	}
	if cfg.StreamProcessor.BatchMaxWait <= 0 {
		errs = append(errs, "stream_processor.batch_max_wait_ms must be > 0")
	}
	if cfg.StreamProcessor.Lanes < 1 || cfg.StreamProcessor.Lanes > 4096 {
		errs = append(errs, fmt.Sprintf("stream_processor.lanes must be in [1, 4096], got %d", cfg.StreamProcessor.Lanes))
	}
	if cfg.StreamProcessor.PrefilterShare < 0.0 || cfg.StreamProcessor.PrefilterShare > 1.0 {
		errs = append(errs, fmt.Sprintf("stream_processor.prefilter_share must be in [0.0, 1.0], got %f", cfg.StreamProcessor.PrefilterShare))
	}
	if cfg.Behavioral.EWMAAlpha <= 0.0 || cfg.Behavioral.EWMAAlpha > 1.0 {
		errs = append(errs, fmt.Sprintf("behavioral.ewma_alpha must be in (0.0, 1.0], got %f", cfg.Behavioral.EWMAAlpha))
	}
	if cfg.Behavioral.WarmN < 1 {
		errs = append(errs, fmt.Sprintf("behavioral.warm_n must be >= 1, got %d", cfg.Behavioral.WarmN))
	}
	if cfg.Behavioral.MVNN < cfg.Behavioral.WarmN {
		errs = append(errs, fmt.Sprintf("behavioral.mvn_n (%d) must be >= warm_n (%d)", cfg.Behavioral.MVNN, cfg.Behavioral.WarmN))
	}
	if cfg.Behavioral.VarianceFloor <= 0 {
		errs = append(errs, "behavioral.variance_floor must be > 0")
	}
	if cfg.Temporal.BurstWindowMin < 1 {
		errs = append(errs, fmt.Sprintf("temporal.burst_window_min must be >= 1, got %d", cfg.Temporal.BurstWindowMin))
	}
	if cfg.Temporal.CoordMinActors < 1 {
		errs = append(errs, fmt.Sprintf("temporal.coord_min_actors must be >= 1, got %d", cfg.Temporal.CoordMinActors))
	}
	if cfg.Fuser.ReportFloor < 0.0 || cfg.Fuser.ReportFloor > 1.0 {
		errs = append(errs, fmt.Sprintf("fuser.report_floor must be in [0.0, 1.0], got %f", cfg.Fuser.ReportFloor))
	}
	if cfg.Dedup.TTL <= 0 {
		errs = append(errs, "dedup.dedup_ttl_min must be > 0")
	}
	if cfg.Contextual.CriticalityTTL <= 0 {
		errs = append(errs, "contextual.criticality_ttl must be > 0")
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path must not be empty")
	}
	if cfg.Storage.ProfileCacheSize < 1 {
		errs = append(errs, fmt.Sprintf("storage.profile_cache_size must be >= 1, got %d", cfg.Storage.ProfileCacheSize))
	}
	if cfg.Storage.QueueMaxDepth < 1 {
		errs = append(errs, fmt.Sprintf("storage.queue_max_depth must be >= 1, got %d", cfg.Storage.QueueMaxDepth))
	}
	if cfg.PubSub.SubscriberBuffer < 1 {
		errs = append(errs, fmt.Sprintf("pubsub.subscriber_buffer must be >= 1, got %d", cfg.PubSub.SubscriberBuffer))
	}
	if cfg.Enrichment.Enabled && cfg.Enrichment.Summarizer == "" {
		errs = append(errs, "enrichment.summarizer must not be empty when enrichment.enabled=true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s",
			joinStrings(errs, "\n  - "))
	}
	return nil
}

// NonDestructiveReload reports whether moving from old to new config can be
// applied live (thresholds, weights, sampling rate, batch sizing, log
// level) or requires a restart (backing store path, bind addresses).
func NonDestructiveReload(old, new *Config) bool {
	return old.Storage.DBPath == new.Storage.DBPath &&
		old.Observability.MetricsAddr == new.Observability.MetricsAddr
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
