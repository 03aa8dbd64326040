// Package metrics holds the gateway's Prometheus collectors. All
// recording methods are safe on a nil *Metrics so callers never have
// to guard the disabled case.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mshafei721/AIAG-P/pkg/schema"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "aiag").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for command duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "aiag",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics bundles every collector the gateway records into.
type Metrics struct {
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	commandErrors   *prometheus.CounterVec

	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	cacheInvalidations prometheus.Counter

	sessionsActive  prometheus.Gauge
	sessionsCreated prometheus.Counter
	sessionsReaped  prometheus.Counter

	connectionsActive prometheus.Gauge
	rateLimited       prometheus.Counter
	wsErrors          *prometheus.CounterVec

	poolAvailable prometheus.Gauge
	poolLeased    prometheus.Gauge
}

// New registers the gateway collectors and returns them.
//
// Metrics exposed (with the default namespace):
//   - aiag_commands_total: Counter of commands by method and status
//   - aiag_command_duration_seconds: Histogram of command duration by method
//   - aiag_command_errors_total: Counter of command errors by method and category
//   - aiag_cache_hits_total / aiag_cache_misses_total: Extract cache outcomes
//   - aiag_cache_invalidations_total: Entries dropped by mutation invalidation
//   - aiag_sessions_active: Gauge of live sessions
//   - aiag_sessions_created_total / aiag_sessions_reaped_total
//   - aiag_connections_active: Gauge of open WebSocket connections
//   - aiag_rate_limited_total: Commands rejected by the rate limiter
//   - aiag_websocket_errors_total: WebSocket errors by type
//   - aiag_pool_contexts_available / aiag_pool_contexts_leased
func New(opts ...Option) *Metrics {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "commands_total",
			Help:        "Total number of commands processed",
			ConstLabels: cfg.ConstLabels,
		}, []string{"method", "status"}),

		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "command_duration_seconds",
			Help:        "Command execution duration in seconds",
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		}, []string{"method"}),

		commandErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "command_errors_total",
			Help:        "Total command errors by category",
			ConstLabels: cfg.ConstLabels,
		}, []string{"method", "category"}),

		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "cache_hits_total",
			Help:        "Extract results served from cache",
			ConstLabels: cfg.ConstLabels,
		}),

		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "cache_misses_total",
			Help:        "Extract results computed against the page",
			ConstLabels: cfg.ConstLabels,
		}),

		cacheInvalidations: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "cache_invalidations_total",
			Help:        "Cache entries dropped after mutating commands",
			ConstLabels: cfg.ConstLabels,
		}),

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "sessions_active",
			Help:        "Number of live browser sessions",
			ConstLabels: cfg.ConstLabels,
		}),

		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "sessions_created_total",
			Help:        "Total browser sessions created",
			ConstLabels: cfg.ConstLabels,
		}),

		sessionsReaped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "sessions_reaped_total",
			Help:        "Sessions closed by the idle reaper",
			ConstLabels: cfg.ConstLabels,
		}),

		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "connections_active",
			Help:        "Number of open WebSocket connections",
			ConstLabels: cfg.ConstLabels,
		}),

		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "rate_limited_total",
			Help:        "Commands rejected by the rate limiter",
			ConstLabels: cfg.ConstLabels,
		}),

		wsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "websocket_errors_total",
			Help:        "Total WebSocket errors by type",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type"}),

		poolAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "pool_contexts_available",
			Help:        "Idle browser contexts ready for lease",
			ConstLabels: cfg.ConstLabels,
		}),

		poolLeased: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "pool_contexts_leased",
			Help:        "Browser contexts currently leased to sessions",
			ConstLabels: cfg.ConstLabels,
		}),
	}
}

// ObserveCommand records one completed command. The error category
// comes from the typed command error so label cardinality stays
// bounded regardless of message content.
func (m *Metrics) ObserveCommand(method string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.commandDuration.WithLabelValues(method).Observe(d.Seconds())
	status := "success"
	if err != nil {
		status = "error"
		m.commandErrors.WithLabelValues(method, categorize(err)).Inc()
	}
	m.commandsTotal.WithLabelValues(method, status).Inc()
}

// RecordCacheHit counts one extract served from cache.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// RecordCacheMiss counts one extract computed against the page.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// RecordInvalidations counts entries dropped after a mutation.
func (m *Metrics) RecordInvalidations(n int) {
	if m == nil || n == 0 {
		return
	}
	m.cacheInvalidations.Add(float64(n))
}

// RecordSessionCreate records a new session.
func (m *Metrics) RecordSessionCreate() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
	m.sessionsCreated.Inc()
}

// RecordSessionClose records a session ending; reaped marks closes
// performed by the idle reaper.
func (m *Metrics) RecordSessionClose(reaped bool) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	if reaped {
		m.sessionsReaped.Inc()
	}
}

// RecordConnOpen records a WebSocket connection opening.
func (m *Metrics) RecordConnOpen() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
}

// RecordConnClose records a WebSocket connection closing.
func (m *Metrics) RecordConnClose() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// RecordRateLimited counts one rejected command.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// RecordWebSocketError records a WebSocket error by type.
func (m *Metrics) RecordWebSocketError(errorType string) {
	if m == nil {
		return
	}
	m.wsErrors.WithLabelValues(errorType).Inc()
}

// SetPoolGauges publishes the pool's current composition.
func (m *Metrics) SetPoolGauges(available, leased int) {
	if m == nil {
		return
	}
	m.poolAvailable.Set(float64(available))
	m.poolLeased.Set(float64(leased))
}

// categorize maps an error to its wire error type so metrics labels
// never carry raw messages.
func categorize(err error) string {
	if ce, ok := schema.AsCommandError(err); ok {
		return ce.Type
	}
	return schema.ErrTypeInternal
}
