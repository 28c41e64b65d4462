package observe

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vango-dev/recompose/pkg/compose"
)

// MetricsConfig configures the Prometheus pass metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "recompose").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for pass duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures Metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "recompose",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics records pass reports as Prometheus metrics. It implements
// compose.PassObserver.
type Metrics struct {
	passes       *prometheus.CounterVec
	passErrors   prometheus.Counter
	passDuration prometheus.Histogram
	dirty        prometheus.Counter
	recomposed   prometheus.Counter
	deferred     prometheus.Counter
	skipped      prometheus.Counter
	created      prometheus.Counter
	removed      prometheus.Counter
	disposed     prometheus.Counter
	childOps     prometheus.Counter
	effects      prometheus.Counter
	mismatches   prometheus.Counter
	tableSize    prometheus.Gauge
	evictions    prometheus.Counter
}

// NewMetrics registers the pass metrics.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}

	return &Metrics{
		passes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "passes_total",
			Help:        "Total number of recomposition passes",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		passDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pass_duration_seconds",
			Help:        "Pass duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		tableSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "slot_table_size",
			Help:        "Slots across all compositions after the last pass",
			ConstLabels: config.ConstLabels,
		}),

		passErrors: counter("pass_errors_total", "Passes that returned an error"),
		dirty:      counter("scopes_dirty_total", "Scopes marked dirty"),
		recomposed: counter("scopes_recomposed_total", "Scopes re-entered by partial recomposition"),
		deferred:   counter("scopes_deferred_total", "Dirty scopes pushed to a later pass by the budget"),
		skipped:    counter("groups_skipped_total", "Skippable groups whose body did not run"),
		created:    counter("nodes_created_total", "Nodes created through the applier"),
		removed:    counter("nodes_removed_total", "Nodes removed through the applier"),
		disposed:   counter("slots_disposed_total", "Slots released by truncation"),
		childOps:   counter("child_ops_total", "Insert, move and remove operations on parent nodes"),
		effects:    counter("effects_total", "Side effects run after apply"),
		mismatches: counter("structural_mismatches_total", "Remembered values replaced by a value of another type"),
		evictions:  counter("pool_evictions_total", "Pooled subcomposition tables disposed for lack of room"),
	}
}

// PassStarted implements compose.PassObserver.
func (m *Metrics) PassStarted(ctx context.Context, _ compose.PassInfo) context.Context {
	return ctx
}

// PassFinished implements compose.PassObserver.
func (m *Metrics) PassFinished(_ context.Context, rep compose.PassReport, err error) {
	m.passes.WithLabelValues(string(rep.Kind)).Inc()
	if err != nil {
		m.passErrors.Inc()
	}
	m.passDuration.Observe(rep.Duration.Seconds())
	m.dirty.Add(float64(rep.Dirty))
	m.recomposed.Add(float64(rep.Recomposed))
	m.deferred.Add(float64(rep.Deferred))
	m.skipped.Add(float64(rep.Skipped))
	m.created.Add(float64(rep.Created))
	m.removed.Add(float64(rep.Removed))
	m.disposed.Add(float64(rep.Disposed))
	m.childOps.Add(float64(rep.ChildOps))
	m.effects.Add(float64(rep.Effects))
	m.mismatches.Add(float64(len(rep.Mismatches)))
	m.tableSize.Set(float64(rep.TableSize))
}

// PoolEvicted counts a reuse pool eviction. Pass it to
// subcompose.WithEvictionHook.
func (m *Metrics) PoolEvicted(any) {
	m.evictions.Inc()
}
