package plugin

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "plughost"

// Metrics records plugin lifecycle metrics. A nil *Metrics records nothing.
type Metrics struct {
	transitions     *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	bundles         *prometheus.CounterVec
	discoveryErrors *prometheus.CounterVec
	registered      prometheus.Gauge
}

// NewMetrics creates the plugin metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "plugin",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions by operation and resulting status.",
		}, []string{"op", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "plugin",
			Name:      "transition_duration_seconds",
			Help:      "Time spent in lifecycle transitions, including the pane wait.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"op"}),
		bundles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "discovery",
			Name:      "bundles_scanned_total",
			Help:      "Bundles scanned by result.",
		}, []string{"result"}),
		discoveryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "discovery",
			Name:      "errors_total",
			Help:      "Discovery errors by kind.",
		}, []string{"kind"}),
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "plugin",
			Name:      "registered",
			Help:      "Plugins currently in the registry.",
		}),
	}

	for _, c := range []prometheus.Collector{m.transitions, m.duration, m.bundles, m.discoveryErrors, m.registered} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeTransition(op string, status Status, d time.Duration) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(op, status.String()).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) observeBundle(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.bundles.WithLabelValues(result).Inc()
}

func (m *Metrics) observeDiscoveryError(err error) {
	if m == nil {
		return
	}
	kind := "other"
	switch {
	case errors.Is(err, ErrBundleRead):
		kind = "bundle"
	case errors.Is(err, ErrPluginInstantiation):
		kind = "instantiation"
	case errors.Is(err, ErrMissingPluginIdentity):
		kind = "identity"
	case errors.Is(err, ErrPluginPanic):
		kind = "panic"
	}
	m.discoveryErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) setRegistered(n int) {
	if m == nil {
		return
	}
	m.registered.Set(float64(n))
}
