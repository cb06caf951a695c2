// Package metrics exports rule and scheduling measurements to Prometheus.
package metrics

import (
	"sync"

	"github.com/opensource-finance/findex/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace is used when no namespace is configured.
const DefaultNamespace = "findex"

// PrometheusCollector implements domain.MetricsCollector backed by Prometheus.
// Collectors are registered lazily on first use.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	reloads      *prometheus.CounterVec
	rulesLoaded  *prometheus.GaugeVec
	invalidRules *prometheus.CounterVec
	lookups      *prometheus.CounterVec
	ratios       *prometheus.HistogramVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ domain.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a Prometheus-backed collector. A nil reg uses
// prometheus.DefaultRegisterer and an empty namespace uses DefaultNamespace.
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.reloads = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "rules",
			Name:      "reloads_total",
			Help:      "Total rule set reloads by collection.",
		}, []string{"collection"})

		p.rulesLoaded = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "rules",
			Name:      "loaded",
			Help:      "Number of valid rules in the current rule set.",
		}, []string{"collection"})

		p.invalidRules = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "rules",
			Name:      "invalid_total",
			Help:      "Total rule lines skipped as invalid.",
		}, []string{"collection"})

		p.lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "rules",
			Name:      "lookups_total",
			Help:      "Total rule lookups by result (hit, miss).",
		}, []string{"collection", "result"})

		p.ratios = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "scheduler",
			Name:      "interval_ratio",
			Help:      "Adjusted interval divided by baseline interval.",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1, 1.1, 1.5, 2, 4},
		}, []string{"collection"})

		p.reg.MustRegister(p.reloads)
		p.reg.MustRegister(p.rulesLoaded)
		p.reg.MustRegister(p.invalidRules)
		p.reg.MustRegister(p.lookups)
		p.reg.MustRegister(p.ratios)
	})
}

// RecordReload counts a reload and sets the loaded rule gauge.
func (p *PrometheusCollector) RecordReload(collectionID string, rules int, invalid int) {
	p.ensureRegistered()
	p.reloads.WithLabelValues(collectionID).Inc()
	p.rulesLoaded.WithLabelValues(collectionID).Set(float64(rules))
	p.invalidRules.WithLabelValues(collectionID).Add(float64(invalid))
}

// RecordLookup counts a lookup as a hit or a miss.
func (p *PrometheusCollector) RecordLookup(collectionID string, matched bool) {
	p.ensureRegistered()
	result := "miss"
	if matched {
		result = "hit"
	}
	p.lookups.WithLabelValues(collectionID, result).Inc()
}

// RecordAdjustment observes an adjusted/baseline interval ratio.
func (p *PrometheusCollector) RecordAdjustment(collectionID string, ratio float64) {
	p.ensureRegistered()
	p.ratios.WithLabelValues(collectionID).Observe(ratio)
}
