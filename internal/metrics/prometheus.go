package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "fee_divider"

// Prometheus implements Recorder on top of Prometheus collectors.
type Prometheus struct {
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec
	cacheEntries       prometheus.Gauge
	calcDuration       *prometheus.HistogramVec
	calcResults        *prometheus.CounterVec
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus creates the collectors and registers them with reg.
// A nil reg falls back to prometheus.DefaultRegisterer and an empty namespace
// to "fee_divider".
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = defaultNamespace
	}

	p := &Prometheus{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache lookups served without computation, by request kind.",
		}, []string{"kind"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache lookups that required a computation, by request kind.",
		}, []string{"kind"}),
		cacheInvalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Explicit cache deletions, by request kind.",
		}, []string{"kind"}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Number of cached calculation results.",
		}),
		calcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "calculation",
			Name:      "duration_seconds",
			Help:      "Time spent computing fee divisions, by request kind.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs .. ~26s
		}, []string{"kind"}),
		calcResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calculation",
			Name:      "results_total",
			Help:      "Fee division computations by request kind and outcome (success, failure).",
		}, []string{"kind", "result"}),
	}

	collectors := []prometheus.Collector{
		p.cacheHits,
		p.cacheMisses,
		p.cacheInvalidations,
		p.cacheEntries,
		p.calcDuration,
		p.calcResults,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// CacheHit increments the hit counter for kind.
func (p *Prometheus) CacheHit(kind string) {
	p.cacheHits.WithLabelValues(kind).Inc()
}

// CacheMiss increments the miss counter for kind.
func (p *Prometheus) CacheMiss(kind string) {
	p.cacheMisses.WithLabelValues(kind).Inc()
}

// CacheInvalidated increments the invalidation counter for kind.
func (p *Prometheus) CacheInvalidated(kind string) {
	p.cacheInvalidations.WithLabelValues(kind).Inc()
}

// CacheEntries sets the current entry count.
func (p *Prometheus) CacheEntries(n int) {
	p.cacheEntries.Set(float64(n))
}

// ObserveCalculation records the duration and outcome of one computation.
func (p *Prometheus) ObserveCalculation(kind string, duration time.Duration, err error) {
	p.calcDuration.WithLabelValues(kind).Observe(duration.Seconds())
	result := "success"
	if err != nil {
		result = "failure"
	}
	p.calcResults.WithLabelValues(kind, result).Inc()
}
