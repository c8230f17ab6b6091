package crawl

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts crawl outcomes on a private registry. A nil *Metrics
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	assets        *prometheus.CounterVec
	fetchBytes    prometheus.Counter
	fetchDuration prometheus.Histogram
	breakerOpen   prometheus.Gauge
	lastRun       prometheus.Gauge
}

// NewMetrics returns crawl metrics registered on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		assets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "medialib_crawl_assets_total",
				Help: "Assets handled by the crawler, by outcome",
			},
			[]string{"outcome"},
		),
		fetchBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "medialib_crawl_fetch_bytes_total",
			Help: "Bytes stored from the origin",
		}),
		fetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "medialib_crawl_fetch_duration_seconds",
			Help:    "Duration of successful origin fetches including retries",
			Buckets: prometheus.DefBuckets,
		}),
		breakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "medialib_crawl_breaker_open",
			Help: "Origin circuit breaker state (1 = open, 0 = closed)",
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "medialib_crawl_last_run_timestamp_seconds",
			Help: "Unix time the last crawl finished",
		}),
	}
}

// WriteTextfile writes the current values in the Prometheus text format,
// replacing path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write crawl metrics: %w", err)
	}
	return nil
}

func (m *Metrics) outcome(name string) {
	if m == nil {
		return
	}
	m.assets.WithLabelValues(name).Inc()
}

func (m *Metrics) fetched(bytes int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.assets.WithLabelValues("fetched").Inc()
	m.fetchBytes.Add(float64(bytes))
	m.fetchDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) breaker(open bool) {
	if m == nil {
		return
	}
	if open {
		m.breakerOpen.Set(1)
		return
	}
	m.breakerOpen.Set(0)
}

func (m *Metrics) finished(at time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(at.Unix()))
}
