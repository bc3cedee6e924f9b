package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"secdash/internal/model"
)

const namespace = "secdash"

// Collectors holds the pipeline's Prometheus metrics. A nil *Collectors
// is valid and records nothing.
type Collectors struct {
	Refreshes       *prometheus.CounterVec
	RefreshDuration *prometheus.HistogramVec
	Records         *prometheus.GaugeVec
	Bands           *prometheus.GaugeVec
	CallbackErrors  *prometheus.CounterVec
	Published       *prometheus.CounterVec
	SinkFailures    *prometheus.CounterVec
	Dropped         *prometheus.CounterVec
}

// New builds the collectors and registers them on reg when it is non-nil.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_total",
				Help:      "Refresh cycles per view by outcome",
			},
			[]string{"view", "outcome"},
		),
		RefreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_duration_seconds",
				Help:      "Time spent generating, classifying and filtering one refresh",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"view"},
		),
		Records: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "view_records",
				Help:      "Records visible in a view after filtering",
			},
			[]string{"view"},
		),
		Bands: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "view_band_records",
				Help:      "Visible records per band",
			},
			[]string{"view", "band"},
		),
		CallbackErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_errors_total",
				Help:      "Scheduled refreshes that failed or panicked",
			},
			[]string{"view"},
		),
		Published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_writes_total",
				Help:      "Updates written to an outbound sink",
			},
			[]string{"sink"},
		),
		SinkFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_failures_total",
				Help:      "Failed writes to an outbound sink",
			},
			[]string{"sink"},
		),
		Dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_dropped_total",
				Help:      "Updates dropped because a sink queue was full",
			},
			[]string{"sink"},
		),
	}
	if reg != nil {
		reg.MustRegister(c.Refreshes, c.RefreshDuration, c.Records, c.Bands,
			c.CallbackErrors, c.Published, c.SinkFailures, c.Dropped)
	}
	return c
}

func (c *Collectors) ObserveRefresh(view string, d time.Duration, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.Refreshes.WithLabelValues(view, outcome).Inc()
	c.RefreshDuration.WithLabelValues(view).Observe(d.Seconds())
}

// SetVisible replaces a view's record and per-band gauges.
func (c *Collectors) SetVisible(view string, n int, bands map[model.Band]int) {
	if c == nil {
		return
	}
	c.Records.WithLabelValues(view).Set(float64(n))
	c.Bands.DeletePartialMatch(prometheus.Labels{"view": view})
	for band, count := range bands {
		c.Bands.WithLabelValues(view, string(band)).Set(float64(count))
	}
}

func (c *Collectors) CallbackError(view string) {
	if c == nil {
		return
	}
	c.CallbackErrors.WithLabelValues(view).Inc()
}

func (c *Collectors) SinkWrite(sink string) {
	if c == nil {
		return
	}
	c.Published.WithLabelValues(sink).Inc()
}

func (c *Collectors) SinkFailure(sink string) {
	if c == nil {
		return
	}
	c.SinkFailures.WithLabelValues(sink).Inc()
}

func (c *Collectors) Drop(sink string) {
	if c == nil {
		return
	}
	c.Dropped.WithLabelValues(sink).Inc()
}
