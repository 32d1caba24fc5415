package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TickSample is the subset of one engine tick exported as metrics.
type TickSample struct {
	RawComfort       float64
	EffectiveComfort float64
	Confidence       float64
	Gain             float64
	Proximities      map[string]float64 // by constraint name
	Channels         map[string]float64 // μ by channel name
	Factors          map[string]float64 // confidence factor by name
	Bottleneck       string
	Emergency        bool
}

// Metrics holds the Prometheus collectors for one engine. Use NewMetrics
// with a private registry in tests.
type Metrics struct {
	comfort     *prometheus.GaugeVec
	confidence  prometheus.Gauge
	gain        prometheus.Gauge
	proximity   *prometheus.GaugeVec
	channel     *prometheus.GaugeVec
	factor      *prometheus.GaugeVec
	bottleneck  *prometheus.CounterVec
	emergency   prometheus.Gauge
	ticks       prometheus.Counter
	frameErrors *prometheus.CounterVec
	reloads     *prometheus.CounterVec
}

// NewMetrics registers the comfort collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		comfort: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "comfort_value",
			Help: "Comfort scalar of the last tick by kind (raw, effective)",
		}, []string{"kind"}),
		confidence: f.NewGauge(prometheus.GaugeOpts{
			Name: "comfort_confidence",
			Help: "Composite confidence of the last tick",
		}),
		gain: f.NewGauge(prometheus.GaugeOpts{
			Name: "comfort_gain",
			Help: "Gain applied to the raw comfort scalar",
		}),
		proximity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "comfort_constraint_proximity",
			Help: "Normalized proximity r_i of each constraint",
		}, []string{"constraint"}),
		channel: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "comfort_channel_stress",
			Help: "Stress level μ of each channel",
		}, []string{"channel"}),
		factor: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "comfort_confidence_factor",
			Help: "Individual confidence factors",
		}, []string{"factor"}),
		bottleneck: f.NewCounterVec(prometheus.CounterOpts{
			Name: "comfort_bottleneck_ticks_total",
			Help: "Ticks spent under each detected bottleneck",
		}, []string{"bottleneck"}),
		emergency: f.NewGauge(prometheus.GaugeOpts{
			Name: "comfort_emergency",
			Help: "1 while the emergency guard holds the gain at zero",
		}),
		ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "comfort_ticks_total",
			Help: "Engine ticks processed",
		}),
		frameErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "comfort_frame_errors_total",
			Help: "Monitor lines rejected by reason",
		}, []string{"reason"}),
		reloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "comfort_config_reloads_total",
			Help: "Tuning reloads by result",
		}, []string{"result"}),
	}
}

// ObserveTick publishes one tick.
func (m *Metrics) ObserveTick(s TickSample) {
	m.comfort.WithLabelValues("raw").Set(s.RawComfort)
	m.comfort.WithLabelValues("effective").Set(s.EffectiveComfort)
	m.confidence.Set(s.Confidence)
	m.gain.Set(s.Gain)
	for name, v := range s.Proximities {
		m.proximity.WithLabelValues(name).Set(v)
	}
	for name, v := range s.Channels {
		m.channel.WithLabelValues(name).Set(v)
	}
	for name, v := range s.Factors {
		m.factor.WithLabelValues(name).Set(v)
	}
	m.bottleneck.WithLabelValues(s.Bottleneck).Inc()
	if s.Emergency {
		m.emergency.Set(1)
	} else {
		m.emergency.Set(0)
	}
	m.ticks.Inc()
}

// FrameError counts a rejected monitor line.
func (m *Metrics) FrameError(reason string) { m.frameErrors.WithLabelValues(reason).Inc() }

// ConfigReload counts a tuning reload attempt.
func (m *Metrics) ConfigReload(ok bool) {
	if ok {
		m.reloads.WithLabelValues("ok").Inc()
		return
	}
	m.reloads.WithLabelValues("rejected").Inc()
}
