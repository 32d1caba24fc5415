package monitoring

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveTick(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveTick(TickSample{
		RawComfort:       0.8,
		EffectiveComfort: 0.4,
		Confidence:       0.5,
		Gain:             0.5,
		Proximities:      map[string]float64{"attention_load": 1.5},
		Channels:         map[string]float64{"head": 0.25},
		Factors:          map[string]float64{"thermal": 0},
		Bottleneck:       "gpu",
		Emergency:        true,
	})
	m.ObserveTick(TickSample{Bottleneck: "gpu"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.bottleneck.WithLabelValues("gpu")))
	assert.Equal(t, 1.5, testutil.ToFloat64(m.proximity.WithLabelValues("attention_load")))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.channel.WithLabelValues("head")))
	// second tick had no emergency
	assert.Equal(t, 0.0, testutil.ToFloat64(m.emergency))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.comfort.WithLabelValues("raw")))

	expected := `
# HELP comfort_gain Gain applied to the raw comfort scalar
# TYPE comfort_gain gauge
comfort_gain 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "comfort_gain"))
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.FrameError("decode")
	m.FrameError("decode")
	m.ConfigReload(true)
	m.ConfigReload(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.frameErrors.WithLabelValues("decode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloads.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloads.WithLabelValues("rejected")))
}

func TestNewMetrics_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
