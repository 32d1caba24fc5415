package crown

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrappedDistance_Properties(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 10000; i++ {
		a := (rng.Float64() - 0.5) * 200
		b := (rng.Float64() - 0.5) * 200

		d := WrappedDistance(a, b)
		require.GreaterOrEqual(t, d, 0.0)
		require.LessOrEqual(t, d, math.Pi)
		require.Equal(t, d, WrappedDistance(b, a))
		require.Equal(t, 0.0, WrappedDistance(a, a))
	}
}

func TestWrappedDistance_Cases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b float64
		want float64
	}{
		{"same angle", 1, 1, 0},
		{"plain difference", 0.5, 1.5, 1},
		{"across zero", 0.1, 2*math.Pi - 0.1, 0.2},
		{"full turns apart", 0.3, 0.3 + 4*math.Pi, 0},
		{"negative angle", -0.25, 0.25, 0.5},
		{"opposite", 0, math.Pi, math.Pi},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, WrappedDistance(tt.a, tt.b), 1e-9)
		})
	}
}

func TestWrapAngle(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.5, WrapAngle(0.5+2*math.Pi), 1e-12)
	assert.InDelta(t, 2*math.Pi-0.5, WrapAngle(-0.5), 1e-12)
	w := WrapAngle(-1e-18)
	assert.True(t, w >= 0 && w < 2*math.Pi, "got %v", w)
}

func TestClampDt(t *testing.T) {
	t.Parallel()

	assert.Equal(t, MinTickInterval, ClampDt(0))
	assert.Equal(t, MinTickInterval, ClampDt(-1))
	assert.Equal(t, MinTickInterval, ClampDt(math.NaN()))
	assert.Equal(t, MinTickInterval, ClampDt(0.001))
	assert.Equal(t, MaxTickInterval, ClampDt(math.Inf(1)))
	assert.Equal(t, MaxTickInterval, ClampDt(1e300))
	assert.Equal(t, MaxTickInterval, ClampDt(5))
	assert.Equal(t, MaxTickInterval, ClampDt(MaxTickInterval))
	assert.Equal(t, 0.02, ClampDt(0.02))
}

func TestPhaseTracker_FirstUpdateEstablishesBaseline(t *testing.T) {
	t.Parallel()

	p, err := NewPhaseTracker(10)
	require.NoError(t, err)

	p.Update([NumChannels]float64{1, 2, 3, 4, 5, 6}, 0.01)
	for _, ch := range Channels() {
		assert.Equal(t, 0.0, p.Velocity(ch), "channel %s", ch)
	}
	assert.Equal(t, 0, p.Rhythm().Count())
}

func TestPhaseTracker_Velocity(t *testing.T) {
	t.Parallel()

	p, err := NewPhaseTracker(10)
	require.NoError(t, err)
	p.Update([NumChannels]float64{}, 0.01)

	p.Update([NumChannels]float64{0.05, -0.02}, 0.01)
	assert.InDelta(t, 5.0, p.Velocity(Head), 1e-9)
	assert.InDelta(t, -2.0, p.Velocity(Stereo), 1e-9)
	assert.Equal(t, 0.05, p.Channel(Head).Angle)
	assert.Equal(t, 0.0, p.Channel(Head).Previous)

	// a zero dt is floored to 1/120 s before dividing
	p.Update([NumChannels]float64{0.1, -0.02}, 0)
	assert.InDelta(t, 0.05*120, p.Velocity(Head), 1e-9)

	// large jumps are clamped
	p.Update([NumChannels]float64{5, -5}, 0.01)
	assert.Equal(t, MaxPhaseVelocity, p.Velocity(Head))
	assert.Equal(t, -MaxPhaseVelocity, p.Velocity(Stereo))
	assert.InDelta(t, 2*MaxPhaseVelocity, p.AbsVelocitySum(), 1e-9)
}

func TestPhaseTracker_RhythmHistory(t *testing.T) {
	t.Parallel()

	p, err := NewPhaseTracker(10)
	require.NoError(t, err)

	for _, c := range []float64{0, 0.1, 0.3} {
		var angles [NumChannels]float64
		angles[Controller] = c
		p.Update(angles, 1.0/90)
	}

	require.Equal(t, 2, p.Rhythm().Count())
	samples := p.Rhythm().Samples()
	assert.InDelta(t, 0.1, samples[0], 1e-12)
	assert.InDelta(t, 0.2, samples[1], 1e-12)
	assert.InDelta(t, 0.0025, p.RhythmVariance(), 1e-12)
}

func TestPhaseTracker_VectorIsWrapped(t *testing.T) {
	t.Parallel()

	p, err := NewPhaseTracker(4)
	require.NoError(t, err)
	p.Update([NumChannels]float64{2*math.Pi + 0.5, -0.5}, 0.01)

	vec := p.Vector()
	assert.InDelta(t, 0.5, vec[Head], 1e-12)
	assert.InDelta(t, 2*math.Pi-0.5, vec[Stereo], 1e-12)
	// raw angle is kept for velocity
	assert.Equal(t, 2*math.Pi+0.5, p.Angle(Head))
}
