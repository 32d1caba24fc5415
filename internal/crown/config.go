package crown

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Aggregation selects how the six safety factors fold into comfort.
type Aggregation int

const (
	// AggregateProduct multiplies the factors: one near-violation dominates.
	AggregateProduct Aggregation = iota
	// AggregateGeometricMean averages the factors in log space.
	AggregateGeometricMean
)

func (a Aggregation) String() string {
	switch a {
	case AggregateProduct:
		return "product"
	case AggregateGeometricMean:
		return "geometric_mean"
	default:
		return fmt.Sprintf("aggregation(%d)", int(a))
	}
}

// ParseAggregation accepts "product" or "geometric_mean" (also "geomean").
func ParseAggregation(s string) (Aggregation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "product":
		return AggregateProduct, nil
	case "geometric_mean", "geomean":
		return AggregateGeometricMean, nil
	default:
		return 0, configErrorf("aggregation", "unknown policy %q", s)
	}
}

// Factor identifies one of the five confidence factors.
type Factor int

const (
	FactorSensor Factor = iota
	FactorTiming
	FactorMu
	FactorThermal
	FactorModel
)

// NumFactors is the number of confidence factors.
const NumFactors = 5

var factorNames = [NumFactors]string{"sensor", "timing", "mu", "thermal", "model"}

func (f Factor) String() string {
	if f < 0 || int(f) >= NumFactors {
		return fmt.Sprintf("factor(%d)", int(f))
	}
	return factorNames[f]
}

// ConfidenceConfig tunes the confidence gate.
type ConfidenceConfig struct {
	// Emergency guard: mu confidence below MuFloor vetoes the gain.
	MuFloor float64

	// Thermal stress at or below ThermalWarn gives full thermal confidence,
	// at or above ThermalCritical gives exactly zero.
	ThermalWarn     float64
	ThermalCritical float64

	// MaxPlausibleMuRate is the largest believable |Δμ| per second.
	MaxPlausibleMuRate float64
	MuRecovery         time.Duration

	// Timing confidence is 1/(1+(cv/TimingCVRef)²) over TimingWindow,
	// never below TimingFloor.
	TimingCVRef  float64
	TimingFloor  float64
	TimingWindow time.Duration

	// GainSmoothing is the low-pass time constant applied to the gain.
	// Zero makes the gain follow the composite confidence directly.
	GainSmoothing time.Duration

	// Weights of each factor in the composite geometric mean.
	Weights [NumFactors]float64
}

// Config is the immutable engine configuration.
type Config struct {
	Thresholds [NumConstraints]float64 // κ per constraint
	DecayRates [NumChannels]float64    // per-tick retention
	RiseRates  [NumChannels]float64

	// UniformDecay switches to a single shared decay constant and
	// unscaled injection.
	UniformDecay     bool
	UniformDecayRate float64

	MotionHeadStereoWeight float64 // w1
	MotionHeadJitterWeight float64 // w2
	VelocityWeight         float64 // α

	GPUBottleneckMultiplier float64
	CPUBottleneckMultiplier float64
	ThermalLimitMultiplier  float64
	BatteryMultiplier       float64

	GPUWeightCoherence   float64
	GPUWeightHead        float64
	CPUWeightCoherence   float64
	ThermalWeightThermal float64
	BatteryWeightThermal float64

	RhythmWindow     time.Duration
	ExpectedTickRate float64 // Hz

	Aggregation Aggregation
	Confidence  ConfidenceConfig
}

// DefaultConfig returns the stock tuning for a 90 Hz headset session.
func DefaultConfig() Config {
	return Config{
		Thresholds: [NumConstraints]float64{2.0, 2.0, 1.5, 0.25, 2.0, 4.0},
		DecayRates: [NumChannels]float64{0.92, 0.94, 0.85, 0.90, 0.95, 0.98},
		RiseRates:  [NumChannels]float64{0.30, 0.25, 0.50, 0.35, 0.20, 0.10},

		UniformDecayRate: 0.9,

		MotionHeadStereoWeight: 0.6,
		MotionHeadJitterWeight: 0.4,
		VelocityWeight:         0.05,

		GPUBottleneckMultiplier: 1.5,
		CPUBottleneckMultiplier: 1.5,
		ThermalLimitMultiplier:  1.3,
		BatteryMultiplier:       1.1,

		GPUWeightCoherence:   0.4,
		GPUWeightHead:        0.2,
		CPUWeightCoherence:   0.3,
		ThermalWeightThermal: 0.6,
		BatteryWeightThermal: 0.3,

		RhythmWindow:     2 * time.Second,
		ExpectedTickRate: 90,

		Aggregation: AggregateProduct,
		Confidence: ConfidenceConfig{
			MuFloor:            0.01,
			ThermalWarn:        0.7,
			ThermalCritical:    0.95,
			MaxPlausibleMuRate: 75,
			MuRecovery:         500 * time.Millisecond,
			TimingCVRef:        0.25,
			TimingFloor:        0.05,
			TimingWindow:       time.Second,
			Weights:            [NumFactors]float64{1, 1, 1, 2, 1},
		},
	}
}

// RhythmCapacity is the number of ticks covered by the rhythm window.
func (c Config) RhythmCapacity() int {
	return windowCapacity(c.RhythmWindow, c.ExpectedTickRate)
}

func windowCapacity(d time.Duration, rate float64) int {
	n := int(math.Round(d.Seconds() * rate))
	if n < 1 && d > 0 && rate > 0 {
		n = 1
	}
	return n
}

// namedValue pairs a config field with its JSON name so checks run, and
// report, in a fixed order.
type namedValue struct {
	name  string
	value float64
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	for i, k := range c.Thresholds {
		if !finite(k) || k <= 0 {
			return configErrorf("threshold_"+Constraint(i).String(), "must be positive, got %v", k)
		}
	}
	for i := 0; i < NumChannels; i++ {
		if err := checkRate("decay_"+Channel(i).String(), c.DecayRates[i]); err != nil {
			return err
		}
		if err := checkRate("rise_"+Channel(i).String(), c.RiseRates[i]); err != nil {
			return err
		}
	}
	if c.UniformDecay {
		if err := checkRate("uniform_decay_rate", c.UniformDecayRate); err != nil {
			return err
		}
	}
	for _, f := range []namedValue{
		{"motion_head_stereo_weight", c.MotionHeadStereoWeight},
		{"motion_head_jitter_weight", c.MotionHeadJitterWeight},
		{"velocity_weight", c.VelocityWeight},
		{"gpu_weight_coherence", c.GPUWeightCoherence},
		{"gpu_weight_head", c.GPUWeightHead},
		{"cpu_weight_coherence", c.CPUWeightCoherence},
		{"thermal_weight_thermal", c.ThermalWeightThermal},
		{"battery_weight_thermal", c.BatteryWeightThermal},
	} {
		if !finite(f.value) || f.value < 0 {
			return configErrorf(f.name, "must be non-negative, got %v", f.value)
		}
	}
	for _, f := range []namedValue{
		{"gpu_bottleneck_multiplier", c.GPUBottleneckMultiplier},
		{"cpu_bottleneck_multiplier", c.CPUBottleneckMultiplier},
		{"thermal_limit_multiplier", c.ThermalLimitMultiplier},
		{"battery_multiplier", c.BatteryMultiplier},
	} {
		if !finite(f.value) || f.value <= 0 {
			return configErrorf(f.name, "must be positive, got %v", f.value)
		}
	}
	if !finite(c.ExpectedTickRate) || c.ExpectedTickRate <= 0 {
		return configErrorf("expected_tick_rate", "must be positive, got %v", c.ExpectedTickRate)
	}
	if n := c.RhythmCapacity(); n <= 0 {
		return configErrorf("rhythm_window", "covers %d ticks at %v Hz", n, c.ExpectedTickRate)
	}
	if c.Aggregation != AggregateProduct && c.Aggregation != AggregateGeometricMean {
		return configErrorf("aggregation", "unknown policy %d", int(c.Aggregation))
	}
	return c.Confidence.validate(c.ExpectedTickRate)
}

func (c ConfidenceConfig) validate(tickRate float64) error {
	if !finite(c.MuFloor) || c.MuFloor < 0 || c.MuFloor >= 1 {
		return configErrorf("mu_floor", "must be in [0,1), got %v", c.MuFloor)
	}
	if !(c.ThermalWarn >= 0 && c.ThermalWarn < c.ThermalCritical && c.ThermalCritical <= 1) {
		return configErrorf("thermal_warn", "need 0 <= warn < critical <= 1, got %v/%v", c.ThermalWarn, c.ThermalCritical)
	}
	if !finite(c.MaxPlausibleMuRate) || c.MaxPlausibleMuRate <= 0 {
		return configErrorf("max_plausible_mu_rate", "must be positive, got %v", c.MaxPlausibleMuRate)
	}
	if c.MuRecovery <= 0 {
		return configErrorf("mu_recovery", "must be positive, got %v", c.MuRecovery)
	}
	if !finite(c.TimingCVRef) || c.TimingCVRef <= 0 {
		return configErrorf("timing_cv_ref", "must be positive, got %v", c.TimingCVRef)
	}
	if !(c.TimingFloor > 0 && c.TimingFloor <= 1) {
		return configErrorf("timing_floor", "must be in (0,1], got %v", c.TimingFloor)
	}
	if n := windowCapacity(c.TimingWindow, tickRate); n <= 0 {
		return configErrorf("timing_window", "covers %d ticks", n)
	}
	if c.GainSmoothing < 0 {
		return configErrorf("gain_smoothing", "must not be negative, got %v", c.GainSmoothing)
	}
	total := 0.0
	for i, w := range c.Weights {
		if !finite(w) || w < 0 {
			return configErrorf("weight_"+Factor(i).String(), "must be non-negative, got %v", w)
		}
		total += w
	}
	if total <= 0 {
		return configErrorf("confidence_weights", "must not all be zero")
	}
	return nil
}

func checkRate(field string, v float64) error {
	if !(v > 0 && v <= 1) {
		return configErrorf(field, "must be in (0,1], got %v", v)
	}
	return nil
}
