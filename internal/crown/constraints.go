package crown

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	// MaxProximity is the upper clamp of every r_i.
	MaxProximity = 1.5
	// bottleneckLevel is the minimum stress that can name a bottleneck.
	bottleneckLevel = 0.5
	// geometricFloor keeps log() finite in the geometric-mean policy.
	geometricFloor = 1e-9
)

// SmoothThreshold maps a proximity to a safety factor in (0,1]. It is
// continuous at 0.5 and 1 and non-increasing.
func SmoothThreshold(r float64) float64 {
	switch {
	case r < 0.5:
		return 1
	case r < 1:
		d := r - 0.5
		return math.Exp(-4 * d * d)
	default:
		return math.Exp(-1) * math.Exp(-2*(r-1))
	}
}

// Aggregate folds six safety factors into a comfort scalar in [0,1].
func Aggregate(policy Aggregation, factors [NumConstraints]float64) float64 {
	switch policy {
	case AggregateGeometricMean:
		sum := 0.0
		for _, f := range factors {
			sum += math.Log(math.Max(f, geometricFloor))
		}
		return clamp01(math.Exp(sum / NumConstraints))
	default:
		p := 1.0
		for _, f := range factors {
			p *= f
		}
		return clamp01(p)
	}
}

// DetectBottleneck returns the strongest valid hardware stress at or above
// 0.5. Ties resolve GPU, CPU, Thermal, Battery in that order.
func DetectBottleneck(hw HardwareStress) Bottleneck {
	best, level := BottleneckNone, bottleneckLevel
	for _, c := range []struct {
		b Bottleneck
		r Reading
	}{
		{BottleneckGPU, hw.GPU},
		{BottleneckCPU, hw.CPU},
		{BottleneckThermal, hw.Thermal},
		{BottleneckBattery, hw.Battery},
	} {
		if c.r.Valid && finite(c.r.Value) && c.r.Value >= level && (best == BottleneckNone || c.r.Value > level) {
			best, level = c.b, c.r.Value
		}
	}
	return best
}

// DynamicWeights resets all weights to 1 and scales the ones selected by
// the bottleneck.
func DynamicWeights(b Bottleneck, cfg Config) [NumConstraints]float64 {
	var w [NumConstraints]float64
	for i := range w {
		w[i] = 1
	}
	switch b {
	case BottleneckNone:
	case BottleneckGPU:
		w[SensoryBandwidth] *= cfg.GPUBottleneckMultiplier
	case BottleneckCPU:
		w[InteractionRhythm] *= cfg.CPUBottleneckMultiplier
	case BottleneckThermal:
		for i := range w {
			w[i] *= cfg.ThermalLimitMultiplier
		}
	case BottleneckBattery:
		for i := range w {
			w[i] *= cfg.BatteryMultiplier
		}
	}
	return w
}

// Proximity computes clamp(raw/κ·weight, 0, MaxProximity). Non-finite
// input reports the worst case.
func Proximity(raw, kappa, weight float64) float64 {
	r := raw / kappa * weight
	if math.IsNaN(r) {
		return MaxProximity
	}
	return clamp(r, 0, MaxProximity)
}

// CrownEngine evaluates the six constraints for one tick and aggregates
// them into the raw comfort scalar.
type CrownEngine struct {
	cfg         Config
	bottleneck  Bottleneck
	weights     [NumConstraints]float64
	raw         [NumConstraints]float64
	proximities [NumConstraints]float64
	comfort     float64
}

// NewCrownEngine returns an engine reporting full comfort until evaluated.
func NewCrownEngine(cfg Config) *CrownEngine {
	c := &CrownEngine{cfg: cfg, comfort: 1}
	c.weights = DynamicWeights(BottleneckNone, cfg)
	return c
}

// Reweight detects the bottleneck of this tick and rebuilds the weights
// from scratch.
func (c *CrownEngine) Reweight(hw HardwareStress) Bottleneck {
	c.bottleneck = DetectBottleneck(hw)
	c.weights = DynamicWeights(c.bottleneck, c.cfg)
	return c.bottleneck
}

// Evaluate computes the six proximities from channel and phase state and
// returns the raw comfort scalar.
func (c *CrownEngine) Evaluate(mu *StressChannelBank, phase *PhaseTracker) float64 {
	vec := phase.Vector()
	all := Channels()

	c.raw[PhaseCoherence] = stat.PopVariance(vec[:], nil)
	c.raw[AttentionLoad] = mu.Sum(Head, Controller, Jitter)
	c.raw[MotionSickness] = c.cfg.MotionHeadStereoWeight*phase.Distance(Head, Stereo) +
		c.cfg.MotionHeadJitterWeight*phase.Distance(Head, Jitter)
	c.raw[InteractionRhythm] = phase.RhythmVariance()
	c.raw[SensoryBandwidth] = mu.Sum(Stereo, Audio, Jitter)
	c.raw[CognitiveOverhead] = mu.Sum(all[:]...) + c.cfg.VelocityWeight*phase.AbsVelocitySum()

	var factors [NumConstraints]float64
	for i := range c.raw {
		c.proximities[i] = Proximity(c.raw[i], c.cfg.Thresholds[i], c.weights[i])
		factors[i] = SmoothThreshold(c.proximities[i])
	}
	c.comfort = Aggregate(c.cfg.Aggregation, factors)
	return c.comfort
}

// Comfort returns the last raw comfort scalar.
func (c *CrownEngine) Comfort() float64 { return c.comfort }

// Threat is 1 − comfort.
func (c *CrownEngine) Threat() float64 { return 1 - c.comfort }

// Proximities returns r_1..r_6.
func (c *CrownEngine) Proximities() [NumConstraints]float64 { return c.proximities }

// Raw returns the unnormalized constraint signals.
func (c *CrownEngine) Raw() [NumConstraints]float64 { return c.raw }

// Weights returns the dynamic weights of the current tick.
func (c *CrownEngine) Weights() [NumConstraints]float64 { return c.weights }

// Bottleneck returns the bottleneck detected this tick.
func (c *CrownEngine) Bottleneck() Bottleneck { return c.bottleneck }

// Proximity returns r_i, or a RangeError for i outside [0,5].
func (c *CrownEngine) Proximity(i int) (float64, error) {
	if i < 0 || i >= NumConstraints {
		return 0, &RangeError{Index: i, Limit: NumConstraints}
	}
	return c.proximities[i], nil
}

// ModelConfidence checks that the last evaluation is internally
// consistent. It returns 1 when every check passes, otherwise the passing
// fraction with a floor of 0.1.
func (c *CrownEngine) ModelConfidence() float64 {
	passed, total := 0, 0
	check := func(ok bool) {
		total++
		if ok {
			passed++
		}
	}
	for i := range c.raw {
		check(finite(c.raw[i]) && c.raw[i] >= 0)
		check(finite(c.proximities[i]) && c.proximities[i] >= 0 && c.proximities[i] <= MaxProximity)
		check(finite(c.weights[i]) && c.weights[i] > 0)
	}
	check(finite(c.comfort) && c.comfort >= 0 && c.comfort <= 1)
	if passed == total {
		return 1
	}
	return math.Max(0.1, float64(passed)/float64(total))
}
