package crown

import "math"

// GateInputs carries everything the confidence gate consumes in one tick.
type GateInputs struct {
	Dt      float64
	Sensor  float64              // validity of the raw external inputs
	Thermal Reading              // authoritative thermal stress
	Deltas  [NumChannels]float64 // per-channel μ change of this tick
	Model   float64              // Crown consistency score
}

// ConfidenceGate estimates how far the comfort scalar can be trusted and
// turns that into a gain. Thermal is the only factor that reaches exactly
// zero in normal operation; the others floor or recover gradually.
type ConfidenceGate struct {
	cfg ConfidenceConfig

	timing *VarianceTracker

	mu       float64
	muPrimed bool

	gain       float64
	gainPrimed bool

	factors   [NumFactors]float64
	composite float64
	emergency bool
}

// NewConfidenceGate builds a gate whose timing window covers
// cfg.TimingWindow at tickRate.
func NewConfidenceGate(cfg ConfidenceConfig, tickRate float64) (*ConfidenceGate, error) {
	timing, err := NewVarianceTracker(windowCapacity(cfg.TimingWindow, tickRate))
	if err != nil {
		return nil, err
	}
	g := &ConfidenceGate{cfg: cfg, timing: timing}
	g.reset()
	return g, nil
}

// Update evaluates the five factors, the composite confidence and the
// gain. It returns the gain.
func (g *ConfidenceGate) Update(in GateInputs) float64 {
	dt := ClampDt(in.Dt)

	g.factors[FactorSensor] = unit(in.Sensor)
	g.factors[FactorTiming] = g.timingConfidence(dt)
	g.factors[FactorMu] = g.muConfidence(in.Deltas, dt)
	g.factors[FactorThermal] = g.thermalConfidence(in.Thermal)
	g.factors[FactorModel] = unit(in.Model)

	g.composite = Composite(g.factors, g.cfg.Weights)
	g.emergency = EmergencyGuard(g.factors, g.cfg.MuFloor)

	switch {
	case g.emergency:
		g.gain = 0
	case g.cfg.GainSmoothing <= 0 || !g.gainPrimed:
		g.gain = g.composite
	default:
		alpha := 1 - math.Exp(-dt/g.cfg.GainSmoothing.Seconds())
		g.gain += (g.composite - g.gain) * alpha
	}
	g.gain = clamp01(g.gain)
	g.gainPrimed = true
	return g.gain
}

func (g *ConfidenceGate) timingConfidence(dt float64) float64 {
	g.timing.Add(dt)
	if g.timing.Count() < 2 {
		return 1
	}
	mean := g.timing.Mean()
	if mean <= 0 {
		return g.cfg.TimingFloor
	}
	cv := math.Sqrt(g.timing.Variance()) / mean
	x := cv / g.cfg.TimingCVRef
	return math.Max(g.cfg.TimingFloor, 1/(1+x*x))
}

// muConfidence flags implausible per-tick jumps. A spike can at most halve
// the factor per tick; quiet ticks let it recover toward 1.
func (g *ConfidenceGate) muConfidence(deltas [NumChannels]float64, dt float64) float64 {
	if !g.muPrimed {
		// no baseline to measure a rate against yet
		g.muPrimed = true
		g.mu = 1
		return g.mu
	}

	maxDelta := 0.0
	for _, d := range deltas {
		if !finite(d) {
			maxDelta = math.Inf(1)
			break
		}
		maxDelta = math.Max(maxDelta, math.Abs(d))
	}
	rate := maxDelta / dt

	if rate > g.cfg.MaxPlausibleMuRate {
		g.mu *= math.Max(g.cfg.MaxPlausibleMuRate/rate, 0.5)
	} else {
		g.mu += (1 - g.mu) * (1 - math.Exp(-dt/g.cfg.MuRecovery.Seconds()))
	}
	g.mu = clamp01(g.mu)
	return g.mu
}

func (g *ConfidenceGate) thermalConfidence(r Reading) float64 {
	if !r.Valid || !finite(r.Value) {
		return 1
	}
	s := clamp01(r.Value)
	switch {
	case s <= g.cfg.ThermalWarn:
		return 1
	case s >= g.cfg.ThermalCritical:
		return 0
	}
	return (g.cfg.ThermalCritical - s) / (g.cfg.ThermalCritical - g.cfg.ThermalWarn)
}

// Composite is the weighted geometric mean of the factors. Any factor at
// zero with a non-zero weight yields zero.
func Composite(factors [NumFactors]float64, weights [NumFactors]float64) float64 {
	sum, total := 0.0, 0.0
	for i, f := range factors {
		w := weights[i]
		if w <= 0 {
			continue
		}
		if f <= 0 {
			return 0
		}
		sum += w * math.Log(f)
		total += w
	}
	if total == 0 {
		return 0
	}
	return clamp01(math.Exp(sum / total))
}

// EmergencyGuard reports whether the gain must be forced to zero.
func EmergencyGuard(factors [NumFactors]float64, muFloor float64) bool {
	return factors[FactorThermal] <= 0 ||
		factors[FactorSensor] <= 0 ||
		factors[FactorMu] < muFloor
}

// Gain returns the current gain in [0,1].
func (g *ConfidenceGate) Gain() float64 { return g.gain }

// Confidence returns the composite confidence.
func (g *ConfidenceGate) Confidence() float64 { return g.composite }

// Factors returns the five factors of the last update.
func (g *ConfidenceGate) Factors() [NumFactors]float64 { return g.factors }

// Emergency reports whether the last update tripped the guard.
func (g *ConfidenceGate) Emergency() bool { return g.emergency }

// EffectiveComfort gates a raw comfort value.
func (g *ConfidenceGate) EffectiveComfort(raw float64) float64 { return raw * g.gain }

// configure swaps the tuning, resizing the timing window if needed.
func (g *ConfidenceGate) configure(cfg ConfidenceConfig, tickRate float64) error {
	timing, err := g.timing.Resized(windowCapacity(cfg.TimingWindow, tickRate))
	if err != nil {
		return err
	}
	g.timing = timing
	g.cfg = cfg
	return nil
}

func (g *ConfidenceGate) reset() {
	g.timing.Reset()
	g.mu, g.muPrimed = 1, false
	g.gain, g.gainPrimed = 1, false
	for i := range g.factors {
		g.factors[i] = 1
	}
	g.composite = 1
	g.emergency = false
}

func unit(v float64) float64 {
	if !finite(v) {
		return 0
	}
	return clamp01(v)
}
