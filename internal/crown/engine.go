package crown

import (
	"fmt"
	"strings"

	"github.com/banshee-data/comfort.gate/internal/monitoring"
)

// Output is the published result of one tick.
type Output struct {
	Tick             uint64                  `json:"tick"`
	Dt               float64                 `json:"dt"`
	RawComfort       float64                 `json:"raw_comfort"`
	Threat           float64                 `json:"threat"`
	Proximities      [NumConstraints]float64 `json:"proximities"`
	Weights          [NumConstraints]float64 `json:"weights"`
	Channels         [NumChannels]float64    `json:"channels"`
	Factors          [NumFactors]float64     `json:"factors"`
	Confidence       float64                 `json:"confidence"`
	Gain             float64                 `json:"gain"`
	EffectiveComfort float64                 `json:"effective_comfort"`
	Bottleneck       Bottleneck              `json:"bottleneck"`
	Emergency        bool                    `json:"emergency"`
}

// Proximity returns r_i, or a RangeError for i outside [0,5].
func (o Output) Proximity(i int) (float64, error) {
	if i < 0 || i >= NumConstraints {
		return 0, &RangeError{Index: i, Limit: NumConstraints}
	}
	return o.Proximities[i], nil
}

// Factor returns one confidence factor.
func (o Output) Factor(f Factor) float64 { return o.Factors[f] }

// MarshalText encodes the bottleneck by name.
func (b Bottleneck) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// UnmarshalText accepts the names produced by MarshalText.
func (b *Bottleneck) UnmarshalText(text []byte) error {
	v, err := ParseBottleneck(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// ParseBottleneck parses a bottleneck name.
func ParseBottleneck(s string) (Bottleneck, error) {
	for b := BottleneckNone; b <= BottleneckBattery; b++ {
		if strings.EqualFold(s, b.String()) {
			return b, nil
		}
	}
	return BottleneckNone, fmt.Errorf("unknown bottleneck %q", s)
}

// Engine runs the comfort estimation core one tick at a time. It owns all
// channel, phase, constraint and confidence state and is not safe for
// concurrent use.
type Engine struct {
	cfg   Config
	bank  *StressChannelBank
	phase *PhaseTracker
	crown *CrownEngine
	gate  *ConfidenceGate

	tick uint64
	last Output
}

// NewEngine validates cfg and builds an engine at rest: all channels at
// zero, no phase baseline, full comfort and gain.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	phase, err := NewPhaseTracker(cfg.RhythmCapacity())
	if err != nil {
		return nil, err
	}
	gate, err := NewConfidenceGate(cfg.Confidence, cfg.ExpectedTickRate)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:   cfg,
		bank:  NewStressChannelBank(cfg),
		phase: phase,
		crown: NewCrownEngine(cfg),
		gate:  gate,
	}
	e.last = e.restingOutput()
	return e, nil
}

// Tick advances the engine by one control tick and returns its outputs.
// The order is fixed: channel decay and injection, weight reset and
// scaling, phase velocities and rhythm history, constraints, comfort,
// confidence factors, gain.
func (e *Engine) Tick(dt float64, in Inputs) Output {
	dtUsed := ClampDt(dt)
	clean, sensor := e.sanitize(in)

	e.bank.Step(clean.Hardware, clean.Channel)
	bottleneck := e.crown.Reweight(clean.Hardware)
	e.phase.Update(clean.Phase, dtUsed)
	raw := e.crown.Evaluate(e.bank, e.phase)
	gain := e.gate.Update(GateInputs{
		Dt:      dtUsed,
		Sensor:  sensor,
		Thermal: clean.Hardware.Thermal,
		Deltas:  e.bank.Deltas(),
		Model:   e.crown.ModelConfidence(),
	})

	e.tick++
	out := Output{
		Tick:             e.tick,
		Dt:               dtUsed,
		RawComfort:       raw,
		Threat:           1 - raw,
		Proximities:      e.crown.Proximities(),
		Weights:          e.crown.Weights(),
		Channels:         e.bank.Values(),
		Factors:          e.gate.Factors(),
		Confidence:       e.gate.Confidence(),
		Gain:             gain,
		EffectiveComfort: raw * gain,
		Bottleneck:       bottleneck,
		Emergency:        e.gate.Emergency(),
	}
	e.logTransitions(e.last, out)
	e.last = out
	return out
}

// sanitize validates inputs at the boundary. Non-finite readings are
// dropped, out-of-range ones clamped, non-finite angles hold their last
// value. The returned sensor validity is the fraction of clean readings,
// scaled by the acquisition layer's own validity when it reports one.
func (e *Engine) sanitize(in Inputs) (Inputs, float64) {
	passed, total := 0, 0
	check := func(r Reading) Reading {
		if !r.Valid {
			return r
		}
		total++
		switch {
		case !finite(r.Value):
			return Reading{}
		case r.Value < 0 || r.Value > 1:
			return Sample(clamp01(r.Value))
		}
		passed++
		return r
	}

	out := in
	out.Hardware.GPU = check(in.Hardware.GPU)
	out.Hardware.CPU = check(in.Hardware.CPU)
	out.Hardware.Thermal = check(in.Hardware.Thermal)
	out.Hardware.Battery = check(in.Hardware.Battery)
	for i := range in.Channel {
		out.Channel[i] = check(in.Channel[i])
	}
	for i, a := range in.Phase {
		total++
		if !finite(a) {
			out.Phase[i] = e.phase.Angle(Channel(i))
			continue
		}
		passed++
	}

	validity := float64(passed) / float64(total)
	if in.SensorValidity.Valid {
		validity *= unit(in.SensorValidity.Value)
	}
	return out, validity
}

func (e *Engine) logTransitions(prev, next Output) {
	if next.Emergency && !prev.Emergency {
		monitoring.Logf("crown: emergency veto at tick %d (sensor=%.3f mu=%.3f thermal=%.3f)",
			next.Tick, next.Factors[FactorSensor], next.Factors[FactorMu], next.Factors[FactorThermal])
	}
	if prev.Emergency && !next.Emergency {
		monitoring.Logf("crown: emergency cleared at tick %d", next.Tick)
	}
	if next.Bottleneck != prev.Bottleneck {
		monitoring.Logf("crown: bottleneck %s -> %s at tick %d", prev.Bottleneck, next.Bottleneck, next.Tick)
	}
}

// Latest returns the outputs of the most recent tick.
func (e *Engine) Latest() Output { return e.last }

// Proximity returns r_i of the most recent tick, or a RangeError.
func (e *Engine) Proximity(i int) (float64, error) { return e.crown.Proximity(i) }

// EffectiveComfort gates raw with the current gain.
func (e *Engine) EffectiveComfort(raw float64) float64 { return e.gate.EffectiveComfort(raw) }

// Ticks returns how many ticks have run since construction or Reset.
func (e *Engine) Ticks() uint64 { return e.tick }

// Config returns the active configuration.
func (e *Engine) Config() Config { return e.cfg }

// Bank exposes the μ channels for inspection.
func (e *Engine) Bank() *StressChannelBank { return e.bank }

// Phase exposes the phase tracker for inspection.
func (e *Engine) Phase() *PhaseTracker { return e.phase }

// Reconfigure swaps the configuration between ticks. Channel values,
// phase baselines and confidence state survive; history windows are
// resized keeping their newest samples. On error nothing changes.
func (e *Engine) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	rhythm, err := e.phase.rhythm.Resized(cfg.RhythmCapacity())
	if err != nil {
		return err
	}
	if err := e.gate.configure(cfg.Confidence, cfg.ExpectedTickRate); err != nil {
		return err
	}
	e.phase.rhythm = rhythm
	e.bank.configure(cfg)
	e.crown.cfg = cfg
	e.cfg = cfg
	return nil
}

// Reset returns the engine to its construction state.
func (e *Engine) Reset() {
	e.bank.reset()
	e.phase.reset()
	e.crown = NewCrownEngine(e.cfg)
	e.gate.reset()
	e.tick = 0
	e.last = e.restingOutput()
}

func (e *Engine) restingOutput() Output {
	return Output{
		RawComfort:       1,
		Proximities:      e.crown.Proximities(),
		Weights:          e.crown.Weights(),
		Channels:         e.bank.Values(),
		Factors:          e.gate.Factors(),
		Confidence:       1,
		Gain:             1,
		EffectiveComfort: 1,
	}
}
