package crown

// thermalControllerCoupling is the fixed share of thermal stress that also
// loads the controller channel.
const thermalControllerCoupling = 0.1

// HardwareSource names an input of the injection table.
type HardwareSource int

const (
	SourceGPU HardwareSource = iota
	SourceCPU
	SourceThermal
	SourceBattery
)

func (h HardwareStress) reading(s HardwareSource) Reading {
	switch s {
	case SourceGPU:
		return h.GPU
	case SourceCPU:
		return h.CPU
	case SourceThermal:
		return h.Thermal
	case SourceBattery:
		return h.Battery
	}
	return Reading{}
}

// StressChannel is one damped μ channel. Value stays in [0,1].
type StressChannel struct {
	ID        Channel
	Value     float64
	RiseRate  float64
	DecayRate float64
}

type injection struct {
	source HardwareSource
	target Channel
	weight float64
}

// StressChannelBank holds the six μ channels. Each Step decays every
// channel and then applies the injections in table order; later
// injections see the clamped result of earlier ones.
type StressChannelBank struct {
	channels    [NumChannels]StressChannel
	table       []injection
	uniform     bool
	uniformRate float64
	before      [NumChannels]float64
	deltas      [NumChannels]float64
}

// NewStressChannelBank builds a bank with every channel at zero.
func NewStressChannelBank(cfg Config) *StressChannelBank {
	b := &StressChannelBank{}
	for _, ch := range Channels() {
		b.channels[ch] = StressChannel{ID: ch}
	}
	b.configure(cfg)
	return b
}

// configure swaps rates and weights while keeping channel values.
func (b *StressChannelBank) configure(cfg Config) {
	for _, ch := range Channels() {
		b.channels[ch].RiseRate = cfg.RiseRates[ch]
		b.channels[ch].DecayRate = cfg.DecayRates[ch]
	}
	b.uniform = cfg.UniformDecay
	b.uniformRate = cfg.UniformDecayRate
	b.table = []injection{
		{SourceGPU, Controller, cfg.GPUWeightCoherence},
		{SourceGPU, Head, cfg.GPUWeightHead},
		{SourceCPU, Controller, cfg.CPUWeightCoherence},
		{SourceThermal, Thermal, cfg.ThermalWeightThermal},
		{SourceThermal, Controller, thermalControllerCoupling},
		{SourceBattery, Thermal, cfg.BatteryWeightThermal},
	}
}

// Step runs one tick: decay, hardware injection, then direct channel
// stress. Invalid readings are skipped and their channels keep decaying.
func (b *StressChannelBank) Step(hw HardwareStress, direct [NumChannels]Reading) {
	for i := range b.channels {
		b.before[i] = b.channels[i].Value
	}

	b.Decay()
	for _, inj := range b.table {
		r := hw.reading(inj.source)
		if !r.Valid {
			continue
		}
		b.Inject(inj.target, r.Value*inj.weight)
	}
	for _, ch := range Channels() {
		if direct[ch].Valid {
			b.Inject(ch, direct[ch].Value)
		}
	}

	for i := range b.channels {
		b.deltas[i] = b.channels[i].Value - b.before[i]
	}
}

// Decay multiplies every channel by its retention constant.
func (b *StressChannelBank) Decay() {
	for i := range b.channels {
		rate := b.channels[i].DecayRate
		if b.uniform {
			rate = b.uniformRate
		}
		b.channels[i].Value = clamp01(b.channels[i].Value * rate)
	}
}

// Inject adds weighted stress to one channel, scaled by its rise rate
// unless the uniform policy is active.
func (b *StressChannelBank) Inject(ch Channel, stress float64) {
	if !finite(stress) {
		return
	}
	delta := stress
	if !b.uniform {
		delta *= b.channels[ch].RiseRate
	}
	b.channels[ch].Value = clamp01(b.channels[ch].Value + delta)
}

// Value returns the current μ of ch.
func (b *StressChannelBank) Value(ch Channel) float64 { return b.channels[ch].Value }

// Values returns all six μ values.
func (b *StressChannelBank) Values() [NumChannels]float64 {
	var out [NumChannels]float64
	for i, c := range b.channels {
		out[i] = c.Value
	}
	return out
}

// Deltas returns the per-channel change produced by the last Step.
func (b *StressChannelBank) Deltas() [NumChannels]float64 { return b.deltas }

// Channel returns a copy of one channel.
func (b *StressChannelBank) Channel(ch Channel) StressChannel { return b.channels[ch] }

// Sum returns μ summed over the given channels.
func (b *StressChannelBank) Sum(chs ...Channel) float64 {
	total := 0.0
	for _, ch := range chs {
		total += b.channels[ch].Value
	}
	return total
}

func (b *StressChannelBank) reset() {
	for i := range b.channels {
		b.channels[i].Value = 0
		b.before[i] = 0
		b.deltas[i] = 0
	}
}
