package crown

import (
	"fmt"
	"math"
)

// Channel identifies one of the six μ/phase channels.
type Channel int

const (
	Head Channel = iota
	Stereo
	Jitter
	Controller
	Audio
	Thermal
)

// NumChannels is the fixed number of μ and phase channels.
const NumChannels = 6

var channelNames = [NumChannels]string{"head", "stereo", "jitter", "controller", "audio", "thermal"}

func (c Channel) String() string {
	if c < 0 || int(c) >= NumChannels {
		return fmt.Sprintf("channel(%d)", int(c))
	}
	return channelNames[c]
}

// Channels lists every channel in injection order.
func Channels() [NumChannels]Channel {
	return [NumChannels]Channel{Head, Stereo, Jitter, Controller, Audio, Thermal}
}

// Constraint identifies one of the six Crown constraint slots C1..C6.
type Constraint int

const (
	PhaseCoherence    Constraint = iota // C1
	AttentionLoad                       // C2
	MotionSickness                      // C3
	InteractionRhythm                   // C4
	SensoryBandwidth                    // C5
	CognitiveOverhead                   // C6
)

// NumConstraints is the fixed number of Crown constraints.
const NumConstraints = 6

var constraintNames = [NumConstraints]string{
	"phase_coherence", "attention_load", "motion_sickness",
	"interaction_rhythm", "sensory_bandwidth", "cognitive_overhead",
}

func (c Constraint) String() string {
	if c < 0 || int(c) >= NumConstraints {
		return fmt.Sprintf("constraint(%d)", int(c))
	}
	return constraintNames[c]
}

// Bottleneck is the dominant hardware stress source of a tick.
type Bottleneck int

const (
	BottleneckNone Bottleneck = iota
	BottleneckGPU
	BottleneckCPU
	BottleneckThermal
	BottleneckBattery
)

func (b Bottleneck) String() string {
	switch b {
	case BottleneckNone:
		return "none"
	case BottleneckGPU:
		return "gpu"
	case BottleneckCPU:
		return "cpu"
	case BottleneckThermal:
		return "thermal"
	case BottleneckBattery:
		return "battery"
	default:
		return fmt.Sprintf("bottleneck(%d)", int(b))
	}
}

// Reading is one externally supplied scalar. A reading with Valid unset
// comes from an absent monitor and is skipped rather than treated as zero.
type Reading struct {
	Value float64
	Valid bool
}

// Sample returns a valid reading carrying v.
func Sample(v float64) Reading { return Reading{Value: v, Valid: true} }

// HardwareStress carries the normalized [0,1] hardware stress signals.
type HardwareStress struct {
	GPU     Reading
	CPU     Reading
	Thermal Reading
	Battery Reading
}

// Inputs is the per-tick snapshot pushed by the external monitors.
type Inputs struct {
	// Phase holds the six phase angles in radians, any range.
	Phase [NumChannels]float64
	// Hardware feeds the injection table and bottleneck detection.
	Hardware HardwareStress
	// Channel carries direct per-channel tracking stress in [0,1].
	Channel [NumChannels]Reading
	// SensorValidity is the acquisition layer's own trust in its readings.
	// When absent the core relies on its boundary checks alone.
	SensorValidity Reading
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
