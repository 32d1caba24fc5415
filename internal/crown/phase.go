package crown

import "math"

const (
	// MinTickInterval floors dt before any division.
	MinTickInterval = 1.0 / 120.0
	// MaxTickInterval caps dt; a longer gap is treated as one stalled second.
	MaxTickInterval = 1.0
	// MaxPhaseVelocity bounds |velocity| in rad/s.
	MaxPhaseVelocity = 10.0
)

const twoPi = 2 * math.Pi

// ClampDt returns a dt safe to divide by.
func ClampDt(dt float64) float64 {
	switch {
	case math.IsNaN(dt), dt < MinTickInterval:
		return MinTickInterval
	case dt > MaxTickInterval:
		return MaxTickInterval
	}
	return dt
}

// WrapAngle reduces a to [0, 2π).
func WrapAngle(a float64) float64 {
	w := math.Mod(a, twoPi)
	if w < 0 {
		w += twoPi
	}
	if w >= twoPi {
		w = 0
	}
	return w
}

// WrappedDistance is the shortest angular distance between a and b, in
// [0, π]. It is symmetric and zero for equal angles.
func WrappedDistance(a, b float64) float64 {
	d := math.Abs(WrapAngle(a) - WrapAngle(b))
	if d > math.Pi {
		d = twoPi - d
	}
	return d
}

// PhaseChannel is one tracked phase.
type PhaseChannel struct {
	ID       Channel
	Angle    float64
	Previous float64
	Velocity float64 // rad/s, clamped to ±MaxPhaseVelocity
}

// PhaseTracker caches the phase vector once per tick, derives clamped
// angular velocities and keeps the controller rhythm history.
type PhaseTracker struct {
	channels [NumChannels]PhaseChannel
	vector   [NumChannels]float64
	primed   bool
	rhythm   *VarianceTracker
}

// NewPhaseTracker returns a tracker whose rhythm window holds
// rhythmCapacity per-tick controller deltas.
func NewPhaseTracker(rhythmCapacity int) (*PhaseTracker, error) {
	rhythm, err := NewVarianceTracker(rhythmCapacity)
	if err != nil {
		return nil, err
	}
	p := &PhaseTracker{rhythm: rhythm}
	for _, ch := range Channels() {
		p.channels[ch].ID = ch
	}
	return p, nil
}

// Update takes this tick's angles. Velocities are computed from the
// previous tick's angles, then the controller delta joins the rhythm
// history. The first update only establishes the baseline.
func (p *PhaseTracker) Update(angles [NumChannels]float64, dt float64) {
	dt = ClampDt(dt)
	prevController := p.channels[Controller].Angle

	for i := range p.channels {
		c := &p.channels[i]
		if !p.primed {
			c.Previous = angles[i]
		} else {
			c.Previous = c.Angle
		}
		c.Angle = angles[i]
		c.Velocity = clamp((c.Angle-c.Previous)/dt, -MaxPhaseVelocity, MaxPhaseVelocity)
		p.vector[i] = WrapAngle(c.Angle)
	}

	if p.primed {
		p.rhythm.Add(WrappedDistance(p.channels[Controller].Angle, prevController))
	}
	p.primed = true
}

// Vector returns the phase vector of the current tick, wrapped to [0, 2π).
func (p *PhaseTracker) Vector() [NumChannels]float64 { return p.vector }

// Angle returns the raw angle of ch supplied this tick.
func (p *PhaseTracker) Angle(ch Channel) float64 { return p.channels[ch].Angle }

// Velocity returns the clamped angular velocity of ch.
func (p *PhaseTracker) Velocity(ch Channel) float64 { return p.channels[ch].Velocity }

// Channel returns a copy of one phase channel.
func (p *PhaseTracker) Channel(ch Channel) PhaseChannel { return p.channels[ch] }

// AbsVelocitySum is Σ|velocity| over all channels.
func (p *PhaseTracker) AbsVelocitySum() float64 {
	total := 0.0
	for _, c := range p.channels {
		total += math.Abs(c.Velocity)
	}
	return total
}

// Distance is the wrapped distance between two channels' current angles.
func (p *PhaseTracker) Distance(a, b Channel) float64 {
	return WrappedDistance(p.channels[a].Angle, p.channels[b].Angle)
}

// RhythmVariance is the variance of recent controller deltas.
func (p *PhaseTracker) RhythmVariance() float64 { return p.rhythm.Variance() }

// Rhythm exposes the rhythm history.
func (p *PhaseTracker) Rhythm() *VarianceTracker { return p.rhythm }

func (p *PhaseTracker) reset() {
	for i := range p.channels {
		p.channels[i] = PhaseChannel{ID: Channel(i)}
		p.vector[i] = 0
	}
	p.primed = false
	p.rhythm.Reset()
}
