// Package report summarizes and plots recorded comfort sessions.
package report

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/montanaflynn/stats"

	"github.com/banshee-data/comfort.gate/internal/crown"
)

// ErrNoTicks is returned when a session has nothing to summarize.
var ErrNoTicks = errors.New("session has no ticks")

// Summary describes a whole session.
type Summary struct {
	Ticks    int     `json:"ticks"`
	Duration float64 `json:"duration_s"`

	MeanEffective float64 `json:"mean_effective_comfort"`
	MinEffective  float64 `json:"min_effective_comfort"`
	P5Effective   float64 `json:"p5_effective_comfort"`
	P50Effective  float64 `json:"p50_effective_comfort"`
	MeanRaw       float64 `json:"mean_raw_comfort"`
	MeanGain      float64 `json:"mean_gain"`

	EmergencyTicks int `json:"emergency_ticks"`
	// EmergencyEpisodes counts distinct runs of consecutive emergency ticks.
	EmergencyEpisodes int `json:"emergency_episodes"`

	Bottlenecks     map[string]int     `json:"bottlenecks"`
	ConstraintMeans map[string]float64 `json:"constraint_means"`
	// WorstConstraint has the highest mean proximity.
	WorstConstraint string `json:"worst_constraint"`
}

// Summarize computes session statistics over outputs in tick order.
func Summarize(outputs []crown.Output) (Summary, error) {
	if len(outputs) == 0 {
		return Summary{}, ErrNoTicks
	}
	s := Summary{
		Ticks:           len(outputs),
		Bottlenecks:     make(map[string]int),
		ConstraintMeans: make(map[string]float64, crown.NumConstraints),
	}

	effective := make(stats.Float64Data, len(outputs))
	raw := make(stats.Float64Data, len(outputs))
	gain := make(stats.Float64Data, len(outputs))
	var proximity [crown.NumConstraints]stats.Float64Data
	inEmergency := false
	for i, o := range outputs {
		effective[i] = o.EffectiveComfort
		raw[i] = o.RawComfort
		gain[i] = o.Gain
		s.Duration += o.Dt
		for c, r := range o.Proximities {
			proximity[c] = append(proximity[c], r)
		}
		s.Bottlenecks[o.Bottleneck.String()]++
		if o.Emergency {
			s.EmergencyTicks++
			if !inEmergency {
				s.EmergencyEpisodes++
			}
		}
		inEmergency = o.Emergency
	}

	var err error
	if s.MeanEffective, err = effective.Mean(); err != nil {
		return Summary{}, fmt.Errorf("mean effective comfort: %w", err)
	}
	if s.MinEffective, err = effective.Min(); err != nil {
		return Summary{}, fmt.Errorf("min effective comfort: %w", err)
	}
	// Percentile rejects ranks below the first sample, so short sessions
	// report their minimum.
	s.P5Effective, err = effective.Percentile(5)
	if errors.Is(err, stats.ErrBounds) {
		s.P5Effective, err = s.MinEffective, nil
	}
	if err != nil {
		return Summary{}, fmt.Errorf("p5 effective comfort: %w", err)
	}
	if s.P50Effective, err = effective.Median(); err != nil {
		return Summary{}, fmt.Errorf("median effective comfort: %w", err)
	}
	if s.MeanRaw, err = raw.Mean(); err != nil {
		return Summary{}, fmt.Errorf("mean raw comfort: %w", err)
	}
	if s.MeanGain, err = gain.Mean(); err != nil {
		return Summary{}, fmt.Errorf("mean gain: %w", err)
	}

	worst := -1.0
	for c := range proximity {
		mean, err := proximity[c].Mean()
		if err != nil {
			return Summary{}, fmt.Errorf("mean proximity: %w", err)
		}
		name := crown.Constraint(c).String()
		s.ConstraintMeans[name] = mean
		if mean > worst {
			worst, s.WorstConstraint = mean, name
		}
	}
	return s, nil
}

// WriteText renders s as an aligned table.
func (s Summary) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ticks\t%d\n", s.Ticks)
	fmt.Fprintf(tw, "duration\t%.1fs\n", s.Duration)
	fmt.Fprintf(tw, "effective comfort\tmean %.3f  min %.3f  p5 %.3f  p50 %.3f\n",
		s.MeanEffective, s.MinEffective, s.P5Effective, s.P50Effective)
	fmt.Fprintf(tw, "raw comfort\tmean %.3f\n", s.MeanRaw)
	fmt.Fprintf(tw, "gain\tmean %.3f\n", s.MeanGain)
	fmt.Fprintf(tw, "emergency\t%d ticks in %d episodes\n", s.EmergencyTicks, s.EmergencyEpisodes)

	names := make([]string, 0, len(s.Bottlenecks))
	for name := range s.Bottlenecks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(tw, "bottleneck %s\t%d\n", name, s.Bottlenecks[name])
	}
	for c := 0; c < crown.NumConstraints; c++ {
		name := crown.Constraint(c).String()
		fmt.Fprintf(tw, "proximity %s\tmean %.3f\n", name, s.ConstraintMeans[name])
	}
	fmt.Fprintf(tw, "worst constraint\t%s\n", s.WorstConstraint)
	return tw.Flush()
}
