package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/comfort.gate/internal/crown"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the on-disk tuning of the comfort engine. Every field is
// optional; omitted fields fall back to the defaults returned by the Get*
// methods, so partial files are safe. The same JSON shape is served by
// the status API.
type TuningConfig struct {
	// Per-constraint thresholds κ, keyed by constraint name.
	Thresholds map[string]float64 `json:"thresholds,omitempty"`

	// Per-channel decay and rise rates, keyed by channel name.
	DecayRates       map[string]float64 `json:"decay_rates,omitempty"`
	RiseRates        map[string]float64 `json:"rise_rates,omitempty"`
	UniformDecay     *bool              `json:"uniform_decay,omitempty"`
	UniformDecayRate *float64           `json:"uniform_decay_rate,omitempty"`

	// Constraint signal weights
	MotionHeadStereoWeight *float64 `json:"motion_head_stereo_weight,omitempty"`
	MotionHeadJitterWeight *float64 `json:"motion_head_jitter_weight,omitempty"`
	VelocityWeight         *float64 `json:"velocity_weight,omitempty"`

	// Bottleneck multipliers
	GPUBottleneckMultiplier *float64 `json:"gpu_bottleneck_multiplier,omitempty"`
	CPUBottleneckMultiplier *float64 `json:"cpu_bottleneck_multiplier,omitempty"`
	ThermalLimitMultiplier  *float64 `json:"thermal_limit_multiplier,omitempty"`
	BatteryMultiplier       *float64 `json:"battery_multiplier,omitempty"`

	// Hardware injection table weights
	GPUWeightCoherence   *float64 `json:"gpu_weight_coherence,omitempty"`
	GPUWeightHead        *float64 `json:"gpu_weight_head,omitempty"`
	CPUWeightCoherence   *float64 `json:"cpu_weight_coherence,omitempty"`
	ThermalWeightThermal *float64 `json:"thermal_weight_thermal,omitempty"`
	BatteryWeightThermal *float64 `json:"battery_weight_thermal,omitempty"`

	RhythmWindow     *string  `json:"rhythm_window,omitempty"` // duration string like "2s"
	ExpectedTickRate *float64 `json:"expected_tick_rate,omitempty"`
	Aggregation      *string  `json:"aggregation,omitempty"` // "product" or "geometric_mean"

	// Confidence gate
	MuFloor            *float64           `json:"mu_floor,omitempty"`
	ThermalWarn        *float64           `json:"thermal_warn,omitempty"`
	ThermalCritical    *float64           `json:"thermal_critical,omitempty"`
	MaxPlausibleMuRate *float64           `json:"max_plausible_mu_rate,omitempty"`
	MuRecovery         *string            `json:"mu_recovery,omitempty"`
	TimingCVRef        *float64           `json:"timing_cv_ref,omitempty"`
	TimingFloor        *float64           `json:"timing_floor,omitempty"`
	TimingWindow       *string            `json:"timing_window,omitempty"`
	GainSmoothing      *string            `json:"gain_smoothing,omitempty"`
	ConfidenceWeights  map[string]float64 `json:"confidence_weights,omitempty"`
}

var defaults = crown.DefaultConfig()

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads and validates a TuningConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseTuningConfig(data)
}

// ParseTuningConfig decodes and validates tuning JSON. Unknown fields are
// rejected so typos do not silently fall back to defaults.
func ParseTuningConfig(data []byte) (*TuningConfig, error) {
	cfg := EmptyTuningConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upward from the
// working directory. It panics when the file cannot be found; intended for
// tests and tools run from inside the repository.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate checks that every set field is usable by the engine.
func (c *TuningConfig) Validate() error {
	_, err := c.EngineConfig()
	return err
}

// EngineConfig builds the engine configuration, filling unset fields
// with defaults. The result has passed crown.Config.Validate.
func (c *TuningConfig) EngineConfig() (crown.Config, error) {
	out := crown.DefaultConfig()

	if err := overlay(out.Thresholds[:], c.Thresholds, "thresholds", constraintNames()); err != nil {
		return crown.Config{}, err
	}
	if err := overlay(out.DecayRates[:], c.DecayRates, "decay_rates", channelNames()); err != nil {
		return crown.Config{}, err
	}
	if err := overlay(out.RiseRates[:], c.RiseRates, "rise_rates", channelNames()); err != nil {
		return crown.Config{}, err
	}
	if err := overlay(out.Confidence.Weights[:], c.ConfidenceWeights, "confidence_weights", factorNames()); err != nil {
		return crown.Config{}, err
	}

	out.UniformDecay = c.GetUniformDecay()
	out.UniformDecayRate = c.GetUniformDecayRate()
	out.MotionHeadStereoWeight = c.GetMotionHeadStereoWeight()
	out.MotionHeadJitterWeight = c.GetMotionHeadJitterWeight()
	out.VelocityWeight = c.GetVelocityWeight()
	out.GPUBottleneckMultiplier = c.GetGPUBottleneckMultiplier()
	out.CPUBottleneckMultiplier = c.GetCPUBottleneckMultiplier()
	out.ThermalLimitMultiplier = c.GetThermalLimitMultiplier()
	out.BatteryMultiplier = c.GetBatteryMultiplier()
	out.GPUWeightCoherence = c.GetGPUWeightCoherence()
	out.GPUWeightHead = c.GetGPUWeightHead()
	out.CPUWeightCoherence = c.GetCPUWeightCoherence()
	out.ThermalWeightThermal = c.GetThermalWeightThermal()
	out.BatteryWeightThermal = c.GetBatteryWeightThermal()
	out.ExpectedTickRate = c.GetExpectedTickRate()

	out.Confidence.MuFloor = c.GetMuFloor()
	out.Confidence.ThermalWarn = c.GetThermalWarn()
	out.Confidence.ThermalCritical = c.GetThermalCritical()
	out.Confidence.MaxPlausibleMuRate = c.GetMaxPlausibleMuRate()
	out.Confidence.TimingCVRef = c.GetTimingCVRef()
	out.Confidence.TimingFloor = c.GetTimingFloor()

	var err error
	if out.Aggregation, err = crown.ParseAggregation(c.GetAggregation()); err != nil {
		return crown.Config{}, err
	}
	for _, d := range []struct {
		name string
		raw  *string
		dst  *time.Duration
	}{
		{"rhythm_window", c.RhythmWindow, &out.RhythmWindow},
		{"mu_recovery", c.MuRecovery, &out.Confidence.MuRecovery},
		{"timing_window", c.TimingWindow, &out.Confidence.TimingWindow},
		{"gain_smoothing", c.GainSmoothing, &out.Confidence.GainSmoothing},
	} {
		if d.raw == nil || *d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(*d.raw)
		if err != nil {
			return crown.Config{}, fmt.Errorf("invalid %s '%s': %w", d.name, *d.raw, err)
		}
		*d.dst = v
	}

	if err := out.Validate(); err != nil {
		return crown.Config{}, err
	}
	return out, nil
}

// overlay copies named values from src into dst. Unknown names are errors.
func overlay(dst []float64, src map[string]float64, field string, names []string) error {
	for key, v := range src {
		idx := -1
		for i, name := range names {
			if key == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%s: unknown key %q (want one of %s)", field, key, strings.Join(names, ", "))
		}
		dst[idx] = v
	}
	return nil
}

func constraintNames() []string {
	names := make([]string, crown.NumConstraints)
	for i := range names {
		names[i] = crown.Constraint(i).String()
	}
	return names
}

func channelNames() []string {
	names := make([]string, crown.NumChannels)
	for i := range names {
		names[i] = crown.Channel(i).String()
	}
	return names
}

func factorNames() []string {
	names := make([]string, crown.NumFactors)
	for i := range names {
		names[i] = crown.Factor(i).String()
	}
	return names
}

// FromEngineConfig renders cfg as a fully populated TuningConfig.
func FromEngineConfig(cfg crown.Config) *TuningConfig {
	named := func(vals []float64, names []string) map[string]float64 {
		m := make(map[string]float64, len(vals))
		for i, v := range vals {
			m[names[i]] = v
		}
		return m
	}
	dur := func(d time.Duration) *string { return ptrString(d.String()) }

	return &TuningConfig{
		Thresholds:              named(cfg.Thresholds[:], constraintNames()),
		DecayRates:              named(cfg.DecayRates[:], channelNames()),
		RiseRates:               named(cfg.RiseRates[:], channelNames()),
		UniformDecay:            ptrBool(cfg.UniformDecay),
		UniformDecayRate:        ptrFloat64(cfg.UniformDecayRate),
		MotionHeadStereoWeight:  ptrFloat64(cfg.MotionHeadStereoWeight),
		MotionHeadJitterWeight:  ptrFloat64(cfg.MotionHeadJitterWeight),
		VelocityWeight:          ptrFloat64(cfg.VelocityWeight),
		GPUBottleneckMultiplier: ptrFloat64(cfg.GPUBottleneckMultiplier),
		CPUBottleneckMultiplier: ptrFloat64(cfg.CPUBottleneckMultiplier),
		ThermalLimitMultiplier:  ptrFloat64(cfg.ThermalLimitMultiplier),
		BatteryMultiplier:       ptrFloat64(cfg.BatteryMultiplier),
		GPUWeightCoherence:      ptrFloat64(cfg.GPUWeightCoherence),
		GPUWeightHead:           ptrFloat64(cfg.GPUWeightHead),
		CPUWeightCoherence:      ptrFloat64(cfg.CPUWeightCoherence),
		ThermalWeightThermal:    ptrFloat64(cfg.ThermalWeightThermal),
		BatteryWeightThermal:    ptrFloat64(cfg.BatteryWeightThermal),
		RhythmWindow:            dur(cfg.RhythmWindow),
		ExpectedTickRate:        ptrFloat64(cfg.ExpectedTickRate),
		Aggregation:             ptrString(cfg.Aggregation.String()),
		MuFloor:                 ptrFloat64(cfg.Confidence.MuFloor),
		ThermalWarn:             ptrFloat64(cfg.Confidence.ThermalWarn),
		ThermalCritical:         ptrFloat64(cfg.Confidence.ThermalCritical),
		MaxPlausibleMuRate:      ptrFloat64(cfg.Confidence.MaxPlausibleMuRate),
		MuRecovery:              dur(cfg.Confidence.MuRecovery),
		TimingCVRef:             ptrFloat64(cfg.Confidence.TimingCVRef),
		TimingFloor:             ptrFloat64(cfg.Confidence.TimingFloor),
		TimingWindow:            dur(cfg.Confidence.TimingWindow),
		GainSmoothing:           dur(cfg.Confidence.GainSmoothing),
		ConfidenceWeights:       named(cfg.Confidence.Weights[:], factorNames()),
	}
}

// SetKeys lists the top-level JSON keys present in c, sorted.
func (c *TuningConfig) SetKeys() []string {
	data, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// GetUniformDecay returns the uniform_decay value or the default.
func (c *TuningConfig) GetUniformDecay() bool {
	if c.UniformDecay == nil {
		return defaults.UniformDecay
	}
	return *c.UniformDecay
}

// GetUniformDecayRate returns the uniform_decay_rate value or the default.
func (c *TuningConfig) GetUniformDecayRate() float64 {
	return getFloat(c.UniformDecayRate, defaults.UniformDecayRate)
}

// GetMotionHeadStereoWeight returns w1 or the default.
func (c *TuningConfig) GetMotionHeadStereoWeight() float64 {
	return getFloat(c.MotionHeadStereoWeight, defaults.MotionHeadStereoWeight)
}

// GetMotionHeadJitterWeight returns w2 or the default.
func (c *TuningConfig) GetMotionHeadJitterWeight() float64 {
	return getFloat(c.MotionHeadJitterWeight, defaults.MotionHeadJitterWeight)
}

// GetVelocityWeight returns α or the default.
func (c *TuningConfig) GetVelocityWeight() float64 {
	return getFloat(c.VelocityWeight, defaults.VelocityWeight)
}

func (c *TuningConfig) GetGPUBottleneckMultiplier() float64 {
	return getFloat(c.GPUBottleneckMultiplier, defaults.GPUBottleneckMultiplier)
}

func (c *TuningConfig) GetCPUBottleneckMultiplier() float64 {
	return getFloat(c.CPUBottleneckMultiplier, defaults.CPUBottleneckMultiplier)
}

func (c *TuningConfig) GetThermalLimitMultiplier() float64 {
	return getFloat(c.ThermalLimitMultiplier, defaults.ThermalLimitMultiplier)
}

func (c *TuningConfig) GetBatteryMultiplier() float64 {
	return getFloat(c.BatteryMultiplier, defaults.BatteryMultiplier)
}

func (c *TuningConfig) GetGPUWeightCoherence() float64 {
	return getFloat(c.GPUWeightCoherence, defaults.GPUWeightCoherence)
}

func (c *TuningConfig) GetGPUWeightHead() float64 {
	return getFloat(c.GPUWeightHead, defaults.GPUWeightHead)
}

func (c *TuningConfig) GetCPUWeightCoherence() float64 {
	return getFloat(c.CPUWeightCoherence, defaults.CPUWeightCoherence)
}

func (c *TuningConfig) GetThermalWeightThermal() float64 {
	return getFloat(c.ThermalWeightThermal, defaults.ThermalWeightThermal)
}

func (c *TuningConfig) GetBatteryWeightThermal() float64 {
	return getFloat(c.BatteryWeightThermal, defaults.BatteryWeightThermal)
}

// GetRhythmWindow parses rhythm_window, falling back to the default on
// absence or parse error.
func (c *TuningConfig) GetRhythmWindow() time.Duration {
	return getDuration(c.RhythmWindow, defaults.RhythmWindow)
}

// GetExpectedTickRate returns the expected tick rate in Hz.
func (c *TuningConfig) GetExpectedTickRate() float64 {
	return getFloat(c.ExpectedTickRate, defaults.ExpectedTickRate)
}

// GetAggregation returns the aggregation policy name.
func (c *TuningConfig) GetAggregation() string {
	if c.Aggregation == nil {
		return defaults.Aggregation.String()
	}
	return *c.Aggregation
}

func (c *TuningConfig) GetMuFloor() float64 {
	return getFloat(c.MuFloor, defaults.Confidence.MuFloor)
}

func (c *TuningConfig) GetThermalWarn() float64 {
	return getFloat(c.ThermalWarn, defaults.Confidence.ThermalWarn)
}

func (c *TuningConfig) GetThermalCritical() float64 {
	return getFloat(c.ThermalCritical, defaults.Confidence.ThermalCritical)
}

func (c *TuningConfig) GetMaxPlausibleMuRate() float64 {
	return getFloat(c.MaxPlausibleMuRate, defaults.Confidence.MaxPlausibleMuRate)
}

func (c *TuningConfig) GetMuRecovery() time.Duration {
	return getDuration(c.MuRecovery, defaults.Confidence.MuRecovery)
}

func (c *TuningConfig) GetTimingCVRef() float64 {
	return getFloat(c.TimingCVRef, defaults.Confidence.TimingCVRef)
}

func (c *TuningConfig) GetTimingFloor() float64 {
	return getFloat(c.TimingFloor, defaults.Confidence.TimingFloor)
}

func (c *TuningConfig) GetTimingWindow() time.Duration {
	return getDuration(c.TimingWindow, defaults.Confidence.TimingWindow)
}

// GetGainSmoothing returns the gain low-pass time constant; zero disables
// smoothing.
func (c *TuningConfig) GetGainSmoothing() time.Duration {
	return getDuration(c.GainSmoothing, defaults.Confidence.GainSmoothing)
}

func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def
	}
	return d
}
