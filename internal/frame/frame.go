// Package frame decodes telemetry lines from the hardware monitor into
// engine inputs.
//
// A frame is one JSON object per line:
//
//	{"seq":812,"dt":0.0111,
//	 "phase":[0.1,0.1,0.2,1.3,0.1,0.0],
//	 "hw":{"gpu":0.72,"cpu":0.41,"thermal":0.55,"battery":0.2},
//	 "stress":{"audio":0.1},
//	 "validity":0.98}
//
// Every member is optional. A hardware or stress signal that is missing or
// null is an absent monitor, not a zero reading. Phases may also be given as
// an object keyed by channel name; missing phases read as 0.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/comfort.gate/internal/crown"
)

// ErrNotFrame is returned for lines that are not JSON objects.
var ErrNotFrame = errors.New("not a telemetry frame")

// Frame is one decoded telemetry line.
type Frame struct {
	Seq    uint64
	Dt     float64 // seconds; only meaningful when HasDt
	HasDt  bool
	Inputs crown.Inputs
}

type wireFrame struct {
	Seq      uint64              `json:"seq,omitempty"`
	Dt       *float64            `json:"dt,omitempty"`
	Phase    json.RawMessage     `json:"phase,omitempty"`
	HW       map[string]*float64 `json:"hw,omitempty"`
	Stress   map[string]*float64 `json:"stress,omitempty"`
	Validity *float64            `json:"validity,omitempty"`
}

var hwNames = []string{"gpu", "cpu", "thermal", "battery"}

// Decode parses one line. Unknown channel or hardware names are errors so
// firmware mismatches surface early.
func Decode(line []byte) (Frame, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Frame{}, ErrNotFrame
	}

	var w wireFrame
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return Frame{}, fmt.Errorf("decoding frame: %w", err)
	}

	f := Frame{Seq: w.Seq}
	if w.Dt != nil {
		f.Dt, f.HasDt = *w.Dt, true
	}
	if err := decodePhase(w.Phase, &f.Inputs.Phase); err != nil {
		return Frame{}, err
	}

	for name, v := range w.HW {
		r := reading(v)
		switch name {
		case "gpu":
			f.Inputs.Hardware.GPU = r
		case "cpu":
			f.Inputs.Hardware.CPU = r
		case "thermal":
			f.Inputs.Hardware.Thermal = r
		case "battery":
			f.Inputs.Hardware.Battery = r
		default:
			return Frame{}, fmt.Errorf("unknown hardware signal %q (want one of %s)", name, strings.Join(hwNames, ", "))
		}
	}
	for name, v := range w.Stress {
		ch, err := channelByName(name)
		if err != nil {
			return Frame{}, err
		}
		f.Inputs.Channel[ch] = reading(v)
	}
	f.Inputs.SensorValidity = reading(w.Validity)
	return f, nil
}

func decodePhase(raw json.RawMessage, dst *[crown.NumChannels]float64) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '[' {
		var vals []float64
		if err := json.Unmarshal(raw, &vals); err != nil {
			return fmt.Errorf("decoding phase: %w", err)
		}
		if len(vals) != crown.NumChannels {
			return fmt.Errorf("phase has %d values, want %d", len(vals), crown.NumChannels)
		}
		copy(dst[:], vals)
		return nil
	}
	var named map[string]float64
	if err := json.Unmarshal(raw, &named); err != nil {
		return fmt.Errorf("decoding phase: %w", err)
	}
	for name, v := range named {
		ch, err := channelByName(name)
		if err != nil {
			return err
		}
		dst[ch] = v
	}
	return nil
}

func channelByName(name string) (crown.Channel, error) {
	for _, ch := range crown.Channels() {
		if ch.String() == name {
			return ch, nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", name)
}

func reading(v *float64) crown.Reading {
	if v == nil {
		return crown.Reading{}
	}
	return crown.Sample(*v)
}

// Encode renders f in the wire format, omitting absent readings. It is
// the inverse of Decode and is used to write replay logs.
func Encode(f Frame) ([]byte, error) {
	w := wireFrame{Seq: f.Seq}
	if f.HasDt {
		dt := f.Dt
		w.Dt = &dt
	}
	phase, err := json.Marshal(f.Inputs.Phase)
	if err != nil {
		return nil, err
	}
	w.Phase = phase

	put := func(m map[string]*float64, name string, r crown.Reading) map[string]*float64 {
		if !r.Valid {
			return m
		}
		if m == nil {
			m = make(map[string]*float64)
		}
		v := r.Value
		m[name] = &v
		return m
	}
	hw := f.Inputs.Hardware
	for i, r := range []crown.Reading{hw.GPU, hw.CPU, hw.Thermal, hw.Battery} {
		w.HW = put(w.HW, hwNames[i], r)
	}
	for _, ch := range crown.Channels() {
		w.Stress = put(w.Stress, ch.String(), f.Inputs.Channel[ch])
	}
	if f.Inputs.SensorValidity.Valid {
		v := f.Inputs.SensorValidity.Value
		w.Validity = &v
	}
	return json.Marshal(w)
}
