// Package session drives the comfort engine from a hardware monitor stream.
// A Runner decodes each telemetry line, ticks the engine, keeps a short
// history for the API, batches ticks to the recorder and exports metrics.
package session

import (
	"context"
	"sync"

	"github.com/banshee-data/comfort.gate/internal/config"
	"github.com/banshee-data/comfort.gate/internal/crown"
	"github.com/banshee-data/comfort.gate/internal/db"
	"github.com/banshee-data/comfort.gate/internal/frame"
	"github.com/banshee-data/comfort.gate/internal/monitoring"
	"github.com/banshee-data/comfort.gate/internal/serialmux"
	"github.com/banshee-data/comfort.gate/internal/timeutil"
)

const (
	DefaultHistorySize = 2048
	DefaultFlushEvery  = 90
)

// Recorder persists ticks. *db.DB satisfies it.
type Recorder interface {
	RecordTicks(sessionID string, ticks []db.TickRecord) error
}

// Options configures a Runner. Every field is optional.
type Options struct {
	// SessionID tags recorded ticks; ticks are not recorded without one.
	SessionID string
	Recorder  Recorder
	Metrics   *monitoring.Metrics
	Clock     timeutil.Clock
	// HistorySize bounds the in-memory tick ring.
	HistorySize int
	// FlushEvery is the recorder batch size in ticks.
	FlushEvery int
	// Reloads delivers hot-reloaded tuning, applied between ticks.
	Reloads <-chan config.Reload
}

// Status is a point-in-time view of the runner counters.
type Status struct {
	SessionID       string       `json:"session_id,omitempty"`
	Ticks           uint64       `json:"ticks"`
	FrameErrors     uint64       `json:"frame_errors"`
	DroppedFrames   uint64       `json:"dropped_frames"`
	Acks            uint64       `json:"acks"`
	DeviceErrors    uint64       `json:"device_errors"`
	LastDeviceError string       `json:"last_device_error,omitempty"`
	Reloads         uint64       `json:"reloads"`
	RejectedReloads uint64       `json:"rejected_reloads"`
	RecordErrors    uint64       `json:"record_errors"`
	Latest          crown.Output `json:"latest"`
}

// Runner owns an engine and feeds it from a serialmux.Mux. Accessors are
// safe to call from HTTP handlers while Run is active.
type Runner struct {
	mux       serialmux.Mux
	opts      Options
	clock     timeutil.Clock
	stopwatch *timeutil.Stopwatch
	ready     chan struct{}

	mu      sync.RWMutex
	engine  *crown.Engine
	history *History
	pending []db.TickRecord
	lastSeq uint64
	// tickBase is the number of engine ticks run before the last Reset.
	// Recorded and history ticks are offset by it so a session's tick key
	// keeps increasing across resets.
	tickBase uint64
	status   Status
}

// NewRunner wires engine to mux.
func NewRunner(mux serialmux.Mux, engine *crown.Engine, opts Options) *Runner {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = DefaultFlushEvery
	}
	return &Runner{
		mux:       mux,
		opts:      opts,
		clock:     opts.Clock,
		stopwatch: timeutil.NewStopwatch(opts.Clock),
		ready:     make(chan struct{}),
		engine:    engine,
		history:   NewHistory(opts.HistorySize),
		status:    Status{SessionID: opts.SessionID, Latest: engine.Latest()},
	}
}

// Run processes monitor lines until ctx is done or the mux closes the
// subscription. Pending ticks are flushed on return.
func (r *Runner) Run(ctx context.Context) error {
	id, lines := r.mux.Subscribe()
	defer r.mux.Unsubscribe(id)
	defer r.Flush()
	close(r.ready)

	reloads := r.opts.Reloads
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			r.HandleLine(line)
		case rl, ok := <-reloads:
			if !ok {
				reloads = nil
				continue
			}
			r.applyReload(rl)
		}
	}
}

// Ready is closed once Run has subscribed to the mux. Start the mux's
// Monitor after it to avoid losing the first lines of a replay.
func (r *Runner) Ready() <-chan struct{} { return r.ready }

// HandleLine processes one monitor line.
func (r *Runner) HandleLine(line string) {
	switch serialmux.ClassifyLine(line) {
	case serialmux.LineFrame:
		f, err := frame.Decode([]byte(line))
		if err != nil {
			r.frameError("decode")
			monitoring.Logf("session: dropping frame: %v", err)
			return
		}
		r.tick(f)
	case serialmux.LineAck:
		r.mu.Lock()
		r.status.Acks++
		r.mu.Unlock()
		monitoring.Debugf("monitor: %s", line)
	case serialmux.LineError:
		r.mu.Lock()
		r.status.DeviceErrors++
		r.status.LastDeviceError = line
		r.mu.Unlock()
		monitoring.Logf("monitor rejected command: %s", line)
	default:
		monitoring.Debugf("monitor: %s", line)
	}
}

func (r *Runner) frameError(reason string) {
	r.mu.Lock()
	r.status.FrameErrors++
	r.mu.Unlock()
	if r.opts.Metrics != nil {
		r.opts.Metrics.FrameError(reason)
	}
}

func (r *Runner) tick(f frame.Frame) {
	r.mu.Lock()
	dt := r.stopwatch.Lap()
	if f.HasDt {
		dt = f.Dt
	}
	if f.Seq != 0 && r.lastSeq != 0 && f.Seq > r.lastSeq+1 {
		r.status.DroppedFrames += f.Seq - r.lastSeq - 1
		if r.opts.Metrics != nil {
			r.opts.Metrics.FrameError("seq_gap")
		}
	}
	if f.Seq != 0 {
		r.lastSeq = f.Seq
	}

	out := r.engine.Tick(dt, f.Inputs)
	rec := db.TickRecord{
		RecordedUnix: float64(r.clock.Now().UnixNano()) / 1e9,
		Output:       out,
	}
	rec.Tick += r.tickBase
	r.history.Push(rec)
	r.status.Ticks++
	r.status.Latest = out

	var batch []db.TickRecord
	if r.recording() {
		r.pending = append(r.pending, rec)
		if len(r.pending) >= r.opts.FlushEvery {
			batch, r.pending = r.pending, nil
		}
	}
	r.mu.Unlock()

	if r.opts.Metrics != nil {
		r.opts.Metrics.ObserveTick(tickSample(out))
	}
	r.write(batch)
}

func (r *Runner) recording() bool {
	return r.opts.Recorder != nil && r.opts.SessionID != ""
}

// Flush writes any ticks not yet recorded.
func (r *Runner) Flush() {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()
	r.write(batch)
}

func (r *Runner) write(batch []db.TickRecord) {
	if len(batch) == 0 {
		return
	}
	if err := r.opts.Recorder.RecordTicks(r.opts.SessionID, batch); err != nil {
		monitoring.Logf("session %s: failed to record %d ticks: %v", r.opts.SessionID, len(batch), err)
		r.mu.Lock()
		r.status.RecordErrors++
		r.mu.Unlock()
	}
}

func (r *Runner) applyReload(rl config.Reload) {
	err := rl.Err
	if err == nil {
		err = r.Reconfigure(rl.Config)
	}
	r.mu.Lock()
	if err != nil {
		r.status.RejectedReloads++
	} else {
		r.status.Reloads++
	}
	r.mu.Unlock()

	if r.opts.Metrics != nil {
		r.opts.Metrics.ConfigReload(err == nil)
	}
	if err != nil {
		monitoring.Logf("config: keeping current tuning: %v", err)
		return
	}
	monitoring.Logf("config: applied reloaded tuning")
}

// Reconfigure swaps the engine configuration between ticks.
func (r *Runner) Reconfigure(cfg crown.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.Reconfigure(cfg)
}

// Reset returns the engine to rest and clears the history. Recorded ticks
// are kept and recording continues in the same session.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickBase += r.engine.Ticks()
	r.engine.Reset()
	r.history.Clear()
	r.stopwatch.Restart()
	r.lastSeq = 0
	r.status.Latest = r.engine.Latest()
}

// Latest returns the most recent engine outputs.
func (r *Runner) Latest() crown.Output {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engine.Latest()
}

// Proximity returns r_i of the most recent tick.
func (r *Runner) Proximity(i int) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engine.Proximity(i)
}

// Config returns the active engine configuration.
func (r *Runner) Config() crown.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engine.Config()
}

// History returns up to n of the newest ticks, oldest first.
func (r *Runner) History(n int) []db.TickRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history.Last(n)
}

// Status returns the runner counters.
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func tickSample(o crown.Output) monitoring.TickSample {
	s := monitoring.TickSample{
		RawComfort:       o.RawComfort,
		EffectiveComfort: o.EffectiveComfort,
		Confidence:       o.Confidence,
		Gain:             o.Gain,
		Proximities:      make(map[string]float64, crown.NumConstraints),
		Channels:         make(map[string]float64, crown.NumChannels),
		Factors:          make(map[string]float64, crown.NumFactors),
		Bottleneck:       o.Bottleneck.String(),
		Emergency:        o.Emergency,
	}
	for i, v := range o.Proximities {
		s.Proximities[crown.Constraint(i).String()] = v
	}
	for _, ch := range crown.Channels() {
		s.Channels[ch.String()] = o.Channels[ch]
	}
	for i, v := range o.Factors {
		s.Factors[crown.Factor(i).String()] = v
	}
	return s
}
