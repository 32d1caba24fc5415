package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/banshee-data/comfort.gate/internal/crown"
	"github.com/banshee-data/comfort.gate/internal/monitoring"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 250 * time.Millisecond

// Reload is one attempt to reload the tuning file. Err is set when the file
// could not be loaded or failed validation; the previous config stays active.
type Reload struct {
	Tuning *TuningConfig
	Config crown.Config
	Err    error
}

// Watcher reloads a tuning file whenever it changes on disk. It watches the
// parent directory so atomic rename-on-save is observed.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	updates  chan Reload
}

// NewWatcher starts watching path. Call Run to deliver reloads.
func NewWatcher(path string, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		path:     abs,
		debounce: debounce,
		watcher:  fw,
		updates:  make(chan Reload, 1),
	}, nil
}

// Updates delivers reload results. Only the newest pending result is kept.
func (w *Watcher) Updates() <-chan Reload { return w.updates }

// Run processes file events until ctx is cancelled, then closes the
// underlying watcher and the updates channel.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.updates)
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			monitoring.Logf("config: watcher error: %v", err)

		case <-fire:
			fire = nil
			w.publish(w.load())
		}
	}
}

func (w *Watcher) load() Reload {
	tuning, err := LoadTuningConfig(w.path)
	if err != nil {
		monitoring.Logf("config: reload of %s rejected: %v", w.path, err)
		return Reload{Err: err}
	}
	cfg, err := tuning.EngineConfig()
	if err != nil {
		return Reload{Err: err}
	}
	monitoring.Logf("config: reloaded %s", w.path)
	return Reload{Tuning: tuning, Config: cfg}
}

func (w *Watcher) publish(r Reload) {
	for {
		select {
		case w.updates <- r:
			return
		default:
		}
		// drop the stale pending result
		select {
		case <-w.updates:
		default:
		}
	}
}
