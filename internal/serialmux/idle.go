package serialmux

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"tailscale.com/tsweb"
)

// IdleMux stands in for a monitor when comfortd serves the API and stored
// sessions without any input source. It never emits a line. Monitor parks
// until ctx ends or the mux is closed.
type IdleMux struct {
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	subs map[string]chan string
}

var _ Mux = (*IdleMux)(nil)

func NewIdleMux() *IdleMux {
	return &IdleMux{
		done: make(chan struct{}),
		subs: map[string]chan string{},
	}
}

func (m *IdleMux) closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Subscribe hands out a channel that is only ever closed. After Close the
// channel comes back already closed.
func (m *IdleMux) Subscribe() (string, chan string) {
	id, ch := randomID(), make(chan string)
	m.mu.Lock()
	if m.closed() {
		m.mu.Unlock()
		close(ch)
		return id, ch
	}
	m.subs[id] = ch
	m.mu.Unlock()
	return id, ch
}

func (m *IdleMux) Unsubscribe(id string) {
	m.mu.Lock()
	ch, ok := m.subs[id]
	delete(m.subs, id)
	m.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (m *IdleMux) SendCommand(string) error { return nil }

func (m *IdleMux) Initialize(float64) error { return nil }

// Monitor returns ctx.Err() on cancellation, or nil once the mux is closed.
func (m *IdleMux) Monitor(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return nil
	}
}

func (m *IdleMux) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		close(m.done)
		subs := m.subs
		m.subs = map[string]chan string{}
		m.mu.Unlock()
		for _, ch := range subs {
			close(ch)
		}
	})
	return nil
}

// AttachAdminRoutes serves /debug/monitor with the idle state and how many
// listeners are attached.
func (m *IdleMux) AttachAdminRoutes(mux *http.ServeMux) {
	tsweb.Debugger(mux).HandleSilentFunc("monitor", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		n := len(m.subs)
		m.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"source":      "none",
			"closed":      m.closed(),
			"subscribers": n,
		})
	})
}
