package serialmux

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/comfort.gate/internal/timeutil"
)

// MockSerialPort is an in-memory SerialPorter. Lines pushed with Push are
// read by the mux; commands written by the mux are captured.
type MockSerialPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	// WriteError, when set, fails every Write.
	WriteError error
	closed     bool
}

// NewMockSerialPort returns an open mock port.
func NewMockSerialPort() *MockSerialPort {
	r, w := io.Pipe()
	return &MockSerialPort{r: r, w: w}
}

func (m *MockSerialPort) Read(p []byte) (int, error) { return m.r.Read(p) }

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteError != nil {
		return 0, m.WriteError
	}
	return m.written.Write(p)
}

// Push delivers one line to the reader side. It blocks until read.
func (m *MockSerialPort) Push(line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, err := io.WriteString(m.w, line)
	return err
}

// Written returns everything the mux wrote to the port.
func (m *MockSerialPort) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

// Closed reports whether Close was called.
func (m *MockSerialPort) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close ends the stream; readers see EOF.
func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.w.Close()
}

// NewMockSerialMux creates a SerialMux over a fresh MockSerialPort.
func NewMockSerialMux() (*SerialMux[*MockSerialPort], *MockSerialPort) {
	port := NewMockSerialPort()
	return NewSerialMux(port), port
}

// ReplayPort plays back a recorded monitor log as if it came from the
// device, one line per interval on the given clock. Blank lines and lines
// starting with '#' are skipped.
type ReplayPort struct {
	clock    timeutil.Clock
	interval time.Duration
	loop     bool

	mu       sync.Mutex
	lines    []string
	next     int
	pending  []byte
	commands []string
	closed   bool
}

// NewReplayPort loads every line of r. A non-positive interval plays back
// as fast as the reader consumes.
func NewReplayPort(r io.Reader, interval time.Duration, loop bool, clock timeutil.Clock) (*ReplayPort, error) {
	var lines []string
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 4096), 64*1024)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("reading replay log: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("replay log contains no lines")
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ReplayPort{clock: clock, interval: interval, loop: loop, lines: lines}, nil
}

func (p *ReplayPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		if p.closed {
			p.mu.Unlock()
			return 0, io.EOF
		}
		if p.next >= len(p.lines) {
			if !p.loop {
				p.mu.Unlock()
				return 0, io.EOF
			}
			p.next = 0
		}
		line := p.lines[p.next]
		p.next++
		p.mu.Unlock()

		if p.interval > 0 {
			p.clock.Sleep(p.interval)
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, io.EOF
		}
		p.pending = append(p.pending, line...)
		p.pending = append(p.pending, '\n')
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	p.mu.Unlock()
	return n, nil
}

// Write records commands; a replay has no device to act on them.
func (p *ReplayPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	p.commands = append(p.commands, strings.TrimRight(string(b), "\n"))
	return len(b), nil
}

// Commands returns the commands written so far.
func (p *ReplayPort) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

func (p *ReplayPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// NewReplaySerialMux builds a SerialMux that replays r.
func NewReplaySerialMux(r io.Reader, interval time.Duration, loop bool, clock timeutil.Clock) (*SerialMux[*ReplayPort], error) {
	port, err := NewReplayPort(r, interval, loop, clock)
	if err != nil {
		return nil, err
	}
	return NewSerialMux(port), nil
}
