package session

import "github.com/banshee-data/comfort.gate/internal/db"

// History is a fixed-size ring of the most recent ticks. It is not safe for
// concurrent use.
type History struct {
	buf  []db.TickRecord
	next int
	full bool
}

// NewHistory returns a ring holding at most size ticks (minimum 1).
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{buf: make([]db.TickRecord, size)}
}

// Push appends r, evicting the oldest tick when full.
func (h *History) Push(r db.TickRecord) {
	h.buf[h.next] = r
	h.next++
	if h.next == len(h.buf) {
		h.next = 0
		h.full = true
	}
}

// Len returns the number of ticks held.
func (h *History) Len() int {
	if h.full {
		return len(h.buf)
	}
	return h.next
}

// Cap returns the ring size.
func (h *History) Cap() int { return len(h.buf) }

// Last returns up to n of the newest ticks, oldest first. n <= 0 returns
// everything held.
func (h *History) Last(n int) []db.TickRecord {
	size := h.Len()
	if n <= 0 || n > size {
		n = size
	}
	out := make([]db.TickRecord, n)
	start := h.next - n
	if start < 0 {
		start += len(h.buf)
	}
	for i := range out {
		out[i] = h.buf[(start+i)%len(h.buf)]
	}
	return out
}

// Clear drops every tick.
func (h *History) Clear() {
	clear(h.buf)
	h.next, h.full = 0, false
}
