package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/comfort.gate/internal/crown"
	"github.com/banshee-data/comfort.gate/internal/db"
)

func ticksOf(recs []db.TickRecord) []uint64 {
	out := make([]uint64, len(recs))
	for i, r := range recs {
		out[i] = r.Tick
	}
	return out
}

func TestHistory(t *testing.T) {
	h := NewHistory(3)
	assert.Empty(t, h.Last(0))
	assert.Equal(t, 3, h.Cap())

	for i := uint64(1); i <= 2; i++ {
		h.Push(db.TickRecord{Output: crown.Output{Tick: i}})
	}
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, []uint64{1, 2}, ticksOf(h.Last(0)))

	for i := uint64(3); i <= 7; i++ {
		h.Push(db.TickRecord{Output: crown.Output{Tick: i}})
	}
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, []uint64{5, 6, 7}, ticksOf(h.Last(0)))
	assert.Equal(t, []uint64{6, 7}, ticksOf(h.Last(2)))
	assert.Equal(t, []uint64{5, 6, 7}, ticksOf(h.Last(10)))

	h.Clear()
	assert.Zero(t, h.Len())
	assert.Empty(t, h.Last(5))
}

func TestHistory_MinimumSize(t *testing.T) {
	h := NewHistory(0)
	h.Push(db.TickRecord{Output: crown.Output{Tick: 1}})
	h.Push(db.TickRecord{Output: crown.Output{Tick: 2}})
	assert.Equal(t, []uint64{2}, ticksOf(h.Last(0)))
}
