package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindowNeverExceedsCapacity(t *testing.T) {
	for _, capacity := range []int{1, 2, 5, 25} {
		w := NewWindow(capacity)
		for i := range capacity * 3 {
			w.Push(float64(i))
			assert.LessOrEqual(t, w.Len(), capacity)
		}
		assert.Equal(t, capacity, w.Len())
	}
}

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(3)
	w.Push(-10)
	w.Push(-20)
	w.Push(-30)
	w.Push(-40)

	assert.Equal(t, []float64{-20, -30, -40}, w.snapshot())
	assert.NotContains(t, w.snapshot(), -10.0)
	assert.InDelta(t, -30.0, w.Mean(), 1e-9)
	assert.Equal(t, -20.0, w.Max())
}

func TestWindowMinimumCapacity(t *testing.T) {
	w := NewWindow(0)
	assert.Equal(t, 1, w.Cap())

	w.Push(-50)
	w.Push(-60)
	assert.Equal(t, []float64{-60}, w.snapshot())
	assert.Equal(t, -60.0, w.Mean())
}

func TestWindowEmpty(t *testing.T) {
	w := NewWindow(4)
	assert.True(t, math.IsNaN(w.Mean()))
	assert.True(t, math.IsNaN(w.Max()))
	assert.Empty(t, w.snapshot())
}

func TestWindowRunningMeanMatchesRecompute(t *testing.T) {
	w := NewWindow(7)
	for i := range 1000 {
		w.Push(-120 + float64(i%97)*1.3)

		var sum float64
		vals := w.snapshot()
		for _, v := range vals {
			sum += v
		}
		assert.InDelta(t, sum/float64(len(vals)), w.Mean(), 1e-9)
	}
}

// snapshot returns the held values from oldest to newest.
func (w *Window) snapshot() []float64 {
	out := make([]float64, w.size)
	for i := range w.size {
		out[i] = w.values[(w.start+i)%len(w.values)]
	}
	return out
}
