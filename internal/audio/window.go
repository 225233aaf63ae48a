package audio

import "math"

// Window is a fixed-capacity FIFO of level samples with O(1) push and mean.
type Window struct {
	values []float64
	start  int
	size   int
	sum    float64
}

// NewWindow creates a window holding at most capacity values. Capacities below one are raised to one.
func NewWindow(capacity int) *Window {
	return &Window{values: make([]float64, max(1, capacity))}
}

// Push appends v, evicting the oldest value when the window is full.
func (w *Window) Push(v float64) {
	capacity := len(w.values)
	if w.size < capacity {
		w.values[(w.start+w.size)%capacity] = v
		w.size++
		w.sum += v
		return
	}

	w.sum -= w.values[w.start]
	w.values[w.start] = v
	w.sum += v
	w.start = (w.start + 1) % capacity

	// Rebase the running sum once per full cycle to bound float drift.
	if w.start == 0 {
		w.sum = 0
		for _, x := range w.values {
			w.sum += x
		}
	}
}

// Len returns the number of values held.
func (w *Window) Len() int {
	return w.size
}

// Cap returns the window capacity.
func (w *Window) Cap() int {
	return len(w.values)
}

// Mean returns the arithmetic mean of the held values, or NaN when empty.
func (w *Window) Mean() float64 {
	if w.size == 0 {
		return math.NaN()
	}
	return w.sum / float64(w.size)
}

// Max returns the largest held value, or NaN when empty.
func (w *Window) Max() float64 {
	if w.size == 0 {
		return math.NaN()
	}
	m := math.Inf(-1)
	for i := range w.size {
		m = max(m, w.values[(w.start+i)%len(w.values)])
	}
	return m
}

