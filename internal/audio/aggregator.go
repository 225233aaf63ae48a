package audio

import "github.com/oszuidwest/zwfm-noisemeter/internal/types"

// WindowSizes holds the capacity, in frames, of each rolling window.
type WindowSizes struct {
	Noise    int
	Presence int
	Minute   int
	Hour     int
}

// Aggregator feeds every level sample into all rolling windows in lock-step.
type Aggregator struct {
	current  float64
	noise    *Window
	presence *Window
	minute   *Window
	hour     *Window
}

// NewAggregator creates an aggregator with the given window capacities.
func NewAggregator(sizes WindowSizes) *Aggregator {
	return &Aggregator{
		current:  types.FloorDB,
		noise:    NewWindow(sizes.Noise),
		presence: NewWindow(sizes.Presence),
		minute:   NewWindow(sizes.Minute),
		hour:     NewWindow(sizes.Hour),
	}
}

// Push records one level sample in every window.
func (a *Aggregator) Push(db float64) {
	a.current = db
	a.noise.Push(db)
	a.presence.Push(db)
	a.minute.Push(db)
	a.hour.Push(db)
}

// PresenceMean returns the mean over the presence window.
func (a *Aggregator) PresenceMean() float64 {
	return a.presence.Mean()
}

// Levels returns the current aggregates. Values are NaN until the first Push.
func (a *Aggregator) Levels() types.Levels {
	return types.Levels{
		Current:      a.current,
		Avg:          a.noise.Mean(),
		Max:          a.noise.Max(),
		Avg1m:        a.minute.Mean(),
		Avg1h:        a.hour.Mean(),
		PresenceMean: a.presence.Mean(),
	}
}

// Sizes returns the configured window capacities.
func (a *Aggregator) Sizes() WindowSizes {
	return WindowSizes{
		Noise:    a.noise.Cap(),
		Presence: a.presence.Cap(),
		Minute:   a.minute.Cap(),
		Hour:     a.hour.Cap(),
	}
}
