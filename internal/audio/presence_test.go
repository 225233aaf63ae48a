package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
)

var defaultPresence = PresenceConfig{OnDB: -35, OffDB: -42}

func TestPresenceTransitions(t *testing.T) {
	d := NewPresenceDetector(defaultPresence)
	assert.Equal(t, types.Absent, d.State())

	ev := d.Update(-35) // equal to on threshold: no transition
	assert.Equal(t, types.Absent, ev.Presence)
	assert.False(t, ev.JustEntered)

	ev = d.Update(-34.9)
	assert.Equal(t, types.Present, ev.Presence)
	assert.True(t, ev.JustEntered)

	ev = d.Update(-42) // equal to off threshold: no transition
	assert.Equal(t, types.Present, ev.Presence)
	assert.False(t, ev.JustLeft)

	ev = d.Update(-42.1)
	assert.Equal(t, types.Absent, ev.Presence)
	assert.True(t, ev.JustLeft)
}

func TestPresenceDeadBandFromAbsent(t *testing.T) {
	d := NewPresenceDetector(defaultPresence)
	for range 1000 {
		ev := d.Update(-38.5)
		assert.Equal(t, types.Absent, ev.Presence)
	}
}

func TestPresenceNoChatterInDeadBand(t *testing.T) {
	const eps = 0.01

	for _, start := range []types.Presence{types.Absent, types.Present} {
		d := NewPresenceDetector(defaultPresence)
		if start == types.Present {
			d.Update(0)
		}
		assert.Equal(t, start, d.State())

		transitions := 0
		for i := range 500 {
			mean := defaultPresence.OffDB + eps
			if i%2 == 0 {
				mean = defaultPresence.OnDB - eps
			}
			ev := d.Update(mean)
			if ev.JustEntered || ev.JustLeft {
				transitions++
			}
		}
		assert.Zero(t, transitions, "start=%v", start)
		assert.Equal(t, start, d.State())
	}
}

func TestPresenceIgnoresNaN(t *testing.T) {
	d := NewPresenceDetector(defaultPresence)
	d.Update(-10)
	ev := d.Update(math.NaN())
	assert.Equal(t, types.Present, ev.Presence)
	assert.Equal(t, types.Present, d.State())
}
