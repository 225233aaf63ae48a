package audio

import (
	"math"

	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
)

// PresenceConfig holds the hysteresis thresholds for presence detection.
type PresenceConfig struct {
	OnDB  float64 // mean above which presence starts
	OffDB float64 // mean below which presence ends
}

// PresenceEvent represents the result of a presence detector update.
type PresenceEvent struct {
	Presence types.Presence // State after the update
	MeanDB   float64        // Presence window mean that drove the update

	// State transitions
	JustEntered bool // True on the frame the state became present
	JustLeft    bool // True on the frame the state became absent
}

// PresenceDetector is a two-state hysteresis machine. The zero value starts absent.
type PresenceDetector struct {
	cfg   PresenceConfig
	state types.Presence
}

// NewPresenceDetector creates a detector in the absent state.
func NewPresenceDetector(cfg PresenceConfig) *PresenceDetector {
	return &PresenceDetector{cfg: cfg, state: types.Absent}
}

// Update evaluates the presence window mean and returns the resulting state.
// Means inside [OffDB, OnDB] never change state. A NaN mean is ignored.
func (d *PresenceDetector) Update(meanDB float64) PresenceEvent {
	event := PresenceEvent{MeanDB: meanDB}

	if !math.IsNaN(meanDB) {
		switch {
		case d.state == types.Absent && meanDB > d.cfg.OnDB:
			d.state = types.Present
			event.JustEntered = true
		case d.state == types.Present && meanDB < d.cfg.OffDB:
			d.state = types.Absent
			event.JustLeft = true
		}
	}

	event.Presence = d.state
	return event
}

// State returns the current presence state.
func (d *PresenceDetector) State() types.Presence {
	return d.state
}

