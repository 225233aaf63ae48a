// Package audio provides level computation, rolling aggregation and presence detection
// for S16LE mono PCM audio.
package audio

import (
	"encoding/binary"
	"math"

	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
)

// DecodeSamples converts S16LE PCM bytes to samples. A trailing odd byte is ignored.
func DecodeSamples(buf []byte) []int16 {
	samples := make([]int16, len(buf)/types.BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*types.BytesPerSample:])) //nolint:gosec // Two's complement reinterpretation
	}
	return samples
}

// ComputeLevel returns the RMS level of samples in dBFS.
// It returns false for an empty frame. Silence yields exactly types.FloorDB.
func ComputeLevel(samples []int16) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}

	var sumSquares float64
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
	}

	rms := math.Sqrt(sumSquares / float64(len(samples)))
	if rms <= 0 {
		return types.FloorDB, true
	}
	return 20 * math.Log10(rms/types.FullScale), true
}
