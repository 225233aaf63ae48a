package audio

import (
	"errors"
	"strconv"
)

// ErrUnknownProgram is returned for a capture program without an argument builder.
var ErrUnknownProgram = errors.New("unknown capture program")

// CaptureFormat describes the PCM stream requested from the capture program.
// Sample format is always signed 16-bit little-endian mono.
type CaptureFormat struct {
	Device     string
	SampleRate int
}

// captureBuilders maps capture programs to their argument builders.
var captureBuilders = map[string]func(CaptureFormat) []string{
	"sox":     buildSoxArgs,
	"arecord": buildArecordArgs,
	"ffmpeg":  buildFFmpegArgs,
}

// BuildCaptureCommand returns the command and arguments that write raw S16LE mono PCM to stdout.
func BuildCaptureCommand(program string, format CaptureFormat) (cmd string, args []string, err error) {
	build, ok := captureBuilders[program]
	if !ok {
		return "", nil, ErrUnknownProgram
	}
	return program, build(format), nil
}

func buildSoxArgs(f CaptureFormat) []string {
	return []string{
		"-q",
		"-t", "alsa", f.Device,
		"-r", strconv.Itoa(f.SampleRate),
		"-c", "1",
		"-b", "16",
		"-e", "signed-integer",
		"-t", "raw",
		"-",
	}
}

func buildArecordArgs(f CaptureFormat) []string {
	return []string{
		"-q",
		"-D", f.Device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(f.SampleRate),
		"-c", "1",
		"-t", "raw",
		"-",
	}
}

func buildFFmpegArgs(f CaptureFormat) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "warning",
		"-f", "alsa",
		"-i", f.Device,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(f.SampleRate),
		"-f", "s16le",
		"pipe:1",
	}
}
