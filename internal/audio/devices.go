package audio

import (
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
)

// alsaCardPattern matches capture card lines of `arecord -l`.
var alsaCardPattern = regexp.MustCompile(`card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\],\s+device\s+(\d+)`)

// fallbackDevices are returned if detection fails.
var fallbackDevices = []Device{
	{ID: "default", Name: "System default"},
}

// ListDevices returns available ALSA capture devices.
func ListDevices() []Device {
	output, err := exec.Command("arecord", "-l").CombinedOutput()
	if err != nil && len(output) == 0 {
		slog.Error("failed to list audio devices", "error", err)
		return fallbackDevices
	}
	return parseDeviceList(string(output))
}

// parseDeviceList extracts devices from arecord output.
func parseDeviceList(output string) []Device {
	var devices []Device
	for line := range strings.SplitSeq(output, "\n") {
		matches := alsaCardPattern.FindStringSubmatch(line)
		if len(matches) < 5 {
			continue
		}
		devices = append(devices, Device{
			ID:   "plughw:CARD=" + matches[2] + ",DEV=" + matches[4],
			Name: matches[3],
		})
	}

	if len(devices) == 0 {
		return fallbackDevices
	}
	return devices
}
