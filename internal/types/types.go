// Package types provides shared type definitions used across the noise meter.
package types

import "time"

// FloorDB is the level reported for digital silence.
const FloorDB = -120.0

// FullScale is the reference amplitude for signed 16-bit samples.
const FullScale = 32768.0

// BytesPerSample is the size of one S16LE mono sample.
const BytesPerSample = 2

// Capture supervision timing.
const (
	// ReadWait is the longest the supervisor blocks waiting for capture output.
	ReadWait = 2000 * time.Millisecond
	// StallWarnThreshold is the idle time after which a stall is logged.
	StallWarnThreshold = 10000 * time.Millisecond
	// StallWarnInterval is the cadence of repeated stall warnings.
	StallWarnInterval = 10000 * time.Millisecond
	// StallRestartThreshold is the idle time after which the capture process is killed and restarted.
	StallRestartThreshold = 30000 * time.Millisecond
	// RestartDelay is the pause between terminating and relaunching the capture process.
	RestartDelay = 200 * time.Millisecond
	// MaxLaunchDelay caps the backoff between failed launch attempts.
	MaxLaunchDelay = 10000 * time.Millisecond
	// ShutdownTimeout is the grace period for a capture process to exit after a termination signal.
	ShutdownTimeout = 3000 * time.Millisecond
)

// PartialFrameGrace is the fill ratio of the pending frame above which silence on the pipe is not a stall.
const PartialFrameGrace = 0.8

// Publishing timing.
const (
	// PublishTimeout bounds a single publish call.
	PublishTimeout = 3000 * time.Millisecond
	// ConnectTimeout bounds the initial broker connection.
	ConnectTimeout = 10000 * time.Millisecond
	// DefaultStatusInterval is the default cadence of the status report.
	DefaultStatusInterval = 60 * time.Second
)

// Presence is the output of the presence detector.
type Presence int

const (
	// Absent means no sustained sound above the on threshold.
	Absent Presence = 0
	// Present means sound was detected and has not yet dropped below the off threshold.
	Present Presence = 1
)

// String returns the presence as it is published ("0" or "1").
func (p Presence) String() string {
	if p == Present {
		return "1"
	}
	return "0"
}

// Metric names a published value. The value doubles as the topic suffix.
type Metric string

// Published metrics.
const (
	MetricAvg      Metric = "avg_db"
	MetricMax      Metric = "max_db"
	MetricAvg1m    Metric = "avg_1m_db"
	MetricAvg1h    Metric = "avg_1h_db"
	MetricPresence Metric = "presence"
)

// Metrics lists every published metric in publish order.
var Metrics = []Metric{MetricAvg, MetricMax, MetricAvg1m, MetricAvg1h, MetricPresence}

// Levels holds the aggregates computed after each analysis frame, in dBFS.
type Levels struct {
	Current      float64 `json:"current_db"`
	Avg          float64 `json:"avg_db"`
	Max          float64 `json:"max_db"`
	Avg1m        float64 `json:"avg_1m_db"`
	Avg1h        float64 `json:"avg_1h_db"`
	PresenceMean float64 `json:"presence_mean_db"`
}

// PublishCounters tracks publish outcomes for one metric.
type PublishCounters struct {
	Published int    `json:"published"`
	Failed    int    `json:"failed"`
	Last      string `json:"last,omitempty"`
}

// CaptureStatus reports the capture supervisor state.
type CaptureStatus struct {
	Program       string `json:"program"`
	Device        string `json:"device"`
	Running       bool   `json:"running"`
	Restarts      int    `json:"restarts"`
	Frames        int64  `json:"frames"`
	SessionFrames int64  `json:"session_frames"`
	LastError     string `json:"last_error,omitempty"`
}

// Status is a point-in-time snapshot of the meter for logs and the status API.
type Status struct {
	Levels    Levels                     `json:"levels"`
	Presence  Presence                   `json:"presence"`
	Publishes map[Metric]PublishCounters `json:"publishes"`
	Capture   CaptureStatus              `json:"capture"`
	Uptime    string                     `json:"uptime"`
	Version   VersionInfo                `json:"version"`
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
