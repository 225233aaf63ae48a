// Package config provides application configuration management.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultDevice                = "default"
	DefaultProgram               = "sox"
	DefaultSampleRate            = 48000
	DefaultHopSeconds            = 0.2
	DefaultNoiseWindowSeconds    = 5.0
	DefaultPresenceWindowSeconds = 2.0
	DefaultPresenceOnDB          = -35.0
	DefaultPresenceOffDB         = -42.0
	DefaultTransport             = "mqtt"
	DefaultBrokerPort            = 1883
	DefaultNATSPort              = 4222
	DefaultPublishCommand        = "mosquitto_pub"
	DefaultReportIntervalMs      = 60000
)

// Fixed aggregation horizons in seconds.
const (
	MinuteWindowSeconds = 60.0
	HourWindowSeconds   = 3600.0
)

// MaxWindowFrames bounds the number of frames any rolling window may hold.
const MaxWindowFrames = 1 << 20

// AudioConfig holds capture device and format settings.
type AudioConfig struct {
	Device     string  `json:"device" validate:"required,max=256"`          // Capture device identifier
	Program    string  `json:"program" validate:"oneof=sox arecord ffmpeg"` // Capture program
	SampleRate int     `json:"sample_rate" validate:"gt=0,lte=384000"`      // Sample rate in Hz
	HopSeconds float64 `json:"hop_seconds" validate:"gt=0,lte=10"`          // Analysis frame length
}

// AnalysisConfig holds window lengths and presence thresholds.
type AnalysisConfig struct {
	NoiseWindowSeconds    float64 `json:"noise_window_seconds" validate:"gt=0,lte=86400"`    // Window for avg_db and max_db
	PresenceWindowSeconds float64 `json:"presence_window_seconds" validate:"gt=0,lte=86400"` // Window driving presence
	PresenceOnDB          float64 `json:"presence_on_db" validate:"gtfield=PresenceOffDB"`   // Absent -> present above this mean
	PresenceOffDB         float64 `json:"presence_off_db"`                                   // Present -> absent below this mean
}

// BrokerConfig holds message broker settings.
type BrokerConfig struct {
	Transport string `json:"transport" validate:"oneof=mqtt nats command"`         // Publish transport
	Host      string `json:"host" validate:"required,max=253,hostname_rfc1123|ip"` // Broker hostname
	Port      int    `json:"port" validate:"gte=1,lte=65535"`                      // Broker port
	Username  string `json:"username" validate:"omitempty,max=256"`                // Optional username
	Password  string `json:"password" validate:"omitempty,max=256"`                // Optional password
	Prefix    string `json:"prefix" validate:"required,max=512,excludesall=#+"`    // Topic prefix
	ClientID  string `json:"client_id" validate:"omitempty,max=128"`               // MQTT client identifier
	QoS       int    `json:"qos" validate:"gte=0,lte=2"`                           // MQTT quality of service
	Command   string `json:"command" validate:"omitempty,max=4096"`                // Publish command for the command transport
}

// StatusConfig holds status reporting settings.
type StatusConfig struct {
	ReportIntervalMs int64  `json:"report_interval_ms" validate:"gte=1000"` // Status log cadence
	HTTPAddr         string `json:"http_addr" validate:"omitempty,max=255"` // Status server listen address (empty = disabled)
}

// Config holds all application configuration. It is fixed for the process lifetime.
type Config struct {
	Audio    AudioConfig    `json:"audio"`
	Analysis AnalysisConfig `json:"analysis"`
	Broker   BrokerConfig   `json:"broker"`
	Status   StatusConfig   `json:"status"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Audio: AudioConfig{
			Device:     DefaultDevice,
			Program:    DefaultProgram,
			SampleRate: DefaultSampleRate,
			HopSeconds: DefaultHopSeconds,
		},
		Analysis: AnalysisConfig{
			NoiseWindowSeconds:    DefaultNoiseWindowSeconds,
			PresenceWindowSeconds: DefaultPresenceWindowSeconds,
			PresenceOnDB:          DefaultPresenceOnDB,
			PresenceOffDB:         DefaultPresenceOffDB,
		},
		Broker: BrokerConfig{
			Transport: DefaultTransport,
			Command:   DefaultPublishCommand,
		},
		Status: StatusConfig{
			ReportIntervalMs: DefaultReportIntervalMs,
		},
	}
}

// LoadFile overlays settings from a JSON file onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNoConfigFile, path)
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.Audio.Device == "" {
		c.Audio.Device = DefaultDevice
	}
	if c.Audio.Program == "" {
		c.Audio.Program = DefaultProgram
	}
	if c.Broker.Transport == "" {
		c.Broker.Transport = DefaultTransport
	}
	if c.Broker.Port == 0 {
		c.Broker.Port = DefaultBrokerPort
		if c.Broker.Transport == "nats" {
			c.Broker.Port = DefaultNATSPort
		}
	}
	if c.Broker.Command == "" {
		c.Broker.Command = DefaultPublishCommand
	}
	if c.Status.ReportIntervalMs == 0 {
		c.Status.ReportIntervalMs = DefaultReportIntervalMs
	}
}

// Validate checks all configuration fields and normalizes the topic prefix.
func (c *Config) Validate() error {
	c.applyDefaults()
	c.Broker.Prefix = strings.TrimRight(strings.TrimSpace(c.Broker.Prefix), "/")

	if err := validate.Struct(c); err != nil {
		return toValidationError(err)
	}

	if c.HopSamples() < 1 {
		return fmt.Errorf("invalid audio: sample_rate %d with hop_seconds %g yields an empty frame",
			c.Audio.SampleRate, c.Audio.HopSeconds)
	}
	longest := max(HourWindowSeconds, c.Analysis.NoiseWindowSeconds, c.Analysis.PresenceWindowSeconds)
	if n := c.WindowCapacity(longest); n > MaxWindowFrames {
		return fmt.Errorf("invalid analysis: a %gs window at hop_seconds %g needs %d frames, limit is %d",
			longest, c.Audio.HopSeconds, n, MaxWindowFrames)
	}
	return nil
}

// HopSamples returns the number of samples in one analysis frame.
func (c *Config) HopSamples() int {
	return int(float64(c.Audio.SampleRate) * c.Audio.HopSeconds)
}

// HopBytes returns the number of PCM bytes in one analysis frame.
func (c *Config) HopBytes() int {
	return c.HopSamples() * types.BytesPerSample
}

// HopDuration returns the wall-clock length of one analysis frame.
func (c *Config) HopDuration() time.Duration {
	return time.Duration(c.Audio.HopSeconds * float64(time.Second))
}

// WindowCapacity returns the number of frames covering the given number of seconds, at least one.
func (c *Config) WindowCapacity(seconds float64) int {
	return max(1, int(math.Round(seconds/c.Audio.HopSeconds)))
}

// ReportInterval returns the status report cadence.
func (c *Config) ReportInterval() time.Duration {
	return time.Duration(c.Status.ReportIntervalMs) * time.Millisecond
}

// Topic returns the full topic for a metric.
func (c *Config) Topic(m types.Metric) string {
	return c.Broker.Prefix + "/" + string(m)
}

// ErrNoConfigFile is returned when a config path is given but the file does not exist.
var ErrNoConfigFile = errors.New("config file not found")
