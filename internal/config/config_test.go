package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
)

func validConfig() *Config {
	c := New()
	c.Broker.Host = "broker.local"
	c.Broker.Prefix = "home/noise/"
	return c
}

func TestDefaults(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())

	assert.Equal(t, "default", c.Audio.Device)
	assert.Equal(t, "sox", c.Audio.Program)
	assert.Equal(t, 1883, c.Broker.Port)
	assert.Equal(t, "home/noise", c.Broker.Prefix)
	assert.Equal(t, 9600, c.HopSamples())
	assert.Equal(t, 19200, c.HopBytes())
	assert.Equal(t, "200ms", c.HopDuration().String())
	assert.Equal(t, "1m0s", c.ReportInterval().String())
	assert.Equal(t, "home/noise/avg_1h_db", c.Topic(types.MetricAvg1h))
}

func TestNATSDefaultPort(t *testing.T) {
	c := validConfig()
	c.Broker.Transport = "nats"
	require.NoError(t, c.Validate())
	assert.Equal(t, DefaultNATSPort, c.Broker.Port)
}

func TestWindowCapacity(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())

	assert.Equal(t, 25, c.WindowCapacity(c.Analysis.NoiseWindowSeconds))
	assert.Equal(t, 10, c.WindowCapacity(c.Analysis.PresenceWindowSeconds))
	assert.Equal(t, 300, c.WindowCapacity(MinuteWindowSeconds))
	assert.Equal(t, 18000, c.WindowCapacity(HourWindowSeconds))
	assert.Equal(t, 1, c.WindowCapacity(0.05))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"missing host", func(c *Config) { c.Broker.Host = "" }, "broker.host"},
		{"bad host", func(c *Config) { c.Broker.Host = "not a host" }, "broker.host"},
		{"missing prefix", func(c *Config) { c.Broker.Prefix = "" }, "broker.prefix"},
		{"wildcard prefix", func(c *Config) { c.Broker.Prefix = "home/#" }, "broker.prefix"},
		{"port too high", func(c *Config) { c.Broker.Port = 70000 }, "broker.port"},
		{"qos", func(c *Config) { c.Broker.QoS = 3 }, "broker.qos"},
		{"transport", func(c *Config) { c.Broker.Transport = "amqp" }, "broker.transport"},
		{"program", func(c *Config) { c.Audio.Program = "parec" }, "audio.program"},
		{"rate", func(c *Config) { c.Audio.SampleRate = -1 }, "audio.sample_rate"},
		{"hop", func(c *Config) { c.Audio.HopSeconds = -0.2 }, "audio.hop_seconds"},
		{"noise window", func(c *Config) { c.Analysis.NoiseWindowSeconds = 0 }, "analysis.noise_window_seconds"},
		{"noise window too long", func(c *Config) { c.Analysis.NoiseWindowSeconds = 1e18 }, "analysis.noise_window_seconds"},
		{"presence window too long", func(c *Config) { c.Analysis.PresenceWindowSeconds = 1e7 }, "analysis.presence_window_seconds"},
		{"thresholds inverted", func(c *Config) {
			c.Analysis.PresenceOnDB = -50
			c.Analysis.PresenceOffDB = -40
		}, "analysis.presence_on_db"},
		{"thresholds equal", func(c *Config) {
			c.Analysis.PresenceOnDB = -40
			c.Analysis.PresenceOffDB = -40
		}, "analysis.presence_on_db"},
		{"report interval", func(c *Config) { c.Status.ReportIntervalMs = 10 }, "status.report_interval_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.modify(c)

			err := c.Validate()
			require.Error(t, err)

			var verr *types.ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %T", err)
			fields := make([]string, 0, len(verr.Errors))
			for _, fe := range verr.Errors {
				fields = append(fields, fe.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidateEmptyFrame(t *testing.T) {
	c := validConfig()
	c.Audio.SampleRate = 8000
	c.Audio.HopSeconds = 0.0001

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty frame")
}

func TestValidateWindowFrames(t *testing.T) {
	c := validConfig()
	c.Audio.SampleRate = 384000
	c.Audio.HopSeconds = 0.001

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit is")

	c = validConfig()
	c.Analysis.NoiseWindowSeconds = 86400
	require.NoError(t, c.Validate())
	assert.LessOrEqual(t, c.WindowCapacity(c.Analysis.NoiseWindowSeconds), MaxWindowFrames)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "noisemeter.json")
	data := `{
		"audio": {"device": "plughw:CARD=Device,DEV=0", "program": "arecord", "sample_rate": 16000, "hop_seconds": 0.1},
		"broker": {"transport": "mqtt", "host": "10.0.0.5", "prefix": "attic/noise", "qos": 1}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	c := New()
	require.NoError(t, c.LoadFile(path))
	require.NoError(t, c.Validate())

	assert.Equal(t, "plughw:CARD=Device,DEV=0", c.Audio.Device)
	assert.Equal(t, "arecord", c.Audio.Program)
	assert.Equal(t, 1600, c.HopSamples())
	assert.Equal(t, 1883, c.Broker.Port)
	assert.Equal(t, 1, c.Broker.QoS)
	assert.InDelta(t, DefaultPresenceOnDB, c.Analysis.PresenceOnDB, 1e-9)
}

func TestLoadFileErrors(t *testing.T) {
	c := New()
	err := c.LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, ErrNoConfigFile)

	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	err = c.LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}
