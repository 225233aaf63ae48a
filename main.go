// Package main provides noisemeter, a continuous audio level monitor that captures a
// local input device and publishes dBFS statistics and a sound presence flag to a broker.
//
// Usage:
//
//	noisemeter --mqtt-host broker.local --mqtt-prefix home/livingroom/noise [flags]
//	noisemeter devices
//	noisemeter version
//
// Settings are read from built-in defaults, then the JSON file given with --config
// (default: noisemeter.json next to the binary, if present), then explicitly set flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/oszuidwest/zwfm-noisemeter/internal/audio"
	"github.com/oszuidwest/zwfm-noisemeter/internal/capture"
	"github.com/oszuidwest/zwfm-noisemeter/internal/config"
	"github.com/oszuidwest/zwfm-noisemeter/internal/meter"
	"github.com/oszuidwest/zwfm-noisemeter/internal/publish"
	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

// httpShutdownTimeout bounds the status server shutdown.
const httpShutdownTimeout = 5 * time.Second

// options holds the command line flags.
type options struct {
	configPath     string
	device         string
	rate           int
	hop            float64
	noiseWindow    float64
	presenceWindow float64
	presenceOn     float64
	presenceOff    float64
	program        string
	transport      string
	host           string
	port           int
	username       string
	password       string
	prefix         string
	clientID       string
	qos            int
	statusInterval time.Duration
	httpAddr       string
	debug          bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("noisemeter failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "noisemeter",
		Short: "Publish ambient noise levels and sound presence to a message broker",
		Long: `noisemeter captures a local audio input, computes RMS levels in dBFS and
publishes rolling averages, the noise window maximum and a sound presence flag
as retained messages under a topic prefix:

  <prefix>/avg_db      mean over the noise window
  <prefix>/max_db      maximum over the noise window
  <prefix>/avg_1m_db   mean over the last minute
  <prefix>/avg_1h_db   mean over the last hour
  <prefix>/presence    1 while sound is present, 0 otherwise`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(opts.debug)
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	opts.register(cmd)
	cmd.AddCommand(newDevicesCmd(), newVersionCmd())
	return cmd
}

// register defines the flags on cmd.
func (o *options) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.configPath, "config", "", "path to a JSON config file")
	f.StringVar(&o.device, "device", config.DefaultDevice, "capture device identifier")
	f.IntVar(&o.rate, "rate", config.DefaultSampleRate, "sample rate in Hz")
	f.Float64Var(&o.hop, "hop", config.DefaultHopSeconds, "analysis frame length in seconds")
	f.Float64Var(&o.noiseWindow, "noise-window", config.DefaultNoiseWindowSeconds, "window for avg_db and max_db in seconds")
	f.Float64Var(&o.presenceWindow, "presence-window", config.DefaultPresenceWindowSeconds, "window driving presence in seconds")
	f.Float64Var(&o.presenceOn, "p-on", config.DefaultPresenceOnDB, "presence starts when the window mean rises above this dBFS")
	f.Float64Var(&o.presenceOff, "p-off", config.DefaultPresenceOffDB, "presence ends when the window mean drops below this dBFS")
	f.StringVar(&o.program, "capture-program", config.DefaultProgram, "capture program: sox, arecord or ffmpeg")
	f.StringVar(&o.transport, "transport", config.DefaultTransport, "publish transport: mqtt, nats or command")
	f.StringVar(&o.host, "mqtt-host", "", "broker host (required)")
	f.IntVar(&o.port, "mqtt-port", config.DefaultBrokerPort, "broker port")
	f.StringVar(&o.username, "mqtt-user", "", "broker username")
	f.StringVar(&o.password, "mqtt-pass", "", "broker password")
	f.StringVar(&o.prefix, "mqtt-prefix", "", "topic prefix (required)")
	f.StringVar(&o.clientID, "mqtt-client-id", "", "MQTT client ID (default noisemeter-<uuid>)")
	f.IntVar(&o.qos, "qos", 0, "MQTT quality of service (0, 1 or 2)")
	f.DurationVar(&o.statusInterval, "status-interval", types.DefaultStatusInterval, "status log interval")
	f.StringVar(&o.httpAddr, "http-addr", "", "status server listen address, e.g. :8080 (disabled when empty)")
	f.BoolVar(&o.debug, "debug", false, "enable debug logging")
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List capture devices",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, d := range audio.ListDevices() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-32s %s\n", d.ID, d.Name)
			}
		},
	}
}

// setupLogging installs the default text logger.
func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig merges defaults, the config file and explicitly set flags, then validates.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg := config.New()

	path := opts.configPath
	explicit := path != ""
	if !explicit {
		if execPath, err := os.Executable(); err == nil {
			path = filepath.Join(filepath.Dir(execPath), "noisemeter.json")
		}
	}
	if path != "" {
		err := cfg.LoadFile(path)
		switch {
		case err == nil:
			slog.Info("using config file", "path", path)
		case errors.Is(err, config.ErrNoConfigFile) && !explicit:
		default:
			return nil, err
		}
	}

	opts.apply(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// apply copies the flags that were set on the command line into cfg.
func (o *options) apply(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed

	if set("device") {
		cfg.Audio.Device = o.device
	}
	if set("rate") {
		cfg.Audio.SampleRate = o.rate
	}
	if set("hop") {
		cfg.Audio.HopSeconds = o.hop
	}
	if set("capture-program") {
		cfg.Audio.Program = o.program
	}
	if set("noise-window") {
		cfg.Analysis.NoiseWindowSeconds = o.noiseWindow
	}
	if set("presence-window") {
		cfg.Analysis.PresenceWindowSeconds = o.presenceWindow
	}
	if set("p-on") {
		cfg.Analysis.PresenceOnDB = o.presenceOn
	}
	if set("p-off") {
		cfg.Analysis.PresenceOffDB = o.presenceOff
	}
	if set("transport") {
		cfg.Broker.Transport = o.transport
	}
	if set("mqtt-host") {
		cfg.Broker.Host = o.host
	}
	if set("mqtt-port") {
		cfg.Broker.Port = o.port
	}
	if set("mqtt-user") {
		cfg.Broker.Username = o.username
	}
	if set("mqtt-pass") {
		cfg.Broker.Password = o.password
	}
	if set("mqtt-prefix") {
		cfg.Broker.Prefix = o.prefix
	}
	if set("mqtt-client-id") {
		cfg.Broker.ClientID = o.clientID
	}
	if set("qos") {
		cfg.Broker.QoS = o.qos
	}
	if set("status-interval") {
		cfg.Status.ReportIntervalMs = o.statusInterval.Milliseconds()
	}
	if set("http-addr") {
		cfg.Status.HTTPAddr = o.httpAddr
	}
}

// run wires the pipeline and blocks until a shutdown signal arrives.
func run(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, util.ShutdownSignals()...)
	defer stop()

	name, args, err := audio.BuildCaptureCommand(cfg.Audio.Program, audio.CaptureFormat{
		Device:     cfg.Audio.Device,
		SampleRate: cfg.Audio.SampleRate,
	})
	if err != nil {
		return err
	}
	launcher := &capture.CommandLauncher{Command: name, Args: args}

	pub, err := publish.New(&cfg.Broker)
	if err != nil {
		return err
	}

	slog.Info("starting noisemeter",
		"version", Version,
		"device", cfg.Audio.Device,
		"capture", launcher.String(),
		"transport", cfg.Broker.Transport,
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"prefix", cfg.Broker.Prefix)

	m := meter.New(cfg, capture.NewSupervisor(launcher, cfg.HopBytes()), pub)

	versions := NewVersionChecker()
	defer versions.Stop()

	var httpServer *http.Server
	if cfg.Status.HTTPAddr != "" {
		httpServer = NewServer(ctx, m, versions).Start(cfg.Status.HTTPAddr)
	}

	runErr := m.Run(ctx)

	slog.Info("shutting down")
	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("status server shutdown error", "error", err)
		}
		cancel()
	}
	closeErr := m.Close()
	if err := errors.Join(runErr, closeErr); err != nil {
		return err
	}

	slog.Info("shutdown complete")
	return nil
}
