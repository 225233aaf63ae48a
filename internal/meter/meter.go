// Package meter runs the measurement loop. Each captured frame is turned into a level,
// fed through the rolling windows and the presence detector, and the resulting
// metrics are offered to the change gate for publication.
package meter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-noisemeter/internal/audio"
	"github.com/oszuidwest/zwfm-noisemeter/internal/capture"
	"github.com/oszuidwest/zwfm-noisemeter/internal/config"
	"github.com/oszuidwest/zwfm-noisemeter/internal/publish"
	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

// ErrEmptyFrame is returned for a frame without a single complete sample.
var ErrEmptyFrame = errors.New("empty frame")

// FrameSource delivers fixed-size PCM frames. *capture.Supervisor implements it.
type FrameSource interface {
	Next(ctx context.Context) ([]byte, error)
	Stats() capture.Stats
	Close() error
}

// Meter owns all loop state. Run and ProcessFrame must be called from one goroutine;
// Status is safe for concurrent use.
type Meter struct {
	cfg        *config.Config
	source     FrameSource
	publisher  publish.Publisher
	aggregator *audio.Aggregator
	detector   *audio.PresenceDetector
	gate       *publish.Gate
	now        func() time.Time
	startTime  time.Time
	lastReport time.Time

	mu       sync.RWMutex
	levels   types.Levels
	presence types.Presence
}

// New creates a meter reading from source and publishing through publisher.
// cfg must have been validated.
func New(cfg *config.Config, source FrameSource, publisher publish.Publisher) *Meter {
	sizes := audio.WindowSizes{
		Noise:    cfg.WindowCapacity(cfg.Analysis.NoiseWindowSeconds),
		Presence: cfg.WindowCapacity(cfg.Analysis.PresenceWindowSeconds),
		Minute:   cfg.WindowCapacity(config.MinuteWindowSeconds),
		Hour:     cfg.WindowCapacity(config.HourWindowSeconds),
	}

	m := &Meter{
		cfg:        cfg,
		source:     source,
		publisher:  publisher,
		aggregator: audio.NewAggregator(sizes),
		detector: audio.NewPresenceDetector(audio.PresenceConfig{
			OnDB:  cfg.Analysis.PresenceOnDB,
			OffDB: cfg.Analysis.PresenceOffDB,
		}),
		gate:     publish.NewGate(publisher, cfg.Topic),
		now:      time.Now,
		levels:   floorLevels(),
		presence: types.Absent,
	}
	m.startTime = m.now()
	return m
}

// floorLevels is reported until the first frame has been processed.
func floorLevels() types.Levels {
	return types.Levels{
		Current:      types.FloorDB,
		Avg:          types.FloorDB,
		Max:          types.FloorDB,
		Avg1m:        types.FloorDB,
		Avg1h:        types.FloorDB,
		PresenceMean: types.FloorDB,
	}
}

// Run processes frames until ctx is canceled. It returns nil on cancellation.
func (m *Meter) Run(ctx context.Context) error {
	sizes := m.aggregator.Sizes()
	slog.Info("meter started",
		"frame", m.cfg.HopDuration(),
		"frame_samples", m.cfg.HopSamples(),
		"frame_bytes", m.cfg.HopBytes(),
		"noise_window_frames", sizes.Noise,
		"presence_window_frames", sizes.Presence,
		"minute_window_frames", sizes.Minute,
		"hour_window_frames", sizes.Hour,
		"presence_on_db", m.cfg.Analysis.PresenceOnDB,
		"presence_off_db", m.cfg.Analysis.PresenceOffDB)

	m.lastReport = m.now()
	for {
		frame, err := m.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("meter stopped")
				return nil
			}
			return util.WrapError("read frame", err)
		}

		if err := m.ProcessFrame(ctx, frame); err != nil {
			slog.Warn("frame skipped", "bytes", len(frame), "error", err)
		}

		if now := m.now(); now.Sub(m.lastReport) >= m.cfg.ReportInterval() {
			m.lastReport = now
			m.report()
		}
	}
}

// ProcessFrame runs one frame through the pipeline and publishes changed metrics.
func (m *Meter) ProcessFrame(ctx context.Context, frame []byte) error {
	db, ok := audio.ComputeLevel(audio.DecodeSamples(frame))
	if !ok {
		return ErrEmptyFrame
	}

	m.aggregator.Push(db)
	levels := m.aggregator.Levels()
	event := m.detector.Update(levels.PresenceMean)

	switch {
	case event.JustEntered:
		slog.Info("sound present", "mean_db", publish.FormatLevel(event.MeanDB), "on_db", m.cfg.Analysis.PresenceOnDB)
	case event.JustLeft:
		slog.Info("sound absent", "mean_db", publish.FormatLevel(event.MeanDB), "off_db", m.cfg.Analysis.PresenceOffDB)
	}

	m.mu.Lock()
	m.levels = levels
	m.presence = event.Presence
	m.mu.Unlock()

	m.gate.Offer(ctx, types.MetricAvg, publish.FormatLevel(levels.Avg))
	m.gate.Offer(ctx, types.MetricMax, publish.FormatLevel(levels.Max))
	m.gate.Offer(ctx, types.MetricAvg1m, publish.FormatLevel(levels.Avg1m))
	m.gate.Offer(ctx, types.MetricAvg1h, publish.FormatLevel(levels.Avg1h))
	m.gate.Offer(ctx, types.MetricPresence, event.Presence.String())
	return nil
}

// Status returns a snapshot of the meter state.
func (m *Meter) Status() types.Status {
	m.mu.RLock()
	levels, presence := m.levels, m.presence
	m.mu.RUnlock()

	stats := m.source.Stats()
	return types.Status{
		Levels:    levels,
		Presence:  presence,
		Publishes: m.gate.Counters(),
		Capture: types.CaptureStatus{
			Program:       m.cfg.Audio.Program,
			Device:        m.cfg.Audio.Device,
			Running:       stats.Running,
			Restarts:      stats.Restarts,
			Frames:        stats.Frames,
			SessionFrames: stats.SessionFrames,
			LastError:     stats.LastError,
		},
		Uptime: util.FormatDuration(m.now().Sub(m.startTime)),
	}
}

// report logs the periodic status line.
func (m *Meter) report() {
	st := m.Status()

	published := make([]any, 0, 2*len(types.Metrics))
	failed := make([]any, 0, 2*len(types.Metrics))
	for _, metric := range types.Metrics {
		c := st.Publishes[metric]
		published = append(published, string(metric), c.Published)
		failed = append(failed, string(metric), c.Failed)
	}

	slog.Info("status",
		"current_db", publish.FormatLevel(st.Levels.Current),
		"avg_db", publish.FormatLevel(st.Levels.Avg),
		"max_db", publish.FormatLevel(st.Levels.Max),
		"avg_1m_db", publish.FormatLevel(st.Levels.Avg1m),
		"avg_1h_db", publish.FormatLevel(st.Levels.Avg1h),
		"presence_mean_db", publish.FormatLevel(st.Levels.PresenceMean),
		"presence", st.Presence.String(),
		slog.Group("published", published...),
		slog.Group("failed", failed...),
		"frames", st.Capture.Frames,
		"restarts", st.Capture.Restarts,
		"uptime", st.Uptime)
}

// Close stops the capture process and disconnects the publisher.
func (m *Meter) Close() error {
	return errors.Join(
		util.WrapError("close capture", m.source.Close()),
		util.WrapError("close publisher", m.publisher.Close()),
	)
}
