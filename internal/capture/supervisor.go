package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

const (
	// readChunkSize is the size of a single pipe read.
	readChunkSize = 8192
	// chunkQueue is the number of reads buffered between the reader and the supervisor.
	chunkQueue = 64
)

// Stats reports supervisor counters.
type Stats struct {
	Running       bool
	Restarts      int
	Frames        int64
	SessionFrames int64
	LastError     string
}

// session is one lifetime of the capture process.
type session struct {
	proc     Process
	chunks   <-chan []byte // nil once the stream reached EOF
	stop     chan struct{}
	buf      []byte
	lastData time.Time
	lastWarn time.Time
	frames   int64
}

func (s *session) exited() bool {
	select {
	case <-s.proc.Done():
		return true
	default:
		return false
	}
}

// Supervisor keeps a capture process running and delivers its output as hop-sized frames.
// Next and Close must be called from a single goroutine; Stats is safe for concurrent use.
type Supervisor struct {
	launcher Launcher
	hopBytes int
	clock    Clock
	backoff  *util.Backoff
	session  *session

	mu    sync.Mutex
	stats Stats
}

// NewSupervisor creates a supervisor producing frames of hopBytes bytes.
// The first process is launched lazily by Next.
func NewSupervisor(launcher Launcher, hopBytes int) *Supervisor {
	return &Supervisor{
		launcher: launcher,
		hopBytes: hopBytes,
		clock:    realClock{},
		backoff:  util.NewBackoff(types.RestartDelay, types.MaxLaunchDelay),
	}
}

// Next blocks until a complete frame is available and returns it.
// Process death and stalls are handled internally; only context errors are returned.
func (s *Supervisor) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if s.session == nil {
			if err := s.launch(ctx); err != nil {
				return nil, err
			}
		}

		sess := s.session
		if len(sess.buf) >= s.hopBytes {
			return s.takeFrame(sess), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-sess.chunks:
			if !ok {
				sess.chunks = nil
				slog.Debug("capture stream closed", "buffered_bytes", len(sess.buf))
				continue
			}
			sess.buf = append(sess.buf, chunk...)
			sess.lastData = s.clock.Now()
		case <-s.clock.After(types.ReadWait):
			if err := s.checkHealth(ctx); err != nil {
				return nil, err
			}
		}
	}
}

// takeFrame slices one frame off the front of the session buffer.
func (s *Supervisor) takeFrame(sess *session) []byte {
	frame := make([]byte, s.hopBytes)
	copy(frame, sess.buf)
	n := copy(sess.buf, sess.buf[s.hopBytes:])
	sess.buf = sess.buf[:n]
	sess.frames++

	s.mu.Lock()
	s.stats.Frames++
	s.stats.SessionFrames = sess.frames
	s.mu.Unlock()

	return frame
}

// checkHealth runs after a read wait expired without data.
func (s *Supervisor) checkHealth(ctx context.Context) error {
	sess := s.session
	now := s.clock.Now()

	if sess.chunks == nil && sess.exited() {
		code := sess.proc.ExitCode()
		stderr := util.ExtractLastError(sess.proc.Stderr())
		slog.Error("capture process exited, restarting",
			"exit_code", code, "stderr", stderr, "session_frames", sess.frames)
		reason := fmt.Sprintf("exit code %d", code)
		if stderr != "" {
			reason += ": " + stderr
		}
		return s.restart(ctx, reason)
	}

	// A nearly complete frame is about to finish on its own.
	if float64(len(sess.buf)) >= types.PartialFrameGrace*float64(s.hopBytes) {
		return nil
	}

	idle := now.Sub(sess.lastData)
	switch {
	case idle >= types.StallRestartThreshold:
		slog.Error("capture stalled, restarting",
			"idle", idle.Truncate(time.Second), "process_exited", sess.exited(), "buffered_bytes", len(sess.buf))
		return s.restart(ctx, "stalled for "+util.FormatDuration(idle))
	case idle >= types.StallWarnThreshold && now.Sub(sess.lastWarn) >= types.StallWarnInterval:
		sess.lastWarn = now
		slog.Warn("no audio from capture process",
			"idle", idle.Truncate(time.Second), "restart_after", types.StallRestartThreshold)
	}
	return nil
}

// restart terminates the current session and pauses before the next launch.
// Any partial frame of the old session is discarded.
func (s *Supervisor) restart(ctx context.Context, reason string) error {
	s.stopSession()

	s.mu.Lock()
	s.stats.Restarts++
	s.stats.LastError = reason
	s.mu.Unlock()

	return s.sleep(ctx, types.RestartDelay)
}

// launch starts a new session, retrying with backoff until it succeeds or ctx ends.
func (s *Supervisor) launch(ctx context.Context) error {
	var proc Process
	for {
		var err error
		proc, err = s.launcher.Launch()
		if err == nil {
			break
		}

		delay := s.backoff.Next()
		slog.Error("failed to start capture process",
			"command", fmt.Sprint(s.launcher), "error", err, "attempt", s.backoff.Attempts(), "retry_in", delay)
		s.mu.Lock()
		s.stats.LastError = err.Error()
		s.mu.Unlock()

		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
	s.backoff.Reset()

	chunks := make(chan []byte, chunkQueue)
	stop := make(chan struct{})
	go readLoop(proc.Stdout(), chunks, stop)

	s.session = &session{
		proc:     proc,
		chunks:   chunks,
		stop:     stop,
		buf:      make([]byte, 0, 2*s.hopBytes),
		lastData: s.clock.Now(),
	}

	s.mu.Lock()
	s.stats.Running = true
	s.stats.SessionFrames = 0
	s.mu.Unlock()

	slog.Info("capture process started", "command", fmt.Sprint(s.launcher), "frame_bytes", s.hopBytes)
	return nil
}

// stopSession terminates the capture process and waits a bounded time for it to be reaped.
func (s *Supervisor) stopSession() {
	sess := s.session
	if sess == nil {
		return
	}
	s.session = nil

	close(sess.stop)
	sess.proc.Terminate()

	// Reaping is bounded in real time, independent of the supervision clock.
	select {
	case <-sess.proc.Done():
	case <-time.After(types.ShutdownTimeout + time.Second):
		slog.Warn("capture process did not exit after termination")
	}

	s.mu.Lock()
	s.stats.Running = false
	s.mu.Unlock()
}

// sleep pauses for d or until ctx ends.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}

// Close terminates the capture process.
func (s *Supervisor) Close() error {
	s.stopSession()
	return nil
}

// Stats returns a snapshot of the supervisor counters.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// readLoop copies the process output into chunks until EOF or stop.
func readLoop(r io.Reader, chunks chan<- []byte, stop <-chan struct{}) {
	defer close(chunks)

	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunks <- chunk:
			case <-stop:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				slog.Warn("capture read failed", "error", err)
			}
			return
		}
	}
}
