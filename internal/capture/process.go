// Package capture supervises the external capture process and turns its PCM output
// into fixed-size analysis frames.
package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

// maxStderrBytes bounds the retained diagnostic output of one capture process.
const maxStderrBytes = 4096

// Process is a running capture program.
type Process interface {
	// Stdout returns the PCM stream. It reaches EOF when the program exits.
	Stdout() io.Reader
	// Done is closed once the program has exited and been reaped.
	Done() <-chan struct{}
	// ExitCode returns the exit code. Valid after Done is closed.
	ExitCode() int
	// Stderr returns the tail of the diagnostic output.
	Stderr() string
	// Terminate asks the program to exit and releases the stream.
	Terminate()
}

// Launcher starts capture processes with a fixed configuration.
type Launcher interface {
	Launch() (Process, error)
}

// CommandLauncher launches a capture program as a subprocess.
type CommandLauncher struct {
	Command string
	Args    []string
}

// String returns the command line for logging.
func (l *CommandLauncher) String() string {
	return strings.Join(append([]string{l.Command}, l.Args...), " ")
}

// Launch starts the capture program with stdout connected to a pipe.
func (l *CommandLauncher) Launch() (Process, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, l.Command, l.Args...)

	// Cancel sends a termination signal first; WaitDelay escalates to a kill.
	cmd.Cancel = func() error {
		return util.GracefulSignal(cmd.Process)
	}
	cmd.WaitDelay = types.ShutdownTimeout

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		cancel()
		return nil, util.WrapError("create stdout pipe", err)
	}
	cmd.Stdout = stdoutW

	stderr := &tailBuffer{limit: maxStderrBytes}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		util.SafeClose(stdoutR, "capture stdout")
		util.SafeClose(stdoutW, "capture stdout writer")
		return nil, fmt.Errorf("start %s: %w", l.Command, err)
	}

	// The child holds its own copy of the write end; EOF follows its exit.
	util.SafeClose(stdoutW, "capture stdout writer")

	p := &execProcess{
		cmd:    cmd,
		cancel: cancel,
		stdout: stdoutR,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	go p.wait()

	return p, nil
}

// execProcess is a Process backed by os/exec.
type execProcess struct {
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	stdout   *os.File
	stderr   *tailBuffer
	done     chan struct{}
	exitCode int
}

func (p *execProcess) wait() {
	_ = p.cmd.Wait() //nolint:errcheck // Exit status is read from ProcessState
	p.exitCode = -1
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	close(p.done)
}

func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Done() <-chan struct{} { return p.done }
func (p *execProcess) ExitCode() int         { return p.exitCode }
func (p *execProcess) Stderr() string        { return p.stderr.String() }

// Terminate cancels the process context and closes the read end of the pipe.
func (p *execProcess) Terminate() {
	p.cancel()
	util.SafeClose(p.stdout, "capture stdout")
}

// tailBuffer keeps the last limit bytes written to it. It is safe for concurrent use.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
