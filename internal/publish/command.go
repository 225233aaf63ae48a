package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/oszuidwest/zwfm-noisemeter/internal/config"
	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

// runFunc runs a command to completion and returns its stderr.
type runFunc func(ctx context.Context, name string, args ...string) (string, error)

// CommandPublisher publishes each message by running mosquitto_pub (or a compatible command).
type CommandPublisher struct {
	command string
	cfg     config.BrokerConfig
	timeout time.Duration
	run     runFunc
}

// NewCommandPublisher creates a publisher that shells out per message.
func NewCommandPublisher(cfg *config.BrokerConfig) *CommandPublisher {
	command := cfg.Command
	if command == "" {
		command = config.DefaultPublishCommand
	}
	return &CommandPublisher{
		command: command,
		cfg:     *cfg,
		timeout: types.PublishTimeout,
		run:     runCommand,
	}
}

// Args returns the mosquitto_pub arguments for one retained message.
func (p *CommandPublisher) Args(topic, payload string) []string {
	args := []string{
		"-h", p.cfg.Host,
		"-p", strconv.Itoa(p.cfg.Port),
		"-t", topic,
		"-m", payload,
		"-r",
	}
	if p.cfg.Username != "" {
		args = append(args, "-u", p.cfg.Username)
		if p.cfg.Password != "" {
			args = append(args, "-P", p.cfg.Password)
		}
	}
	if p.cfg.QoS > 0 {
		args = append(args, "-q", strconv.Itoa(p.cfg.QoS))
	}
	if p.cfg.ClientID != "" {
		args = append(args, "-i", p.cfg.ClientID)
	}
	return args
}

// Publish runs the command and waits at most the publish timeout for it to finish.
func (p *CommandPublisher) Publish(ctx context.Context, topic, payload string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	stderr, err := p.run(ctx, p.command, p.Args(topic, payload)...)
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrPublishTimeout, p.timeout)
	}
	if msg := util.ExtractLastError(stderr); msg != "" {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return util.WrapError("run "+p.command, err)
}

// Close is a no-op; no connection outlives a single message.
func (p *CommandPublisher) Close() error {
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}
