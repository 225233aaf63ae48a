package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/oszuidwest/zwfm-noisemeter/internal/config"
	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

// natsConn is the subset of *nats.Conn used by the publisher.
type natsConn interface {
	Publish(subj string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// NATSPublisher publishes metric values as NATS messages.
// NATS has no retained messages; subscribers see values from the next change on.
type NATSPublisher struct {
	conn    natsConn
	timeout time.Duration
}

// NewNATSPublisher connects to the NATS server.
func NewNATSPublisher(cfg *config.BrokerConfig) (*NATSPublisher, error) {
	url := "nats://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	opts := []nats.Option{
		nats.Name("noisemeter"),
		nats.Timeout(types.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS connection lost", "url", url, "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, util.WrapError("connect to NATS", err)
	}
	slog.Info("connected to NATS", "url", url)

	return newNATSPublisher(nc), nil
}

func newNATSPublisher(conn natsConn) *NATSPublisher {
	return &NATSPublisher{conn: conn, timeout: types.PublishTimeout}
}

// Subject converts a slash separated topic into a NATS subject.
func Subject(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}

// Publish sends payload and flushes so that delivery failures surface here.
func (p *NATSPublisher) Publish(ctx context.Context, topic, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := Subject(topic)
	if err := p.conn.Publish(subject, []byte(payload)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if err := p.conn.FlushTimeout(timeout); err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return fmt.Errorf("%w after %s", ErrPublishTimeout, timeout)
		}
		return util.WrapError("flush "+subject, err)
	}
	return nil
}

// Close drops the connection.
func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}
