// Package publish delivers metric values to a message broker.
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/oszuidwest/zwfm-noisemeter/internal/config"
)

// Publisher delivers single retained messages to a broker.
type Publisher interface {
	// Publish sends payload to topic and waits for the transport to confirm it.
	Publish(ctx context.Context, topic, payload string) error
	// Close releases the broker connection.
	Close() error
}

var (
	// ErrUnknownTransport is returned for an unsupported transport name.
	ErrUnknownTransport = errors.New("unknown transport")
	// ErrPublishTimeout is returned when the broker does not confirm a message in time.
	ErrPublishTimeout = errors.New("publish timed out")
	// ErrNotConnected is returned when the broker connection is down.
	ErrNotConnected = errors.New("not connected to broker")
)

// New creates the publisher for the configured transport.
func New(cfg *config.BrokerConfig) (Publisher, error) {
	switch cfg.Transport {
	case "mqtt":
		return NewMQTTPublisher(cfg)
	case "nats":
		return NewNATSPublisher(cfg)
	case "command":
		return NewCommandPublisher(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}
}
