package publish

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/oszuidwest/zwfm-noisemeter/internal/config"
	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

// mqttClient is the subset of mqtt.Client used by the publisher.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
}

// MQTTPublisher publishes retained messages over a persistent MQTT connection.
type MQTTPublisher struct {
	client  mqttClient
	qos     byte
	timeout time.Duration
}

// DefaultClientID returns a client identifier that is unique per process.
func DefaultClientID() string {
	return "noisemeter-" + uuid.NewString()
}

// NewMQTTPublisher connects to the broker. An unreachable broker is not fatal:
// the client keeps retrying in the background and publishes fail until it connects.
func NewMQTTPublisher(cfg *config.BrokerConfig) (*MQTTPublisher, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID()
	}
	broker := "tcp://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(types.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		slog.Info("connected to MQTT broker", "broker", broker, "client_id", clientID)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("MQTT connection lost", "broker", broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(types.ConnectTimeout) {
		slog.Warn("MQTT broker not reachable yet, retrying in background", "broker", broker)
	} else if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, util.WrapError("connect to MQTT broker", err)
	}

	return newMQTTPublisher(client, byte(cfg.QoS)), nil
}

func newMQTTPublisher(client mqttClient, qos byte) *MQTTPublisher {
	return &MQTTPublisher{client: client, qos: qos, timeout: types.PublishTimeout}
}

// Publish sends a retained message and waits for the broker acknowledgement
// (or, at QoS 0, for the message to be written to the connection).
// While the client is reconnecting paho drops QoS 0 messages without an error,
// so a closed connection is reported as ErrNotConnected.
func (p *MQTTPublisher) Publish(ctx context.Context, topic, payload string) error {
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("publish %s: %w", topic, ErrNotConnected)
	}
	token := p.client.Publish(topic, p.qos, true, payload)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrPublishTimeout, p.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker, giving in-flight messages 250ms to complete.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
