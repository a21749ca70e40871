// Package publish delivers status and result records to an MQTT broker or
// to local record files.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// OfflinePayload is the status record sent when the gateway loses the ECU
// and registered as the client's last will.
const OfflinePayload = `{"ecu_status":"offline"}`

// MQTTConfig holds the broker settings.
type MQTTConfig struct {
	// Broker is the broker URL, e.g. tcp://localhost:1883
	Broker   string
	ClientID string
	Username string
	Password string
	// StatusTopic carries the last will. Empty disables the will.
	StatusTopic string
	QoS         byte
	// PublishTimeout bounds the wait for a publish acknowledgement.
	// Defaults to 5s.
	PublishTimeout time.Duration
	// RetryInterval separates connection attempts. Defaults to 5s.
	RetryInterval time.Duration
}

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes records to a broker and keeps reconnecting in the
// background after the first Connect.
type MQTT struct {
	client client
	cfg    MQTTConfig
	logger *slog.Logger
}

// NewMQTT prepares a publisher. No connection is made until Connect.
func NewMQTT(cfg MQTTConfig, logger *slog.Logger) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, ErrNoBroker
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(cfg.RetryInterval)
	if cfg.StatusTopic != "" {
		opts.SetWill(cfg.StatusTopic, OfflinePayload, cfg.QoS, false)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("MQTT connected", "broker", cfg.Broker)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Debug("MQTT reconnecting", "broker", cfg.Broker)
	})

	return newMQTT(mqtt.NewClient(opts), cfg, logger), nil
}

func newMQTT(c client, cfg MQTTConfig, logger *slog.Logger) *MQTT {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &MQTT{client: c, cfg: cfg, logger: logger}
}

// Connect starts the connection and waits for the first successful
// connect or for ctx. When ctx ends first the client keeps retrying in
// the background.
func (m *MQTT) Connect(ctx context.Context) error {
	token := m.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect %s: %w", m.cfg.Broker, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish sends payload to topic and waits for the acknowledgement.
func (m *MQTT) Publish(topic string, payload []byte) error {
	if !m.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := m.client.Publish(topic, m.cfg.QoS, false, payload)
	if !token.WaitTimeout(m.cfg.PublishTimeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	m.logger.Debug("Published", "topic", topic, "bytes", len(payload))
	return nil
}

// IsConnected reports whether the broker connection is currently open.
func (m *MQTT) IsConnected() bool {
	return m.client.IsConnectionOpen()
}

// Close disconnects, giving in-flight work 500ms to finish.
func (m *MQTT) Close() {
	m.client.Disconnect(500)
}
