package adapter

import (
	"log/slog"
	"time"

	"i4.energy/across/obdgw/elm"
)

// Config holds the Adapter settings. Build one with NewConfigBuilder.
type Config struct {
	dialer          Dialer
	logger          *slog.Logger
	responseQueue   int
	deliveryTimeout time.Duration
	bufferSize      int
	readSize        int
}

func (c *Config) validate() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.responseQueue <= 0 {
		c.responseQueue = 10
	}
	if c.deliveryTimeout <= 0 {
		c.deliveryTimeout = time.Second
	}
	if c.bufferSize <= 0 {
		c.bufferSize = elm.DefaultBufferSize
	}
	if c.readSize <= 0 {
		c.readSize = 128
	}
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	cfg Config
}

// NewConfigBuilder returns a builder with every setting at its default.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

// WithDialer sets the Dialer used to open the transport. Required.
func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.cfg.dialer = d
	return b
}

// WithLogger sets the logger for dropped deliveries and adapter errors.
func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.cfg.logger = l
	return b
}

// WithResponseQueue sets the capacity of the decoded response channel.
func (b *ConfigBuilder) WithResponseQueue(n int) *ConfigBuilder {
	b.cfg.responseQueue = n
	return b
}

// WithDeliveryTimeout bounds how long the read loop waits to enqueue a
// decoded response before dropping it.
func (b *ConfigBuilder) WithDeliveryTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.deliveryTimeout = d
	return b
}

// WithBufferSize sets the capacity of the reply accumulator in bytes.
func (b *ConfigBuilder) WithBufferSize(n int) *ConfigBuilder {
	b.cfg.bufferSize = n
	return b
}

// WithReadSize sets the size of a single transport read.
func (b *ConfigBuilder) WithReadSize(n int) *ConfigBuilder {
	b.cfg.readSize = n
	return b
}

// Build validates the settings and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	cfg := b.cfg
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	cfg.setDefaults()
	return cfg, nil
}
