package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the status API listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address"`
	// SerialPort is the path to the adapter's serial port (e.g. "/dev/rfcomm0")
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the adapter (e.g. 38400)
	BaudRate int `yaml:"baud_rate"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`

	// MQTTBroker is the broker URL (e.g. "tcp://localhost:1883")
	MQTTBroker   string `yaml:"mqtt_broker"`
	MQTTClientID string `yaml:"mqtt_client_id"`
	MQTTUsername string `yaml:"mqtt_username"`
	MQTTPassword string `yaml:"mqtt_password"`
	// StatusTopic receives the online/offline notifications
	StatusTopic string `yaml:"status_topic"`
	// ResultTopic receives results of signals without a destination
	ResultTopic string `yaml:"result_topic"`

	// AutoPIDConfig is the path to the JSON polling document
	AutoPIDConfig string `yaml:"autopid_config"`
	// RecordDir holds the record files of file kind signals
	RecordDir string `yaml:"record_dir"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 38400
		c.LogLevel = "info"
		c.MQTTBroker = "tcp://localhost:1883"
		c.MQTTClientID = "obdgw"
		c.StatusTopic = "obdgw/status"
		c.ResultTopic = "obdgw/rx"
		c.AutoPIDConfig = "/etc/obdgw/autopid.json"
		c.RecordDir = "/var/lib/obdgw/records"
		return nil
	}
}

// WithFile overlays the settings present in a YAML file. A missing file
// is not an error.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		for env, field := range map[string]*string{
			"MQTT_BROKER":    &c.MQTTBroker,
			"MQTT_CLIENT_ID": &c.MQTTClientID,
			"MQTT_USERNAME":  &c.MQTTUsername,
			"MQTT_PASSWORD":  &c.MQTTPassword,
			"STATUS_TOPIC":   &c.StatusTopic,
			"RESULT_TOPIC":   &c.ResultTopic,
			"AUTOPID_CONFIG": &c.AutoPIDConfig,
			"RECORD_DIR":     &c.RecordDir,
		} {
			if v := os.Getenv(env); v != "" {
				*field = v
			}
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "mqtt-broker":
				c.MQTTBroker = f.Value.String()
			case "mqtt-client-id":
				c.MQTTClientID = f.Value.String()
			case "status-topic":
				c.StatusTopic = f.Value.String()
			case "result-topic":
				c.ResultTopic = f.Value.String()
			case "autopid-config":
				c.AutoPIDConfig = f.Value.String()
			case "record-dir":
				c.RecordDir = f.Value.String()
			}
		})
		return nil
	}
}
