package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	config, err := LoadConfig(WithDefaults())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.BaudRate != 38400 {
		t.Errorf("expected default baud rate 38400, got %d", config.BaudRate)
	}
	if config.StatusTopic != "obdgw/status" || config.ResultTopic != "obdgw/rx" {
		t.Errorf("unexpected default topics %q %q", config.StatusTopic, config.ResultTopic)
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obdgw.yaml")
	yamlDoc := `
serial_port: /dev/rfcomm0
baud_rate: 115200
mqtt_broker: tcp://broker.lan:1883
status_topic: car/status
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("STATUS_TOPIC", "env/status")
	t.Setenv("RESULT_TOPIC", "env/rx")

	fSet := flag.NewFlagSet("test", flag.ContinueOnError)
	fSet.String("result-topic", "", "")
	fSet.Int("baud-rate", 0, "")
	if err := fSet.Parse([]string{"-result-topic", "flag/rx"}); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(WithDefaults(), WithFile(path), WithEnv(), WithFlags(fSet))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"file overrides default", config.SerialPort, "/dev/rfcomm0"},
		{"unset flag keeps file value", config.BaudRate, 115200},
		{"file broker", config.MQTTBroker, "tcp://broker.lan:1883"},
		{"env overrides file", config.StatusTopic, "env/status"},
		{"flag overrides env", config.ResultTopic, "flag/rx"},
		{"untouched default", config.BindAddress, "0.0.0.0:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, tt.got)
			}
		})
	}
}

func TestWithFile(t *testing.T) {
	t.Run("Missing file is ignored", func(t *testing.T) {
		config, err := LoadConfig(WithDefaults(), WithFile(filepath.Join(t.TempDir(), "absent.yaml")))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if config.SerialPort != "/dev/ttyUSB0" {
			t.Errorf("expected default serial port, got %q", config.SerialPort)
		}
	})

	t.Run("Invalid YAML fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.yaml")
		if err := os.WriteFile(path, []byte("baud_rate: [fast"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(WithFile(path)); err == nil {
			t.Error("expected parse error")
		}
	})
}
