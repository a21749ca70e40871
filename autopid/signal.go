package autopid

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"i4.energy/across/obdgw/elm"
)

// Kind selects where the results of a signal are sent.
type Kind int

const (
	// KindTopic publishes results to a message topic.
	KindTopic Kind = iota
	// KindFile appends results to a record file.
	KindFile
)

func (k Kind) String() string {
	if k == KindFile {
		return "file"
	}
	return "topic"
}

// SignalRequest is one diagnostic signal to poll.
type SignalRequest struct {
	// Name is the key of the numeric result in the published record.
	Name string
	// Init is the per-signal setup string. It is loaded but not sent.
	Init string
	// Command is the terminated request sent to the adapter.
	Command    string
	Expression string
	Period     time.Duration
	// Destination is the topic or record name. Empty means the default
	// result topic.
	Destination string
	Kind        Kind

	// nextDue is only touched by the Scheduler.
	nextDue time.Time
}

// Config is the polling setup loaded from the JSON document.
type Config struct {
	// Init is the custom initialisation sent at every connect check,
	// commands separated by the line terminator. May be empty.
	Init    string
	Signals []SignalRequest
}

type document struct {
	Initialisation *string           `json:"initialisation"`
	PIDs           []json.RawMessage `json:"pids"`
}

type pidEntry struct {
	Name       *string `json:"Name"`
	Init       string  `json:"Init"`
	PID        *string `json:"PID"`
	Expression *string `json:"Expression"`
	Period     *string `json:"Period"`
	SendTo     string  `json:"Send_to"`
	Type       string  `json:"Type"`
}

const topicType = "MQTT_Topic"

var (
	errMissing = errors.New("missing")
	errEmpty   = errors.New("empty")
)

// LoadFile reads and parses the polling document at path.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("autopid config: %w", err)
	}
	return Load(data)
}

// Load parses the polling document. The whole load fails on the first
// invalid field, leaving no signals configured.
//
// ';' in "initialisation" becomes the line terminator and a trailing one is
// added when missing. Every "PID" gets the terminator appended.
func Load(data []byte) (Config, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Config{}, &ConfigError{Index: -1, Err: err}
	}
	if doc.PIDs == nil {
		return Config{}, &ConfigError{Index: -1, Field: "pids", Err: errMissing}
	}

	var cfg Config
	if doc.Initialisation != nil {
		cfg.Init = normalizeInit(*doc.Initialisation)
	}

	cfg.Signals = make([]SignalRequest, 0, len(doc.PIDs))
	for i, raw := range doc.PIDs {
		sig, err := parseSignal(i, raw)
		if err != nil {
			return Config{}, err
		}
		cfg.Signals = append(cfg.Signals, sig)
	}
	return cfg, nil
}

func parseSignal(i int, raw json.RawMessage) (SignalRequest, error) {
	var p pidEntry
	if err := json.Unmarshal(raw, &p); err != nil {
		return SignalRequest{}, &ConfigError{Index: i, Field: "(entry)", Err: err}
	}

	name, err := required(i, "Name", p.Name)
	if err != nil {
		return SignalRequest{}, err
	}
	cmd, err := required(i, "PID", p.PID)
	if err != nil {
		return SignalRequest{}, err
	}
	expr, err := required(i, "Expression", p.Expression)
	if err != nil {
		return SignalRequest{}, err
	}
	periodText, err := required(i, "Period", p.Period)
	if err != nil {
		return SignalRequest{}, err
	}
	period, err := strconv.ParseUint(strings.TrimSpace(periodText), 10, 32)
	if err != nil {
		return SignalRequest{}, &ConfigError{Index: i, Field: "Period", Err: err}
	}

	kind := KindTopic
	if p.Type != "" && p.Type != topicType {
		kind = KindFile
	}

	return SignalRequest{
		Name:        name,
		Init:        p.Init,
		Command:     cmd + elm.CR,
		Expression:  expr,
		Period:      time.Duration(period) * time.Millisecond,
		Destination: p.SendTo,
		Kind:        kind,
	}, nil
}

func required(i int, field string, v *string) (string, error) {
	if v == nil {
		return "", &ConfigError{Index: i, Field: field, Err: errMissing}
	}
	if *v == "" {
		return "", &ConfigError{Index: i, Field: field, Err: errEmpty}
	}
	return *v, nil
}

func normalizeInit(s string) string {
	s = strings.ReplaceAll(s, ";", elm.CR)
	if s != "" && !strings.HasSuffix(s, elm.CR) {
		s += elm.CR
	}
	return s
}
