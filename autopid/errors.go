package autopid

import (
	"errors"
	"fmt"
)

var (
	// ErrResponseTimeout is returned when no decoded response arrives within
	// the bound of a probe or poll.
	ErrResponseTimeout = errors.New("timed out waiting for response")

	// ErrEvaluation wraps a failure of the expression evaluator.
	ErrEvaluation = errors.New("expression evaluation failed")

	// ErrNoTransceiver is returned when a Worker is constructed without a
	// Transceiver or without the channel its responses arrive on.
	ErrNoTransceiver = errors.New("no transceiver configured")

	// ErrNoPublisher is returned when a Worker is constructed without a
	// Publisher.
	ErrNoPublisher = errors.New("no publisher configured")

	// ErrNoEvaluator is returned when a Worker is constructed without an
	// Evaluator.
	ErrNoEvaluator = errors.New("no evaluator configured")
)

// ConfigError reports a missing or invalid field of the polling document.
// Index is the position in "pids", or -1 for document level fields.
type ConfigError struct {
	Index int
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Index < 0 && e.Field == "":
		return fmt.Sprintf("autopid config: %v", e.Err)
	case e.Index < 0:
		return fmt.Sprintf("autopid config: %s: %v", e.Field, e.Err)
	default:
		return fmt.Sprintf("autopid config: pids[%d].%s: %v", e.Index, e.Field, e.Err)
	}
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
