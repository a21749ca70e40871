package publish

import "errors"

var (
	// ErrNoBroker is returned when an MQTT publisher is built without a
	// broker URL.
	ErrNoBroker = errors.New("no broker configured")

	// ErrNotConnected is returned by Publish while the broker connection
	// is down. Records are not queued.
	ErrNotConnected = errors.New("not connected to broker")

	// ErrPublishTimeout is returned when the broker does not acknowledge a
	// publish in time.
	ErrPublishTimeout = errors.New("publish timed out")

	// ErrInvalidName is returned by FileSink.Record for names that do not
	// denote a plain file in the record directory.
	ErrInvalidName = errors.New("invalid record name")
)
