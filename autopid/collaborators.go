package autopid

//go:generate go tool mockgen -source=collaborators.go -destination=mock_collaborators.go -package=autopid

// Transceiver submits one terminated command to the adapter. Decoded
// replies arrive separately on the Worker's response channel.
type Transceiver interface {
	Submit(cmd []byte) error
}

// Publisher sends records to the message broker.
type Publisher interface {
	Publish(topic string, payload []byte) error
	// IsConnected reports whether the broker connection is up.
	IsConnected() bool
}

// Evaluator turns a signal's raw response bytes into a number.
type Evaluator interface {
	Evaluate(expression string, data []byte) (float64, error)
}

// Recorder stores results of file kind signals under name.
type Recorder interface {
	Record(name string, payload []byte) error
}
