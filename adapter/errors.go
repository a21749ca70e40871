package adapter

import "errors"

var (
	// ErrNoDialer is returned when an Adapter is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the adapter.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on an
	// Adapter that has no transport, for example because the Dialer
	// returned none.
	ErrNotInitialized = errors.New("adapter not initialized")

	// ErrAlreadyClosed is returned when Close is called on an Adapter that
	// has already been closed, or when a command is submitted after Close.
	ErrAlreadyClosed = errors.New("adapter already closed")

	// ErrLoopRunning is returned when Loop is called while another Loop is
	// still reading the transport.
	ErrLoopRunning = errors.New("adapter loop already running")
)
