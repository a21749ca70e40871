// Package adapter drives an ELM327-style adapter over a byte stream. It
// submits command text and turns the adapter's replies into decoded
// elm.Response values delivered on a bounded channel.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"i4.energy/across/obdgw/elm"
)

// Adapter represents one connected ELM327-style adapter.
//
// Writes go straight to the transport from the caller's goroutine. All reads
// happen in Loop, which feeds the reply accumulator and forwards decoded
// responses to the channel returned by Responses.
type Adapter struct {
	// transport provides the physical connection to the adapter
	transport Transport
	// config contains the adapter settings
	config Config
	logger *slog.Logger

	// acc collects reply fragments; owned by Loop
	acc *elm.Accumulator
	// responses delivers decoded replies to the single consumer
	responses chan elm.Response

	// mu serializes writes and guards closed
	mu     sync.Mutex
	closed bool
	// loopRunning indicates if Loop is currently reading the transport
	loopRunning atomic.Bool
}

// New dials the transport described by config and prepares the adapter.
// Loop must be started before any response can be received.
func New(ctx context.Context, config Config) (*Adapter, error) {
	if config.dialer == nil {
		return nil, ErrNoDialer
	}
	config.setDefaults()

	transport, err := config.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	return &Adapter{
		transport: transport,
		config:    config,
		logger:    config.logger,
		acc:       elm.NewAccumulator(config.bufferSize),
		responses: make(chan elm.Response, config.responseQueue),
	}, nil
}

// Submit writes one command, including its terminator, to the adapter.
// It does not wait for the reply.
func (a *Adapter) Submit(cmd []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrAlreadyClosed
	}
	if _, err := a.transport.Write(cmd); err != nil {
		return fmt.Errorf("write command %q: %w", cmd, err)
	}
	return nil
}

// Responses returns the channel of decoded replies. Replies that cannot be
// enqueued within the delivery timeout are dropped.
func (a *Adapter) Responses() <-chan elm.Response {
	return a.responses
}

// Loop reads the transport until ctx is cancelled or the transport fails.
// It is the only goroutine that reads from the transport and must be
// called exactly once after New.
func (a *Adapter) Loop(ctx context.Context) error {
	if !a.loopRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer a.loopRunning.Store(false)

	fragments := make(chan string, 10)
	readErrs := make(chan error, 1)

	go func() {
		defer close(fragments)
		buf := make([]byte, a.config.readSize)
		for {
			n, err := a.transport.Read(buf)
			if n > 0 {
				select {
				case fragments <- string(buf[:n]):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErrs <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case fragment, ok := <-fragments:
			if !ok {
				select {
				case err := <-readErrs:
					if errors.Is(err, io.EOF) {
						return io.EOF
					}
					return fmt.Errorf("read error: %w", err)
				default:
					return ctx.Err()
				}
			}
			a.handle(ctx, fragment)
		}
	}
}

func (a *Adapter) handle(ctx context.Context, fragment string) {
	a.logger.Debug("Received fragment", "fragment", fragment)

	resp, err := a.acc.Feed(fragment)

	// An overflow on the closing fragment still yields the pending reply.
	var adapterErr *elm.AdapterError
	switch {
	case errors.As(err, &adapterErr):
		a.logger.Error("Error response", "body", adapterErr.Body)
	case err != nil:
		a.logger.Error("Failed to accumulate response", "error", err)
	}
	if resp != nil {
		a.deliver(ctx, *resp)
	}
}

func (a *Adapter) deliver(ctx context.Context, resp elm.Response) {
	timer := time.NewTimer(a.config.deliveryTimeout)
	defer timer.Stop()

	select {
	case a.responses <- resp:
	case <-timer.C:
		a.logger.Error("Failed to deliver response, dropping", "bytes", resp.Len())
	case <-ctx.Done():
	}
}

// Close closes the transport. After Close the adapter cannot be reused.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrAlreadyClosed
	}
	a.closed = true

	return a.transport.Close()
}
