package autopid

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"i4.energy/across/obdgw/elm"
)

// SleepFunc suspends the caller for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the SleepFunc backed by a timer.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatcher submits command strings one command at a time.
type Dispatcher struct {
	Transceiver Transceiver
	Sleep       SleepFunc
	Logger      *slog.Logger
}

// Dispatch submits every terminated command of commands in order and
// sleeps delay after each submission. A trailing command without a
// terminator is not sent. Submit failures are logged and the remaining
// commands are still sent; the first failure is returned.
func (d Dispatcher) Dispatch(ctx context.Context, commands string, delay time.Duration) error {
	sleep := d.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var first error
	for cmd := range strings.SplitAfterSeq(commands, elm.CR) {
		if cmd == "" {
			continue
		}
		if !strings.HasSuffix(cmd, elm.CR) {
			logger.Warn("Skipping unterminated command", "command", cmd)
			continue
		}

		logger.Debug("Sending command", "command", strings.TrimSuffix(cmd, elm.CR))
		if err := d.Transceiver.Submit([]byte(cmd)); err != nil {
			logger.Error("Failed to submit command", "command", strings.TrimSuffix(cmd, elm.CR), "error", err)
			if first == nil {
				first = fmt.Errorf("submit %q: %w", cmd, err)
			}
		}

		if delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return first
}
