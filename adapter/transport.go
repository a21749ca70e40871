package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.bug.st/serial"
)

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=adapter

// Transport represents an established, bidirectional byte stream to an
// ELM327-style adapter.
//
// A Transport is assumed to be already connected and ready for use. Typical
// implementations are serial ports (USB or Bluetooth RFCOMM), TCP bridges to
// WiFi adapters, or in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to an adapter.
//
// Dialer abstracts how the adapter connection is created and is used during
// construction only. Once a Transport is obtained, the Dialer is no longer
// needed.
type Dialer interface {
	// Dial creates and returns a connected Transport. It may block and
	// should respect cancellation of ctx.
	Dial(ctx context.Context) (Transport, error)
}

// SerialDialer opens the adapter over a serial port using go.bug.st/serial.
type SerialDialer struct {
	// PortName is the OS name of the port, e.g. /dev/ttyUSB0 or /dev/rfcomm0
	PortName string
	// BaudRate is used when Mode is nil. Zero selects 38400, the ELM327
	// factory default.
	BaudRate int
	// Mode overrides the full serial line configuration.
	Mode *serial.Mode
}

// Dial opens the configured serial port.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("elm: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("elm: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := serial.Open(d.PortName, d.mode())
	if err != nil {
		return nil, fmt.Errorf("elm: open %s: %w", d.PortName, err)
	}
	return port, nil
}

// mode returns Mode, or 8N1 at BaudRate when Mode is nil.
func (d SerialDialer) mode() *serial.Mode {
	if d.Mode != nil {
		return d.Mode
	}
	baud := d.BaudRate
	if baud == 0 {
		baud = 38400
	}
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}
