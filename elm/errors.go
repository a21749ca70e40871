package elm

import (
	"errors"
	"fmt"
)

var (
	// ErrBufferOverflow is returned by the Accumulator when a fragment does
	// not fit into the remaining capacity. The fragment is dropped and the
	// buffered text is left untouched.
	ErrBufferOverflow = errors.New("elm: response buffer overflow")

	// ErrResponseTooLong is returned when the decoded payload of one reply
	// exceeds MaxResponseBytes.
	ErrResponseTooLong = errors.New("elm: decoded response too long")
)

// AdapterError reports a complete reply whose body carries one of the
// adapter's error markers ("NO DATA", "ERROR"). The body is discarded
// without decoding.
type AdapterError struct {
	Body string
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("elm: adapter error response: %q", e.Body)
}
