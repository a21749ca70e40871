package elm

import (
	"errors"
	"strings"
)

// Accumulator collects the text fragments of one adapter reply until the
// prompt marker arrives. It is not safe for concurrent use; the adapter's
// read loop owns it.
type Accumulator struct {
	buf      strings.Builder
	capacity int
}

// NewAccumulator returns an Accumulator holding at most capacity bytes of
// pending reply text. A non-positive capacity selects DefaultBufferSize.
func NewAccumulator(capacity int) *Accumulator {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	a := &Accumulator{capacity: capacity}
	a.buf.Grow(capacity)
	return a
}

// Feed appends fragment to the pending reply.
//
// It returns (nil, nil) while the reply is incomplete. Once a fragment
// carries the prompt marker the reply is complete: the buffer is reset and
// Feed returns either the decoded Response or an *AdapterError when the
// body holds "NO DATA" or "ERROR".
//
// A fragment that does not fit is rejected with ErrBufferOverflow and the
// pending text is kept. If the rejected fragment carried the prompt, the
// pending text is taken as the whole reply: it is decoded and returned
// together with ErrBufferOverflow, and the buffer is reset.
func (a *Accumulator) Feed(fragment string) (*Response, error) {
	if fragment == "" {
		return nil, nil
	}

	complete := strings.Contains(fragment, Prompt)

	if a.buf.Len()+len(fragment) > a.capacity {
		if !complete {
			return nil, ErrBufferOverflow
		}
		resp, err := a.complete(a.buf.String())
		return resp, errors.Join(ErrBufferOverflow, err)
	}
	a.buf.WriteString(fragment)

	if !complete {
		return nil, nil
	}

	body, _, _ := strings.Cut(a.buf.String(), Prompt)
	return a.complete(body)
}

// complete resets the buffer and turns body into a Response.
func (a *Accumulator) complete(body string) (*Response, error) {
	a.Reset()

	if strings.Contains(body, NoData) || strings.Contains(body, Error) {
		return nil, &AdapterError{Body: body}
	}

	resp, err := Decode(body)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pending returns the buffered text of the incomplete reply.
func (a *Accumulator) Pending() string {
	return a.buf.String()
}

// Reset discards any buffered text.
func (a *Accumulator) Reset() {
	a.buf.Reset()
}
