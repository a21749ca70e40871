package elm

import (
	"encoding/hex"
	"iter"
	"strings"
)

// Response is one decoded adapter reply.
type Response struct {
	Data []byte
}

// Len returns the number of valid payload bytes.
func (r Response) Len() int {
	return len(r.Data)
}

// Hex returns the payload as an uppercase hex string without separators.
func (r Response) Hex() string {
	return strings.ToUpper(hex.EncodeToString(r.Data))
}

// Lines yields the non-empty lines of buffer, split on CR and LF. The
// yielded strings share memory with buffer.
func Lines(buffer string) iter.Seq[string] {
	return strings.FieldsFuncSeq(buffer, func(r rune) bool {
		return r == '\r' || r == '\n'
	})
}

// Decode turns one accumulated reply into its payload bytes.
//
// Every line is one bus frame of the form
//
//	<header> <len> <b0> <b1> ...
//
// The header is everything up to the first separator, the length byte that
// follows it is skipped, and the remaining bytes are read at a fixed stride
// of two hex digits plus one separator. Payloads of all lines are
// concatenated in line order.
//
// The fixed stride is the adapter's framing with spaces on (ATS1). Lines
// with wider separators or a multi-byte length field are not understood and
// decode to garbage, exactly like the adapter firmware this mirrors.
func Decode(buffer string) (Response, error) {
	data := make([]byte, 0, MaxResponseBytes)
	for line := range Lines(buffer) {
		var err error
		if data, err = decodeFrame(line, data); err != nil {
			return Response{}, err
		}
	}
	return Response{Data: data}, nil
}

func decodeFrame(line string, out []byte) ([]byte, error) {
	line = strings.TrimSuffix(line, Prompt)

	sp := strings.IndexByte(line, separator)
	if sp < 0 {
		// header only, nothing to read
		return out, nil
	}

	for i := sp + 1 + stride; i < len(line); i += stride {
		if line[i] == 0 {
			break
		}
		if len(out) == MaxResponseBytes {
			return out, ErrResponseTooLong
		}
		out = append(out, hexByte(line[i:min(i+2, len(line))]))
	}
	return out, nil
}

// hexByte converts the leading hex digits of tok. A token without any
// leading hex digit converts to zero.
func hexByte(tok string) byte {
	var v byte
	for i := 0; i < len(tok); i++ {
		d, ok := hexDigit(tok[i])
		if !ok {
			break
		}
		v = v<<4 | d
	}
	return v
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
