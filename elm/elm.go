// Package elm holds the ELM327 wire vocabulary and the decoding of the
// adapter's ASCII-hex replies into raw diagnostic payload bytes.
package elm

const (
	// Terminal Control
	CR     = "\r"
	Prompt = ">"

	// Response bodies that carry no payload
	NoData = "NO DATA"
	Error  = "ERROR"

	// ProbeCommand requests the supported PIDs [01-20]. Any ECU that is
	// awake answers it.
	ProbeCommand = "0100" + CR

	// DefaultInit resets the adapter and selects headers on, echo off,
	// linefeeds off, spaces on and ISO 15765-4 CAN (11 bit ID, 500 kbaud).
	DefaultInit = "ati\ratd\rate0\rath1\ratl0\rats1\ratsp6\r"
)

const (
	// MaxResponseBytes is the capacity of a decoded Response.
	MaxResponseBytes = 256

	// DefaultBufferSize is the default capacity of the Accumulator.
	DefaultBufferSize = 1024
)

// separator is the single character between the header, the length byte
// and every payload byte of a frame line.
const separator = ' '

// stride is one hex byte token plus its separator.
const stride = 3
