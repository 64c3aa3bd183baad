package st3215

import (
	"io"
	"time"
)

// Transport is the byte-stream boundary to the half-duplex serial link.
// Implementations live in the transports package; the abstraction also allows
// testing against scripted and simulated buses.
type Transport interface {
	io.ReadWriteCloser

	// SetReadTimeout sets the timeout for subsequent Read calls.
	SetReadTimeout(timeout time.Duration) error

	// Flush discards any buffered input data.
	Flush() error
}
