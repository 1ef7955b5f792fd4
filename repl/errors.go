package repl

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDisconnected is returned when the peer disconnects before the
	// handshake completed.
	ErrDisconnected = errors.New("disconnected during handshake")
	// ErrUnsupportedEncoding matches any UnsupportedEncodingError
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
	// ErrAlreadyBegan is returned by a second call to Sender.Begin
	ErrAlreadyBegan = errors.New("snapshot transfer already began")
	// ErrClosed is returned for operations on a closed Sender
	ErrClosed = errors.New("snapshot sender closed")
)

// UnsupportedEncodingError is returned when a peer requests an encoding
// version this implementation does not know.
type UnsupportedEncodingError struct {
	Version uint32
}

func (e UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("unsupported encoding version: %d", e.Version)
}

func (e UnsupportedEncodingError) Is(target error) bool {
	return target == ErrUnsupportedEncoding
}
