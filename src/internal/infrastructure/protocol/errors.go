package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ErrShutdown is reported to calls made on, or pending on, a connection
// that is closed or broken.
var ErrShutdown = errors.New("connection is shut down")

// TransportError reports a failure of the underlying connection. It
// matches ErrShutdown as well as the cause.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

// Unwrap exposes both ErrShutdown and the cause to errors.Is.
func (e *TransportError) Unwrap() []error {
	return []error{ErrShutdown, e.Err}
}

// ProtocolError reports a message that could not be decoded as an
// envelope. The connection that produced it is closed.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err means the connection is gone, as
// opposed to a bad message or an application failure.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return false
	}

	switch {
	case errors.Is(err, ErrShutdown),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ENOENT):
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
