package duplex

import (
	"errors"
)

// Errors returned by the framing and codec layers. Each of them is fatal for
// the connection that produced it.
var (
	// ErrFrameTooLarge is returned when a declared or outgoing frame length
	// exceeds the configured maximum.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrMalformedPayload is returned by codecs when a payload does not have
	// the expected shape.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrTransport wraps I/O failures of the underlying connection.
	ErrTransport = errors.New("transport error")
)

// Errors returned by connection and server operations.
var (
	// ErrBind is returned when the server cannot acquire its local address.
	ErrBind = errors.New("bind failure")
	// ErrInvalidStack is returned when no protocol stack is provided.
	ErrInvalidStack = errors.New("invalid protocol stack")
	// ErrInvalidOnMessage is returned when no message handler is provided.
	ErrInvalidOnMessage = errors.New("invalid on message callback")
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrDirectionClosed is returned when writing to a direction that has
	// been shut down with CloseSend or has no encoder.
	ErrDirectionClosed = errors.New("direction closed")
	// ErrIncomplete is returned by client roles when the connection ended
	// before every request was answered.
	ErrIncomplete = errors.New("connection closed before all responses arrived")
)

// ErrBufferFull is returned when the send buffer is full and cannot accept more messages.
// This error indicates backpressure - the receiver is not consuming messages fast enough.
// Recommended handling strategies:
//   - Drop the message (for non-critical data like metrics)
//   - Use WriteBlocking or WriteTimeout to wait for buffer space
//   - Implement application-level flow control
var ErrBufferFull = errors.New("send buffer full")

// errorKind maps an error to a short label used in logs and metrics.
func errorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrFrameTooLarge):
		return "frame_too_large"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "other"
	}
}
