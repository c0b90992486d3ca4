package duplex

import (
	"github.com/pkg/errors"
)

// Encoder converts a typed message into a frame payload.
// Implementations must be stateless: one Encoder is shared by every
// connection of a protocol.
type Encoder[T any] interface {
	// Encode returns the payload bytes for msg, without any length prefix.
	Encode(msg T) ([]byte, error)
}

// Decoder converts a complete frame payload back into a typed message.
//
// The framing layer guarantees that Decode only ever sees whole payloads, so
// implementations never have to deal with TCP fragmentation. A Decode error
// closes the connection: a byte stream has no boundary to resynchronise on.
type Decoder[T any] interface {
	// Decode parses payload. It should return an error wrapping
	// ErrMalformedPayload when the bytes do not have the expected shape.
	Decode(payload []byte) (T, error)
}

// EncodeFunc adapts a plain function to the Encoder interface.
type EncodeFunc[T any] func(msg T) ([]byte, error)

// Encode calls f(msg).
func (f EncodeFunc[T]) Encode(msg T) ([]byte, error) {
	return f(msg)
}

// DecodeFunc adapts a plain function to the Decoder interface.
type DecodeFunc[T any] func(payload []byte) (T, error)

// Decode calls f(payload).
func (f DecodeFunc[T]) Decode(payload []byte) (T, error) {
	return f(payload)
}

// Malformed wraps ErrMalformedPayload with a formatted reason.
func Malformed(format string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformedPayload, format, args...)
}
