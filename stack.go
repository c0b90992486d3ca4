package duplex

import (
	"github.com/pkg/errors"
)

// Stack composes a codec with length-prefix framing into the two halves of a
// duplex pipeline: an outbound half (Out -> payload -> frame bytes) and an
// inbound half (bytes -> frames -> In).
//
// A Stack is immutable and may be shared by any number of connections. The
// inbound half carries per-connection state and is created with Inbound.
//
// In and Out may differ: a request/response protocol where each side sends a
// different message type uses Stack[Request, Response] on the server and
// Stack[Response, Request] on the client.
type Stack[In, Out any] struct {
	decoder      Decoder[In]
	encoder      Encoder[Out]
	maxFrameSize int
}

// NewStack returns a Stack decoding inbound payloads with decoder, encoding
// outbound messages with encoder and accepting payloads of up to maxFrameSize
// bytes in both directions.
//
// A nil decoder or encoder disables that direction: inbound frames then fail
// the connection and outbound writes return ErrDirectionClosed.
func NewStack[In, Out any](decoder Decoder[In], encoder Encoder[Out], maxFrameSize int) *Stack[In, Out] {
	return &Stack[In, Out]{
		decoder:      decoder,
		encoder:      encoder,
		maxFrameSize: maxFrameSize,
	}
}

// MaxFrameSize returns the largest accepted payload length.
func (s *Stack[In, Out]) MaxFrameSize() int {
	return s.maxFrameSize
}

// Encode runs the outbound pipeline: it encodes msg and wraps the payload in
// a frame ready to be written to the transport.
func (s *Stack[In, Out]) Encode(msg Out) ([]byte, error) {
	if s.encoder == nil {
		return nil, errors.Wrap(ErrDirectionClosed, "stack has no encoder")
	}

	payload, err := s.encoder.Encode(msg)
	if err != nil {
		return nil, err
	}

	return Frame(payload, s.maxFrameSize)
}

// Inbound returns a fresh inbound pipeline with its own framing buffer.
func (s *Stack[In, Out]) Inbound() *Inbound[In] {
	return &Inbound[In]{
		framer:  NewFramer(s.maxFrameSize),
		decoder: s.decoder,
	}
}

// Inbound is the per-connection receive half of a Stack.
type Inbound[In any] struct {
	framer  *Framer
	decoder Decoder[In]
}

// Feed consumes one chunk read from the transport and returns the messages it
// completed, in arrival order. Messages decoded before a failure are returned
// alongside the error.
func (i *Inbound[In]) Feed(chunk []byte) ([]In, error) {
	payloads, ferr := i.framer.Feed(chunk)

	msgs := make([]In, 0, len(payloads))
	for _, payload := range payloads {
		if i.decoder == nil {
			return msgs, errors.Wrap(ErrDirectionClosed, "received a frame on a send-only stack")
		}

		msg, err := i.decoder.Decode(payload)
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
	}

	return msgs, ferr
}

// Buffered returns the number of bytes held for an incomplete frame.
func (i *Inbound[In]) Buffered() int {
	return i.framer.Buffered()
}

// Release frees the framing buffer.
func (i *Inbound[In]) Release() {
	i.framer.Release()
}
