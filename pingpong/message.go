// Package pingpong implements the fixed-shape ping/pong protocol: the client
// sends Ping{id}, the server answers Pong{id} with the same id.
package pingpong

import (
	"fmt"

	wkproto "github.com/WuKongIM/WuKongIMGoProto"

	"github.com/Zereker/duplex"
)

// Tag discriminates message variants on the wire.
type Tag uint8

const (
	TagPing Tag = 0
	TagPong Tag = 1
)

const (
	// PayloadSize is the exact payload length: tag byte + int32 id.
	PayloadSize = 5
	// MaxFrameSize is the largest payload the framing layer accepts.
	MaxFrameSize = PayloadSize
)

// Message is a Ping or a Pong.
type Message struct {
	Tag Tag
	ID  int32
}

// Ping returns a ping carrying id.
func Ping(id int32) Message { return Message{Tag: TagPing, ID: id} }

// Pong returns a pong carrying id.
func Pong(id int32) Message { return Message{Tag: TagPong, ID: id} }

func (m Message) String() string {
	switch m.Tag {
	case TagPing:
		return fmt.Sprintf("Ping(%d)", m.ID)
	case TagPong:
		return fmt.Sprintf("Pong(%d)", m.ID)
	default:
		return fmt.Sprintf("Message(tag=%d, id=%d)", m.Tag, m.ID)
	}
}

// Encode writes the tag byte followed by the big-endian id.
func Encode(m Message) ([]byte, error) {
	enc := wkproto.NewEncoder()
	defer enc.End()
	enc.WriteUint8(uint8(m.Tag))
	enc.WriteInt32(m.ID)
	return enc.Bytes(), nil
}

// Decode parses a 5-byte payload. Any other length or an unknown tag is a
// malformed payload.
func Decode(payload []byte) (Message, error) {
	if len(payload) != PayloadSize {
		return Message{}, duplex.Malformed("ping-pong payload has %d bytes, want %d", len(payload), PayloadSize)
	}

	dec := wkproto.NewDecoder(payload)
	tag, err := dec.Uint8()
	if err != nil {
		return Message{}, duplex.Malformed("read tag: %v", err)
	}
	if Tag(tag) != TagPing && Tag(tag) != TagPong {
		return Message{}, duplex.Malformed("unknown ping-pong tag %d", tag)
	}

	id, err := dec.Int32()
	if err != nil {
		return Message{}, duplex.Malformed("read id: %v", err)
	}

	return Message{Tag: Tag(tag), ID: id}, nil
}

// NewStack returns the ping-pong protocol stack. The protocol is symmetric,
// so the same stack serves both roles.
func NewStack() *duplex.Stack[Message, Message] {
	return duplex.NewStack[Message, Message](
		duplex.DecodeFunc[Message](Decode),
		duplex.EncodeFunc[Message](Encode),
		MaxFrameSize,
	)
}
