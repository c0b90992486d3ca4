// Package quixote implements the line lookup protocol: the client sends a
// line index, the server answers with that line of a text resource.
//
// The protocol is asymmetric. Requests are 4-byte big-endian integers and
// responses are raw UTF-8 text, so the server speaks Stack[int32, string]
// and the client Stack[string, int32].
package quixote

import (
	"unicode/utf8"

	wkproto "github.com/WuKongIM/WuKongIMGoProto"

	"github.com/Zereker/duplex"
)

const (
	// IndexSize is the payload length of a request.
	IndexSize = 4
	// MaxFrameSize is the largest payload accepted in either direction.
	MaxFrameSize = 100_000
)

// EncodeIndex writes i as a big-endian int32.
func EncodeIndex(i int32) ([]byte, error) {
	enc := wkproto.NewEncoder()
	defer enc.End()
	enc.WriteInt32(i)
	return enc.Bytes(), nil
}

// DecodeIndex reads a request payload.
func DecodeIndex(payload []byte) (int32, error) {
	if len(payload) != IndexSize {
		return 0, duplex.Malformed("index payload has %d bytes, want %d", len(payload), IndexSize)
	}

	i, err := wkproto.NewDecoder(payload).Int32()
	if err != nil {
		return 0, duplex.Malformed("read index: %v", err)
	}
	return i, nil
}

// EncodeLine returns the UTF-8 bytes of line. The frame supplies the length.
func EncodeLine(line string) ([]byte, error) {
	return []byte(line), nil
}

// DecodeLine reads a response payload.
func DecodeLine(payload []byte) (string, error) {
	if !utf8.Valid(payload) {
		return "", duplex.Malformed("line is not valid UTF-8")
	}
	return string(payload), nil
}

// NewServerStack returns the stack used by the server: it reads indices and
// writes lines.
func NewServerStack() *duplex.Stack[int32, string] {
	return duplex.NewStack[int32, string](
		duplex.DecodeFunc[int32](DecodeIndex),
		duplex.EncodeFunc[string](EncodeLine),
		MaxFrameSize,
	)
}

// NewClientStack returns the stack used by the client: it reads lines and
// writes indices.
func NewClientStack() *duplex.Stack[string, int32] {
	return duplex.NewStack[string, int32](
		duplex.DecodeFunc[string](DecodeLine),
		duplex.EncodeFunc[int32](EncodeIndex),
		MaxFrameSize,
	)
}
