package duplex

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
)

// LengthPrefixSize is the size of the big-endian length prefix in front of
// every frame payload.
const LengthPrefixSize = 4

// AppendFrame appends the length prefix and payload to dst and returns the
// extended slice. It fails with ErrFrameTooLarge when payload is longer than
// max, so a peer is never sent a frame it is bound to reject.
func AppendFrame(dst, payload []byte, max int) ([]byte, error) {
	if len(payload) > max {
		return dst, errors.Wrapf(ErrFrameTooLarge, "outgoing payload of %d bytes exceeds %d", len(payload), max)
	}

	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	dst = append(dst, prefix[:]...)
	return append(dst, payload...), nil
}

// Frame returns payload wrapped in a new length-prefixed frame.
func Frame(payload []byte, max int) ([]byte, error) {
	return AppendFrame(make([]byte, 0, LengthPrefixSize+len(payload)), payload, max)
}

// Framer reassembles length-prefixed frames from an arbitrarily chunked byte
// stream. It keeps the bytes of an incomplete frame between calls to Feed.
//
// A Framer belongs to exactly one connection and must only be used by the
// goroutine reading that connection.
type Framer struct {
	max int
	buf *bytebufferpool.ByteBuffer
	off int // start of unconsumed bytes in buf.B
}

// NewFramer returns a Framer rejecting frames longer than max bytes.
func NewFramer(max int) *Framer {
	return &Framer{max: max}
}

// Feed appends chunk to the pending bytes and returns every frame payload that
// is now complete, in arrival order. The returned payloads are copies and stay
// valid after later calls.
//
// When a declared length exceeds the maximum, Feed returns the payloads that
// preceded the offending frame together with an error wrapping
// ErrFrameTooLarge. The Framer must not be fed again after an error.
func (f *Framer) Feed(chunk []byte) ([][]byte, error) {
	if f.buf == nil {
		f.buf = bytebufferpool.Get()
	}
	_, _ = f.buf.Write(chunk)

	var payloads [][]byte
	for {
		pending := f.buf.B[f.off:]
		if len(pending) < LengthPrefixSize {
			break
		}

		size := binary.BigEndian.Uint32(pending[:LengthPrefixSize])
		if uint64(size) > uint64(f.max) {
			return payloads, errors.Wrapf(ErrFrameTooLarge, "declared length %d exceeds %d", size, f.max)
		}

		end := LengthPrefixSize + int(size)
		if len(pending) < end {
			break
		}

		payload := make([]byte, size)
		copy(payload, pending[LengthPrefixSize:end])
		payloads = append(payloads, payload)
		f.off += end
	}

	f.compact()
	return payloads, nil
}

// Buffered returns the number of bytes held for an incomplete frame.
func (f *Framer) Buffered() int {
	if f.buf == nil {
		return 0
	}
	return len(f.buf.B) - f.off
}

// Release returns the internal buffer to the pool. Pending bytes are dropped.
func (f *Framer) Release() {
	if f.buf == nil {
		return
	}
	bytebufferpool.Put(f.buf)
	f.buf = nil
	f.off = 0
}

// compact moves the unconsumed tail to the front of the buffer.
func (f *Framer) compact() {
	if f.off == 0 {
		return
	}
	n := copy(f.buf.B, f.buf.B[f.off:])
	f.buf.B = f.buf.B[:n]
	f.off = 0
}
