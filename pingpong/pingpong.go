package pingpong

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"github.com/valyala/fastrand"

	"github.com/Zereker/duplex"
)

const (
	// DefaultRequests is the number of pings a client sends.
	DefaultRequests = 100
	// MaxID is the upper bound (inclusive) of generated ping ids.
	MaxID = 100
)

// Respond answers a ping with a pong carrying the same id.
func Respond(m Message) (Message, error) {
	if m.Tag != TagPing {
		return Message{}, duplex.Malformed("server expects Ping, got %s", m)
	}
	return Pong(m.ID), nil
}

// NewHandler returns the server side connection handler.
func NewHandler(opts ...duplex.Option) duplex.Handler {
	return duplex.NewHandler(NewStack(), onPing, opts...)
}

func onPing(ctx context.Context, c *duplex.Conn[Message, Message], m Message) error {
	pong, err := Respond(m)
	if err != nil {
		return err
	}
	return c.WriteBlocking(ctx, pong)
}

// Generator returns a value in [0, n).
type Generator func(n uint32) uint32

// GeneratePings returns count pings with ids drawn from [1, MaxID].
// A nil gen uses fastrand.
func GeneratePings(count int, gen Generator) []Message {
	if gen == nil {
		gen = fastrand.Uint32n
	}

	pings := make([]Message, count)
	for i := range pings {
		pings[i] = Ping(int32(gen(MaxID)) + 1)
	}
	return pings
}

// Client is the ping-pong client role.
type Client struct {
	// Requests is the number of pings to send; DefaultRequests when zero.
	Requests int
	// Generator draws ping ids; fastrand when nil.
	Generator Generator
	// OnPong receives each pong in arrival order.
	OnPong func(Message)
	// Options are applied to the connection.
	Options []duplex.Option
}

// Run sends the pings on conn and waits for every pong. conn is closed on
// return. A pong whose id does not match the ping at the same position is
// reported as a malformed exchange.
func (cl *Client) Run(ctx context.Context, conn net.Conn) error {
	count := cl.Requests
	if count <= 0 {
		count = DefaultRequests
	}

	pings := GeneratePings(count, cl.Generator)
	next := 0
	var mismatch error

	err := duplex.RunClient(ctx, conn, NewStack(), pings, func(pong Message) {
		if mismatch == nil && next < len(pings) && (pong.Tag != TagPong || pong.ID != pings[next].ID) {
			mismatch = errors.Errorf("response %d is %s, want Pong(%d)", next, pong, pings[next].ID)
		}
		next++
		if cl.OnPong != nil {
			cl.OnPong(pong)
		}
	}, cl.Options...)
	if err != nil {
		return err
	}
	return mismatch
}
