package quixote

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fastrand"

	"github.com/Zereker/duplex"
	"github.com/Zereker/duplex/linesource"
)

// FailedLine is sent instead of a line when the lookup timed out or failed.
// It is a regular response: the connection stays open.
const FailedLine = "###### FAILED ####### "

const (
	// DefaultRequests is the number of indices a client sends.
	DefaultRequests = 100
	// MaxIndex is the exclusive upper bound of generated indices.
	MaxIndex = 10_000
)

// Responder answers line requests from a Source.
type Responder struct {
	src     linesource.Source
	timeout time.Duration
	logger  duplex.Logger
	metrics *duplex.Metrics
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithTimeout bounds the wait for a single line.
func WithTimeout(d time.Duration) ResponderOption {
	return func(r *Responder) {
		r.timeout = d
	}
}

// WithLogger sets the logger used to report failed lookups.
func WithLogger(l duplex.Logger) ResponderOption {
	return func(r *Responder) {
		r.logger = l
	}
}

// WithMetrics records lookup outcomes in m.
func WithMetrics(m *duplex.Metrics) ResponderOption {
	return func(r *Responder) {
		r.metrics = m
	}
}

// NewResponder returns a Responder reading lines from src.
func NewResponder(src linesource.Source, opts ...ResponderOption) *Responder {
	r := &Responder{
		src:     src,
		timeout: linesource.DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Respond returns the line at index. A lookup that times out or fails, or a
// line too long for one frame, yields FailedLine and no error. An error is
// returned only when ctx ended, meaning the connection is gone and the answer
// must be dropped.
func (r *Responder) Respond(ctx context.Context, index int32) (string, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	line, err := r.src.Lookup(lookupCtx, int(index))
	if err == nil {
		if len(line) > MaxFrameSize {
			r.metrics.LookupDone("too_large")
			r.logger.Warn("lookup failed", "index", index, "outcome", "too_large", "size", len(line))
			return FailedLine, nil
		}
		r.metrics.LookupDone("found")
		return line, nil
	}

	if ctx.Err() != nil {
		r.metrics.LookupDone("abandoned")
		return "", ctx.Err()
	}

	outcome := "failed"
	switch {
	case errors.Is(err, linesource.ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, linesource.ErrLookupTimeout), errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	}
	r.metrics.LookupDone(outcome)
	r.logger.Warn("lookup failed", "index", index, "outcome", outcome, "error", err)

	return FailedLine, nil
}

// NewHandler returns the server side connection handler. Requests of one
// connection are answered one at a time, in request order.
func NewHandler(r *Responder, opts ...duplex.Option) duplex.Handler {
	return duplex.NewHandler(NewServerStack(), func(ctx context.Context, c *duplex.Conn[int32, string], index int32) error {
		r.logger.Debug("server received from client", "conn", c.ID(), "index", index)

		line, err := r.Respond(ctx, index)
		if err != nil {
			return err
		}

		r.logger.Debug("server sends to client", "conn", c.ID(), "line", line)
		return c.WriteBlocking(ctx, line)
	}, opts...)
}

// Generator returns a value in [0, n).
type Generator func(n uint32) uint32

// GenerateIndices returns count indices drawn from [0, MaxIndex).
// A nil gen uses fastrand.
func GenerateIndices(count int, gen Generator) []int32 {
	if gen == nil {
		gen = fastrand.Uint32n
	}

	indices := make([]int32, count)
	for i := range indices {
		indices[i] = int32(gen(MaxIndex))
	}
	return indices
}

// Client is the quixote client role.
type Client struct {
	// Requests is the number of indices to send; DefaultRequests when zero.
	Requests int
	// Indices, when set, is sent instead of generated indices.
	Indices []int32
	// Generator draws indices; fastrand when nil.
	Generator Generator
	// OnLine receives each answer with the index it was requested for.
	OnLine func(index int32, line string)
	// Options are applied to the connection.
	Options []duplex.Option
}

// Run sends the indices on conn and waits for every line. conn is closed on
// return.
func (cl *Client) Run(ctx context.Context, conn net.Conn) error {
	indices := cl.Indices
	if indices == nil {
		count := cl.Requests
		if count <= 0 {
			count = DefaultRequests
		}
		indices = GenerateIndices(count, cl.Generator)
	}

	next := 0
	return duplex.RunClient(ctx, conn, NewClientStack(), indices, func(line string) {
		var index int32 = -1
		if next < len(indices) {
			index = indices[next]
		}
		next++
		if cl.OnLine != nil {
			cl.OnLine(index, line)
		}
	}, cl.Options...)
}
