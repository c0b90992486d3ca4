// Package duplex provides a length-framed, codec-driven duplex protocol engine
// over TCP.
//
// A Stack pairs a message codec with 4-byte big-endian length-prefix framing.
// A Conn binds a Stack to one live connection and runs its inbound and
// outbound halves concurrently with bounded buffering in both directions.
// Server accepts connections and hands each one to a Handler; Dial opens
// client connections.
package duplex

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// MessageHandler is invoked once per decoded inbound message, in arrival
// order. Responses are written through c; returning an error ends the
// connection.
type MessageHandler[In, Out any] func(ctx context.Context, c *Conn[In, Out], msg In) error

// transportError marks an I/O failure of the underlying connection.
type transportError struct {
	op  string
	err error
}

func (e *transportError) Error() string {
	return "transport error: " + e.op + ": " + e.err.Error()
}

func (e *transportError) Unwrap() error { return e.err }

func (e *transportError) Is(target error) bool { return target == ErrTransport }

// Conn represents one live connection driven by a protocol Stack.
// It runs three loops: the read loop turns transport bytes into messages,
// the dispatch loop hands those messages to the MessageHandler one at a time,
// and the write loop sends queued frames to the transport.
type Conn[In, Out any] struct {
	rawConn   net.Conn
	stack     *Stack[In, Out]
	inbound   *Inbound[In]
	onMessage MessageHandler[In, Out]
	logger    Logger
	id        string

	opts options

	inbox     chan In
	sendMsg   chan []byte
	sendDone  chan struct{}
	sendOnce  sync.Once
	sendShut  atomic.Bool
	closing   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

// Default configuration values.
const (
	// defaultBufferSize is the default size of the outbound frame queue.
	defaultBufferSize = 16
	// defaultInboxSize is the default size of the decoded message queue.
	defaultInboxSize = 16
	// defaultReadBufferSize is the default size of a single transport read.
	defaultReadBufferSize = 4096
)

// NewConn creates a new connection wrapper around conn speaking stack.
// It applies the provided options and validates them before returning.
// Returns an error if stack or onMessage is missing.
func NewConn[In, Out any](conn net.Conn, stack *Stack[In, Out], onMessage MessageHandler[In, Out], opt ...Option) (*Conn[In, Out], error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if stack == nil {
		return nil, ErrInvalidStack
	}
	if onMessage == nil {
		return nil, ErrInvalidOnMessage
	}
	checkOptions(&opts)

	return &Conn[In, Out]{
		rawConn:   conn,
		stack:     stack,
		inbound:   stack.Inbound(),
		onMessage: onMessage,
		logger:    opts.logger,
		id:        uuid.NewString(),
		opts:      opts,
		inbox:     make(chan In, opts.inboxSize),
		sendMsg:   make(chan []byte, opts.bufferSize),
		sendDone:  make(chan struct{}),
		closing:   make(chan struct{}),
	}, nil
}

// checkOptions sets default values for connection options.
func checkOptions(opts *options) {
	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.inboxSize <= 0 {
		opts.inboxSize = defaultInboxSize
	}

	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.heartbeat < 0 {
		opts.heartbeat = 0
	}

	if opts.onClose == nil {
		opts.onClose = func(error) {}
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

// Run starts the connection's read, dispatch and write loops and blocks until
// the exchange is over.
//
// Run returns nil when the peer ended its stream and every response has been
// flushed. Any framing, codec, handler or transport error ends all loops and
// is returned. The connection is closed when Run returns.
func (c *Conn[In, Out]) Run(ctx context.Context) error {
	c.logger.Info("connection established", "conn", c.id, "addr", c.Addr())
	c.logger.Debug("connection options", "conn", c.id,
		"buffer_size", c.opts.bufferSize,
		"inbox_size", c.opts.inboxSize,
		"max_frame_size", c.stack.MaxFrameSize(),
		"heartbeat", c.opts.heartbeat)
	c.opts.metrics.connOpened()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, child := errgroup.WithContext(ctx)

	// Blocked reads and writes do not observe ctx, so they are woken up
	// through the deadline once the connection is being torn down.
	go func() {
		select {
		case <-c.closing:
		case <-child.Done():
		}
		cancel()
		_ = c.rawConn.SetDeadline(time.Now())
	}()

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.dispatchLoop(child)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	err := group.Wait()
	c.closeConn()
	c.opts.metrics.connClosed(err)

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Info("connection closed with error", "conn", c.id, "addr", c.Addr(),
			"kind", errorKind(err), "error", err)
	} else {
		c.logger.Info("connection closed", "conn", c.id, "addr", c.Addr())
	}

	c.opts.onClose(err)
	return err
}

// Close closes the connection. Pending writes are abandoned and Run returns.
// Safe to call multiple times.
func (c *Conn[In, Out]) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closing)
		err = c.rawConn.Close()
	})
	return err
}

// IsClosed returns true if the connection has been closed.
func (c *Conn[In, Out]) IsClosed() bool {
	return c.closed.Load()
}

// CloseSend ends the outbound direction. Frames already queued are still
// written, then the write half of the transport is shut down so the peer
// reads end of stream. It must be called after the last write of the
// goroutine producing outbound messages. Safe to call multiple times.
func (c *Conn[In, Out]) CloseSend() {
	c.sendOnce.Do(func() {
		c.sendShut.Store(true)
		close(c.sendDone)
	})
}

// ID returns the identifier used for this connection in logs.
func (c *Conn[In, Out]) ID() string {
	return c.id
}

// Addr returns the remote address of the connection.
func (c *Conn[In, Out]) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// Write sends a message through the connection without blocking (fire-and-forget).
// The message is encoded and framed by the stack and queued for sending.
//
// Returns:
//   - nil: message was successfully queued (not yet sent)
//   - ErrBufferFull: send buffer is full, message was NOT queued
//   - ErrConnectionClosed: connection is closed
//   - ErrDirectionClosed: CloseSend was called
//   - encoding error: if the codec or framing fails
func (c *Conn[In, Out]) Write(message Out) error {
	data, err := c.prepare(message)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// WriteBlocking sends a message through the connection, blocking until the
// message is queued, the context is canceled or the connection closes.
// A slow peer therefore throttles the caller instead of growing a buffer.
//
// Returns:
//   - nil: message was successfully queued
//   - context.Canceled or context.DeadlineExceeded: context was canceled
//   - ErrConnectionClosed: connection is closed
//   - ErrDirectionClosed: CloseSend was called
//   - encoding error: if the codec or framing fails
func (c *Conn[In, Out]) WriteBlocking(ctx context.Context, message Out) error {
	data, err := c.prepare(message)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- data:
		return nil
	case <-c.closing:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteTimeout sends a message through the connection with a timeout.
// This provides a middle ground between Write (non-blocking) and WriteBlocking.
//
// Returns:
//   - nil: message was successfully queued
//   - ErrBufferFull: timeout expired before message could be queued
//   - ErrConnectionClosed: connection is closed
//   - encoding error: if the codec or framing fails
func (c *Conn[In, Out]) WriteTimeout(message Out, timeout time.Duration) error {
	data, err := c.prepare(message)
	if err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.sendMsg <- data:
		return nil
	case <-c.closing:
		return ErrConnectionClosed
	case <-timer.C:
		return ErrBufferFull
	}
}

// prepare checks the connection state and runs the outbound pipeline.
func (c *Conn[In, Out]) prepare(message Out) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	if c.sendShut.Load() {
		return nil, ErrDirectionClosed
	}
	return c.stack.Encode(message)
}

// readLoop reads chunks from the transport, reassembles frames, decodes them
// and queues the messages for the dispatch loop. A full inbox blocks reading,
// which in turn lets TCP flow control slow the peer down.
// It returns nil at end of stream.
func (c *Conn[In, Out]) readLoop(ctx context.Context) error {
	defer close(c.inbox)
	defer c.inbound.Release()

	buf := make([]byte, c.opts.readBufferSize)
	for {
		if c.opts.heartbeat > 0 {
			_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.heartbeat * 2))
			// The teardown deadline may have been overwritten above.
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		n, err := c.rawConn.Read(buf)
		if n > 0 {
			msgs, ferr := c.inbound.Feed(buf[:n])
			c.opts.metrics.received(n, len(msgs))

			for _, msg := range msgs {
				select {
				case c.inbox <- msg:
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			if ferr != nil {
				c.logger.Warn("inbound protocol error", "conn", c.id, "addr", c.Addr(), "error", ferr)
				return ferr
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				c.logger.Debug("end of stream", "conn", c.id, "addr", c.Addr(), "pending", c.inbound.Buffered())
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Debug("read error", "conn", c.id, "addr", c.Addr(), "error", err)
			return &transportError{op: "read", err: err}
		}
	}
}

// dispatchLoop feeds decoded messages to the handler in arrival order. When
// the inbound stream is over it shuts the outbound direction down, so every
// response already produced is flushed before the connection ends.
func (c *Conn[In, Out]) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.inbox:
			if !ok {
				c.CloseSend()
				return nil
			}
			if err := c.onMessage(ctx, c, msg); err != nil {
				return err
			}
		}
	}
}

// writeLoop continuously sends frames from the send channel to the connection.
// Returns when the context is canceled, CloseSend was called and the queue is
// drained, or a write fails.
func (c *Conn[In, Out]) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-c.sendMsg:
			if err := c.write(ctx, data); err != nil {
				return err
			}
		case <-c.sendDone:
			return c.drain(ctx)
		}
	}
}

// drain writes whatever is still queued and half-closes the transport.
func (c *Conn[In, Out]) drain(ctx context.Context) error {
	for {
		select {
		case data := <-c.sendMsg:
			if err := c.write(ctx, data); err != nil {
				return err
			}
		default:
			if cw, ok := c.rawConn.(interface{ CloseWrite() error }); ok {
				if err := cw.CloseWrite(); err != nil {
					c.logger.Debug("close write error", "conn", c.id, "addr", c.Addr(), "error", err)
				}
			}
			return nil
		}
	}
}

// write sends one frame to the connection with a deadline.
func (c *Conn[In, Out]) write(ctx context.Context, data []byte) error {
	if c.opts.heartbeat > 0 {
		_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.heartbeat * 2))
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if _, err := c.rawConn.Write(data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Debug("write error", "conn", c.id, "addr", c.Addr(), "error", err)
		return &transportError{op: "write", err: err}
	}

	c.opts.metrics.sent(len(data))
	return nil
}

// closeConn marks the connection as closed and closes the underlying connection.
func (c *Conn[In, Out]) closeConn() {
	_ = c.Close()
}
