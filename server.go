package duplex

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Handler is the interface for handling incoming TCP connections.
// Implementations should handle the connection lifecycle and message processing.
type Handler interface {
	// Handle is called in its own goroutine for each new connection.
	// ctx is canceled when the server stops serving.
	// The implementation is responsible for closing the connection.
	Handle(ctx context.Context, conn *net.TCPConn)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, conn *net.TCPConn)

// Handle calls f(ctx, conn).
func (f HandlerFunc) Handle(ctx context.Context, conn *net.TCPConn) {
	f(ctx, conn)
}

// NewHandler returns a Handler running one Conn per accepted connection,
// all speaking stack and dispatching inbound messages to onMessage.
// A connection that fails is closed on its own; others are not affected.
func NewHandler[In, Out any](stack *Stack[In, Out], onMessage MessageHandler[In, Out], opts ...Option) Handler {
	return HandlerFunc(func(ctx context.Context, raw *net.TCPConn) {
		conn, err := NewConn(raw, stack, onMessage, opts...)
		if err != nil {
			_ = raw.Close()
			return
		}
		_ = conn.Run(ctx)
	})
}

// State is the lifecycle state of a Server. Listen only returns a Server
// once it is listening, so StateUnbound and StateBinding are never reported
// by State.
type State int

const (
	// StateUnbound means no listener has been created.
	StateUnbound State = iota
	// StateBinding means the listener is being created.
	StateBinding
	// StateListening means the server accepts connections.
	StateListening
	// StateStopped means the server no longer accepts connections.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBinding:
		return "binding"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Server represents a TCP server that listens for incoming connections.
type Server struct {
	listener        *net.TCPListener
	logger          Logger
	shutdownTimeout time.Duration

	mu          sync.Mutex
	state       State
	shutdown    bool
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout
	handlers    sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption sets the graceful shutdown timeout.
// When the context is canceled, the server will wait up to this duration
// before closing the listener. This gives existing connections time to complete.
// Default is 0 (immediate shutdown).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// Listen creates a new TCP server bound to the specified address.
// Returns an error wrapping ErrBind if the address cannot be bound.
func Listen(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	s := &Server{
		logger:      slog.Default(),
		state:       StateBinding,
		shutdownNow: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		s.logger.Error("server could not bind", "addr", addr.String(), "error", err)
		return nil, errors.Wrapf(ErrBind, "listen on %s: %v", addr, err)
	}

	s.listener = listener
	s.state = StateListening
	s.logger.Info("server listening", "addr", listener.Addr())
	return s, nil
}

// ListenAddress resolves host and port and calls Listen.
func ListenAddress(host string, port int, opts ...ServerOption) (*Server, error) {
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrapf(ErrBind, "resolve %s:%d: %v", host, port, err)
	}
	return Listen(addr, opts...)
}

// Serve starts accepting connections and dispatching them to the handler.
// It blocks until the context is canceled or an unrecoverable error occurs.
// When the context is canceled, it stops accepting new connections gracefully.
// If ServerShutdownTimeoutOption is set, the server waits up to the specified
// duration before stopping, allowing existing handlers to complete. Call Close()
// to bypass the timeout and shut down immediately.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	// Start a goroutine to handle context cancellation
	go func() {
		<-ctx.Done()

		// Wait for shutdown timeout if configured, but allow early exit via Close()
		if s.shutdownTimeout > 0 {
			s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout)
			select {
			case <-time.After(s.shutdownTimeout):
			case <-s.shutdownNow:
				s.logger.Debug("shutdown timeout bypassed via Close()")
			}
		}

		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// Set a deadline to unblock Accept
		_ = s.listener.SetDeadline(time.Now())
	}()

	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				s.setState(StateStopped)
				s.logger.Info("server stopped", "addr", s.listener.Addr())
				return ctx.Err()
			}

			// Check if it's a temporary error
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.setState(StateStopped)
			s.logger.Error("accept error", "error", err)
			return &transportError{op: "accept", err: err}
		}

		s.logger.Info("client connected", "remote_addr", conn.RemoteAddr())
		_ = conn.SetNoDelay(true)

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			handler.Handle(ctx, conn)
		}()
	}
}

// Close stops the server by closing the underlying listener.
// If a shutdown timeout is configured, Close() bypasses the remaining timeout.
// Any blocked Accept calls will return with an error.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.state = StateStopped
	s.mu.Unlock()

	// Signal to bypass any pending shutdown timeout
	select {
	case s.shutdownNow <- struct{}{}:
	default:
	}

	return s.listener.Close()
}

// Wait blocks until every connection handler started by Serve has returned.
func (s *Server) Wait() {
	s.handlers.Wait()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
