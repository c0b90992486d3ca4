package duplex

import (
	"context"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// Dial opens a TCP connection to host:port.
func Dial(ctx context.Context, host string, port int) (*net.TCPConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, &transportError{op: "dial", err: err}
	}

	tcpConn := conn.(*net.TCPConn)
	_ = tcpConn.SetNoDelay(true)
	return tcpConn, nil
}

// RunClient drives a finite request/response exchange over raw.
//
// The requests are written in order without waiting for replies, then the
// send direction is closed. Every response is passed to onResponse in arrival
// order. RunClient returns once the peer has ended its stream, with
// ErrIncomplete if fewer responses than requests arrived, or with the error
// that ended the connection. raw is always closed on return.
func RunClient[In, Out any](ctx context.Context, raw net.Conn, stack *Stack[In, Out], requests []Out, onResponse func(In), opts ...Option) error {
	if onResponse == nil {
		onResponse = func(In) {}
	}

	received := 0
	conn, err := NewConn(raw, stack, func(_ context.Context, _ *Conn[In, Out], msg In) error {
		received++
		onResponse(msg)
		return nil
	}, opts...)
	if err != nil {
		_ = raw.Close()
		return err
	}

	produced := make(chan error, 1)
	go func() {
		for _, req := range requests {
			if err := conn.WriteBlocking(ctx, req); err != nil {
				_ = conn.Close()
				produced <- err
				return
			}
		}
		conn.CloseSend()
		produced <- nil
	}()

	runErr := conn.Run(ctx)
	writeErr := <-produced

	if writeErr != nil && !errors.Is(writeErr, ErrConnectionClosed) {
		return writeErr
	}
	if runErr != nil {
		return runErr
	}
	if received < len(requests) {
		return errors.Wrapf(ErrIncomplete, "received %d of %d responses", received, len(requests))
	}
	return nil
}
