package duplex

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer serves handler on a loopback port until the test ends.
func startServer(t *testing.T, handler Handler) *net.TCPAddr {
	t.Helper()

	server := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := serve(ctx, server, handler)

	t.Cleanup(func() {
		cancel()
		<-done
		server.Wait()
	})
	return server.Addr().(*net.TCPAddr)
}

func dialTest(t *testing.T, addr *net.TCPAddr) *net.TCPConn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, addr.IP.String(), addr.Port)
	require.NoError(t, err)
	return conn
}

func TestDial_Refused(t *testing.T) {
	server := newTestServer(t)
	addr := server.Addr().(*net.TCPAddr)
	require.NoError(t, server.Close())

	_, err := Dial(context.Background(), addr.IP.String(), addr.Port)
	assert.True(t, errors.Is(err, ErrTransport), "expected ErrTransport, got %v", err)
}

func TestRunClient_Echo(t *testing.T) {
	addr := startServer(t, NewHandler(textStack(), echo, BufferSizeOption(1), InboxSizeOption(1)))

	requests := make([]string, 100)
	for i := range requests {
		requests[i] = fmt.Sprintf("request %d", i)
	}

	var got []string
	err := RunClient(context.Background(), dialTest(t, addr), textStack(), requests, func(msg string) {
		got = append(got, msg)
	})

	require.NoError(t, err)
	assert.Equal(t, requests, got)
}

func TestRunClient_NoRequests(t *testing.T) {
	addr := startServer(t, NewHandler(textStack(), echo))

	err := RunClient[string, string](context.Background(), dialTest(t, addr), textStack(), nil, nil)
	assert.NoError(t, err)
}

func TestRunClient_Incomplete(t *testing.T) {
	// Answers only every other request.
	addr := startServer(t, NewHandler(textStack(), func(ctx context.Context, c *Conn[string, string], msg string) error {
		if msg == "skip" {
			return nil
		}
		return c.WriteBlocking(ctx, msg)
	}))

	var got []string
	err := RunClient(context.Background(), dialTest(t, addr), textStack(),
		[]string{"one", "skip", "three"}, func(msg string) {
			got = append(got, msg)
		})

	assert.True(t, errors.Is(err, ErrIncomplete), "expected ErrIncomplete, got %v", err)
	assert.Equal(t, []string{"one", "three"}, got)
}

func TestRunClient_ServerFailure(t *testing.T) {
	addr := startServer(t, NewHandler(textStack(), echo))

	err := RunClient(context.Background(), dialTest(t, addr), textStack(),
		[]string{"fine", "bad request", "never answered"}, nil)
	assert.Error(t, err)
}

func TestRunClient_EncodeError(t *testing.T) {
	addr := startServer(t, NewHandler(textStack(), echo))

	long := make([]byte, testMaxFrame+1)
	err := RunClient(context.Background(), dialTest(t, addr), textStack(),
		[]string{"fine", string(long)}, nil)
	assert.True(t, errors.Is(err, ErrFrameTooLarge), "expected ErrFrameTooLarge, got %v", err)
}

func TestRunClient_InvalidStack(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer serverConn.Close()

	err := RunClient[string, string](context.Background(), clientConn, nil, []string{"x"}, nil)
	assert.Equal(t, ErrInvalidStack, err)
}
