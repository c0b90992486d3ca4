package cli

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Zereker/duplex"
	"github.com/Zereker/duplex/internal/config"
)

func TestAddress(t *testing.T) {
	opts := config.New()

	host, port, err := address(nil, opts)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, 6000, port)

	host, port, err = address([]string{"0.0.0.0"}, opts)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", host)
	assert.Equal(t, 6000, port)

	host, port, err = address([]string{"0.0.0.0", "6001"}, opts)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", host)
	assert.Equal(t, 6001, port)

	for _, bad := range []string{"port", "-1", "70000"} {
		_, _, err = address([]string{"localhost", bad}, opts)
		assert.Error(t, err, bad)
	}
}

func TestNewCommand(t *testing.T) {
	cmd := NewCommand(Protocol{Name: "test"})

	server, _, err := cmd.Find([]string{"server"})
	require.NoError(t, err)
	assert.Equal(t, "server", server.Name())

	client, _, err := cmd.Find([]string{"client"})
	require.NoError(t, err)
	assert.Equal(t, "client", client.Name())

	for _, flag := range globalBindings {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestRunCombined(t *testing.T) {
	opts := config.New()
	opts.Port = freePort(t)
	env := &Env{Options: opts, Logger: duplex.NewZapLogger(zap.NewNop())}

	released := false
	served := 0
	proto := Protocol{
		Name: "test",
		NewHandler: func(*Env) (duplex.Handler, func(), error) {
			handler := duplex.HandlerFunc(func(_ context.Context, conn *net.TCPConn) {
				served++
				conn.Close()
			})
			return handler, func() { released = true }, nil
		},
		RunClient: func(_ context.Context, _ *Env, conn net.Conn) error {
			defer conn.Close()
			// The handler closes the connection once it has run.
			_, err := io.ReadAll(conn)
			return err
		},
	}

	require.NoError(t, runCombined(context.Background(), proto, env))
	assert.True(t, released)
	assert.Equal(t, 1, served)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
