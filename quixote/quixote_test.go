package quixote

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/duplex"
	"github.com/Zereker/duplex/linesource"
)

// blockingSource never answers before ctx ends.
type blockingSource struct{}

func (blockingSource) Lookup(ctx context.Context, _ int) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func startServer(t *testing.T, handler duplex.Handler) string {
	t.Helper()

	server, err := duplex.ListenAddress("127.0.0.1", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, handler)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		server.Wait()
	})
	return server.Addr().String()
}

func dial(t *testing.T, addr string) *net.TCPConn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	return conn.(*net.TCPConn)
}

func greek() linesource.Source {
	return linesource.FromLines("Alpha", "", "Beta", "Gamma")
}

func TestResponder_Respond(t *testing.T) {
	metrics := duplex.NewMetrics("test", nil)
	r := NewResponder(greek(), WithMetrics(metrics))

	line, err := r.Respond(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Beta", line)

	line, err = r.Respond(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, FailedLine, line)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Lookups.WithLabelValues("found")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Lookups.WithLabelValues("not_found")))
}

func TestResponder_Timeout(t *testing.T) {
	metrics := duplex.NewMetrics("test", nil)
	r := NewResponder(blockingSource{}, WithTimeout(20*time.Millisecond), WithMetrics(metrics))

	line, err := r.Respond(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, FailedLine, line)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Lookups.WithLabelValues("timeout")))
}

func TestResponder_ConnectionGone(t *testing.T) {
	r := NewResponder(blockingSource{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := r.Respond(ctx, 0)
	assert.Equal(t, context.Canceled, err)
}

func TestResponder_LineTooLarge(t *testing.T) {
	metrics := duplex.NewMetrics("test", nil)
	r := NewResponder(linesource.FromLines("Alpha", strings.Repeat("x", MaxFrameSize+1)), WithMetrics(metrics))

	line, err := r.Respond(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, FailedLine, line)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Lookups.WithLabelValues("too_large")))

	line, err = NewResponder(linesource.FromLines(strings.Repeat("y", MaxFrameSize))).Respond(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, line, MaxFrameSize)
}

func TestResponder_AsyncTimeout(t *testing.T) {
	async, err := linesource.NewAsync(blockingSource{}, 2, 20*time.Millisecond)
	require.NoError(t, err)
	defer async.Release()

	line, err := NewResponder(async).Respond(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, FailedLine, line)
}

func TestGenerateIndices(t *testing.T) {
	indices := GenerateIndices(1000, nil)
	require.Len(t, indices, 1000)
	for _, i := range indices {
		assert.GreaterOrEqual(t, i, int32(0))
		assert.Less(t, i, int32(MaxIndex))
	}

	assert.Equal(t, []int32{7, 7}, GenerateIndices(2, func(uint32) uint32 { return 7 }))
}

func TestServer_Lines(t *testing.T) {
	addr := startServer(t, NewHandler(NewResponder(greek())))
	conn := dial(t, addr)
	defer conn.Close()

	var stream []byte
	for _, i := range []int32{1, 0, 2, 5} {
		frame, err := NewClientStack().Encode(i)
		require.NoError(t, err)
		stream = append(stream, frame...)
	}
	_, err := conn.Write(stream)
	require.NoError(t, err)
	require.NoError(t, conn.CloseWrite())

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, err := io.ReadAll(conn)
	require.NoError(t, err)

	in := NewClientStack().Inbound()
	defer in.Release()
	lines, err := in.Feed(got)
	require.NoError(t, err)
	assert.Equal(t, []string{"Beta", "Alpha", "Gamma", FailedLine}, lines)
	assert.Equal(t, 0, in.Buffered())
}

func TestServer_ClosesOnMalformedRequest(t *testing.T) {
	addr := startServer(t, NewHandler(NewResponder(greek())))
	conn := dial(t, addr)
	defer conn.Close()

	_, err := conn.Write([]byte{0, 0, 0, 3, 1, 2, 3})
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := conn.Read(make([]byte, 16))
	assert.Equal(t, 0, n)
	assert.Error(t, err)
}

func TestClient_Run(t *testing.T) {
	addr := startServer(t, NewHandler(NewResponder(greek())))

	type answer struct {
		index int32
		line  string
	}
	var answers []answer
	client := &Client{
		Indices: []int32{2, 1, 0, 3},
		OnLine: func(index int32, line string) {
			answers = append(answers, answer{index, line})
		},
	}
	require.NoError(t, client.Run(context.Background(), dial(t, addr)))

	assert.Equal(t, []answer{
		{2, "Gamma"},
		{1, "Beta"},
		{0, "Alpha"},
		{3, FailedLine},
	}, answers)
}

func TestClient_Run_Generated(t *testing.T) {
	addr := startServer(t, NewHandler(NewResponder(greek())))

	count := 0
	client := &Client{
		Requests:  25,
		Generator: func(uint32) uint32 { return 1 },
		OnLine: func(index int32, line string) {
			assert.Equal(t, int32(1), index)
			assert.Equal(t, "Beta", line)
			count++
		},
	}
	require.NoError(t, client.Run(context.Background(), dial(t, addr)))
	assert.Equal(t, 25, count)
}

func TestClient_Run_SlowLookupsAnsweredWithSentinel(t *testing.T) {
	addr := startServer(t, NewHandler(NewResponder(blockingSource{}, WithTimeout(10*time.Millisecond))))

	var lines []string
	client := &Client{
		Indices: []int32{0, 1, 2},
		OnLine: func(_ int32, line string) {
			lines = append(lines, line)
		},
	}
	require.NoError(t, client.Run(context.Background(), dial(t, addr)))
	assert.Equal(t, []string{FailedLine, FailedLine, FailedLine}, lines)
}

func TestClient_Run_LineTooLargeKeepsConnection(t *testing.T) {
	src := linesource.FromLines("Alpha", strings.Repeat("x", MaxFrameSize+1), "Gamma")
	addr := startServer(t, NewHandler(NewResponder(src)))

	var lines []string
	client := &Client{
		Indices: []int32{0, 1, 2},
		OnLine: func(_ int32, line string) {
			lines = append(lines, line)
		},
	}
	require.NoError(t, client.Run(context.Background(), dial(t, addr)))
	assert.Equal(t, []string{"Alpha", FailedLine, "Gamma"}, lines)
}
