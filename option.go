package duplex

import (
	"time"
)

// options holds the configuration for a connection.
type options struct {
	logger  Logger
	metrics *Metrics

	// onClose is called once when the connection ends, with the terminal
	// error or nil after a clean end of stream.
	onClose func(error)

	bufferSize     int           // capacity of the outbound frame queue
	inboxSize      int           // capacity of the decoded message queue
	readBufferSize int           // size of a single transport read
	heartbeat      time.Duration // read/write deadlines are heartbeat * 2; zero disables them
}

// Option is a function that configures connection options.
type Option func(*options)

// BufferSizeOption returns an Option that sets the size of the send channel buffer.
// A larger buffer allows more frames to be queued before writers block.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// InboxSizeOption returns an Option that sets how many decoded messages may
// wait for the message handler before the read loop stops reading.
func InboxSizeOption(size int) Option {
	return func(o *options) {
		o.inboxSize = size
	}
}

// ReadBufferSizeOption returns an Option that sets the size of each read from
// the transport.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// HeartbeatOption returns an Option that sets the heartbeat interval.
// This determines the read/write deadline timeout (heartbeat * 2).
// A zero heartbeat disables deadlines.
func HeartbeatOption(heartbeat time.Duration) Option {
	return func(o *options) {
		o.heartbeat = heartbeat
	}
}

// OnCloseOption returns an Option that sets the close callback.
// The callback is invoked once with the error that ended the connection,
// or nil when the peer finished the stream cleanly.
func OnCloseOption(cb func(error)) Option {
	return func(o *options) {
		o.onClose = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MetricsOption returns an Option that records connection activity in m.
func MetricsOption(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
