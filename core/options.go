package core

import (
	"log/slog"
	"time"

	"github.com/searchktools/tiny-server/core/http"
	"github.com/searchktools/tiny-server/core/observability"
)

// Options holds the server settings. The zero value of a field means the
// default from DefaultOptions.
type Options struct {
	// Workers is the number of connections served concurrently.
	Workers int
	// PollInterval is how long the acceptor sleeps when no connection is
	// pending.
	PollInterval time.Duration
	// QueueWait bounds one worker wait on the connection queue before it
	// loops and waits again.
	QueueWait time.Duration
	// ReadTimeout and WriteTimeout are per-connection deadlines. Zero
	// disables them.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// ReadBufferSize is the per-connection read buffer, which also caps
	// the length of one request or header line.
	ReadBufferSize int
	Limits         http.Limits

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// DefaultOptions returns the options used by New when none are given.
func DefaultOptions() Options {
	return Options{
		Workers:        4,
		PollInterval:   5 * time.Millisecond,
		QueueWait:      24 * time.Hour,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		ReadBufferSize: 8192,
		Limits: http.Limits{
			MaxHeaders:   100,
			MaxBodyBytes: 10 << 20,
		},
	}
}

// Option configures a Server.
type Option func(*Options)

func WithWorkers(n int) Option {
	return func(o *Options) { o.Workers = n }
}

func WithPollInterval(d time.Duration) Option {
	return func(o *Options) { o.PollInterval = d }
}

func WithQueueWait(d time.Duration) Option {
	return func(o *Options) { o.QueueWait = d }
}

// WithTimeouts sets the read and write deadlines applied to every
// connection.
func WithTimeouts(read, write time.Duration) Option {
	return func(o *Options) {
		o.ReadTimeout = read
		o.WriteTimeout = write
	}
}

func WithLimits(limits http.Limits) Option {
	return func(o *Options) { o.Limits = limits }
}

func WithReadBufferSize(n int) Option {
	return func(o *Options) { o.ReadBufferSize = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMetrics records accept, request and worker metrics into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

func (o *Options) fill() {
	def := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = def.Workers
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.QueueWait <= 0 {
		o.QueueWait = def.QueueWait
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = def.ReadBufferSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}
