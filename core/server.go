package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/searchktools/tiny-server/core/fileserver"
	"github.com/searchktools/tiny-server/core/http"
	"github.com/searchktools/tiny-server/core/middleware"
	"github.com/searchktools/tiny-server/core/observability"
	"github.com/searchktools/tiny-server/core/poller"
	"github.com/searchktools/tiny-server/core/pools"
	"github.com/searchktools/tiny-server/core/router"
)

var (
	// ErrServerClosed is returned by Serve once the shutdown flag stopped
	// the acceptor.
	ErrServerClosed = errors.New("server closed")
	// ErrServerStarted is returned when routes or middlewares are added
	// after Serve was called.
	ErrServerStarted = errors.New("server already started")
)

// Server accepts connections on a non-blocking listener and hands each one
// to a fixed pool of workers. A worker reads one request, routes it, writes
// the response and closes the connection.
type Server struct {
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics

	router   *router.Router
	pipeline *middleware.Pipeline
	handler  http.Handler

	queue   *pools.Queue[net.Conn]
	pool    *pools.WorkerPool[net.Conn]
	readers *pools.ReaderPool

	// shutdown stops intake. It is read by the acceptor after every
	// iteration and never cleared.
	shutdown atomic.Bool

	mu           sync.Mutex
	started      bool
	listener     poller.Listener
	acceptorDone chan struct{}

	stats struct {
		accepted       atomic.Uint64
		acceptErrors   atomic.Uint64
		protocolErrors atomic.Uint64
		writeErrors    atomic.Uint64
	}
}

// New creates a server. Routes must be registered before Serve.
func New(opts ...Option) *Server {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.fill()

	s := &Server{
		opts:         o,
		logger:       o.Logger,
		metrics:      o.Metrics,
		router:       router.New(),
		queue:        pools.NewQueue[net.Conn](),
		readers:      pools.NewReaderPool(o.ReadBufferSize),
		acceptorDone: make(chan struct{}),
	}
	s.pool = pools.NewWorkerPool(o.Workers, s.queue, o.QueueWait, s.serveConn)
	s.pool.PanicHandler = func(v any) {
		s.logger.Error("worker recovered from panic", "panic", fmt.Sprint(v))
	}

	s.pipeline = middleware.NewPipeline()
	if s.metrics != nil {
		s.pipeline.Use(middleware.Metrics(s.metrics))
		s.registerGauges()
	}
	s.pipeline.Use(
		middleware.AccessLog(s.logger),
		middleware.Recovery(s.logger, s.onHandlerPanic),
	)
	return s
}

func (s *Server) registerGauges() {
	s.metrics.GaugeFunc("queue_depth", "Accepted connections waiting for a worker.", func() float64 {
		return float64(s.queue.Len())
	})
	s.metrics.GaugeFunc("workers_active", "Workers currently serving a connection.", func() float64 {
		return float64(s.pool.Stats().TasksActive)
	})
	s.metrics.GaugeFunc("workers", "Size of the worker pool.", func() float64 {
		return float64(s.opts.Workers)
	})
}

func (s *Server) onHandlerPanic(any) {
	if s.metrics != nil {
		s.metrics.HandlerPanic()
	}
}

// Handle registers handler for method and path.
func (s *Server) Handle(method http.Method, path string, handler http.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrServerStarted
	}
	return s.router.Add(method, path, handler)
}

// On registers a handler function. A rejected registration panics, as a
// conflicting route table is a setup bug.
func (s *Server) On(method http.Method, path string, handler http.HandlerFunc) {
	if err := s.Handle(method, path, handler); err != nil {
		panic(err)
	}
}

// GET registers a GET route
func (s *Server) GET(path string, handler http.HandlerFunc) {
	s.On(http.MethodGet, path, handler)
}

// PUT registers a PUT route
func (s *Server) PUT(path string, handler http.HandlerFunc) {
	s.On(http.MethodPut, path, handler)
}

// POST registers a POST route
func (s *Server) POST(path string, handler http.HandlerFunc) {
	s.On(http.MethodPost, path, handler)
}

// DELETE registers a DELETE route
func (s *Server) DELETE(path string, handler http.HandlerFunc) {
	s.On(http.MethodDelete, path, handler)
}

// OnNotFound sets the handler for requests no route matches.
func (s *Server) OnNotFound(handler http.HandlerFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrServerStarted
	}
	s.router.OnNotFound(handler)
	return nil
}

// ServeFiles serves dir under prefix. "p", "p/" and "p/*" all register
// the GET route "p/*".
func (s *Server) ServeFiles(prefix, dir string, opts ...fileserver.Option) error {
	opts = append([]fileserver.Option{fileserver.WithLogger(s.logger)}, opts...)
	fs := fileserver.New(prefix, dir, opts...)
	return s.Handle(http.MethodGet, fs.Pattern(), fs)
}

// Use appends middlewares. They run inside the built-in recovery, so a
// panic in a middleware is also turned into a 500.
func (s *Server) Use(mws ...middleware.Middleware) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrServerStarted
	}
	s.pipeline.Use(mws...)
	return nil
}

// Router exposes the route table. It is read by the workers without
// locking, so it must not be modified once Serve has been called.
func (s *Server) Router() *router.Router {
	return s.router
}

// ListenAndServe binds addr and serves until the shutdown flag is set.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := poller.Listen(addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve starts the workers and runs the acceptor on ln in the calling
// goroutine. It returns ErrServerClosed after Close or Shutdown. The
// listener is closed when Serve returns.
func (s *Server) Serve(ln poller.Listener) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrServerStarted
	}
	s.started = true
	s.listener = ln
	s.handler = s.pipeline.Then(s.router)
	s.mu.Unlock()

	defer close(s.acceptorDone)
	defer ln.Close()

	s.pool.Start()
	s.logger.Info("server listening",
		"addr", ln.Addr().String(),
		"workers", s.opts.Workers,
		"poll_interval", s.opts.PollInterval)

	return s.acceptLoop(ln)
}

// acceptLoop polls ln. A pending connection is queued, an empty socket
// costs one PollInterval sleep, and other errors are logged and paced
// with exponential backoff. The shutdown flag is checked after every
// iteration.
func (s *Server) acceptLoop(ln poller.Listener) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.PollInterval
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		conn, err := ln.Accept()
		switch {
		case err == nil:
			bo.Reset()
			s.enqueue(conn)

		case errors.Is(err, poller.ErrWouldBlock):
			time.Sleep(s.opts.PollInterval)

		case errors.Is(err, net.ErrClosed):
			if s.shutdown.Load() {
				return ErrServerClosed
			}
			s.logger.Error("listener closed unexpectedly")
			return err

		default:
			s.stats.acceptErrors.Add(1)
			if s.metrics != nil {
				s.metrics.AcceptError()
			}
			wait := bo.NextBackOff()
			s.logger.Warn("accept failed", "error", err, "retry_in", wait)
			time.Sleep(wait)
		}

		if s.shutdown.Load() {
			s.logger.Info("acceptor stopped")
			return ErrServerClosed
		}
	}
}

func (s *Server) enqueue(conn net.Conn) {
	if !s.pool.Submit(conn) {
		// queue already closed by Shutdown
		conn.Close()
		return
	}
	s.stats.accepted.Add(1)
	if s.metrics != nil {
		s.metrics.ConnectionAccepted()
	}
}

// serveConn runs one connection to completion on the calling worker.
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	log := s.logger.With("conn_id", uuid.NewString())
	if addr := conn.RemoteAddr(); addr != nil {
		log = log.With("remote", addr.String())
	}

	if s.opts.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	}

	br := s.readers.Get(conn)
	req, err := http.ReadRequest(br, s.opts.Limits)
	s.readers.Put(br)
	if err != nil {
		s.stats.protocolErrors.Add(1)
		if s.metrics != nil {
			s.metrics.ProtocolError()
		}
		log.Warn("dropping connection", "error", err)
		return
	}

	resp := s.handler.Handle(req)
	if resp == nil {
		log.Error("handler returned no response", "method", req.Token, "path", req.Path)
		resp = http.NewResponse().WithStatus(http.StatusInternalServerError)
	}

	if s.opts.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	}
	if err := http.WriteResponse(conn, req.Version, resp); err != nil {
		s.stats.writeErrors.Add(1)
		if s.metrics != nil {
			s.metrics.WriteError()
		}
		log.Warn("write response failed", "error", err)
	}
}

// Close sets the shutdown flag. The acceptor stops after its current
// iteration; connections already queued are still served. Only the first
// call has an effect.
func (s *Server) Close() {
	if s.shutdown.CompareAndSwap(false, true) {
		s.logger.Info("shutdown requested")
	}
}

// ShuttingDown reports whether the shutdown flag is set.
func (s *Server) ShuttingDown() bool {
	return s.shutdown.Load()
}

// Shutdown sets the shutdown flag, waits for the acceptor to stop, then
// lets the workers drain every queued connection and exit. It returns
// ctx's error if draining does not finish in time; in that case idle
// workers are stopped and queued connections are closed unserved.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Close()

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if started {
		select {
		case <-s.acceptorDone:
		case <-ctx.Done():
			return fmt.Errorf("waiting for acceptor: %w", ctx.Err())
		}
	}

	s.pool.Close()
	if err := s.pool.Wait(ctx); err != nil {
		s.pool.Stop()
		s.dropQueued()
		return err
	}
	s.logger.Info("server stopped", "served", s.pool.Stats().TasksCompleted)
	return nil
}

func (s *Server) dropQueued() {
	for {
		conn, err := s.queue.Pop(context.Background(), time.Nanosecond)
		if err != nil {
			return
		}
		conn.Close()
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
