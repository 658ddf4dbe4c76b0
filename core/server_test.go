package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/tiny-server/core/http"
	"github.com/searchktools/tiny-server/core/observability"
	"github.com/searchktools/tiny-server/core/poller"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer registers routes with setup, serves on a loopback port and
// returns the server with its address. The server is shut down on cleanup.
func startServer(t *testing.T, setup func(*Server), opts ...Option) (*Server, string) {
	t.Helper()

	opts = append([]Option{WithLogger(quietLogger()), WithPollInterval(time.Millisecond)}, opts...)
	s := New(opts...)
	if setup != nil {
		setup(s)
	}

	ln, err := poller.Listen("127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, s.Shutdown(ctx))
		assert.ErrorIs(t, <-served, ErrServerClosed)
	})
	return s, ln.Addr().String()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn
}

// roundTrip sends raw and reads until the server closes the connection.
func roundTrip(t *testing.T, addr, raw string) string {
	t.Helper()
	conn := dial(t, addr)
	defer conn.Close()

	_, err := io.WriteString(conn, raw)
	require.NoError(t, err)

	// A server that drops a connection with unread input resets it.
	out, err := io.ReadAll(conn)
	if !errors.Is(err, syscall.ECONNRESET) {
		require.NoError(t, err)
	}
	return string(out)
}

func get(t *testing.T, addr, path string) string {
	return roundTrip(t, addr, "GET "+path+" HTTP/1.1\r\nHost: test\r\n\r\n")
}

func TestServerStaticRoute(t *testing.T) {
	_, addr := startServer(t, func(s *Server) {
		s.GET("/hello/world", func(*http.Request) *http.Response {
			return http.NewResponse().WithString("hi")
		})
	})

	assert.Equal(t,
		"HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 2\r\n\r\nhi",
		get(t, addr, "/hello/world"))
	assert.Equal(t, "HTTP/1.1 404 Not Found\r\n\r\n", get(t, addr, "/hello"))
	assert.Equal(t, "HTTP/1.1 404 Not Found\r\n\r\n", get(t, addr, "/hello/world/x"))
}

func TestServerRoot(t *testing.T) {
	_, addr := startServer(t, func(s *Server) {
		s.GET("/", func(*http.Request) *http.Response {
			return http.NewResponse().WithString("root")
		})
	})

	assert.True(t, strings.HasPrefix(get(t, addr, "/"), "HTTP/1.1 200 OK\r\n"))
}

func TestServerVariableAndQuery(t *testing.T) {
	_, addr := startServer(t, func(s *Server) {
		s.GET("/with_var/?key", func(req *http.Request) *http.Response {
			return http.NewResponse().WithString(req.Param("key") + "," + req.QueryValue("q"))
		})
	})

	out := get(t, addr, "/with_var/expected?q=1")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\nexpected,1"), out)
}

func TestServerWildcardSeesFullPath(t *testing.T) {
	_, addr := startServer(t, func(s *Server) {
		s.GET("/static/*", func(req *http.Request) *http.Response {
			return http.NewResponse().WithString(req.Path)
		})
	})

	out := get(t, addr, "/static/a/b/c")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\n/static/a/b/c"), out)
}

func TestServerMethodIsolation(t *testing.T) {
	_, addr := startServer(t, func(s *Server) {
		s.GET("/only-get", func(*http.Request) *http.Response {
			return http.NewResponse().WithString("get")
		})
	})

	out := roundTrip(t, addr, "POST /only-get HTTP/1.1\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 404 Not Found\r\n\r\n", out)

	out = roundTrip(t, addr, "PATCH /only-get HTTP/1.1\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 404 Not Found\r\n\r\n", out)
}

func TestServerCustomNotFound(t *testing.T) {
	_, addr := startServer(t, func(s *Server) {
		require.NoError(t, s.OnNotFound(func(req *http.Request) *http.Response {
			return http.NewResponse().WithStatus(http.StatusNotFound).WithString("nothing at " + req.Path)
		}))
	})

	out := get(t, addr, "/missing")
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 404 Not Found\r\n"))
	assert.True(t, strings.HasSuffix(out, "nothing at /missing"))
}

func TestServerPostBody(t *testing.T) {
	_, addr := startServer(t, func(s *Server) {
		s.POST("/echo", func(req *http.Request) *http.Response {
			return http.NewResponse().WithStatus(http.StatusCreated).WithBytes(req.Body, http.ContentTypeText)
		})
	})

	out := roundTrip(t, addr, "POST /echo HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello")
	assert.Equal(t, "HTTP/1.1 201 Created\r\nContent-Type: text/plain\r\nContent-Length: 5\r\n\r\nhello", out)
}

func TestServerEchoesVersion(t *testing.T) {
	_, addr := startServer(t, func(s *Server) {
		s.GET("/", func(*http.Request) *http.Response { return http.NewResponse() })
	})

	out := roundTrip(t, addr, "GET / HTTP/1.0\r\n\r\n")
	assert.Equal(t, "HTTP/1.0 200 OK\r\n\r\n", out)
}

func TestServerMalformedRequest(t *testing.T) {
	s, addr := startServer(t, func(s *Server) {
		s.GET("/", func(*http.Request) *http.Response { return http.NewResponse() })
	})

	assert.Empty(t, roundTrip(t, addr, "GARBAGE\r\n\r\n"))
	assert.Empty(t, roundTrip(t, addr, "GET / HTTP/1.1\r\nBadHeader\r\n\r\n"))
	assert.Equal(t, uint64(2), s.Stats().ProtocolErrors)

	// the worker keeps serving
	assert.Equal(t, "HTTP/1.1 200 OK\r\n\r\n", get(t, addr, "/"))
}

func TestServerHandlerPanic(t *testing.T) {
	_, addr := startServer(t, func(s *Server) {
		s.GET("/boom", func(*http.Request) *http.Response { panic("boom") })
		s.GET("/ok", func(*http.Request) *http.Response { return http.NewResponse() })
	}, WithWorkers(1))

	assert.Equal(t, "HTTP/1.1 500 Internal Server Error\r\n\r\n", get(t, addr, "/boom"))
	assert.Equal(t, "HTTP/1.1 200 OK\r\n\r\n", get(t, addr, "/ok"))
}

func TestServerNilResponse(t *testing.T) {
	_, addr := startServer(t, func(s *Server) {
		s.GET("/nil", func(*http.Request) *http.Response { return nil })
	})

	assert.Equal(t, "HTTP/1.1 500 Internal Server Error\r\n\r\n", get(t, addr, "/nil"))
}

func TestServerServeFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("file body"), 0o644))

	_, addr := startServer(t, func(s *Server) {
		require.NoError(t, s.ServeFiles("/static/", dir))
	})

	assert.Equal(t,
		"HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 9\r\n\r\nfile body",
		get(t, addr, "/static/a.txt"))
	assert.Equal(t, "HTTP/1.1 404 Not Found\r\n\r\n", get(t, addr, "/static/missing.txt"))
}

func TestServerRegistrationErrors(t *testing.T) {
	s := New(WithLogger(quietLogger()))
	h := http.HandlerFunc(func(*http.Request) *http.Response { return http.NewResponse() })

	assert.Error(t, s.Handle(http.MethodGet, "/a/*/b", h))
	require.NoError(t, s.Handle(http.MethodGet, "/v/?id", h))
	assert.Error(t, s.Handle(http.MethodGet, "/v/?other", h))
	assert.Panics(t, func() { s.GET("/v/*", h) })
}

func TestServerRegistrationAfterStart(t *testing.T) {
	s, _ := startServer(t, nil)
	h := http.HandlerFunc(func(*http.Request) *http.Response { return http.NewResponse() })

	assert.ErrorIs(t, s.Handle(http.MethodGet, "/late", h), ErrServerStarted)
	assert.ErrorIs(t, s.Use(nil), ErrServerStarted)
	assert.ErrorIs(t, s.OnNotFound(h), ErrServerStarted)
	assert.NotNil(t, s.Addr())
}

func TestServerBoundedConcurrency(t *testing.T) {
	const workers, extra = 2, 4

	var active, peak atomic.Int32
	_, addr := startServer(t, func(s *Server) {
		s.GET("/slow", func(*http.Request) *http.Response {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			active.Add(-1)
			return http.NewResponse().WithString("done")
		})
	}, WithWorkers(workers))

	var wg sync.WaitGroup
	results := make([]string, workers+extra)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = get(t, addr, "/slow")
		}(i)
	}
	wg.Wait()

	for i, out := range results {
		assert.True(t, strings.HasSuffix(out, "done"), "connection %d: %q", i, out)
	}
	assert.LessOrEqual(t, peak.Load(), int32(workers))
	assert.Equal(t, int32(workers), peak.Load())
}

func TestServerShutdownDrainsQueued(t *testing.T) {
	release := make(chan struct{})
	s := New(WithLogger(quietLogger()), WithWorkers(1), WithPollInterval(time.Millisecond))
	s.GET("/wait", func(*http.Request) *http.Response {
		<-release
		return http.NewResponse().WithString("served")
	})

	ln, err := poller.Listen("127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()

	const n = 3
	conns := make([]net.Conn, n)
	for i := range conns {
		conns[i] = dial(t, addr)
		defer conns[i].Close()
		_, err := io.WriteString(conns[i], "GET /wait HTTP/1.1\r\n\r\n")
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return s.Stats().Accepted == n
	}, 2*time.Second, 5*time.Millisecond)

	s.Close()
	assert.True(t, s.ShuttingDown())
	require.ErrorIs(t, <-served, ErrServerClosed)

	// intake has stopped
	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)

	close(release)
	for i, conn := range conns {
		out, err := io.ReadAll(conn)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(string(out), "served"), "connection %d", i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, uint64(n), s.Stats().Completed)
}

func TestServerShutdownTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	s := New(WithLogger(quietLogger()), WithWorkers(1), WithPollInterval(time.Millisecond))
	s.GET("/block", func(*http.Request) *http.Response {
		<-release
		return http.NewResponse()
	})

	ln, err := poller.Listen("127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(ln)

	conn := dial(t, ln.Addr().String())
	defer conn.Close()
	_, err = io.WriteString(conn, "GET /block HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.Stats().Active == 1
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Shutdown(ctx), context.DeadlineExceeded)
}

func TestServerShutdownBeforeServe(t *testing.T) {
	s := New(WithLogger(quietLogger()))
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Nil(t, s.Addr())
}

func TestServerReadTimeout(t *testing.T) {
	_, addr := startServer(t, func(s *Server) {
		s.GET("/", func(*http.Request) *http.Response { return http.NewResponse() })
	}, WithWorkers(1), WithTimeouts(100*time.Millisecond, time.Second))

	idle := dial(t, addr)
	defer idle.Close()

	// the idle client is dropped and the single worker moves on
	out, err := io.ReadAll(idle)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n\r\n", get(t, addr, "/"))
}

func TestServerStatsHandler(t *testing.T) {
	_, addr := startServer(t, func(s *Server) {
		s.GET("/ping", func(*http.Request) *http.Response { return http.NewResponse() })
		s.GET("/_internal/stats", s.StatsHandler())
	})

	get(t, addr, "/ping")
	out := get(t, addr, "/_internal/stats")
	_, body, found := strings.Cut(out, "\r\n\r\n")
	require.True(t, found)

	var st Stats
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, 4, st.Workers)
	assert.GreaterOrEqual(t, st.Accepted, uint64(2))
	assert.GreaterOrEqual(t, st.Queued, uint64(2))
	assert.Contains(t, st.String(), "Workers:")
}

func TestServerMetrics(t *testing.T) {
	m := observability.NewMetrics(observability.MetricsConfig{Namespace: "srv"})
	_, addr := startServer(t, func(s *Server) {
		s.GET("/ping", func(*http.Request) *http.Response { return http.NewResponse() })
		s.GET("/metrics", m.Handler())
	}, WithMetrics(m))

	get(t, addr, "/ping")
	assert.Empty(t, roundTrip(t, addr, "NOPE\r\n\r\n"))

	out := get(t, addr, "/metrics")
	assert.Contains(t, out, `srv_requests_total{method="GET",status="200"} 1`)
	assert.Contains(t, out, "srv_protocol_errors_total 1")
	assert.Contains(t, out, "srv_workers 4")
}

func BenchmarkServerRoundTrip(b *testing.B) {
	s := New(WithLogger(quietLogger()), WithPollInterval(time.Millisecond))
	s.GET("/bench", func(*http.Request) *http.Response {
		return http.NewResponse().WithString("ok")
	})
	ln, err := poller.Listen("127.0.0.1:0")
	if err != nil {
		b.Fatal(err)
	}
	go s.Serve(ln)
	defer s.Shutdown(context.Background())

	addr := ln.Addr().String()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			b.Fatal(err)
		}
		fmt.Fprint(conn, "GET /bench HTTP/1.1\r\n\r\n")
		io.Copy(io.Discard, conn)
		conn.Close()
	}
}
