package middleware

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/searchktools/tiny-server/core/http"
)

// Middleware wraps a handler with additional behavior.
type Middleware func(next http.Handler) http.Handler

// Pipeline is an ordered list of middlewares. The first one added is the
// outermost wrapper.
type Pipeline struct {
	middlewares []Middleware
}

// NewPipeline creates a new middleware pipeline
func NewPipeline(mws ...Middleware) *Pipeline {
	p := &Pipeline{
		middlewares: make([]Middleware, 0, 8),
	}
	return p.Use(mws...)
}

// Use appends middlewares to the pipeline
func (p *Pipeline) Use(mws ...Middleware) *Pipeline {
	for _, mw := range mws {
		if mw != nil {
			p.middlewares = append(p.middlewares, mw)
		}
	}
	return p
}

// Len returns the number of middlewares.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

// Then wraps final with every middleware and returns the composed handler.
func (p *Pipeline) Then(final http.Handler) http.Handler {
	// Fast path: no middlewares
	if len(p.middlewares) == 0 {
		return final
	}

	h := final
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		h = p.middlewares[i](h)
	}
	return h
}

// Common middleware implementations

// Recovery turns a panicking handler into a 500 response. onPanic, when
// set, is called once per recovered panic.
func Recovery(logger *slog.Logger, onPanic func(v any)) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(req *http.Request) (resp *http.Response) {
			defer func() {
				if v := recover(); v != nil {
					logger.Error("handler panicked",
						"method", req.Token,
						"path", req.Path,
						"panic", fmt.Sprint(v))
					if onPanic != nil {
						onPanic(v)
					}
					resp = http.NewResponse().WithStatus(http.StatusInternalServerError)
				}
			}()
			return next.Handle(req)
		})
	}
}

// AccessLog logs one line per request at debug level.
func AccessLog(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(req *http.Request) *http.Response {
			start := time.Now()
			resp := next.Handle(req)

			status := http.StatusInternalServerError
			if resp != nil {
				status = resp.Status
			}
			logger.Debug("request",
				"method", req.Token,
				"path", req.Path,
				"status", int(status),
				"duration", time.Since(start))
			return resp
		})
	}
}

// RequestObserver receives one observation per routed request.
type RequestObserver interface {
	ObserveRequest(method string, status http.StatusCode, elapsed time.Duration)
}

// Metrics reports method, status and latency of every request to obs.
func Metrics(obs RequestObserver) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(req *http.Request) *http.Response {
			start := time.Now()
			resp := next.Handle(req)

			status := http.StatusInternalServerError
			if resp != nil {
				status = resp.Status
			}
			obs.ObserveRequest(req.Method.String(), status, time.Since(start))
			return resp
		})
	}
}

// HeaderRequestID is set on responses by RequestID.
const HeaderRequestID = "X-Request-ID"

// RequestID echoes the client's X-Request-ID, or generates one.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(req *http.Request) *http.Response {
			id := req.GetHeader(HeaderRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			resp := next.Handle(req)
			if resp != nil {
				resp.WithHeader(HeaderRequestID, id)
			}
			return resp
		})
	}
}

// CORS adds permissive CORS headers and answers OPTIONS with 204.
func CORS() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(req *http.Request) *http.Response {
			var resp *http.Response
			if req.Token == "OPTIONS" {
				resp = http.NewResponse().WithStatus(http.StatusNoContent)
			} else {
				resp = next.Handle(req)
			}
			if resp == nil {
				return nil
			}
			return resp.
				WithHeader("Access-Control-Allow-Origin", "*").
				WithHeader("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS").
				WithHeader("Access-Control-Allow-Headers", "Content-Type, Authorization")
		})
	}
}
