package http

import (
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"
)

// StatusCode is an HTTP response status.
type StatusCode int

const (
	StatusOK                  StatusCode = 200
	StatusCreated             StatusCode = 201
	StatusNoContent           StatusCode = 204
	StatusBadRequest          StatusCode = 400
	StatusNotFound            StatusCode = 404
	StatusMethodNotAllowed    StatusCode = 405
	StatusInternalServerError StatusCode = 500
)

// Reason returns the reason phrase written on the status line.
func (s StatusCode) Reason() string {
	if text := nethttp.StatusText(int(s)); text != "" {
		return text
	}
	return "Unknown"
}

// ErrReservedHeader is raised when a handler tries to set a header the
// writer computes itself.
var ErrReservedHeader = errors.New("header is computed by the server")

// Content types used by the built-in handlers.
const (
	ContentTypeText     = "text/plain"
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
)

// Response is built by a handler and handed to the writer once.
type Response struct {
	Status StatusCode
	Header map[string]string
	// Body is nil for responses without content; no Content-Length is
	// written in that case.
	Body []byte
}

// NewResponse returns an empty 200 response.
func NewResponse() *Response {
	return &Response{
		Status: StatusOK,
		Header: make(map[string]string),
	}
}

// NotFoundResponse returns the default 404 with no body.
func NotFoundResponse() *Response {
	return NewResponse().WithStatus(StatusNotFound)
}

func (r *Response) WithStatus(code StatusCode) *Response {
	r.Status = code
	return r
}

// WithHeader sets a response header. Setting Content-Length panics with
// ErrReservedHeader; it is always derived from the body.
func (r *Response) WithHeader(key, value string) *Response {
	if strings.EqualFold(key, HeaderContentLength) {
		panic(fmt.Errorf("%w: %s", ErrReservedHeader, key))
	}
	if r.Header == nil {
		r.Header = make(map[string]string)
	}
	r.Header[key] = value
	return r
}

// WithBytes sets the body and its content type.
func (r *Response) WithBytes(content []byte, contentType string) *Response {
	if content == nil {
		content = []byte{}
	}
	r.Body = content
	return r.WithHeader(HeaderContentType, contentType)
}

// WithString sets a text/plain body.
func (r *Response) WithString(s string) *Response {
	return r.WithBytes([]byte(s), ContentTypeText)
}

// String returns the body as a string.
func (r *Response) String() string {
	return string(r.Body)
}

// Handler produces the response for a routed request.
type Handler interface {
	Handle(req *Request) *Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *Request) *Response

func (f HandlerFunc) Handle(req *Request) *Response {
	return f(req)
}
