package http

import "strings"

// Method is the closed set of methods the router keeps a tree for.
type Method uint8

const (
	MethodGet Method = iota
	MethodPut
	MethodPost
	MethodDelete
	// MethodOther catches OPTION(S) and every method token without its own tree.
	MethodOther

	methodCount
)

// NumMethods is the number of route trees a router keeps.
const NumMethods = int(methodCount)

// Methods lists every Method in tree order.
func Methods() []Method {
	return []Method{MethodGet, MethodPut, MethodPost, MethodDelete, MethodOther}
}

// ParseMethod maps a request-line method token to a Method.
func ParseMethod(token string) Method {
	switch token {
	case "GET":
		return MethodGet
	case "PUT":
		return MethodPut
	case "POST":
		return MethodPost
	case "DELETE":
		return MethodDelete
	default:
		return MethodOther
	}
}

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPut:
		return "PUT"
	case MethodPost:
		return "POST"
	case MethodDelete:
		return "DELETE"
	case MethodOther:
		return "OTHER"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether m names one of the router's trees.
func (m Method) Valid() bool {
	return m < methodCount
}

// Request is a parsed HTTP/1.1 request.
//
// Params is filled by the router during resolution and belongs to the
// single worker serving the request.
type Request struct {
	Method  Method
	Token   string // method token as sent on the wire
	Path    string
	Version string

	// Header keys are stored as received; duplicates are last-write-wins.
	Header map[string]string
	Query  map[string]string
	Params map[string]string

	// Body is nil when the request carried no Content-Length.
	Body []byte
}

// NewRequest builds a request for method and target. A "?query" suffix on
// target is split into Query.
func NewRequest(method Method, target string) *Request {
	req := &Request{
		Method:  method,
		Token:   method.String(),
		Version: "HTTP/1.1",
		Header:  make(map[string]string),
		Params:  make(map[string]string),
	}
	req.setTarget(target)
	return req
}

func (r *Request) setTarget(target string) {
	path, query, found := strings.Cut(target, "?")
	r.Path = path
	if !found {
		return
	}
	if r.Query == nil {
		r.Query = make(map[string]string)
	}
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		r.Query[k] = v
	}
}

// GetHeader returns the header value for key, or "".
func (r *Request) GetHeader(key string) string {
	return r.Header[key]
}

// Param returns the route parameter bound under name, or "".
func (r *Request) Param(name string) string {
	return r.Params[name]
}

// QueryValue returns the query parameter key, or "".
func (r *Request) QueryValue(key string) string {
	return r.Query[key]
}
