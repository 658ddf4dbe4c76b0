package router

import (
	"fmt"

	"github.com/searchktools/tiny-server/core/http"
)

// Router owns one route tree per method and the not-found handler.
// Registration must finish before the router is used for serving.
type Router struct {
	trees    [http.NumMethods]*tree
	notFound http.Handler
}

// New creates a router with an empty tree for every method.
func New() *Router {
	r := &Router{}
	for _, m := range http.Methods() {
		r.trees[m] = newTree()
	}
	return r
}

// Add registers handler for method and path.
//
// Path segments are separated by '/'. A segment "?name" binds one path
// component to the route parameter name; a final segment "*" matches the
// rest of the path. A leading '/' is optional.
func (r *Router) Add(method http.Method, path string, handler http.Handler) error {
	t := r.tree(method)
	if err := t.insert(path, handler); err != nil {
		return &RouteError{Method: method, Path: path, Err: err}
	}
	return nil
}

// On is Add for setup code: a rejected registration panics.
func (r *Router) On(method http.Method, path string, handler http.HandlerFunc) {
	if err := r.Add(method, path, handler); err != nil {
		panic(err)
	}
}

// OnNotFound replaces the default not-found behavior. Last call wins.
func (r *Router) OnNotFound(handler http.HandlerFunc) {
	r.notFound = handler
}

// Find resolves path in the tree for method, binding variable segments
// into params. It returns nil when no route matches.
func (r *Router) Find(method http.Method, path string, params map[string]string) http.Handler {
	return r.tree(method).resolve(path, params)
}

// Handle routes req and returns the handler's response. Misses go to the
// not-found handler, or produce a bodiless 404 when none is set.
func (r *Router) Handle(req *http.Request) *http.Response {
	if req.Params == nil {
		req.Params = make(map[string]string)
	}

	if h := r.Find(req.Method, req.Path, req.Params); h != nil {
		return h.Handle(req)
	}
	return r.HandleNotFound(req)
}

// HandleNotFound invokes the not-found behavior for req.
func (r *Router) HandleNotFound(req *http.Request) *http.Response {
	if r.notFound != nil {
		return r.notFound.Handle(req)
	}
	return http.NotFoundResponse()
}

func (r *Router) tree(method http.Method) *tree {
	if !method.Valid() || r.trees[method] == nil {
		panic(fmt.Sprintf("router: no route tree for method %d", method))
	}
	return r.trees[method]
}
