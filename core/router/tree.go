package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/searchktools/tiny-server/core/http"
)

// Registration errors.
var (
	ErrWildcardNotLast  = errors.New("'*' must be the last path segment")
	ErrConflictingRoute = errors.New("conflicting non-static segment")
	ErrUnnamedVariable  = errors.New("variable segment must be named")
)

// RouteError reports a rejected registration.
type RouteError struct {
	Method http.Method
	Path   string
	Err    error
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("route %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *RouteError) Unwrap() error { return e.Err }

type nodeType uint8

const (
	static   nodeType = iota // literal segment
	param                    // ?name
	catchAll                 // *
)

// node is one path segment. A node owns at most one non-static child, so
// resolution never has to choose between a variable and a wildcard.
type node struct {
	nType     nodeType
	paramName string
	handler   http.Handler
	children  map[string]*node
	wild      *node
}

// tree is the route tree of a single method. It is built during startup
// and only read afterwards.
type tree struct {
	root *node
}

func newTree() *tree {
	return &tree{root: &node{}}
}

// splitPath drops one leading '/' and splits on '/'. The root path yields
// no segments.
func splitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func (t *tree) insert(path string, handler http.Handler) error {
	segments := splitPath(path)
	n := t.root

	for i, segment := range segments {
		switch {
		case segment == "*":
			if i != len(segments)-1 {
				return ErrWildcardNotLast
			}
			child, err := n.wildChild(catchAll, "")
			if err != nil {
				return err
			}
			n = child

		case strings.HasPrefix(segment, "?"):
			name := segment[1:]
			if name == "" {
				return ErrUnnamedVariable
			}
			child, err := n.wildChild(param, name)
			if err != nil {
				return err
			}
			n = child

		default:
			child, ok := n.children[segment]
			if !ok {
				if n.children == nil {
					n.children = make(map[string]*node)
				}
				child = &node{}
				n.children[segment] = child
			}
			n = child
		}
	}

	n.handler = handler
	return nil
}

// wildChild returns the existing non-static child when it matches, creates
// it when absent and fails when a different one is already registered.
func (n *node) wildChild(typ nodeType, name string) (*node, error) {
	if n.wild == nil {
		n.wild = &node{nType: typ, paramName: name}
		return n.wild, nil
	}
	if n.wild.nType != typ || n.wild.paramName != name {
		return nil, fmt.Errorf("%w: %s already registered here", ErrConflictingRoute, n.wild.describe())
	}
	return n.wild, nil
}

func (n *node) describe() string {
	if n.nType == catchAll {
		return "*"
	}
	return "?" + n.paramName
}

// resolve walks path segment by segment. Static children win over the
// variable or wildcard child; a wildcard ends the walk. Variable bindings
// are copied into params only when a handler matched. A nil handler means
// not found.
func (t *tree) resolve(path string, params map[string]string) http.Handler {
	n := t.root
	var bound []binding

	for _, segment := range splitPath(path) {
		if child, ok := n.children[segment]; ok {
			n = child
			continue
		}

		child := n.wild
		if child == nil {
			return nil
		}
		n = child
		if child.nType == catchAll {
			break
		}
		bound = append(bound, binding{name: child.paramName, value: segment})
	}

	if n.handler == nil {
		return nil
	}
	if params != nil {
		for _, b := range bound {
			params[b.name] = b.value
		}
	}
	return n.handler
}

type binding struct {
	name  string
	value string
}
