// Package fileserver serves files from a directory under a route prefix.
package fileserver

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/searchktools/tiny-server/core/http"
)

// Option configures a FileServer.
type Option func(*FileServer)

// WithCache keeps file contents in memory for ttl. A ttl <= 0 disables
// caching.
func WithCache(ttl time.Duration) Option {
	return func(s *FileServer) {
		if ttl <= 0 {
			s.cache = nil
			return
		}
		s.cache = gocache.New(ttl, 2*ttl)
	}
}

// WithContentTypeByExtension derives Content-Type from the file extension
// instead of always answering text/plain.
func WithContentTypeByExtension() Option {
	return func(s *FileServer) {
		s.byExtension = true
	}
}

// WithLogger sets the logger used for read failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *FileServer) {
		s.logger = logger
	}
}

// FileServer maps "<prefix>/<rest>" to "<dir>/<rest>".
type FileServer struct {
	prefix      string
	dir         string
	cache       *gocache.Cache
	byExtension bool
	logger      *slog.Logger
}

// New creates a file server for prefix rooted at dir.
func New(prefix, dir string, opts ...Option) *FileServer {
	s := &FileServer{
		prefix: NormalizePrefix(prefix),
		dir:    dir,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizePrefix turns "p", "/p/", and "/p/*" into "/p".
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimSuffix(prefix, "*")
	prefix = strings.TrimRight(prefix, "/")
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}

// Pattern is the wildcard route the server must be registered under.
func (f *FileServer) Pattern() string {
	if f.prefix == "/" {
		return "/*"
	}
	return f.prefix + "/*"
}

func (f *FileServer) Prefix() string { return f.prefix }

// Handle serves the file named by the part of the path after the prefix.
func (f *FileServer) Handle(req *http.Request) *http.Response {
	name, ok := f.resolve(req.Path)
	if !ok {
		return http.NotFoundResponse()
	}

	content, err := f.read(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.logger.Warn("file read failed", "path", name, "error", err)
		}
		return http.NotFoundResponse()
	}

	contentType := http.ContentTypeText
	if f.byExtension {
		contentType = ContentType(name)
	}
	return http.NewResponse().WithBytes(content, contentType)
}

// resolve strips the prefix and rejects any path that would leave dir.
func (f *FileServer) resolve(path string) (string, bool) {
	rest := path
	if f.prefix != "/" {
		var found bool
		rest, found = strings.CutPrefix(path, f.prefix)
		if !found {
			return "", false
		}
	}
	rest = strings.TrimLeft(rest, "/")
	if rest == "" {
		return "", false
	}
	for _, segment := range strings.Split(rest, "/") {
		if segment == ".." {
			return "", false
		}
	}
	return filepath.Join(f.dir, filepath.FromSlash(rest)), true
}

func (f *FileServer) read(name string) ([]byte, error) {
	if f.cache != nil {
		if v, ok := f.cache.Get(name); ok {
			return v.([]byte), nil
		}
	}

	info, err := os.Stat(name)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fs.ErrNotExist
	}

	content, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	if f.cache != nil {
		f.cache.SetDefault(name, content)
	}
	return content, nil
}

// Purge drops every cached file.
func (f *FileServer) Purge() {
	if f.cache != nil {
		f.cache.Flush()
	}
}

// ContentType returns the MIME type for a file name's extension.
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	case ".xml":
		return "application/xml; charset=utf-8"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	case ".ico":
		return "image/x-icon"
	case ".pdf":
		return "application/pdf"
	case ".zip":
		return "application/zip"
	case ".gz":
		return "application/gzip"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
