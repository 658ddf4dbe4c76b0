package http

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// ErrInvalidResponseHeader is returned for header fields that cannot be
// put on the wire.
var ErrInvalidResponseHeader = errors.New("invalid response header")

// WriteResponse serializes resp as
//
//	<version> <code> <reason>\r\n
//	<Key>: <Value>\r\n ...
//	Content-Length: <n>\r\n   (only when a body is present)
//	\r\n
//	<body>
//
// Headers are written in key order so output is deterministic.
func WriteResponse(w io.Writer, version string, resp *Response) error {
	if version == "" {
		version = "HTTP/1.1"
	}

	keys := make([]string, 0, len(resp.Header))
	for k, v := range resp.Header {
		if strings.EqualFold(k, HeaderContentLength) {
			return fmt.Errorf("%w: %s", ErrReservedHeader, k)
		}
		if !httpguts.ValidHeaderFieldName(k) || !httpguts.ValidHeaderFieldValue(v) {
			return fmt.Errorf("%w: %q", ErrInvalidResponseHeader, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bw := bufio.NewWriterSize(w, 4096)
	bw.WriteString(version)
	bw.WriteByte(' ')
	bw.WriteString(strconv.Itoa(int(resp.Status)))
	bw.WriteByte(' ')
	bw.WriteString(resp.Status.Reason())
	bw.WriteString("\r\n")

	for _, k := range keys {
		bw.WriteString(k)
		bw.WriteString(": ")
		bw.WriteString(resp.Header[k])
		bw.WriteString("\r\n")
	}
	if resp.Body != nil {
		bw.WriteString(HeaderContentLength)
		bw.WriteString(": ")
		bw.WriteString(strconv.Itoa(len(resp.Body)))
		bw.WriteString("\r\n")
	}
	bw.WriteString("\r\n")
	bw.Write(resp.Body)

	return bw.Flush()
}
