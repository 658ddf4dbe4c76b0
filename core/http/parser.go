package http

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Protocol errors. Any of them aborts the connection without a response.
var (
	ErrMalformedRequestLine = errors.New("malformed request line")
	ErrMalformedHeader      = errors.New("malformed header line")
	ErrInvalidContentLength = errors.New("invalid Content-Length")
	ErrBodyTooLarge         = errors.New("request body too large")
	ErrTooManyHeaders       = errors.New("too many header lines")
	ErrLineTooLong          = errors.New("line exceeds read buffer")
)

// Limits bounds what ReadRequest accepts. Zero fields mean unlimited.
type Limits struct {
	MaxHeaders   int
	MaxBodyBytes int64
}

// ReadRequest reads one request off br: the request line, header lines up
// to the empty line, and Content-Length bytes of body when that header is
// present.
func ReadRequest(br *bufio.Reader, limits Limits) (*Request, error) {
	line, err := readLine(br)
	if err != nil {
		return nil, fmt.Errorf("read request line: %w", err)
	}

	fields := strings.Fields(line)
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: %d tokens in %q", ErrMalformedRequestLine, len(fields), line)
	}

	req := &Request{
		Method:  ParseMethod(fields[0]),
		Token:   fields[0],
		Version: fields[2],
		Header:  make(map[string]string),
		Params:  make(map[string]string),
	}
	req.setTarget(fields[1])

	contentLength := int64(-1)
	for n := 0; ; n++ {
		line, err := readLine(br)
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		if line == "" {
			break
		}
		if limits.MaxHeaders > 0 && n >= limits.MaxHeaders {
			return nil, ErrTooManyHeaders
		}

		key, value, err := splitHeader(line)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(key, HeaderContentLength) {
			contentLength, err = parseContentLength(value, limits.MaxBodyBytes)
			if err != nil {
				return nil, err
			}
		}
		req.Header[key] = value
	}

	if contentLength >= 0 {
		body, err := readBody(br, contentLength)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		req.Body = body
	}

	return req, nil
}

// readBody reads exactly n bytes. The buffer grows with the bytes that
// actually arrive, so a declared length alone allocates nothing.
func readBody(r io.Reader, n int64) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, r, n); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	body := buf.Bytes()
	if body == nil {
		body = []byte{}
	}
	return body, nil
}

// readLine returns the next line without its CRLF (or bare LF).
func readLine(br *bufio.Reader) (string, error) {
	b, err := br.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return "", ErrLineTooLong
		}
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	b = b[:len(b)-1]
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return string(b), nil
}

func splitHeader(line string) (string, string, error) {
	if strings.Count(line, ": ") != 1 {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedHeader, line)
	}
	key, value, _ := strings.Cut(line, ": ")
	if !httpguts.ValidHeaderFieldName(key) || !httpguts.ValidHeaderFieldValue(value) {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedHeader, line)
	}
	return key, value, nil
}

func parseContentLength(value string, max int64) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidContentLength, value)
	}
	if max > 0 && n > max {
		return 0, fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, n, max)
	}
	return n, nil
}
