package http

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, raw string, limits Limits) (*Request, error) {
	t.Helper()
	return ReadRequest(bufio.NewReader(strings.NewReader(raw)), limits)
}

func TestReadRequestBasic(t *testing.T) {
	req, err := parse(t, "GET /hello/world?x=1&y HTTP/1.1\r\nHost: localhost\r\nAccept: */*\r\n\r\n", Limits{})
	require.NoError(t, err)

	assert.Equal(t, MethodGet, req.Method)
	assert.Equal(t, "GET", req.Token)
	assert.Equal(t, "/hello/world", req.Path)
	assert.Equal(t, "HTTP/1.1", req.Version)
	assert.Equal(t, "localhost", req.GetHeader("Host"))
	assert.Equal(t, "*/*", req.GetHeader("Accept"))
	assert.Equal(t, "1", req.QueryValue("x"))
	assert.Contains(t, req.Query, "y")
	assert.Nil(t, req.Body)
	assert.NotNil(t, req.Params)
	assert.Empty(t, req.Params)
}

func TestReadRequestBody(t *testing.T) {
	req, err := parse(t, "POST /submit HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello trailing", Limits{})
	require.NoError(t, err)

	assert.Equal(t, MethodPost, req.Method)
	assert.Equal(t, []byte("hello"), req.Body)
}

func TestReadRequestDuplicateHeaderLastWins(t *testing.T) {
	req, err := parse(t, "GET / HTTP/1.1\r\nX-Thing: a\r\nX-Thing: b\r\n\r\n", Limits{})
	require.NoError(t, err)
	assert.Equal(t, "b", req.GetHeader("X-Thing"))
}

func TestReadRequestOtherMethods(t *testing.T) {
	for _, token := range []string{"OPTION", "OPTIONS", "PATCH", "HEAD"} {
		req, err := parse(t, token+" / HTTP/1.1\r\n\r\n", Limits{})
		require.NoError(t, err)
		assert.Equal(t, MethodOther, req.Method, token)
		assert.Equal(t, token, req.Token)
	}
}

func TestReadRequestErrors(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		limits Limits
		want   error
	}{
		{"two tokens", "GET /\r\n\r\n", Limits{}, ErrMalformedRequestLine},
		{"four tokens", "GET / HTTP/1.1 extra\r\n\r\n", Limits{}, ErrMalformedRequestLine},
		{"no separator", "GET / HTTP/1.1\r\nHost localhost\r\n\r\n", Limits{}, ErrMalformedHeader},
		{"two separators", "GET / HTTP/1.1\r\nX-A: b: c\r\n\r\n", Limits{}, ErrMalformedHeader},
		{"bad name", "GET / HTTP/1.1\r\nBad Name: v\r\n\r\n", Limits{}, ErrMalformedHeader},
		{"bad length", "POST / HTTP/1.1\r\nContent-Length: abc\r\n\r\n", Limits{}, ErrInvalidContentLength},
		{"negative length", "POST / HTTP/1.1\r\nContent-Length: -1\r\n\r\n", Limits{}, ErrInvalidContentLength},
		{"body too large", "POST / HTTP/1.1\r\nContent-Length: 11\r\n\r\n", Limits{MaxBodyBytes: 10}, ErrBodyTooLarge},
		{"too many headers", "GET / HTTP/1.1\r\nA: 1\r\nB: 2\r\n\r\n", Limits{MaxHeaders: 1}, ErrTooManyHeaders},
		{"truncated headers", "GET / HTTP/1.1\r\nA: 1\r\n", Limits{}, io.ErrUnexpectedEOF},
		{"truncated body", "POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc", Limits{}, io.ErrUnexpectedEOF},
		{"empty", "", Limits{}, io.ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.raw, tt.limits)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

func TestReadRequestLineTooLong(t *testing.T) {
	raw := "GET /" + strings.Repeat("a", 64) + " HTTP/1.1\r\n\r\n"
	_, err := ReadRequest(bufio.NewReaderSize(strings.NewReader(raw), 16), Limits{})
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestReadRequestHugeContentLengthUnlimited(t *testing.T) {
	for _, length := range []string{"1125899906842624", "274877906944"} {
		raw := "POST /upload HTTP/1.1\r\nContent-Length: " + length + "\r\n\r\nabc"

		var err error
		require.NotPanics(t, func() {
			_, err = parse(t, raw, Limits{})
		}, length)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF, length)
	}
}

func TestReadRequestZeroContentLength(t *testing.T) {
	req, err := parse(t, "POST / HTTP/1.1\r\nContent-Length: 0\r\n\r\n", Limits{})
	require.NoError(t, err)
	assert.NotNil(t, req.Body)
	assert.Empty(t, req.Body)
}

func TestReadRequestLineWhitespace(t *testing.T) {
	req, err := parse(t, "GET\t/a  HTTP/1.1\r\n\r\n", Limits{})
	require.NoError(t, err)
	assert.Equal(t, "/a", req.Path)
	assert.Equal(t, "HTTP/1.1", req.Version)

	_, err = parse(t, "GET /a b HTTP/1.1\r\n\r\n", Limits{})
	assert.ErrorIs(t, err, ErrMalformedRequestLine)
}
