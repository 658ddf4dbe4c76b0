package http

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteResponseWithBody(t *testing.T) {
	var buf bytes.Buffer
	resp := NewResponse().WithString("Found!").WithHeader("X-Trace", "abc")

	require.NoError(t, WriteResponse(&buf, "HTTP/1.1", resp))

	want := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/plain\r\n" +
		"X-Trace: abc\r\n" +
		"Content-Length: 6\r\n" +
		"\r\n" +
		"Found!"
	assert.Equal(t, want, buf.String())
}

func TestWriteResponseNoBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, "HTTP/1.0", NotFoundResponse()))
	assert.Equal(t, "HTTP/1.0 404 Not Found\r\n\r\n", buf.String())
}

func TestWriteResponseEmptyBodyHasLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, "", NewResponse().WithBytes(nil, ContentTypeText)))
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 0\r\n\r\n", buf.String())
}

func TestWriteResponseRejectsInvalidHeader(t *testing.T) {
	var buf bytes.Buffer
	resp := NewResponse().WithHeader("X-Bad", "line\r\nbreak")
	assert.ErrorIs(t, WriteResponse(&buf, "HTTP/1.1", resp), ErrInvalidResponseHeader)
}

func TestWriteResponseRejectsContentLengthInHeaderMap(t *testing.T) {
	for _, key := range []string{"Content-Length", "content-length"} {
		var buf bytes.Buffer
		resp := NewResponse().WithString("hello")
		resp.Header[key] = "999"

		err := WriteResponse(&buf, "HTTP/1.1", resp)
		assert.ErrorIs(t, err, ErrReservedHeader, key)
		assert.Empty(t, buf.String(), key)
	}
}

func TestResponseRejectsContentLength(t *testing.T) {
	for _, key := range []string{"Content-Length", "content-length"} {
		assert.PanicsWithError(t, "header is computed by the server: "+key, func() {
			NewResponse().WithHeader(key, "10")
		})
	}
}

func TestStatusReason(t *testing.T) {
	assert.Equal(t, "OK", StatusOK.Reason())
	assert.Equal(t, "Not Found", StatusNotFound.Reason())
	assert.Equal(t, "Unknown", StatusCode(799).Reason())
}
