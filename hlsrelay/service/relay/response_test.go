package relay

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderList_SetReplacesCaseInsensitive(t *testing.T) {
	t.Parallel()

	h := &headerList{}
	h.Set("Content-Type", "text/html")
	h.Set("X-One", "1")
	h.Set("content-type", "video/mp2t")

	assert.Equal(t, "video/mp2t", h.Get("CONTENT-TYPE"))
	require.Len(t, h.fields, 2)
	// Replacement keeps the slot but takes the new spelling.
	assert.Equal(t, "content-type", h.fields[0].name)

	h.Del("x-one")
	assert.Empty(t, h.Get("X-One"))
	assert.Len(t, h.fields, 1)
}

func TestWriteResponse_Format(t *testing.T) {
	t.Parallel()

	headers := &headerList{}
	headers.Set("Content-Type", "video/mp2t")
	headers.Set("X-Upstream", "edge-7")

	var buf bytes.Buffer
	err := writeResponse(&buf, http.StatusOK, headers, []byte("hello"), false)
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, out, "Content-Type: video/mp2t\r\n")
	assert.Contains(t, out, "X-Upstream: edge-7\r\n")
	assert.Contains(t, out, "Content-Length: 5\r\n")
	assert.Contains(t, out, "Connection: close\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\nhello"))
}

func TestWriteResponse_OwnsFramingHeaders(t *testing.T) {
	t.Parallel()

	headers := &headerList{}
	headers.Set("Content-Length", "999")
	headers.Set("Connection", "keep-alive")
	headers.Set("Proxy-Connection", "keep-alive")
	headers.Set("Transfer-Encoding", "chunked")

	var buf bytes.Buffer
	require.NoError(t, writeResponse(&buf, http.StatusOK, headers, []byte("abc"), false))

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "Content-Length:"))
	assert.Contains(t, out, "Content-Length: 3\r\n")
	assert.Contains(t, out, "Connection: close\r\n")
	assert.NotContains(t, out, "Proxy-Connection:")
	assert.NotContains(t, out, "keep-alive")
	assert.NotContains(t, out, "chunked")
}

func TestWriteResponse_HeadOmitsBody(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeResponse(&buf, http.StatusOK, &headerList{}, []byte("hello"), true))

	out := buf.String()
	assert.Contains(t, out, "Content-Length: 5\r\n", "length should reflect the body a GET would carry")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\n"))
}

func TestWriteResponse_NotModifiedOmitsBody(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeResponse(&buf, http.StatusNotModified, &headerList{}, []byte("stale"), false))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 304 Not Modified\r\n"))
	assert.True(t, strings.HasSuffix(out, "\r\n\r\n"))
}

func TestReasonPhrase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code int
		want string
	}{
		{200, "OK"},
		{403, "Forbidden"},
		{431, "Request Header Fields Too Large"},
		{502, "Bad Gateway"},
		{418, "OK"},
		{599, "OK"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, reasonPhrase(tt.code), "code %d", tt.code)
	}
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeError(&buf, http.StatusNotFound, "unknown session"))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 404 Not Found\r\n"))
	assert.Contains(t, out, "Content-Type: text/plain; charset=utf-8\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\nunknown session\n"))
}

func TestWriteError_DefaultMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeError(&buf, http.StatusForbidden, ""))
	assert.True(t, strings.HasSuffix(buf.String(), "Forbidden\n"))
}
