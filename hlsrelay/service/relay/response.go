package relay

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// statusText covers the codes the relay emits itself plus the upstream codes
// HLS playback commonly passes through. Anything else renders as "OK"; the
// player only acts on the numeric code.
var statusText = map[int]string{
	http.StatusOK:                          "OK",
	http.StatusNoContent:                   "No Content",
	http.StatusPartialContent:              "Partial Content",
	http.StatusMovedPermanently:            "Moved Permanently",
	http.StatusFound:                       "Found",
	http.StatusNotModified:                 "Not Modified",
	http.StatusBadRequest:                  "Bad Request",
	http.StatusForbidden:                   "Forbidden",
	http.StatusNotFound:                    "Not Found",
	http.StatusMethodNotAllowed:            "Method Not Allowed",
	http.StatusRequestHeaderFieldsTooLarge: "Request Header Fields Too Large",
	http.StatusInternalServerError:         "Internal Server Error",
	http.StatusBadGateway:                  "Bad Gateway",
}

func reasonPhrase(code int) string {
	if text, ok := statusText[code]; ok {
		return text
	}
	return "OK"
}

// httpError is a request outcome the relay answers with a plain-text error
// response. A zero status means the connection is dropped without answering.
type httpError struct {
	status  int
	message string
}

// headerList is an ordered set of response header fields. Names match
// case-insensitively but keep the spelling they were set with, and fields
// serialize in insertion order.
type headerList struct {
	fields []headerField
}

func (h *headerList) Set(name, value string) {
	for i, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			h.fields[i] = headerField{name: name, value: value}
			return
		}
	}
	h.fields = append(h.fields, headerField{name: name, value: value})
}

func (h *headerList) Del(name string) {
	for i, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			h.fields = append(h.fields[:i], h.fields[i+1:]...)
			return
		}
	}
}

func (h *headerList) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return f.value
		}
	}
	return ""
}

func (h *headerList) Map() map[string]string {
	m := make(map[string]string, len(h.fields))
	for _, f := range h.fields {
		m[f.name] = f.value
	}
	return m
}

// writeResponse serializes one response to the connection. Content-Length is
// always recomputed from body and Connection: close is always appended; the
// relay serves exactly one request per connection. headOnly suppresses the
// body bytes while keeping the Content-Length a GET would have carried.
func writeResponse(w io.Writer, status int, headers *headerList, body []byte, headOnly bool) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", status, reasonPhrase(status))

	if headers != nil {
		for _, f := range headers.fields {
			// Framing and connection-management headers are owned by
			// the writer.
			if strings.EqualFold(f.name, "Content-Length") ||
				strings.EqualFold(f.name, "Connection") ||
				strings.EqualFold(f.name, "Proxy-Connection") ||
				strings.EqualFold(f.name, "Transfer-Encoding") {
				continue
			}
			fmt.Fprintf(&buf, "%s: %s\r\n", f.name, f.value)
		}
	}
	fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(body))
	buf.WriteString("Connection: close\r\n\r\n")

	if !headOnly && status != http.StatusNotModified && status != http.StatusNoContent {
		buf.Write(body)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// writeError answers a rejected request with a short plain-text body.
func writeError(w io.Writer, status int, message string) error {
	if message == "" {
		message = reasonPhrase(status)
	}
	headers := &headerList{}
	headers.Set("Content-Type", "text/plain; charset=utf-8")
	return writeResponse(w, status, headers, []byte(message+"\n"), false)
}
