package relay

import (
	"bytes"
	"io"
	"net/http"
	"strings"
)

const (
	// DefaultMaxHeaderBytes caps how much of a request head is buffered
	// before the relay answers 431. Player requests are far below this.
	DefaultMaxHeaderBytes = 64 * 1024

	headTerminator = "\r\n\r\n"
)

// request is a parsed HTTP/1 request head. The relay never reads bodies;
// the only accepted methods carry none.
type request struct {
	method string
	target string // request target as sent, origin-form for valid requests
	proto  string
	fields []headerField
}

type headerField struct {
	name  string // spelling preserved as sent
	value string
}

// header returns the value for name, matching case-insensitively.
func (r *request) header(name string) (string, bool) {
	for _, f := range r.fields {
		if strings.EqualFold(f.name, name) {
			return f.value, true
		}
	}
	return "", false
}

// readRequest accumulates bytes from conn until the blank line ending the
// head, then parses it. maxHeader bounds accumulation; crossing it maps to
// 431, while EOF or a read error before the terminator maps to 400. Read
// deadline expiry surfaces as a timeout error so the caller can drop the
// connection without answering.
func readRequest(conn io.Reader, maxHeader int) (*request, *httpError) {
	if maxHeader <= 0 {
		maxHeader = DefaultMaxHeaderBytes
	}

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 2048)
	for {
		if idx := bytes.Index(buf, []byte(headTerminator)); idx >= 0 {
			return parseRequestHead(buf[:idx])
		}
		if len(buf) >= maxHeader {
			return nil, &httpError{
				status:  http.StatusRequestHeaderFieldsTooLarge,
				message: "request header section too large",
			}
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			continue
		}
		if err != nil {
			if IsTimeoutError(err) {
				// Slow client. Close without a response.
				return nil, &httpError{status: 0, message: "read timeout"}
			}
			return nil, &httpError{
				status:  http.StatusBadRequest,
				message: "incomplete request head",
			}
		}
	}
}

// parseRequestHead parses a request head without its terminating blank line.
// Lines split on LF with an optional trailing CR, tolerating clients that
// send bare-LF endings inside an otherwise CRLF-framed head. Header lines
// without a colon are ignored; duplicate names keep the last value.
func parseRequestHead(head []byte) (*request, *httpError) {
	lines := strings.Split(string(head), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}

	// Method and target are required; the version token is not. Players on
	// odd embedded stacks have been seen omitting it.
	tokens := strings.Split(lines[0], " ")
	if len(tokens) < 2 || len(tokens) > 3 || tokens[0] == "" || tokens[1] == "" {
		return nil, &httpError{status: http.StatusBadRequest, message: "malformed request line"}
	}
	req := &request{
		method: tokens[0],
		target: tokens[1],
	}
	if len(tokens) == 3 {
		if tokens[2] == "" {
			return nil, &httpError{status: http.StatusBadRequest, message: "malformed request line"}
		}
		req.proto = tokens[2]
	}

	index := make(map[string]int)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		colon := strings.Index(line, ":")
		if colon <= 0 {
			continue
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if at, ok := index[key]; ok {
			// Last occurrence wins, including its spelling.
			req.fields[at] = headerField{name: name, value: value}
			continue
		}
		index[key] = len(req.fields)
		req.fields = append(req.fields, headerField{name: name, value: value})
	}
	return req, nil
}
