package relay

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultRequestTimeout = 15 * time.Second
)

// hopByHopNames are client headers that describe the loopback connection, not
// the upstream one. They never forward.
var hopByHopNames = []string{"Host", "Connection", "Proxy-Connection"}

func isHopByHop(name string) bool {
	for _, h := range hopByHopNames {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

type upstreamResponse struct {
	status  int
	headers *headerList
	body    []byte

	// encoded is true when body still carries a Content-Encoding the relay
	// could not undo; such bodies must pass through untouched.
	encoded bool

	// sent holds the headers actually written to the upstream, for the
	// exchange history.
	sent map[string]string
}

// newUpstreamClient builds the shared outbound client. Redirects are not
// followed here: the player receives the 3xx and follows it through the
// relay itself. Compression is negotiated manually so the forwarded body
// length can be recomputed after decompression.
func newUpstreamClient(connectTimeout, requestTimeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			Proxy: nil,
			DialContext: (&net.Dialer{
				Timeout: connectTimeout,
			}).DialContext,
			DisableCompression: true,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// mergeUpstreamHeaders combines the loopback client's headers with the
// session's injected ones. Hop-by-hop names are dropped, session values
// overwrite client values case-insensitively, and the winning spelling is
// assigned into the header map directly so it reaches the wire unchanged.
// A session Host header is returned separately; it belongs on req.Host.
func mergeUpstreamHeaders(clientFields []headerField, session map[string]string) (http.Header, string) {
	type slot struct {
		name  string
		value string
	}
	slots := make(map[string]slot, len(clientFields)+len(session))
	for _, f := range clientFields {
		if isHopByHop(f.name) {
			continue
		}
		slots[strings.ToLower(f.name)] = slot{name: f.name, value: f.value}
	}

	host := ""
	for name, value := range session {
		if strings.EqualFold(name, "Host") {
			host = value
			continue
		}
		slots[strings.ToLower(name)] = slot{name: name, value: value}
	}

	h := make(http.Header, len(slots))
	for _, s := range slots {
		h[s.name] = []string{s.value}
	}
	return h, host
}

// forward performs the upstream fetch for an authorized request. Any error
// here maps to a 502; a completed upstream response of any status is a
// success from the relay's point of view.
func (r *Relay) forward(ctx context.Context, req *request, target string, sess *Session) (*upstreamResponse, error) {
	out, err := http.NewRequestWithContext(ctx, req.method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	headers, host := mergeUpstreamHeaders(req.fields, sess.Headers)
	out.Header = headers
	if host != "" {
		out.Host = host
	}

	sent := make(map[string]string, len(headers)+1)
	for name, values := range headers {
		if len(values) > 0 {
			sent[name] = values[0]
		}
	}
	if host != "" {
		sent["Host"] = host
	}

	resp, err := r.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("upstream fetch: %w", err)
	}
	defer resp.Body.Close()

	body, keepEncoding, err := readUpstreamBody(resp)
	if err != nil {
		return nil, fmt.Errorf("reading upstream body: %w", err)
	}

	headersOut := &headerList{}
	names := make([]string, 0, len(resp.Header))
	for name := range resp.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		switch {
		case strings.EqualFold(name, "Content-Length"),
			strings.EqualFold(name, "Connection"),
			strings.EqualFold(name, "Proxy-Connection"),
			strings.EqualFold(name, "Transfer-Encoding"):
			continue
		case strings.EqualFold(name, "Content-Encoding") && !keepEncoding:
			continue
		}
		headersOut.Set(name, resp.Header.Get(name))
	}

	return &upstreamResponse{
		status:  resp.StatusCode,
		headers: headersOut,
		body:    body,
		encoded: keepEncoding,
		sent:    sent,
	}, nil
}

// readUpstreamBody reads the full response body and transparently undoes
// gzip and deflate content encodings. The second result reports whether the
// Content-Encoding header still describes the returned bytes: true for
// unknown encodings and for payloads that fail to decode, which pass
// through untouched for the player to deal with.
func readUpstreamBody(resp *http.Response) ([]byte, bool, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return raw, false, nil
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return raw, true, nil
		}
		defer zr.Close()
		plain, err := io.ReadAll(zr)
		if err != nil {
			return raw, true, nil
		}
		return plain, false, nil
	case "deflate":
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		plain, err := io.ReadAll(fr)
		if err != nil {
			return raw, true, nil
		}
		return plain, false, nil
	default:
		return raw, true, nil
	}
}
