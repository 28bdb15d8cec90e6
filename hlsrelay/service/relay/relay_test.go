package relay

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureRecorder struct {
	mu    sync.Mutex
	flows []Flow
}

func (c *captureRecorder) Record(flow Flow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flows = append(c.flows, flow)
}

func (c *captureRecorder) all() []Flow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Flow(nil), c.flows...)
}

// upstreamFixture is a fake CDN serving a master playlist, a media playlist
// and one segment, recording the headers of every request it sees.
type upstreamFixture struct {
	server  *httptest.Server
	segment []byte

	mu    sync.Mutex
	seen  map[string]http.Header
	hosts map[string]string
}

func newUpstreamFixture(t *testing.T) *upstreamFixture {
	t.Helper()

	f := &upstreamFixture{
		segment: bytes.Repeat([]byte{0x47, 0x11, 0xa0}, 188),
		seen:    make(map[string]http.Header),
		hosts:   make(map[string]string),
	}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		f.seen[req.URL.Path] = req.Header.Clone()
		f.hosts[req.URL.Path] = req.Host
		f.mu.Unlock()

		switch req.URL.Path {
		case "/live/master.m3u8":
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			fmt.Fprint(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=1280x720\nchunks/hd.m3u8\n")
		case "/live/chunks/hd.m3u8":
			// Wrong content type on purpose; detection falls back to the
			// body magic.
			w.Header().Set("Content-Type", "application/octet-stream")
			fmt.Fprint(w, "#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXTINF:6.000,\nseg0.ts\n#EXT-X-ENDLIST\n")
		case "/live/chunks/seg0.ts":
			w.Header().Set("Content-Type", "video/mp2t")
			_, _ = w.Write(f.segment)
		default:
			http.NotFound(w, req)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *upstreamFixture) headersFor(path string) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[path]
}

func startTestRelay(t *testing.T, cfg Config) *Relay {
	t.Helper()

	r := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, r.Start(ctx))
	t.Cleanup(func() { _ = r.Close() })
	require.NoError(t, r.WaitReady(ctx))
	return r
}

func TestRelay_EndToEnd(t *testing.T) {
	t.Parallel()

	upstream := newUpstreamFixture(t)
	rec := &captureRecorder{}
	r := startTestRelay(t, Config{Recorder: rec})

	sess := r.Sessions().Create(upstream.server.URL+"/live/master.m3u8", map[string]string{
		"User-Agent": "CustomPlayer/2.1",
		"Referer":    "https://portal.example.com/watch",
		"X-Auth":     "tok-123",
	})

	// Master playlist through the relay.
	resp, err := http.Get(r.ProxyURL(sess))
	require.NoError(t, err)
	master, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, PlaylistContentType, resp.Header.Get("Content-Type"))
	assert.Equal(t, "close", resp.Header.Get("Connection"))

	h := upstream.headersFor("/live/master.m3u8")
	require.NotNil(t, h)
	assert.Equal(t, "CustomPlayer/2.1", h.Get("User-Agent"))
	assert.Equal(t, "https://portal.example.com/watch", h.Get("Referer"))
	assert.Equal(t, "tok-123", h.Get("X-Auth"))

	// Every URI line now points back at the relay.
	var variantURL string
	for _, line := range strings.Split(string(master), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		variantURL = line
	}
	require.NotEmpty(t, variantURL)
	prefix := fmt.Sprintf("http://127.0.0.1:%d/proxy/%s?", r.Port(), sess.ID)
	assert.True(t, strings.HasPrefix(variantURL, prefix), variantURL)

	// Media playlist, detected by body magic despite the wrong type.
	resp, err = http.Get(variantURL)
	require.NoError(t, err)
	media, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, PlaylistContentType, resp.Header.Get("Content-Type"))
	assert.Equal(t, "tok-123", upstream.headersFor("/live/chunks/hd.m3u8").Get("X-Auth"))

	var segmentURL string
	for _, line := range strings.Split(string(media), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		segmentURL = line
	}
	require.NotEmpty(t, segmentURL)

	// Segment bytes come through unmodified.
	resp, err = http.Get(segmentURL)
	require.NoError(t, err)
	segment, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, upstream.segment, segment)
	assert.Equal(t, "video/mp2t", resp.Header.Get("Content-Type"))
	assert.Equal(t, "tok-123", upstream.headersFor("/live/chunks/seg0.ts").Get("X-Auth"))

	// Recorder saw all three exchanges.
	flows := rec.all()
	require.Len(t, flows, 3)
	assert.Equal(t, sess.ID, flows[0].SessionID)
	assert.True(t, flows[0].Playlist)
	assert.False(t, flows[2].Playlist)
	assert.Equal(t, http.StatusOK, flows[2].Status)
	assert.Equal(t, "tok-123", flows[0].RequestHeaders["X-Auth"])
	assert.NotEmpty(t, flows[0].OriginalBody)
}

func TestRelay_EncodedPlaylistPassesThrough(t *testing.T) {
	t.Parallel()

	// Bytes the relay cannot decode, with a printable URI-shaped run that a
	// line-based rewrite would mangle.
	opaque := append([]byte{0x1b, 0x02, 0x81}, []byte("\nchunks/hd.m3u8\n")...)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("Content-Encoding", "br")
		_, _ = w.Write(opaque)
	}))
	t.Cleanup(upstream.Close)

	r := startTestRelay(t, Config{})
	sess := r.Sessions().Create(upstream.URL+"/live/master.m3u8", nil)

	resp, err := http.Get(r.ProxyURL(sess))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, opaque, body, "undecodable body must pass through byte for byte")
	assert.Equal(t, "br", resp.Header.Get("Content-Encoding"))
}

func TestRelay_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	upstream := newUpstreamFixture(t)
	r := startTestRelay(t, Config{})
	sess := r.Sessions().Create(upstream.server.URL+"/live/master.m3u8", nil)

	resp, err := http.Post(r.ProxyURL(sess), "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "close", resp.Header.Get("Connection"))
}

func TestRelay_HeadRequest(t *testing.T) {
	t.Parallel()

	upstream := newUpstreamFixture(t)
	r := startTestRelay(t, Config{})
	sess := r.Sessions().Create(upstream.server.URL+"/live/master.m3u8", nil)

	req, err := http.NewRequest(http.MethodHead, r.ProxyURL(sess), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
}

func TestRelay_AuthorizationOrder(t *testing.T) {
	t.Parallel()

	r := startTestRelay(t, Config{})
	urlParam := EncodeTarget("https://example.com/a.m3u8")

	// Wrong secret, unknown session: the secret answers first.
	resp, err := http.Get(fmt.Sprintf("http://%s/proxy/no-such?url=%s&token=wrong", r.Addr(), urlParam))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Right secret, unknown session.
	resp, err = http.Get(fmt.Sprintf("http://%s/proxy/no-such?url=%s&token=%s", r.Addr(), urlParam, r.Secret()))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRelay_OversizedHead(t *testing.T) {
	t.Parallel()

	r := startTestRelay(t, Config{})

	conn, err := net.Dial("tcp", r.Addr())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	head := "GET / HTTP/1.1\r\nX-Pad: " + strings.Repeat("a", DefaultMaxHeaderBytes+512)
	_, err = conn.Write([]byte(head))
	require.NoError(t, err)

	status, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, status, "431")
}

func TestRelay_UpstreamDown(t *testing.T) {
	t.Parallel()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))
	target := dead.URL + "/gone.m3u8"
	dead.Close()

	r := startTestRelay(t, Config{})
	sess := r.Sessions().Create(target, nil)

	resp, err := http.Get(r.ProxyURL(sess))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestRelay_WaitReady(t *testing.T) {
	t.Parallel()

	// Never started: the bounded wait trips instead of hanging.
	r := New(Config{})
	err := r.WaitReady(context.Background())
	require.Error(t, err)

	// Cancelled context wins over the timer.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = r.WaitReady(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRelay_StartIdempotent(t *testing.T) {
	t.Parallel()

	upstream := newUpstreamFixture(t)
	r := startTestRelay(t, Config{})
	port := r.Port()

	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, port, r.Port())

	// Still serving on the original listener.
	sess := r.Sessions().Create(upstream.server.URL+"/live/chunks/seg0.ts", nil)
	resp, err := http.Get(r.ProxyURL(sess))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRelay_CloseIdempotent(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.WaitReady(context.Background()))

	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())
	assert.ErrorIs(t, r.Start(context.Background()), ErrClosed)
}

func TestRelay_ContextCancelStops(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.WaitReady(ctx))
	addr := r.Addr()

	cancel()
	assert.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return true
		}
		_ = conn.Close()
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRelay_SecretShape(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	assert.Len(t, r.Secret(), 32)
	assert.NotEqual(t, r.Secret(), New(Config{}).Secret())
}
