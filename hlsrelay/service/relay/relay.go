// Package relay implements a loopback HTTP proxy that injects per-session
// headers into upstream requests and rewrites HLS playlists so every URI in
// them routes back through the proxy. Local players point at a proxy URL and
// stream as if they held the session's cookies and tokens themselves.
package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"
)

const (
	DefaultReadTimeout = 30 * time.Second
	DefaultReadyWait   = 250 * time.Millisecond
)

// ErrClosed is returned by operations on a relay after Close.
var ErrClosed = errors.New("relay closed")

// Config carries the relay knobs. Zero values fall back to the defaults;
// a nil Recorder disables exchange history.
type Config struct {
	MaxSessions    int
	SessionTTL     time.Duration
	MaxHeaderBytes int
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	ReadTimeout    time.Duration
	Recorder       Recorder
}

// Flow describes one authorized, completed exchange. RequestHeaders are the
// headers actually sent upstream after the merge; a failed fetch carries
// Error and status 502.
type Flow struct {
	SessionID       string
	Method          string
	Target          string
	Status          int
	Playlist        bool
	ReceivedAt      time.Time
	Duration        time.Duration
	RequestHeaders  map[string]string
	UpstreamHeaders map[string]string
	Body            []byte
	OriginalBody    []byte
	Error           string
}

// Recorder receives a copy of every authorized exchange. Record is called on
// the connection goroutine and must not block.
type Recorder interface {
	Record(flow Flow)
}

// Relay is the loopback proxy. One instance owns a session store, an
// upstream client, a process secret, and (after Start) a listener on an
// OS-assigned port.
type Relay struct {
	cfg    Config
	store  *Store
	client *http.Client
	secret string

	ready chan struct{}
	done  chan struct{}

	mu       sync.Mutex
	listener net.Listener
	port     int
	closed   bool

	wg sync.WaitGroup
}

func New(cfg Config) *Relay {
	if cfg.MaxHeaderBytes <= 0 {
		cfg.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	return &Relay{
		cfg:    cfg,
		store:  NewStore(cfg.MaxSessions, cfg.SessionTTL),
		client: newUpstreamClient(cfg.ConnectTimeout, cfg.RequestTimeout),
		secret: newSecret(),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func newSecret() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(fmt.Sprintf("generating relay secret: %v", err))
	}
	return hex.EncodeToString(buf)
}

// Sessions exposes the session store for registration and listing.
func (r *Relay) Sessions() *Store {
	return r.store
}

// Secret returns the process secret carried by every proxy URL.
func (r *Relay) Secret() string {
	return r.secret
}

// Start binds 127.0.0.1 on an OS-assigned port, signals readiness, and
// begins accepting in the background. Calling Start on a relay that is
// already listening is a no-op. Cancelling ctx closes the relay.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.listener != nil {
		r.mu.Unlock()
		return nil
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("binding loopback listener: %w", err)
	}
	r.listener = ln
	r.port = ln.Addr().(*net.TCPAddr).Port
	r.mu.Unlock()

	close(r.ready)

	r.wg.Add(1)
	go r.acceptLoop(ln)

	go func() {
		select {
		case <-ctx.Done():
			r.Close()
		case <-r.done:
		}
	}()

	log.Printf("relay: listening on %s", ln.Addr())
	return nil
}

// WaitReady blocks until the listener is bound. The port is handed over on a
// channel, never discovered by polling; the wait is bounded so a relay that
// was never started fails fast.
func (r *Relay) WaitReady(ctx context.Context) error {
	timer := time.NewTimer(DefaultReadyWait)
	defer timer.Stop()
	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("relay not ready")
	}
}

// Port returns the bound port. Valid after WaitReady.
func (r *Relay) Port() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.port
}

// Addr returns the bound loopback address. Valid after WaitReady.
func (r *Relay) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", r.Port())
}

// ProxyURL returns the playback URL for a session: the session's own target
// fetched through the relay.
func (r *Relay) ProxyURL(sess *Session) string {
	return r.proxyTargetURL(sess.ID, sess.Target)
}

func (r *Relay) proxyTargetURL(sessionID, target string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s%s?url=%s&token=%s",
		r.Port(), proxyPathPrefix, sessionID, EncodeTarget(target), r.secret)
}

// Close stops the listener and waits, bounded, for in-flight connections.
// Safe to call more than once and before Start.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ln := r.listener
	r.mu.Unlock()

	close(r.done)
	var err error
	if ln != nil {
		err = ln.Close()
	}

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		log.Printf("relay: timed out waiting for connections to drain")
	}
	return err
}

func (r *Relay) acceptLoop(ln net.Listener) {
	defer r.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-r.done:
				return
			default:
			}
			log.Printf("relay: accept: %v", err)
			continue
		}
		r.wg.Add(1)
		go r.serveConn(conn)
	}
}

// serveConn handles exactly one request and closes. A panic anywhere in the
// handler is answered with a 500 and the relay keeps serving.
func (r *Relay) serveConn(conn net.Conn) {
	defer r.wg.Done()
	defer conn.Close()
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("relay: panic serving %s: %v", conn.RemoteAddr(), rec)
			writeError(conn, http.StatusInternalServerError, "internal error")
		}
	}()

	if err := conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout)); err != nil {
		return
	}

	req, herr := readRequest(conn, r.cfg.MaxHeaderBytes)
	if herr != nil {
		// Status zero means a read deadline fired; answering a half-dead
		// connection is pointless.
		if herr.status != 0 {
			writeError(conn, herr.status, herr.message)
		}
		return
	}
	r.handle(conn, req)
}

func (r *Relay) handle(conn net.Conn, req *request) {
	rt, herr := r.route(req)
	if herr != nil {
		writeError(conn, herr.status, herr.message)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := r.forward(ctx, req, rt.target, rt.session)
	if err != nil {
		log.Printf("relay: %s %s: %v", req.method, rt.target, err)
		r.record(start, req, rt, nil, nil, err)
		writeError(conn, http.StatusBadGateway, "upstream fetch failed")
		return
	}

	// A body still carrying a Content-Encoding the relay could not undo is
	// opaque bytes; rewriting it would corrupt it, so it passes through.
	var originalBody []byte
	if targetURL, perr := url.Parse(rt.target); perr == nil && !resp.encoded &&
		isPlaylist(resp.headers.Get("Content-Type"), resp.body) {
		originalBody = resp.body
		resp.body = r.rewritePlaylist(resp.body, targetURL, rt.session)
		resp.headers.Set("Content-Type", PlaylistContentType)
	}

	r.record(start, req, rt, resp, originalBody, nil)
	if err := writeResponse(conn, resp.status, resp.headers, resp.body, req.method == http.MethodHead); err != nil {
		log.Printf("relay: writing response for %s: %v", rt.target, err)
	}
}

func (r *Relay) record(start time.Time, req *request, rt *routed, resp *upstreamResponse, originalBody []byte, ferr error) {
	if r.cfg.Recorder == nil {
		return
	}
	flow := Flow{
		SessionID:  rt.session.ID,
		Method:     req.method,
		Target:     rt.target,
		ReceivedAt: start,
		Duration:   time.Since(start),
	}
	if resp != nil {
		flow.Status = resp.status
		flow.RequestHeaders = resp.sent
		flow.UpstreamHeaders = resp.headers.Map()
		flow.Body = resp.body
		flow.OriginalBody = originalBody
		flow.Playlist = originalBody != nil
	}
	if ferr != nil {
		flow.Status = http.StatusBadGateway
		flow.Error = ferr.Error()
	}
	r.cfg.Recorder.Record(flow)
}

// IsTimeoutError reports whether err is a deadline or timeout failure from
// the network stack or a context.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
