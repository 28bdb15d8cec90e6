package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/go-stream/relaykit/hlsrelay/protocol"
)

const (
	// DefaultClientTimeout bounds a single control request.
	DefaultClientTimeout = 30 * time.Second

	// startupWait bounds how long EnsureService waits for a freshly
	// spawned daemon to answer health checks.
	startupWait  = 5 * time.Second
	startupProbe = 100 * time.Millisecond
)

// Client talks to the daemon over its unix socket.
type Client struct {
	paths      ServicePaths
	httpClient *http.Client
	timeout    time.Duration
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// NewClient builds a client for the daemon rooted at workDir.
func NewClient(workDir string, opts ...ClientOption) *Client {
	c := &Client{
		paths:   NewServicePaths(workDir),
		timeout: DefaultClientTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	dialer := &net.Dialer{}
	c.httpClient = &http.Client{
		Timeout: c.timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.DialContext(ctx, "unix", c.paths.SocketPath)
			},
		},
	}
	return c
}

// LogPath returns the daemon log file, for pointing users at diagnostics.
func (c *Client) LogPath() string {
	return c.paths.LogPath
}

// CheckHealth reports whether the daemon answers on its socket.
func (c *Client) CheckHealth(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Health fetches the daemon health report.
func (c *Client) Health(ctx context.Context) (*protocol.HealthResponse, error) {
	var out protocol.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stop asks the daemon to shut down.
func (c *Client) Stop(ctx context.Context) (*protocol.StopResponse, error) {
	var out protocol.StopResponse
	if err := c.do(ctx, http.MethodPost, "/srv/stop", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// URLCreate registers a playback session and returns its proxy URL.
func (c *Client) URLCreate(ctx context.Context, req *protocol.URLCreateRequest) (*protocol.URLCreateResponse, error) {
	var out protocol.URLCreateResponse
	if err := c.do(ctx, http.MethodPost, "/url/create", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SessionList returns the active playback sessions.
func (c *Client) SessionList(ctx context.Context) (*protocol.SessionListResponse, error) {
	var out protocol.SessionListResponse
	if err := c.do(ctx, http.MethodPost, "/session/list", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SessionDelete drops a playback session.
func (c *Client) SessionDelete(ctx context.Context, req *protocol.SessionDeleteRequest) (*protocol.SessionDeleteResponse, error) {
	var out protocol.SessionDeleteResponse
	if err := c.do(ctx, http.MethodPost, "/session/delete", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HistoryList returns recorded exchanges, newest first.
func (c *Client) HistoryList(ctx context.Context, req *protocol.HistoryListRequest) (*protocol.HistoryListResponse, error) {
	var out protocol.HistoryListResponse
	if err := c.do(ctx, http.MethodPost, "/history/list", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HistoryGet fetches one recorded exchange.
func (c *Client) HistoryGet(ctx context.Context, req *protocol.HistoryGetRequest) (*protocol.HistoryGetResponse, error) {
	var out protocol.HistoryGetResponse
	if err := c.do(ctx, http.MethodPost, "/history/get", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HistoryDiff compares recorded exchanges.
func (c *Client) HistoryDiff(ctx context.Context, req *protocol.HistoryDiffRequest) (*protocol.HistoryDiffResponse, error) {
	var out protocol.HistoryDiffResponse
	if err := c.do(ctx, http.MethodPost, "/history/diff", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnsureService starts the daemon when it is not already answering health
// checks, then waits for it to come up.
func (c *Client) EnsureService(ctx context.Context) error {
	if err := c.CheckHealth(ctx); err == nil {
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable: %w", err)
	}
	if err := os.MkdirAll(c.paths.ServiceDir, 0755); err != nil {
		return fmt.Errorf("failed to create service directory: %w", err)
	}

	// Panics and pre-logging failures land in the log file; once up, the
	// daemon rotates the same file itself.
	logFile, err := os.OpenFile(c.paths.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	cmd := exec.Command(exe, "serve", "--daemon", "--dir", c.paths.WorkDir)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// New session so the daemon survives the spawning terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	go func() { _ = cmd.Wait() }()

	return c.waitHealthy(ctx)
}

func (c *Client) waitHealthy(ctx context.Context) error {
	deadline := time.Now().Add(startupWait)
	for {
		probeCtx, cancel := context.WithTimeout(ctx, time.Second)
		err := c.CheckHealth(probeCtx)
		cancel()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("service did not become healthy: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(startupProbe):
		}
	}
}

// do sends one control request and decodes the envelope into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	// The host is ignored; the transport always dials the unix socket.
	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope protocol.Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !envelope.OK {
		if envelope.Error != nil {
			if envelope.Error.Hint != "" {
				return fmt.Errorf("%s (%s)", envelope.Error.Message, envelope.Error.Hint)
			}
			return errors.New(envelope.Error.Message)
		}
		return fmt.Errorf("service error: status %d", resp.StatusCode)
	}
	if out != nil {
		return envelope.DecodeData(out)
	}
	return nil
}
