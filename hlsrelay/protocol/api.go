// Package protocol defines the JSON API between the hlsrelay daemon and its
// CLI client. Every response is wrapped in the same envelope so clients can
// check ok before touching data.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Error codes carried in the envelope.
const (
	ErrCodeInternal   = "internal_error"
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
)

// Response is the envelope for every daemon reply.
type Response struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail describes a failed request. Hint, when present, suggests what
// the user can do about it.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// SuccessResponse wraps data in a successful envelope.
func SuccessResponse(data any) (*Response, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling response data: %w", err)
	}
	return &Response{OK: true, Data: raw}, nil
}

// ErrorResponse builds a failed envelope.
func ErrorResponse(code, message, hint string) *Response {
	return &Response{
		OK: false,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
			Hint:    hint,
		},
	}
}

// DecodeData unmarshals the envelope payload into v. A failed envelope
// returns the server's error instead.
func (r *Response) DecodeData(v any) error {
	if !r.OK {
		if r.Error != nil {
			return fmt.Errorf("%s: %s", r.Error.Code, r.Error.Message)
		}
		return fmt.Errorf("request failed without error detail")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}

// =============================================================================
// Service
// =============================================================================

// HealthResponse is the reply to GET /health.
type HealthResponse struct {
	Version   string            `json:"version"`
	StartedAt string            `json:"started_at"`
	PID       int               `json:"pid"`
	RelayAddr string            `json:"relay_addr"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// StopResponse is the reply to POST /srv/stop.
type StopResponse struct {
	Message string `json:"message"`
}

// =============================================================================
// Playback URLs and Sessions
// =============================================================================

// URLCreateRequest registers a playback target with headers to inject.
type URLCreateRequest struct {
	Target  string            `json:"target"`
	Headers map[string]string `json:"headers,omitempty"`
}

// URLCreateResponse carries the local URL a player can open.
type URLCreateResponse struct {
	SessionID string `json:"session_id"`
	Target    string `json:"target"`
	PlayURL   string `json:"play_url"`
	ExpiresIn string `json:"expires_in"`
}

// SessionEntry is one active session in a listing. Header values are
// withheld; they routinely hold credentials.
type SessionEntry struct {
	ID          string   `json:"id"`
	Target      string   `json:"target"`
	HeaderNames []string `json:"header_names,omitempty"`
	CreatedAt   string   `json:"created_at"`
	LastAccess  string   `json:"last_access"`
	PlayURL     string   `json:"play_url"`
}

// SessionListResponse is the reply to POST /session/list.
type SessionListResponse struct {
	Sessions []SessionEntry `json:"sessions"`
}

// SessionDeleteRequest names the session to drop.
type SessionDeleteRequest struct {
	SessionID string `json:"session_id"`
}

// SessionDeleteResponse is the reply to POST /session/delete.
type SessionDeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// =============================================================================
// Exchange History
// =============================================================================

// HistoryListRequest filters the recorded exchanges.
type HistoryListRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// FlowEntry summarizes one recorded exchange.
type FlowEntry struct {
	FlowID     string `json:"flow_id"`
	SessionID  string `json:"session_id"`
	Method     string `json:"method"`
	Target     string `json:"target"`
	Status     int    `json:"status"`
	Playlist   bool   `json:"playlist"`
	ReceivedAt string `json:"received_at"`
	DurationMS int64  `json:"duration_ms"`
	BodySize   int    `json:"body_size"`
	Truncated  bool   `json:"truncated,omitempty"`
	Error      string `json:"error,omitempty"`
}

// HistoryListResponse is the reply to POST /history/list, newest first.
type HistoryListResponse struct {
	Flows []FlowEntry `json:"flows"`
}

// HistoryGetRequest fetches one recorded exchange.
type HistoryGetRequest struct {
	FlowID string `json:"flow_id"`
	// Original selects the playlist body as the upstream sent it, before
	// URI rewriting.
	Original    bool `json:"original,omitempty"`
	IncludeBody bool `json:"include_body,omitempty"`
}

// HistoryGetResponse is the reply to POST /history/get.
type HistoryGetResponse struct {
	Flow            FlowEntry         `json:"flow"`
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	Body            []byte            `json:"body,omitempty"`
}

// HistoryDiffRequest compares two recorded exchanges.
type HistoryDiffRequest struct {
	FlowA    string `json:"flow_a"`
	FlowB    string `json:"flow_b"`
	Scope    string `json:"scope,omitempty"` // headers, body, or all
	MaxLines int    `json:"max_lines,omitempty"`
}

// HistoryDiffResponse is the reply to POST /history/diff.
type HistoryDiffResponse struct {
	FlowA     string `json:"flow_a"`
	FlowB     string `json:"flow_b"`
	Identical bool   `json:"identical"`
	Diff      string `json:"diff,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}
