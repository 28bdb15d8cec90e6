package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-analyze/bulk"

	"github.com/go-stream/relaykit/hlsrelay/protocol"
	"github.com/go-stream/relaykit/hlsrelay/service/ids"
	"github.com/go-stream/relaykit/hlsrelay/service/relay"
)

// defaultHistoryPageSize bounds history/list replies when the request does
// not name a limit.
const defaultHistoryPageSize = 50

// decodeBody decodes a JSON request body into dst. An empty body is allowed:
// several routes take all-optional parameters.
func decodeBody(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// handleURLCreate handles POST /url/create
func (s *Server) handleURLCreate(w http.ResponseWriter, r *http.Request) {
	var req protocol.URLCreateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest,
			"invalid request body: "+err.Error(), "")
		return
	}

	target := strings.TrimSpace(req.Target)
	if target == "" {
		s.writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest,
			"target is required", "")
		return
	} else if !relay.ValidTarget(target) {
		s.writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest,
			fmt.Sprintf("invalid target %q", target),
			"targets must be absolute http or https URLs")
		return
	}

	sess := s.relay.Sessions().Create(target, req.Headers)

	s.writeJSON(w, http.StatusOK, protocol.URLCreateResponse{
		SessionID: sess.ID,
		Target:    sess.Target,
		PlayURL:   s.relay.ProxyURL(sess),
		ExpiresIn: s.relay.Sessions().TTL().String(),
	})
}

// handleSessionList handles POST /session/list
func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	sessions := s.relay.Sessions().Snapshot()

	entries := make([]protocol.SessionEntry, 0, len(sessions))
	for _, sess := range sessions {
		names := bulk.MapKeysSlice(sess.Headers)
		sort.Strings(names)
		entries = append(entries, protocol.SessionEntry{
			ID:          sess.ID,
			Target:      sess.Target,
			HeaderNames: names,
			CreatedAt:   sess.CreatedAt.UTC().Format(time.RFC3339),
			LastAccess:  sess.LastAccess.UTC().Format(time.RFC3339),
			PlayURL:     s.relay.ProxyURL(sess),
		})
	}

	s.writeJSON(w, http.StatusOK, protocol.SessionListResponse{Sessions: entries})
}

// handleSessionDelete handles POST /session/delete
func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	var req protocol.SessionDeleteRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest,
			"invalid request body: "+err.Error(), "")
		return
	}
	if req.SessionID == "" {
		s.writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest,
			"session_id is required", "")
		return
	}

	_, found := s.relay.Sessions().Get(req.SessionID)
	if found {
		s.relay.Sessions().Delete(req.SessionID)
	}

	s.writeJSON(w, http.StatusOK, protocol.SessionDeleteResponse{Deleted: found})
}

// requireHistory resolves the flow log, answering the request itself when
// history is disabled.
func (s *Server) requireHistory(w http.ResponseWriter) *FlowLog {
	if s.flowLog == nil {
		s.writeError(w, http.StatusNotFound, protocol.ErrCodeNotFound,
			"exchange history is disabled",
			"enable history in config.json and restart the service")
		return nil
	}
	return s.flowLog
}

// handleHistoryList handles POST /history/list
func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	fl := s.requireHistory(w)
	if fl == nil {
		return
	}

	var req protocol.HistoryListRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest,
			"invalid request body: "+err.Error(), "")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryPageSize
	}

	recs, err := fl.List(req.SessionID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, protocol.ErrCodeInternal, err.Error(), "")
		return
	}

	entries := make([]protocol.FlowEntry, 0, len(recs))
	for i := range recs {
		entries = append(entries, flowEntry(&recs[i]))
	}

	s.writeJSON(w, http.StatusOK, protocol.HistoryListResponse{Flows: entries})
}

// handleHistoryGet handles POST /history/get
func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	fl := s.requireHistory(w)
	if fl == nil {
		return
	}

	var req protocol.HistoryGetRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest,
			"invalid request body: "+err.Error(), "")
		return
	}

	rec := s.lookupFlow(w, fl, req.FlowID)
	if rec == nil {
		return
	}
	if req.Original && !rec.Playlist {
		s.writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest,
			fmt.Sprintf("flow %s is not a playlist exchange", rec.FlowID),
			"only rewritten playlists retain an original body")
		return
	}

	resp := protocol.HistoryGetResponse{
		Flow:            flowEntry(rec),
		RequestHeaders:  rec.RequestHeaders,
		ResponseHeaders: rec.ResponseHeaders,
	}
	if req.IncludeBody {
		if req.Original {
			resp.Body = rec.OriginalBody
		} else {
			resp.Body = rec.Body
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleHistoryDiff handles POST /history/diff
func (s *Server) handleHistoryDiff(w http.ResponseWriter, r *http.Request) {
	fl := s.requireHistory(w)
	if fl == nil {
		return
	}

	var req protocol.HistoryDiffRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest,
			"invalid request body: "+err.Error(), "")
		return
	}
	scope := req.Scope
	if scope == "" {
		scope = DiffScopeBody
	}
	if scope != DiffScopeBody && scope != DiffScopeHeaders && scope != DiffScopeAll {
		s.writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest,
			fmt.Sprintf("invalid scope %q", req.Scope),
			`scope must be "body", "headers", or "all"`)
		return
	}

	recA := s.lookupFlow(w, fl, req.FlowA)
	if recA == nil {
		return
	}

	var a, b diffSide
	if req.FlowB == "" {
		// Single-flow mode: compare the playlist as the upstream sent it
		// against the rewritten version served to the player.
		if !recA.Playlist {
			s.writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest,
				fmt.Sprintf("flow %s is not a playlist exchange", recA.FlowID),
				"pass flow_b to compare two flows, or pick a playlist flow")
			return
		}
		if scope != DiffScopeBody {
			s.writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest,
				fmt.Sprintf("scope %q requires two flows", scope), "")
			return
		}
		a = diffSide{label: "upstream", body: recA.OriginalBody}
		b = diffSide{label: "rewritten", body: recA.Body}
	} else {
		recB := s.lookupFlow(w, fl, req.FlowB)
		if recB == nil {
			return
		}
		a = diffSide{label: recA.FlowID, headers: recA.ResponseHeaders, body: recA.Body}
		b = diffSide{label: recB.FlowID, headers: recB.ResponseHeaders, body: recB.Body}
	}

	diff, identical, truncated := renderFlowDiff(a, b, scope, req.MaxLines)

	s.writeJSON(w, http.StatusOK, protocol.HistoryDiffResponse{
		FlowA:     req.FlowA,
		FlowB:     req.FlowB,
		Identical: identical,
		Diff:      diff,
		Truncated: truncated,
	})
}

// lookupFlow fetches a flow record, answering the request itself on bad IDs
// and misses.
func (s *Server) lookupFlow(w http.ResponseWriter, fl *FlowLog, flowID string) *FlowRecord {
	if !ids.IsFlow(flowID) {
		s.writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest,
			fmt.Sprintf("invalid flow id %q", flowID),
			`flow IDs look like "f1" or "f2w9"`)
		return nil
	}
	rec, found, err := fl.Get(flowID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, protocol.ErrCodeInternal, err.Error(), "")
		return nil
	} else if !found {
		s.writeError(w, http.StatusNotFound, protocol.ErrCodeNotFound,
			fmt.Sprintf("flow %s not found", flowID),
			"use history list to see retained flows")
		return nil
	}
	return rec
}

// flowEntry converts a stored record to its wire form.
func flowEntry(rec *FlowRecord) protocol.FlowEntry {
	return protocol.FlowEntry{
		FlowID:     rec.FlowID,
		SessionID:  rec.SessionID,
		Method:     rec.Method,
		Target:     rec.Target,
		Status:     rec.Status,
		Playlist:   rec.Playlist,
		ReceivedAt: rec.ReceivedAt.UTC().Format(time.RFC3339),
		DurationMS: rec.Duration.Milliseconds(),
		BodySize:   rec.BodySize,
		Truncated:  rec.Truncated,
		Error:      rec.Error,
	}
}
