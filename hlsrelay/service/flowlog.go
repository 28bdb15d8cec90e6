package service

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-stream/relaykit/hlsrelay/service/ids"
	"github.com/go-stream/relaykit/hlsrelay/service/relay"
	"github.com/go-stream/relaykit/hlsrelay/service/store"
)

const flowKeyPrefix = "flow:"

// FlowRecord is the persisted form of one relayed exchange. Bodies above the
// configured cap are cut and Truncated set; BodySize keeps the real length.
type FlowRecord struct {
	FlowID          string            `msgpack:"flow_id"`
	SessionID       string            `msgpack:"session_id"`
	Method          string            `msgpack:"method"`
	Target          string            `msgpack:"target"`
	Status          int               `msgpack:"status"`
	Playlist        bool              `msgpack:"playlist"`
	ReceivedAt      time.Time         `msgpack:"received_at"`
	Duration        time.Duration     `msgpack:"duration"`
	RequestHeaders  map[string]string `msgpack:"request_headers"`
	ResponseHeaders map[string]string `msgpack:"response_headers"`
	Body            []byte            `msgpack:"body"`
	OriginalBody    []byte            `msgpack:"original_body,omitempty"`
	BodySize        int               `msgpack:"body_size"`
	Truncated       bool              `msgpack:"truncated"`
	Error           string            `msgpack:"error,omitempty"`
}

// FlowLog keeps the most recent relayed exchanges in a Storage backend.
// It implements relay.Recorder; the ring evicts oldest-first once capacity
// is reached.
type FlowLog struct {
	mu       sync.RWMutex
	storage  store.Storage
	order    []string // flow IDs, oldest first
	capacity int
	maxBody  int
	nextSeq  uint64
}

var _ relay.Recorder = (*FlowLog)(nil)

// NewFlowLog wraps storage in a capped exchange log. Non-positive capacity
// or body cap fall back to the config defaults.
func NewFlowLog(storage store.Storage, capacity, maxBodyBytes int) *FlowLog {
	if capacity <= 0 {
		capacity = 512
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 256 * 1024
	}
	return &FlowLog{
		storage:  storage,
		capacity: capacity,
		maxBody:  maxBodyBytes,
	}
}

// Record stores a completed exchange. Failures are logged, never surfaced:
// history must not interfere with playback.
func (l *FlowLog) Record(f relay.Flow) {
	rec := FlowRecord{
		SessionID:       f.SessionID,
		Method:          f.Method,
		Target:          f.Target,
		Status:          f.Status,
		Playlist:        f.Playlist,
		ReceivedAt:      f.ReceivedAt,
		Duration:        f.Duration,
		RequestHeaders:  f.RequestHeaders,
		ResponseHeaders: f.UpstreamHeaders,
		BodySize:        len(f.Body),
		Error:           f.Error,
	}
	rec.Body, rec.Truncated = capBody(f.Body, l.maxBody)
	rec.OriginalBody, _ = capBody(f.OriginalBody, l.maxBody)

	l.mu.Lock()
	defer l.mu.Unlock()

	rec.FlowID = ids.Flow(l.nextSeq + 1)
	blob, err := store.Serialize(&rec)
	if err != nil {
		log.Printf("history: serialize flow: %v", err)
		return
	}
	if err := l.storage.Set(flowKey(rec.FlowID), blob); err != nil {
		log.Printf("history: store flow %s: %v", rec.FlowID, err)
		return
	}

	// Advance the counter only once the record is safely stored.
	l.nextSeq++
	l.order = append(l.order, rec.FlowID)
	for len(l.order) > l.capacity {
		evicted := l.order[0]
		l.order = l.order[1:]
		if err := l.storage.Delete(flowKey(evicted)); err != nil {
			log.Printf("history: evict flow %s: %v", evicted, err)
		}
	}
}

// List returns recorded flows newest first. A non-empty sessionID filters to
// that session; limit <= 0 returns everything retained.
func (l *FlowLog) List(sessionID string, limit int) ([]FlowRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []FlowRecord
	for i := len(l.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		rec, found, err := l.load(l.order[i])
		if err != nil {
			return nil, err
		} else if !found {
			continue
		}
		if sessionID != "" && rec.SessionID != sessionID {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

// Get retrieves a single flow by ID.
func (l *FlowLog) Get(flowID string) (*FlowRecord, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.load(flowID)
}

// Len reports the number of retained flows.
func (l *FlowLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.order)
}

// Close releases the underlying storage.
func (l *FlowLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.order = nil
	return l.storage.Close()
}

func (l *FlowLog) load(flowID string) (*FlowRecord, bool, error) {
	blob, found, err := l.storage.Get(flowKey(flowID))
	if err != nil {
		return nil, false, fmt.Errorf("load flow %s: %w", flowID, err)
	} else if !found {
		return nil, false, nil
	}
	var rec FlowRecord
	if err := store.Deserialize(blob, &rec); err != nil {
		return nil, false, fmt.Errorf("decode flow %s: %w", flowID, err)
	}
	return &rec, true, nil
}

func flowKey(flowID string) string {
	return flowKeyPrefix + flowID
}

func capBody(body []byte, limit int) ([]byte, bool) {
	if len(body) <= limit {
		return body, false
	}
	return body[:limit], true
}
