package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxSessions bounds how many playback registrations a relay
	// holds before evicting the oldest.
	DefaultMaxSessions = 200

	// DefaultSessionTTL is how long a session stays valid after creation.
	// Playback traffic does not extend it; the player re-registers when a
	// long stream outlives its session.
	DefaultSessionTTL = 20 * time.Minute
)

// Session binds a playback target to the headers injected when fetching it.
// Instances handed out by the store are copies; mutating them has no effect
// on the stored session. LastAccess is informational, for listings only;
// expiry is measured from CreatedAt.
type Session struct {
	ID         string
	Target     string
	Headers    map[string]string
	CreatedAt  time.Time
	LastAccess time.Time
}

func (s *Session) clone() *Session {
	dup := *s
	dup.Headers = cloneHeaders(s.Headers)
	return &dup
}

func cloneHeaders(h map[string]string) map[string]string {
	dup := make(map[string]string, len(h))
	for k, v := range h {
		dup[k] = v
	}
	return dup
}

// Store holds active sessions keyed by ID. A single mutex guards all state;
// the store is the only structure shared across relay connections.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	maxSessions int
	ttl         time.Duration
	now         func() time.Time
}

// NewStore creates a session store. Non-positive arguments fall back to
// DefaultMaxSessions and DefaultSessionTTL.
func NewStore(maxSessions int, ttl time.Duration) *Store {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Store{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
		ttl:         ttl,
		now:         time.Now,
	}
}

// Create registers a target plus header map and returns the stored session.
// Expired sessions are cleared first; if the store is still full after that,
// the oldest session by creation time is evicted to make room.
func (s *Store) Create(target string, headers map[string]string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictExpiredLocked(now)
	for len(s.sessions) >= s.maxSessions {
		s.evictOldestLocked()
	}

	sess := &Session{
		ID:         uuid.NewString(),
		Target:     target,
		Headers:    cloneHeaders(headers),
		CreatedAt:  now,
		LastAccess: now,
	}
	s.sessions[sess.ID] = sess
	return sess.clone()
}

// Get returns the session for id, refreshing its last-access time for
// listings. Unknown and expired IDs both miss; expired entries are dropped
// when observed. Access does not extend a session's lifetime.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	now := s.now()
	if s.expiredLocked(sess, now) {
		delete(s.sessions, id)
		return nil, false
	}
	sess.LastAccess = now
	return sess.clone(), true
}

// Delete removes a session. Unknown IDs are a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
}

// Len returns the number of live (unexpired) sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked(s.now())
	return len(s.sessions)
}

// Snapshot returns copies of all live sessions, newest first.
func (s *Store) Snapshot() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked(s.now())
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// TTL returns the configured session lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// expiredLocked reports whether a session's lifetime has lapsed, measured
// from creation. The exact boundary counts as expired.
func (s *Store) expiredLocked(sess *Session, now time.Time) bool {
	return now.Sub(sess.CreatedAt) >= s.ttl
}

func (s *Store) evictExpiredLocked(now time.Time) {
	for id, sess := range s.sessions {
		if s.expiredLocked(sess, now) {
			delete(s.sessions, id)
		}
	}
}

// evictOldestLocked removes the single oldest session by creation time.
func (s *Store) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, sess := range s.sessions {
		if oldestID == "" || sess.CreatedAt.Before(oldest) {
			oldestID = id
			oldest = sess.CreatedAt
		}
	}
	if oldestID != "" {
		delete(s.sessions, oldestID)
	}
}
