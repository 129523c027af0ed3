package session

import (
	"sync"
	"time"

	"github.com/mcptap/mcptap/internal/id"
)

// Session is one proxied client-server connection.
type Session struct {
	// ID is the unique session identifier (ULID, time-sortable).
	ID string `json:"id"`

	// TransportID is the transport this session was observed on.
	TransportID string `json:"transportId"`

	// ServerName is the human-readable name of the wrapped server.
	ServerName string `json:"serverName,omitempty"`

	// StartedAt is when the first message was observed.
	StartedAt time.Time `json:"startedAt"`

	// MessageCount is the running number of messages observed.
	MessageCount int64 `json:"messageCount"`

	// LastActivity is the timestamp of the most recent message.
	LastActivity time.Time `json:"lastActivity"`

	mu sync.Mutex
}

// touch records one observed message.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MessageCount++
	s.LastActivity = now
}

// Snapshot returns a copy safe to hand to readers.
func (s *Session) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Session{
		ID:           s.ID,
		TransportID:  s.TransportID,
		ServerName:   s.ServerName,
		StartedAt:    s.StartedAt,
		MessageCount: s.MessageCount,
		LastActivity: s.LastActivity,
	}
}

// idle reports whether the session has seen no activity for at least age.
func (s *Session) idle(age time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.LastActivity) >= age
}

// Tracker owns all sessions for one engine instance.
type Tracker struct {
	mu          sync.RWMutex
	byTransport map[string]*Session
	byID        map[string]*Session
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byTransport: make(map[string]*Session),
		byID:        make(map[string]*Session),
	}
}

// Observe returns the session for a transport, creating it on first sight,
// and records one message of activity.
func (t *Tracker) Observe(transportID string) *Session {
	now := time.Now()

	t.mu.Lock()
	s, ok := t.byTransport[transportID]
	if !ok {
		s = &Session{
			ID:           id.ULID(),
			TransportID:  transportID,
			StartedAt:    now,
			LastActivity: now,
		}
		t.byTransport[transportID] = s
		t.byID[s.ID] = s
	}
	t.mu.Unlock()

	s.touch(now)
	return s
}

// SetServerName attaches a display name to a transport's session, creating
// the session if the name arrives before the first message. Unlike Observe
// it does not count as message activity.
func (t *Tracker) SetServerName(transportID, name string) *Session {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byTransport[transportID]
	if !ok {
		s = &Session{
			ID:           id.ULID(),
			TransportID:  transportID,
			StartedAt:    now,
			LastActivity: now,
		}
		t.byTransport[transportID] = s
		t.byID[s.ID] = s
	}
	s.mu.Lock()
	s.ServerName = name
	s.mu.Unlock()
	return s
}

// Get returns a session by its id, or nil.
func (t *Tracker) Get(sessionID string) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byID[sessionID]
}

// List returns snapshots of all sessions, newest first (ULIDs sort by
// creation time, so we sort on id).
func (t *Tracker) List() []Session {
	t.mu.RLock()
	out := make([]Session, 0, len(t.byID))
	for _, s := range t.byID {
		out = append(out, s.Snapshot())
	}
	t.mu.RUnlock()

	// Insertion sort; session counts are small.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ID > out[j-1].ID; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Count returns the number of tracked sessions.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// PruneIdle removes sessions idle for at least age and returns how many
// were removed.
func (t *Tracker) PruneIdle(age time.Duration) int {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for tid, s := range t.byTransport {
		if s.idle(age, now) {
			delete(t.byTransport, tid)
			delete(t.byID, s.ID)
			removed++
		}
	}
	return removed
}
