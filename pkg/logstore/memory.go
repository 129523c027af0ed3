package logstore

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the retained-entry window when none is configured.
const DefaultCapacity = 10000

// MemoryStore implements Store with a bounded in-memory FIFO buffer.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  []*Entry
	capacity int
	byID     map[string]*Entry

	subMu       sync.RWMutex
	subscribers map[Subscriber]struct{}
}

// NewMemoryStore creates a store retaining at most capacity entries.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		entries:     make([]*Entry, 0, capacity),
		capacity:    capacity,
		byID:        make(map[string]*Entry),
		subscribers: make(map[Subscriber]struct{}),
	}
}

// Append records an entry and notifies subscribers. Oldest entries are
// evicted once the window is full.
func (s *MemoryStore) Append(entry *Entry) {
	if entry == nil {
		return
	}

	s.mu.Lock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if len(s.entries) >= s.capacity {
		evicted := s.entries[0]
		s.entries = s.entries[1:]
		delete(s.byID, evicted.ID)
	}
	s.entries = append(s.entries, entry)
	s.byID[entry.ID] = entry
	s.mu.Unlock()

	s.subMu.RLock()
	for sub := range s.subscribers {
		select {
		case sub <- entry:
		default:
			// Slow subscriber; drop rather than stall capture.
		}
	}
	s.subMu.RUnlock()
}

// Get retrieves an entry by id, or nil.
func (s *MemoryStore) Get(id string) *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

// Query returns matching entries in capture order.
func (s *MemoryStore) Query(filter *Filter) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if filter != nil && !matches(e, filter) {
			continue
		}
		result = append(result, e)
	}

	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(result) {
				return []*Entry{}
			}
			result = result[filter.Offset:]
		}
		if filter.Limit > 0 && filter.Limit < len(result) {
			result = result[:filter.Limit]
		}
	}
	return result
}

func matches(e *Entry, f *Filter) bool {
	if f.Method != "" && e.Method != f.Method {
		return false
	}
	if f.Direction != "" && e.Direction != f.Direction {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.SearchText != "" && !strings.Contains(strings.ToLower(e.Raw), strings.ToLower(f.SearchText)) {
		return false
	}
	return true
}

// Count returns the number of retained entries.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes all entries. Subscribers stay registered.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = s.entries[:0]
	s.byID = make(map[string]*Entry)
}

// Subscribe registers for new entries.
func (s *MemoryStore) Subscribe() (Subscriber, func()) {
	sub := make(Subscriber, 64)
	s.subMu.Lock()
	s.subscribers[sub] = struct{}{}
	s.subMu.Unlock()

	unsubscribe := func() {
		s.subMu.Lock()
		delete(s.subscribers, sub)
		s.subMu.Unlock()
	}
	return sub, unsubscribe
}

// Export writes all retained entries as an indented JSON array, in capture
// order.
func (s *MemoryStore) Export(w io.Writer) error {
	s.mu.RLock()
	entries := make([]*Entry, len(s.entries))
	copy(entries, s.entries)
	s.mu.RUnlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
