package tokens

import (
	"bytes"
	"encoding/json"
	"hash/fnv"
	"sync"
)

// DefinitionKind identifies one capability category for overhead accounting.
type DefinitionKind int

const (
	DefTools DefinitionKind = iota
	DefPrompts
	DefResources
)

// String returns the wire name of the category.
func (k DefinitionKind) String() string {
	switch k {
	case DefTools:
		return "tools"
	case DefPrompts:
		return "prompts"
	case DefResources:
		return "resources"
	default:
		return "unknown"
	}
}

// MethodTokenStats is the per-method rollup within one session.
type MethodTokenStats struct {
	Method         string `json:"method"`
	Calls          int64  `json:"calls"`
	RequestTokens  int64  `json:"requestTokens"`
	ResponseTokens int64  `json:"responseTokens"`
	TotalTokens    int64  `json:"totalTokens"`
}

// DefinitionStats is the one-time schema cost for one capability category.
type DefinitionStats struct {
	Tokens int64 `json:"tokens"`
	Count  int   `json:"count"`
}

// SessionTokenStats is the full rollup for one session. TotalTokens includes
// definitional overhead; TokensToServer and TokensFromServer cover call
// traffic only.
type SessionTokenStats struct {
	SessionID        string                      `json:"sessionId"`
	TokensToServer   int64                       `json:"tokensToServer"`
	TokensFromServer int64                       `json:"tokensFromServer"`
	DefinitionTokens int64                       `json:"definitionTokens"`
	TotalTokens      int64                       `json:"totalTokens"`
	Methods          map[string]MethodTokenStats `json:"methods"`
	Tools            DefinitionStats             `json:"tools"`
	Prompts          DefinitionStats             `json:"prompts"`
	Resources        DefinitionStats             `json:"resources"`
}

// GlobalTokenStats is the cross-session rollup.
type GlobalTokenStats struct {
	TotalTokens int64                        `json:"totalTokens"`
	Sessions    map[string]SessionTokenStats `json:"sessions"`
}

type defEntry struct {
	tokens int64
	count  int
	hash   uint64
}

type sessionAgg struct {
	toServer   int64
	fromServer int64
	methods    map[string]*MethodTokenStats
	defs       [3]defEntry
}

func (s *sessionAgg) method(name string) *MethodTokenStats {
	m, ok := s.methods[name]
	if !ok {
		m = &MethodTokenStats{Method: name}
		s.methods[name] = m
	}
	return m
}

func (s *sessionAgg) direction(toServer bool, tokens int) {
	if toServer {
		s.toServer += int64(tokens)
	} else {
		s.fromServer += int64(tokens)
	}
}

func (s *sessionAgg) defTotal() int64 {
	var t int64
	for _, d := range s.defs {
		t += d.tokens
	}
	return t
}

// Aggregator rolls estimator output into per-method, per-session, and
// global statistics. All counters for one entry are updated under a single
// lock, so a concurrent reader never sees a half-applied entry.
type Aggregator struct {
	est *Estimator

	mu       sync.Mutex
	sessions map[string]*sessionAgg
}

// NewAggregator creates an aggregator backed by the given estimator.
func NewAggregator(est *Estimator) *Aggregator {
	return &Aggregator{
		est:      est,
		sessions: make(map[string]*sessionAgg),
	}
}

// Estimator exposes the backing estimator for callers that cost text
// outside the aggregation path.
func (a *Aggregator) Estimator() *Estimator {
	return a.est
}

func (a *Aggregator) session(id string) *sessionAgg {
	s, ok := a.sessions[id]
	if !ok {
		s = &sessionAgg{methods: make(map[string]*MethodTokenStats)}
		a.sessions[id] = s
	}
	return s
}

// RecordRequest charges tokens for a request or notification. The method
// bucket's call count advances here, once per call. toServer selects which
// session direction counter absorbs the tokens; client-originated traffic
// is to-server, server-initiated sampling requests are from-server.
func (a *Aggregator) RecordRequest(sessionID, method string, toServer bool, tokens int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.session(sessionID)
	s.direction(toServer, tokens)
	if method != "" {
		m := s.method(method)
		m.Calls++
		m.RequestTokens += int64(tokens)
		m.TotalTokens += int64(tokens)
	}
}

// RecordResponse charges tokens for a response, attributed to the
// originating request's method when correlation found one.
func (a *Aggregator) RecordResponse(sessionID, method string, toServer bool, tokens int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.session(sessionID)
	s.direction(toServer, tokens)
	if method != "" {
		m := s.method(method)
		m.ResponseTokens += int64(tokens)
		m.TotalTokens += int64(tokens)
	}
}

// RecordDefinitions captures the one-time schema cost for a capability
// category. The list payload is hashed; re-listing an unchanged capability
// set is a no-op, so repeated list calls never double-count. A changed set
// replaces the category's overhead rather than adding to it.
func (a *Aggregator) RecordDefinitions(sessionID string, kind DefinitionKind, list json.RawMessage, count int) {
	h := hashJSON(list)

	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.session(sessionID)
	d := &s.defs[kind]
	if d.hash == h && d.count == count {
		return
	}
	d.hash = h
	d.count = count
	d.tokens = int64(a.est.EstimateJSON(list))
}

// SessionStats returns a consistent snapshot for one session.
func (a *Aggregator) SessionStats(sessionID string) (SessionTokenStats, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sessions[sessionID]
	if !ok {
		return SessionTokenStats{}, false
	}
	return snapshotSession(sessionID, s), true
}

// GlobalStats returns a consistent snapshot across all sessions.
func (a *Aggregator) GlobalStats() GlobalTokenStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := GlobalTokenStats{Sessions: make(map[string]SessionTokenStats, len(a.sessions))}
	for id, s := range a.sessions {
		snap := snapshotSession(id, s)
		out.Sessions[id] = snap
		out.TotalTokens += snap.TotalTokens
	}
	return out
}

// ClearSession drops one session's statistics. Reports whether it existed.
func (a *Aggregator) ClearSession(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.sessions[sessionID]
	delete(a.sessions, sessionID)
	return ok
}

// ClearAll drops all statistics.
func (a *Aggregator) ClearAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = make(map[string]*sessionAgg)
}

func snapshotSession(id string, s *sessionAgg) SessionTokenStats {
	defTotal := s.defTotal()
	out := SessionTokenStats{
		SessionID:        id,
		TokensToServer:   s.toServer,
		TokensFromServer: s.fromServer,
		DefinitionTokens: defTotal,
		TotalTokens:      s.toServer + s.fromServer + defTotal,
		Methods:          make(map[string]MethodTokenStats, len(s.methods)),
		Tools:            DefinitionStats{Tokens: s.defs[DefTools].tokens, Count: s.defs[DefTools].count},
		Prompts:          DefinitionStats{Tokens: s.defs[DefPrompts].tokens, Count: s.defs[DefPrompts].count},
		Resources:        DefinitionStats{Tokens: s.defs[DefResources].tokens, Count: s.defs[DefResources].count},
	}
	for name, m := range s.methods {
		out.Methods[name] = *m
	}
	return out
}

// hashJSON hashes a payload after compaction so wire whitespace does not
// defeat change detection.
func hashJSON(raw json.RawMessage) uint64 {
	var buf bytes.Buffer
	b := []byte(raw)
	if err := json.Compact(&buf, raw); err == nil {
		b = buf.Bytes()
	}
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}
