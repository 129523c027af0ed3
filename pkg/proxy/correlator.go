package proxy

import (
	"sync"
	"time"

	"github.com/mcptap/mcptap/pkg/jsonrpc"
	"github.com/mcptap/mcptap/pkg/logstore"
)

// DefaultPendingTTL bounds how long an unanswered request is remembered.
const DefaultPendingTTL = 5 * time.Minute

type pending struct {
	method string
	at     time.Time
}

// Correlator matches responses to outstanding requests by id. Requests are
// scoped per direction: a request observed client-to-server is matched by a
// response observed server-to-client, and server-initiated requests are
// matched symmetrically.
//
// A typed id keys the map, so string "7" and number 7 never collide.
type Correlator struct {
	mu  sync.Mutex
	ttl time.Duration

	// Outstanding requests keyed by id, indexed by the direction the
	// request traveled.
	byDir map[logstore.Direction]map[string]pending
}

// NewCorrelator creates a correlator. ttl bounds pending-request memory;
// zero means DefaultPendingTTL.
func NewCorrelator(ttl time.Duration) *Correlator {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &Correlator{
		ttl: ttl,
		byDir: map[logstore.Direction]map[string]pending{
			logstore.DirectionIn:  {},
			logstore.DirectionOut: {},
		},
	}
}

// TrackRequest records an outstanding request observed traveling dir at
// time at. A still-pending duplicate id is reported as an anomaly; the
// newer request replaces the older one.
func (c *Correlator) TrackRequest(dir logstore.Direction, id jsonrpc.ID, method string, at time.Time) (anomaly string) {
	key := id.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.byDir[dir]
	if _, dup := m[key]; dup {
		anomaly = "duplicate request id " + id.String()
	}
	m[key] = pending{method: method, at: at}
	return anomaly
}

// Resolve matches a response observed traveling dir against requests that
// traveled the opposite direction. On a match with a sane clock, ok is true
// and durationMicros is the nonnegative elapsed time. A negative delta is
// reported as an anomaly with no duration, never clamped. An unknown id
// returns an empty method and ok false.
func (c *Correlator) Resolve(dir logstore.Direction, id jsonrpc.ID, at time.Time) (method string, durationMicros int64, ok bool, anomaly string) {
	key := id.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.byDir[opposite(dir)]
	p, found := m[key]
	if !found {
		return "", 0, false, ""
	}
	delete(m, key)

	delta := at.Sub(p.at).Microseconds()
	if delta < 0 {
		return p.method, 0, false, "negative latency delta for id " + id.String()
	}
	return p.method, delta, true, ""
}

// Evict drops pending requests older than the TTL and returns how many
// were removed.
func (c *Correlator) Evict(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, m := range c.byDir {
		for key, p := range m {
			if now.Sub(p.at) >= c.ttl {
				delete(m, key)
				removed++
			}
		}
	}
	return removed
}

// Outstanding returns the number of unanswered requests currently tracked.
func (c *Correlator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byDir[logstore.DirectionIn]) + len(c.byDir[logstore.DirectionOut])
}

func opposite(dir logstore.Direction) logstore.Direction {
	if dir == logstore.DirectionIn {
		return logstore.DirectionOut
	}
	return logstore.DirectionIn
}
