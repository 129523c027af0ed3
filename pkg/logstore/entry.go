package logstore

import "time"

// Direction of an intercepted message, relative to the proxy.
type Direction string

const (
	// DirectionIn is client to server traffic.
	DirectionIn Direction = "in"

	// DirectionOut is server to client traffic.
	DirectionOut Direction = "out"
)

// EntryType discriminates what kind of content an entry holds.
type EntryType string

const (
	// TypeJSONRPC marks a frame that parsed as a JSON-RPC message.
	TypeJSONRPC EntryType = "jsonrpc"

	// TypeRaw marks bytes that failed framing or JSON-RPC parsing.
	TypeRaw EntryType = "raw"

	// TypeStderr marks a line from the child's diagnostic stream.
	TypeStderr EntryType = "stderr"
)

// Entry is one intercepted message, preserved verbatim.
type Entry struct {
	// ID uniquely identifies the entry.
	ID string `json:"id"`

	// SessionID is the owning session.
	SessionID string `json:"sessionId"`

	// Timestamp is the capture time, microsecond resolution.
	Timestamp time.Time `json:"timestamp"`

	// Direction is in (client to server) or out (server to client).
	Direction Direction `json:"direction"`

	// Raw is the exact content of the message, unmodified. Kept for audit
	// and re-tokenization.
	Raw string `json:"raw"`

	// Method is the JSON-RPC method. Set only for requests and
	// notifications.
	Method string `json:"method,omitempty"`

	// DurationMicros is the elapsed time since the matching request. Set
	// only on correlated responses.
	DurationMicros *int64 `json:"durationMicros,omitempty"`

	// Type discriminates jsonrpc, raw, and stderr content.
	Type EntryType `json:"type"`

	// Tokens is the estimated token cost of Raw.
	Tokens int `json:"tokens,omitempty"`

	// Anomaly flags correlation corruption, such as a negative latency
	// delta or a duplicate request id.
	Anomaly string `json:"anomaly,omitempty"`
}

// TimestampMicros returns the capture time as microseconds since the epoch.
func (e *Entry) TimestampMicros() int64 {
	return e.Timestamp.UnixMicro()
}
