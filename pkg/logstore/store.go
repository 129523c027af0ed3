package logstore

import "io"

// Filter defines criteria for querying entries. All supplied fields must
// match (conjunctive); zero values are ignored.
type Filter struct {
	// Method filters by exact JSON-RPC method name.
	Method string

	// Direction filters by traffic direction.
	Direction Direction

	// Type filters by entry type.
	Type EntryType

	// SessionID filters by owning session.
	SessionID string

	// SearchText matches case-insensitively against raw content.
	SearchText string

	// Limit is the maximum number of entries to return.
	Limit int

	// Offset is the number of matching entries to skip.
	Offset int
}

// Subscriber is a channel that receives entries as they are appended.
type Subscriber chan *Entry

// Store is the query surface over intercepted traffic.
type Store interface {
	// Append records an entry, assigning an id if unset.
	Append(entry *Entry)

	// Get retrieves an entry by id, or nil.
	Get(id string) *Entry

	// Query returns entries matching the filter, in capture order.
	Query(filter *Filter) []*Entry

	// Count returns the number of retained entries.
	Count() int

	// Clear removes all entries.
	Clear()

	// Subscribe registers for new entries. Returns the receiving channel
	// and an unsubscribe function. Slow subscribers drop entries rather
	// than blocking the capture path.
	Subscribe() (Subscriber, func())

	// Export writes all retained entries as a JSON array.
	Export(w io.Writer) error
}
