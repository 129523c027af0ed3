// Package logstore is the append-only record of intercepted traffic.
//
// Entries are never mutated after append; latency is carried on the
// response entry, so a request entry is final the moment it is written.
// The in-memory store keeps a bounded FIFO window of recent entries and
// fans new appends out to subscribers for live viewing.
package logstore
