// Package id provides unique identifier generation for mcptap.
//
// Two formats are used across the codebase:
//
//   - ULID: time-sortable 26-character identifiers for sessions, so that a
//     listing sorted by id is also sorted by creation time
//   - Short: 16-character hex identifiers for transports and other internal
//     handles where brevity matters
//
// Log entries use google/uuid directly and are not generated here.
// All randomness comes from crypto/rand.
package id
