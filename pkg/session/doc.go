// Package session tracks the identity and activity of proxied connections.
//
// A Session is created the first time a message is observed on a transport
// and updated on every message after that. Session identity is the
// correlation key shared by the log store and the token aggregator; it is
// assigned here, never inferred from message content. Sessions are not
// explicitly destroyed; they live for the connection lifetime, and callers
// may garbage-collect stale ones by last-activity age.
package session
