// Package transport manages the byte-level connection to a spawned MCP
// server process.
//
// A Child bundles the process handle with its three independent streams:
// a writer for the server's stdin, and readers for its stdout and stderr.
// Closing a Child is scoped teardown: pending writes are flushed, the
// process is signalled and reaped, and every pipe is released no matter
// which path (success, error, cancellation) led there. No orphaned child
// processes.
//
// Decoder splits a raw stdout stream into discrete frames. MCP servers
// frame messages either as newline-delimited JSON or, in legacy mode, as
// HTTP-style Content-Length headers followed by a JSON body; the decoder
// supports both and switches mode per stream when it sees a Content-Length
// header. Bytes that fail framing are surfaced as raw frames, never
// silently discarded, so the audit trail stays complete.
package transport
