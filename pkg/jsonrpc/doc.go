// Package jsonrpc implements the generic JSON-RPC 2.0 message model used by
// the interception engine.
//
// The package deliberately knows nothing about MCP method schemas: it parses
// raw frames into Messages, classifies them as request, notification, or
// response, and round-trips them byte-faithfully enough that classification
// is stable across re-encoding. Anything that does not satisfy the JSON-RPC
// shape is reported as malformed so the caller can preserve it as a raw
// audit entry instead of dropping it.
//
// Request ids are typed: "7" and 7 are different identities and are never
// coerced into one another.
package jsonrpc
