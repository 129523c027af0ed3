// Package api exposes the inspection surface over HTTP.
//
// A presentation layer (CLI, TUI, dashboard) polls logs, sessions, and
// token statistics here, subscribes to live entries over SSE, and triggers
// one-shot server analyses. The API is read-mostly: the only mutations are
// clearing statistics, and nothing here can write to the proxied wire.
package api
