// Package proxy is the live interception engine.
//
// An Engine sits between an MCP client and a spawned server process,
// forwarding bytes verbatim in both directions while decoding a copy of
// each stream into classified, costed log entries. Interception is
// fail-open: a frame the engine cannot parse is logged raw and forwarded
// anyway, because a debugging proxy must never break the connection it is
// observing.
package proxy
