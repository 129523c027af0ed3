// Package logging provides structured logging configuration for mcptap.
//
// It wraps log/slog so every component logs the same way. Diagnostics always
// go to stderr: stdout belongs to the proxied MCP protocol, and a single stray
// log line on stdout would corrupt the JSON-RPC stream the host is reading.
//
// Components accept a *slog.Logger in their constructor or via a setter and
// fall back to logging.Nop() when none is provided.
package logging
