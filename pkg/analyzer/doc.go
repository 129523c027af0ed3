// Package analyzer inspects an MCP server without a live client.
//
// It spawns the target command, performs the initialization handshake,
// enumerates the server's tools, prompts, and resources, and prices each
// definition in estimated tokens. The result answers one question: how much
// model context does merely connecting to this server cost.
//
// A run is all or nothing. Any timeout, process exit, or malformed reply
// fails the whole analysis; a partial capability inventory is misleading
// and is never returned. The spawned process is torn down on every path.
package analyzer
