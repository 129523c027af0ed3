// Package tokens estimates and aggregates LLM token usage for proxied
// protocol traffic.
//
// Counts are estimates for budgeting, not billing. The estimator prefers a
// real BPE tokenizer (cl100k_base) and falls back to a deterministic
// heuristic when the encoding cannot be loaded; either way the same input
// always yields the same count within a process.
//
// The aggregator keys usage by session and by method, and separately tracks
// definitional overhead: the schema tokens a client pays once per session to
// hold the server's tool, prompt, and resource definitions in context.
package tokens
