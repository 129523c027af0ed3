package tokens

import (
	"bytes"
	"encoding/json"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// encodingName is the BPE encoding used for estimates. cl100k_base is the
// GPT-4-family encoding and a reasonable proxy for modern models.
const encodingName = "cl100k_base"

// Estimator converts text to approximate token counts.
//
// The tokenizer is loaded lazily on first use. If loading fails (the
// encoding data is unavailable), the estimator silently falls back to a
// heuristic and stays on it; it never errors and never blocks the hot path
// on retries.
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewEstimator returns an estimator. Construction is cheap; tokenizer
// loading is deferred to the first Estimate call.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Estimate returns the approximate token count for text. Empty input is
// always zero tokens.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}

	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err == nil {
			e.enc = enc
		}
	})

	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return heuristicTokens(text)
}

// EstimateJSON estimates tokens for a JSON value after canonicalizing it.
// Compacting first makes the count independent of wire whitespace, so the
// same logical message always costs the same. Invalid JSON is estimated
// as-is.
func (e *Estimator) EstimateJSON(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return e.Estimate(string(raw))
	}
	return e.Estimate(buf.String())
}

// heuristicTokens approximates BPE output without a vocabulary: each run of
// letters or digits costs one token per four characters (rounded up), and
// each other non-space rune costs one. Deterministic by construction.
func heuristicTokens(s string) int {
	count := 0
	runLen := 0
	flush := func() {
		if runLen > 0 {
			count += (runLen + 3) / 4
			runLen = 0
		}
	}
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			runLen++
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			count++
		}
	}
	flush()
	return count
}
