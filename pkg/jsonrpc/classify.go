package jsonrpc

import "errors"

// Kind is the closed three-way message discrimination. The set is exhaustive:
// every valid JSON-RPC message is exactly one of these, and anything else is
// malformed.
type Kind int

const (
	// KindRequest has a method and an id and expects a response.
	KindRequest Kind = iota
	// KindNotification has a method but no id; no response follows.
	KindNotification
	// KindResponse carries a result or an error for a prior request id.
	KindResponse
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// ErrMalformed is returned by Classify for messages that do not satisfy the
// JSON-RPC 2.0 shape. Callers downgrade these to raw audit entries rather
// than dropping them.
var ErrMalformed = errors.New("malformed JSON-RPC message")

// Classify determines the message kind.
//
// Rules, applied in order:
//   - the version tag must be "2.0"
//   - method present: request when an id is present, notification otherwise;
//     a method must never carry a result or error
//   - no method: exactly one of result or error must be present (response)
func (m *Message) Classify() (Kind, error) {
	if m.JSONRPC != Version {
		return 0, ErrMalformed
	}

	if m.Method != "" {
		if len(m.Result) > 0 || m.Error != nil {
			return 0, ErrMalformed
		}
		if m.ID.IsZero() {
			return KindNotification, nil
		}
		return KindRequest, nil
	}

	hasResult := len(m.Result) > 0
	hasError := m.Error != nil
	if hasResult == hasError {
		return 0, ErrMalformed
	}
	return KindResponse, nil
}

// IsResponse reports whether the message classifies as a response.
func (m *Message) IsResponse() bool {
	k, err := m.Classify()
	return err == nil && k == KindResponse
}
