package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the only protocol version this engine understands.
const Version = "2.0"

// IDKind discriminates the two identity spaces a JSON-RPC id can live in.
type IDKind int

const (
	// IDNone marks the zero ID (no id present).
	IDNone IDKind = iota
	// IDString is a string id, e.g. "7".
	IDString
	// IDNumber is an integer id, e.g. 7.
	IDNumber
)

// ID is a JSON-RPC request identifier. String and integer ids are distinct:
// ID{"7"} and ID{7} never compare equal and produce different correlation
// keys.
type ID struct {
	kind IDKind
	str  string
	num  int64
}

// StringID constructs a string-typed ID.
func StringID(s string) ID { return ID{kind: IDString, str: s} }

// NumberID constructs an integer-typed ID.
func NumberID(n int64) ID { return ID{kind: IDNumber, num: n} }

// Kind returns the identity space of the ID.
func (id ID) Kind() IDKind { return id.kind }

// IsZero reports whether the ID is absent.
func (id ID) IsZero() bool { return id.kind == IDNone }

// Key returns a correlation-map key that keeps the two identity spaces
// disjoint.
func (id ID) Key() string {
	switch id.kind {
	case IDString:
		return "s:" + id.str
	case IDNumber:
		return "n:" + strconv.FormatInt(id.num, 10)
	default:
		return ""
	}
}

// String renders the ID the way it appears on the wire.
func (id ID) String() string {
	switch id.kind {
	case IDString:
		return strconv.Quote(id.str)
	case IDNumber:
		return strconv.FormatInt(id.num, 10)
	default:
		return "<none>"
	}
}

// MarshalJSON encodes the ID in its original identity space.
func (id ID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case IDString:
		return json.Marshal(id.str)
	case IDNumber:
		return json.Marshal(id.num)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a string or integer id. Fractional numbers and other
// JSON types are rejected.
func (id *ID) UnmarshalJSON(data []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}

	switch t := v.(type) {
	case nil:
		*id = ID{}
		return nil
	case string:
		*id = StringID(t)
		return nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return fmt.Errorf("non-integer id %s", t)
		}
		*id = NumberID(n)
		return nil
	default:
		return fmt.Errorf("id must be a string or integer, got %T", v)
	}
}

// ErrorObject is the JSON-RPC 2.0 error member of a response.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *ErrorObject) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// Message is the decoded JSON-RPC shape. Exactly one of {Method set} or
// {Result xor Error set} holds for a valid message; Classify enforces this.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id,omitzero"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// Parse decodes a single frame into a Message. A decode failure means the
// frame is not JSON-RPC at all; the caller should keep the bytes as a raw
// entry.
func Parse(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &m, nil
}

// Encode serializes the message in canonical (compact) form.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// NewRequest builds a request message.
func NewRequest(id ID, method string, params any) (*Message, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		raw = b
	}
	return &Message{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification message (no id).
func NewNotification(method string, params any) (*Message, error) {
	m, err := NewRequest(ID{}, method, params)
	if err != nil {
		return nil, err
	}
	return m, nil
}

