// Package codec frames and classifies MCP JSON-RPC 2.0 envelopes.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind discriminates the four message shapes the wire protocol allows.
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
	KindNotification
	KindBatch
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	case KindBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// ErrMalformed is the sentinel for a payload that parses as neither an
// object nor an array, or an object matching none of the four shapes.
var ErrMalformed = errors.New("codec: malformed message")

// envelope is the subset of JSON-RPC fields needed for classification.
// Unknown fields are not modeled here; Raw is forwarded untouched so
// they survive regardless.
type envelope struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// Message is one decoded JSON-RPC envelope. Raw holds the exact bytes
// as received so that forwarding never loses unknown fields or
// re-orders keys; the other fields are a structural summary used for
// routing and correlation, never for reconstruction.
type Message struct {
	Raw    json.RawMessage
	Kind   Kind
	ID     json.RawMessage // nil for Notification
	Method string          // empty for Response
}

// Batch is a decoded BatchFrame: an ordered array of individual
// messages, each classified independently.
type Batch struct {
	Raw   json.RawMessage
	Items []Message
}

// Decode parses raw bytes into a Message, classifying it structurally:
// method+id is a Request, method without id is a Notification, id with
// result or error is a Response. An array decodes as a Batch and is
// returned via DecodeAny instead.
func Decode(raw []byte) (Message, error) {
	trimmed := trimSpace(raw)
	if len(trimmed) == 0 {
		return Message{}, fmt.Errorf("codec: empty payload: %w", ErrMalformed)
	}
	if trimmed[0] == '[' {
		return Message{}, fmt.Errorf("codec: array payload is a batch, use DecodeAny: %w", ErrMalformed)
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Message{}, fmt.Errorf("codec: decode: %w: %w", err, ErrMalformed)
	}

	kind, err := classify(env)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Raw:    json.RawMessage(trimmed),
		Kind:   kind,
		ID:     env.ID,
		Method: env.Method,
	}, nil
}

// DecodeAny parses raw bytes into either a Message or a Batch,
// returning whichever shape the top-level JSON value is.
func DecodeAny(raw []byte) (Message, *Batch, error) {
	trimmed := trimSpace(raw)
	if len(trimmed) == 0 {
		return Message{}, nil, fmt.Errorf("codec: empty payload: %w", ErrMalformed)
	}
	if trimmed[0] != '[' {
		m, err := Decode(trimmed)
		return m, nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return Message{}, nil, fmt.Errorf("codec: decode batch: %w: %w", err, ErrMalformed)
	}

	items := make([]Message, 0, len(raws))
	for _, r := range raws {
		item, err := Decode(r)
		if err != nil {
			return Message{}, nil, err
		}
		items = append(items, item)
	}
	return Message{}, &Batch{Raw: json.RawMessage(trimmed), Items: items}, nil
}

// Classify reports the Kind of a raw payload without retaining it.
func Classify(raw []byte) (Kind, error) {
	trimmed := trimSpace(raw)
	if len(trimmed) == 0 {
		return 0, fmt.Errorf("codec: empty payload: %w", ErrMalformed)
	}
	if trimmed[0] == '[' {
		return KindBatch, nil
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return 0, fmt.Errorf("codec: classify: %w: %w", err, ErrMalformed)
	}
	return classify(env)
}

func classify(env envelope) (Kind, error) {
	hasID := len(env.ID) > 0 && string(env.ID) != "null"
	hasResult := len(env.Result) > 0
	hasError := len(env.Error) > 0

	switch {
	case env.Method != "" && hasID:
		return KindRequest, nil
	case env.Method != "" && !hasID:
		return KindNotification, nil
	case hasID && (hasResult || hasError):
		return KindResponse, nil
	default:
		return 0, fmt.Errorf("codec: no method/id/result/error shape matched: %w", ErrMalformed)
	}
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
