// Package protocol implements the line-delimited JSON wire format: one JSON
// object per newline-terminated line in each direction.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"conquest/internal/domain"
)

// Version is the protocol version spoken by this server.
const Version = 1

// Greeting is sent in the hello envelope when a connection opens.
const Greeting = "Conquest authoritative server ready"

// Request is a decoded client message.
type Request struct {
	Type      string
	Kind      Kind
	Payload   Payload
	RequestID *string
	// ProtocolVersion is nil when the client did not send one.
	ProtocolVersion *int64
}

// OK is the success envelope.
type OK struct {
	Type        string  `json:"type"`
	RequestType string  `json:"request_type"`
	Data        any     `json:"data"`
	RequestID   *string `json:"request_id,omitempty"`
}

// Error is the failure envelope.
type Error struct {
	Type      string         `json:"type"`
	Code      domain.Code    `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	RequestID *string        `json:"request_id,omitempty"`
}

// Hello is the greeting sent when a connection opens.
type Hello struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocol_version"`
	Message         string `json:"message"`
}

func protocolError(code domain.Code, format string, args ...any) *domain.Error {
	return domain.NewError(domain.KindProtocol, code, fmt.Sprintf(format, args...))
}

// Decode parses one line into a Request. Failures are *domain.Error values
// with protocol codes. When the line is an object with a valid request_id,
// the returned Request carries it even on error so the reply can echo it.
func Decode(line []byte) (*Request, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, protocolError(domain.CodeEmptyPayload, "Empty payload")
	}

	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, protocolError(domain.CodeInvalidJSON, "Invalid JSON: %v", err)
	}
	if dec.More() {
		return nil, protocolError(domain.CodeInvalidJSON, "Invalid JSON: trailing data after object")
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, protocolError(domain.CodeInvalidMessage, "Message must be a JSON object")
	}

	req := &Request{}
	if v, present := obj["request_id"]; present {
		id, ok := v.(string)
		if !ok {
			return nil, protocolError(domain.CodeInvalidRequestID, "request_id must be a string")
		}
		req.RequestID = &id
	}

	typ, ok := obj["type"].(string)
	if !ok {
		return req, protocolError(domain.CodeMissingType, "Message missing 'type'")
	}
	req.Type = typ
	req.Kind = ParseKind(typ)

	if v, present := obj["protocol_version"]; present {
		num, isNumber := v.(json.Number)
		n, err := asInt(num)
		if !isNumber || err != nil {
			return req, protocolError(domain.CodeInvalidProtocolVersion, "protocol_version must be an integer")
		}
		req.ProtocolVersion = &n
	}

	switch p := obj["payload"].(type) {
	case nil:
		req.Payload = Payload{}
	case map[string]any:
		req.Payload = Payload(p)
	default:
		return req, protocolError(domain.CodeInvalidMessage, "'payload' must be a JSON object")
	}
	return req, nil
}

// EncodeOK renders a success envelope followed by a newline.
func EncodeOK(requestType string, requestID *string, data any) ([]byte, error) {
	return encode(OK{Type: "ok", RequestType: requestType, Data: data, RequestID: requestID})
}

// EncodeError renders an error envelope followed by a newline.
func EncodeError(e *domain.Error, requestID *string) []byte {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	b, err := encode(Error{Type: "error", Code: e.Code, Message: e.Message, Details: details, RequestID: requestID})
	if err != nil {
		// Details that cannot be marshalled are dropped rather than losing the error.
		b, _ = encode(Error{Type: "error", Code: e.Code, Message: e.Message, Details: map[string]any{}, RequestID: requestID})
	}
	return b
}

// EncodeHello renders the greeting envelope.
func EncodeHello() []byte {
	b, _ := encode(Hello{Type: "hello", ProtocolVersion: Version, Message: Greeting})
	return b
}

func encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Timestamp renders t as fractional Unix seconds with millisecond precision.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

var errNotInteger = errors.New("not an integer")

// asInt accepts JSON numbers with an integral value and strings holding one.
func asInt(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil || f != float64(int64(f)) {
			return 0, errNotInteger
		}
		return int64(f), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, errNotInteger
		}
		return i, nil
	default:
		return 0, errNotInteger
	}
}
