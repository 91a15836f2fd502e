package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Validator is implemented by every inbound message
type Validator interface {
	Validate() error
}

// PeekType checks that body is a JSON object and returns its "type" field,
// or "" when the field is absent or not a string. Email payloads carry an
// unrelated "type" template local, so a non-string value is left to the
// handler's own decode.
func PeekType(body []byte) (string, error) {
	var head struct {
		Type *json.RawMessage `json:"type"`
	}
	if err := decodeObject(body, &head); err != nil {
		return "", err
	}
	if head.Type == nil || bytes.Equal(*head.Type, null) {
		return "", nil
	}

	var messageType string
	if err := json.Unmarshal(*head.Type, &messageType); err != nil {
		return "", nil
	}
	return messageType, nil
}

// Decode unmarshals body into msg and validates it. Every failure wraps
// ErrInvalidMessage.
func Decode(body []byte, msg Validator) error {
	if err := decodeObject(body, msg); err != nil {
		return err
	}
	return msg.Validate()
}

func decodeObject(body []byte, v any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: payload is not a JSON object", ErrInvalidMessage)
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// ParseCount reads a seller count sent as a JSON number or numeric string.
// Fractions are truncated the way the gig service's parseInt does.
func ParseCount(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, null) {
		return 0, invalid(TypeGetSellers, "count", "is required")
	}

	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, invalid(TypeGetSellers, "count", "is not a string or number")
		}
	} else {
		text = string(raw)
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, invalid(TypeGetSellers, "count", "is not numeric")
	}
	if f < 0 {
		return 0, invalid(TypeGetSellers, "count", "must not be negative")
	}
	if f > math.MaxInt32 {
		return 0, invalid(TypeGetSellers, "count", "is too large")
	}
	return int(f), nil
}
