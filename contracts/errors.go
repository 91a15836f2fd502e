package contracts

import (
	"errors"
	"fmt"
)

// ErrInvalidMessage is wrapped by every decoding and validation failure
var ErrInvalidMessage = errors.New("contracts: invalid message")

// ValidationError describes the field that made a message unusable
type ValidationError struct {
	Type   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("contracts: invalid message: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("contracts: invalid %s message: %s %s", e.Type, e.Field, e.Reason)
}

// Is matches ErrInvalidMessage
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidMessage
}

func required(messageType, field string) error {
	return &ValidationError{Type: messageType, Field: field, Reason: "is required"}
}

func invalid(messageType, field, reason string) error {
	return &ValidationError{Type: messageType, Field: field, Reason: reason}
}
