package messaging

import (
	"errors"
	"fmt"

	"github.com/glimte/jobber-go/contracts"
)

var (
	// ErrUnknownType means no handler is registered for the message type. The
	// message is acknowledged and dropped.
	ErrUnknownType = errors.New("messaging: unknown message type")

	// ErrMalformed means the message can never be processed. It is rejected
	// without requeue.
	ErrMalformed = errors.New("messaging: malformed message")

	// ErrNoChannel means a consumer has neither a channel nor a provider
	ErrNoChannel = errors.New("messaging: no channel or channel provider")
)

// Malformed marks err as a permanent message failure
func Malformed(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrMalformed, err)
}

// IsMalformed reports whether err means the message must not be retried
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, contracts.ErrInvalidMessage)
}
