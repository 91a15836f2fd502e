// Package contracts defines the JSON payloads exchanged between the jobber
// services over the broker.
//
// Every payload is a JSON object. Except on the auth email queue, which is
// selected by exchange alone, the object carries a string "type" field that
// selects the handler. Messages are decoded with Decode, which validates the
// fields the message type needs; a failure wraps ErrInvalidMessage and the
// message is dead-lettered rather than retried.
//
// Producers in other services are not strict about scalar types (numbers
// arrive as strings and the other way round), so fields that are only passed
// through use Text and counters use Number.
package contracts
