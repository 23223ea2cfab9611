package envelope

import (
	"errors"
	"fmt"
)

// ErrUnparseable is matched by every *ParseError.
var ErrUnparseable = errors.New("unparseable envelope")

// ErrNotEncodable is returned when Encode is given a nil or foreign envelope.
var ErrNotEncodable = errors.New("envelope cannot be encoded")

// ParseError describes why bytes could not be decoded into an envelope.
type ParseError struct {
	// Kind is the kind tag, when one could be read.
	Kind Kind
	// Reason is a short human-readable cause.
	Reason string
	// Err is the underlying JSON error, if any.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	msg := "unparseable envelope"
	if e.Kind != "" {
		msg = fmt.Sprintf("unparseable %s envelope", e.Kind)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrUnparseable.
func (e *ParseError) Is(target error) bool {
	return target == ErrUnparseable
}
