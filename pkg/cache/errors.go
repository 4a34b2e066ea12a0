package cache

import (
	"errors"
	"fmt"

	"github.com/fehlmann/tiercache/pkg/keys"
)

// OpError wraps a tier or tag-index failure with the operation and tier
// it occurred on.
type OpError struct {
	Op   string
	Tier string
	Err  error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	return fmt.Sprintf("cache %s on %s tier: %v", e.Op, e.Tier, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *OpError) Unwrap() error {
	return e.Err
}

// SerializationError wraps a value encode/decode failure.
type SerializationError struct {
	Err error
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("cache serialization: %v", e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *SerializationError) Unwrap() error {
	return e.Err
}

// IsKeyValidation reports whether err is a key validation failure.
// Write paths propagate these; read paths log them and degrade to a miss.
func IsKeyValidation(err error) bool {
	return keys.IsKeyError(err)
}

// IsSerialization reports whether err is a serialization failure.
func IsSerialization(err error) bool {
	var se *SerializationError
	return errors.As(err, &se)
}
