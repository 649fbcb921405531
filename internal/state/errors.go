package state

import "fmt"

// DeserializationError means the snapshot exists but is not a valid
// JSON array of entries.
type DeserializationError struct {
	Key string
	Err error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("decode snapshot %s: %v", e.Key, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// SerializationError means the in-memory map could not be encoded.
type SerializationError struct {
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("encode snapshot %s: %v", e.Key, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// IOError wraps a storage read or write failure.
type IOError struct {
	Op  string // "read" | "write"
	Key string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s snapshot %s: %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
