package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Read when no snapshot exists under the key.
	ErrNotFound = errors.New("snapshot not found")
	ErrClosed   = errors.New("storage closed")
)

// Config configures the backend.
//
// For the file driver, keys are file paths. For the sqlite driver, keys are
// opaque names and Path is the database file.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Backend stores whole snapshot documents. Write replaces the previous
// document for the key.
type Backend interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, body []byte) error
	Close() error
}
