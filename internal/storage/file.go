package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"automatex/pkg/logx"
)

// fileBackend keeps each snapshot in its own file. Writes go to "<path>.tmp"
// and are renamed over the target so readers never see a partial document.
type fileBackend struct {
	log logx.Logger

	// mu serializes writers per process; different keys rarely contend.
	mu sync.Mutex
}

func newFileBackend(log logx.Logger) *fileBackend {
	return &fileBackend{log: log}
}

func (b *fileBackend) Read(ctx context.Context, key string) ([]byte, error) {
	_ = ctx
	path := strings.TrimSpace(key)
	if path == "" {
		return nil, errors.New("snapshot path is required")
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *fileBackend) Write(ctx context.Context, key string, body []byte) error {
	_ = ctx
	path := strings.TrimSpace(key)
	if path == "" {
		return errors.New("snapshot path is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	b.log.Debug("snapshot written", logx.String("path", path), logx.Int("bytes", len(body)))
	return nil
}

func (b *fileBackend) Close() error { return nil }
