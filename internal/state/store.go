// Package state keeps the per-source record of already announced events.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"automatex/internal/storage"
)

// Entry is one element of the persisted snapshot array.
type Entry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// Store maps event ids to their event time (unix seconds).
//
// Retention is applied only by Load: entries older than now-retention are not
// brought back. Save writes whatever is in memory.
type Store struct {
	key       string
	retention time.Duration
	backend   storage.Backend
	now       func() time.Time

	mu   sync.RWMutex
	seen map[string]int64
}

type Option func(*Store)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty store persisted under key in backend.
func New(backend storage.Backend, key string, retention time.Duration, opts ...Option) *Store {
	s := &Store{
		key:       key,
		retention: retention,
		backend:   backend,
		now:       time.Now,
		seen:      make(map[string]int64),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Key() string              { return s.key }
func (s *Store) Retention() time.Duration { return s.retention }

func (s *Store) IsSeen(id string) bool {
	s.mu.RLock()
	_, ok := s.seen[id]
	s.mu.RUnlock()
	return ok
}

// Add records id with its event time. Re-adding overwrites the timestamp.
func (s *Store) Add(id string, ts int64) {
	s.mu.Lock()
	s.seen[id] = ts
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

// Load merges the persisted snapshot into memory and returns how many entries
// were kept and how many were dropped as expired.
//
// A missing snapshot is not an error. On a decode failure the in-memory map is
// left untouched.
func (s *Store) Load(ctx context.Context) (kept, dropped int, err error) {
	body, err := s.backend.Read(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, &IOError{Op: "read", Key: s.key, Err: err}
	}

	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return 0, 0, &DeserializationError{Key: s.key, Err: err}
	}

	cutoff := s.now().Add(-s.retention).Unix()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.Timestamp < cutoff {
			dropped++
			continue
		}
		s.seen[e.ID] = e.Timestamp
		kept++
	}
	return kept, dropped, nil
}

// Save replaces the persisted snapshot with the current map, ordered by
// timestamp then id.
func (s *Store) Save(ctx context.Context) error {
	s.mu.RLock()
	entries := make([]Entry, 0, len(s.seen))
	for id, ts := range s.seen {
		entries = append(entries, Entry{ID: id, Timestamp: ts})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp != entries[j].Timestamp {
			return entries[i].Timestamp < entries[j].Timestamp
		}
		return entries[i].ID < entries[j].ID
	})

	body, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return &SerializationError{Key: s.key, Err: err}
	}
	if err := s.backend.Write(ctx, s.key, body); err != nil {
		return &IOError{Op: "write", Key: s.key, Err: err}
	}
	return nil
}
