// Package eventbus fans poll cycle events out to in-process observers
// (status page, metrics) without coupling them to the pollers.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the pollers.
const (
	TypeCycleStarted  = "cycle.started"
	TypeCycleFinished = "cycle.finished"
	TypeStateLoaded   = "state.loaded"
)

// Event is a small in-memory signal.
//
// Publish never blocks. Subscribers get buffered channels and slow subscribers
// drop events.
type Event struct {
	Type   string
	Source string
	Time   time.Time
	Data   any
}

// Cycle is the Data of TypeCycleStarted and TypeCycleFinished events.
type Cycle struct {
	ID       string        `json:"id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Fetched  int           `json:"fetched"`
	Sent     int           `json:"sent"`
	Failed   int           `json:"failed"`
	Canceled int           `json:"canceled,omitempty"`
	Saved    bool          `json:"saved"`
	Seen     int           `json:"seen"`
	Err      string        `json:"error,omitempty"`
}

// StateLoaded is the Data of TypeStateLoaded events.
type StateLoaded struct {
	Entries int    `json:"entries"`
	Err     string `json:"error,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// Dropped counts events not delivered to a full subscriber.
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch; recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
