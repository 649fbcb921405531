package httpserver

import (
	"context"
	"sort"
	"sync"
	"time"

	"automatex/internal/eventbus"
	rtsup "automatex/internal/runtime/supervisor"
)

// SourceStatus is the /status view of one source.
type SourceStatus struct {
	Name        string          `json:"name"`
	Running     bool            `json:"running"`
	StateLoaded bool            `json:"state_loaded"`
	StateError  string          `json:"state_error,omitempty"`
	Cycles      uint64          `json:"cycles"`
	LastCycle   *eventbus.Cycle `json:"last_cycle,omitempty"`
	LastSuccess *time.Time      `json:"last_success,omitempty"`
}

type StatusReport struct {
	Started    time.Time       `json:"started"`
	Uptime     string          `json:"uptime"`
	Goroutines *rtsup.Counters `json:"goroutines,omitempty"`
	Sources    []SourceStatus  `json:"sources"`
	Dropped    uint64          `json:"dropped_events"`
}

// Status folds cycle events into the latest per-source view.
type Status struct {
	mu      sync.RWMutex
	started time.Time
	sources map[string]*SourceStatus
	sup     *rtsup.Supervisor
	bus     eventbus.Bus
	now     func() time.Time
}

// NewStatus registers the configured sources so idle ones still show up. bus
// is only read for its dropped counter and may be nil.
func NewStatus(sources []string, bus eventbus.Bus) *Status {
	st := &Status{
		started: time.Now(),
		sources: make(map[string]*SourceStatus, len(sources)),
		bus:     bus,
		now:     time.Now,
	}
	for _, name := range sources {
		st.sources[name] = &SourceStatus{Name: name}
	}
	return st
}

// SetSupervisor attaches the app supervisor whose counters /status reports.
func (st *Status) SetSupervisor(sup *rtsup.Supervisor) {
	st.mu.Lock()
	st.sup = sup
	st.mu.Unlock()
}

// Run applies events until ctx is done or events is closed. Subscribe before
// the pollers start so their state.loaded events are not missed.
func (st *Status) Run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			st.Apply(ev)
		}
	}
}

// Apply records one event.
func (st *Status) Apply(ev eventbus.Event) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.sources[ev.Source]
	if s == nil {
		s = &SourceStatus{Name: ev.Source}
		st.sources[ev.Source] = s
	}
	switch ev.Type {
	case eventbus.TypeStateLoaded:
		d, _ := ev.Data.(eventbus.StateLoaded)
		s.StateLoaded = true
		s.StateError = d.Err
	case eventbus.TypeCycleStarted:
		s.Running = true
	case eventbus.TypeCycleFinished:
		c, _ := ev.Data.(eventbus.Cycle)
		s.Running = false
		s.Cycles++
		s.LastCycle = &c
		if c.Err == "" {
			t := ev.Time
			s.LastSuccess = &t
		}
	}
}

func (st *Status) Snapshot() StatusReport {
	st.mu.RLock()
	defer st.mu.RUnlock()
	rep := StatusReport{
		Started: st.started,
		Uptime:  st.now().Sub(st.started).Truncate(time.Second).String(),
		Sources: make([]SourceStatus, 0, len(st.sources)),
	}
	if st.sup != nil {
		c := st.sup.Counters()
		rep.Goroutines = &c
	}
	if st.bus != nil {
		rep.Dropped = st.bus.Dropped()
	}
	for _, s := range st.sources {
		cp := *s
		if s.LastCycle != nil {
			c := *s.LastCycle
			cp.LastCycle = &c
		}
		rep.Sources = append(rep.Sources, cp)
	}
	sort.Slice(rep.Sources, func(i, j int) bool { return rep.Sources[i].Name < rep.Sources[j].Name })
	return rep
}
