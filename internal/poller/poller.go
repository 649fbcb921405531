// Package poller runs the check cycle of one source on its schedule.
package poller

import (
	"context"
	"time"

	"automatex/internal/dispatch"
	"automatex/internal/eventbus"
	"automatex/internal/source"
	"automatex/pkg/logx"

	"github.com/google/uuid"
)

// Schedule yields the next activation strictly after t. config.Schedule and
// every robfig/cron schedule satisfy it.
type Schedule interface {
	Next(t time.Time) time.Time
}

// Dispatcher delivers the items of one cycle.
type Dispatcher interface {
	Dispatch(ctx context.Context, items []source.Notification) dispatch.Report
}

const saveTimeout = 10 * time.Second

// Poller owns the loop of a single source. Cycles never overlap: the next one
// is only scheduled once the current one has finished.
type Poller struct {
	src   source.Source
	disp  Dispatcher
	sched Schedule
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

type Option func(*Poller)

func WithBus(bus eventbus.Bus) Option { return func(p *Poller) { p.bus = bus } }

func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

func New(src source.Source, disp Dispatcher, sched Schedule, log logx.Logger, opts ...Option) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Poller{
		src:   src,
		disp:  disp,
		sched: sched,
		log:   log.With(logx.String("comp", "scheduler"), logx.String("source", src.Name())),
		now:   time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Poller) Name() string { return p.src.Name() }

// Run loads the seen store, runs one cycle immediately and then one per
// schedule activation until ctx is done. Activations missed while a cycle was
// running collapse into a single run scheduled from the time the late cycle
// finished.
func (p *Poller) Run(ctx context.Context) error {
	p.loadState(ctx)
	p.log.Info("poller started")
	defer p.log.Info("poller stopped")

	for {
		start := p.now()
		p.RunCycle(ctx)
		if ctx.Err() != nil {
			return nil
		}

		next := p.sched.Next(start)
		if now := p.now(); !next.After(now) {
			next = p.sched.Next(now)
		}
		if next.IsZero() {
			p.log.Warn("schedule has no further activations")
			<-ctx.Done()
			return nil
		}
		p.log.Debug("next check scheduled", logx.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (p *Poller) loadState(ctx context.Context) {
	ev := eventbus.StateLoaded{}
	if err := source.LoadState(ctx, p.src, p.log); err != nil {
		p.log.Error("failed to load state; starting with what is in memory", logx.Err(err))
		ev.Err = err.Error()
	}
	ev.Entries = p.src.Seen().Len()
	p.publish(eventbus.TypeStateLoaded, ev)
}

// RunCycle fetches new notifications, dispatches them in order and saves the
// seen store when anything new was found.
func (p *Poller) RunCycle(ctx context.Context) (c eventbus.Cycle) {
	c = eventbus.Cycle{ID: uuid.NewString(), Started: p.now()}
	log := p.log.With(logx.String("cycle", c.ID))
	p.publish(eventbus.TypeCycleStarted, c)
	defer func() {
		c.Duration = p.now().Sub(c.Started)
		c.Seen = p.src.Seen().Len()
		p.publish(eventbus.TypeCycleFinished, c)
	}()

	log.Debug("checking for notifications")
	items, err := p.src.FetchNew(ctx)
	if err != nil {
		c.Err = err.Error()
		if ctx.Err() != nil {
			log.Debug("check aborted", logx.Err(err))
			return c
		}
		log.Error("failed to check for notifications", logx.Err(err))
		return c
	}
	c.Fetched = len(items)
	if len(items) == 0 {
		log.Info("no new notifications")
		return c
	}

	log.Info("found new notifications", logx.Int("count", len(items)))
	rep := p.disp.Dispatch(ctx, items)
	c.Sent = rep.Sent
	c.Failed = len(rep.Failed)
	c.Canceled = rep.Canceled

	// Items are already marked seen; persist them even when shutting down.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := source.SaveState(sctx, p.src); err != nil {
		log.Error("failed to save state", logx.Err(err))
		return c
	}
	c.Saved = true
	log.Debug("state saved", logx.Int("entries", p.src.Seen().Len()))
	return c
}

func (p *Poller) publish(typ string, data any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Type: typ, Source: p.src.Name(), Time: p.now(), Data: data})
}
