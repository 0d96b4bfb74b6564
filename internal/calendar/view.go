package calendar

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/appointment-desk/backend/internal/invalidation"
	"github.com/appointment-desk/backend/internal/scheduling"
	"go.uber.org/zap"
)

// Lister loads the authoritative appointment list.
type Lister interface {
	List(ctx context.Context) ([]scheduling.Appointment, error)
}

// View holds the projected events between refreshes.
//
// A confirmed delete removes its event right away and leaves a tombstone
// for the id. Refreshes hide tombstoned ids; the first successful refresh
// that started after the tombstone forgets it, so a refresh that raced the
// delete cannot bring the event back and a later refresh shows whatever
// the server reports. A refresh that lands after a newer one has already
// been applied is dropped.
type View struct {
	lister Lister
	loc    *time.Location
	logger *zap.Logger

	mu          sync.RWMutex
	events      []Event
	tombstones  map[int64]tombstone
	started     uint64
	applied     uint64
	refreshedAt time.Time
	lastErr     error
	onRefresh   []func([]Event)
}

// tombstone remembers a removed event and the last refresh started before
// the removal.
type tombstone struct {
	event Event
	after uint64
}

// NewView creates an empty view.
func NewView(lister Lister, loc *time.Location, logger *zap.Logger) *View {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &View{
		lister:     lister,
		loc:        loc,
		logger:     logger,
		tombstones: make(map[int64]tombstone),
	}
}

// OnRefresh registers a callback run after every successful refresh and
// after every optimistic change.
func (v *View) OnRefresh(fn func([]Event)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onRefresh = append(v.onRefresh, fn)
}

// Events returns a copy of the current events.
func (v *View) Events() []Event {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.events)
}

// Event returns one event by id.
func (v *View) Event(id int64) (Event, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, ev := range v.events {
		if ev.ID == id {
			return ev, true
		}
	}
	return Event{}, false
}

// Status reports when the view was last refreshed and the last refresh
// error, if the most recent attempt failed.
func (v *View) Status() (time.Time, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.refreshedAt, v.lastErr
}

// Refresh reloads appointments and replaces the events. On failure the
// previous events and tombstones are kept. When a refresh that started
// later has already been applied, the result is dropped and the current
// events are returned.
func (v *View) Refresh(ctx context.Context) ([]Event, error) {
	v.mu.Lock()
	v.started++
	gen := v.started
	v.mu.Unlock()

	appts, err := v.lister.List(ctx)
	if err != nil {
		v.mu.Lock()
		if gen > v.applied {
			v.lastErr = err
		}
		v.mu.Unlock()
		return nil, err
	}
	projected := Project(appts, v.loc)

	v.mu.Lock()
	if gen < v.applied {
		events := slices.Clone(v.events)
		v.mu.Unlock()
		v.logger.Debug("dropping superseded calendar refresh", zap.Uint64("generation", gen))
		return events, nil
	}
	if len(v.tombstones) > 0 {
		projected = slices.DeleteFunc(projected, func(ev Event) bool {
			_, dead := v.tombstones[ev.ID]
			return dead
		})
		maps.DeleteFunc(v.tombstones, func(_ int64, t tombstone) bool {
			return gen > t.after
		})
	}
	v.applied = gen
	v.events = projected
	v.refreshedAt = time.Now()
	v.lastErr = nil
	events, hooks := slices.Clone(v.events), slices.Clone(v.onRefresh)
	v.mu.Unlock()

	skipped := len(appts) - len(projected)
	v.logger.Debug("calendar refreshed", zap.Int("events", len(events)), zap.Int("skipped", skipped))
	for _, fn := range hooks {
		fn(events)
	}
	return events, nil
}

// RemoveOptimistic drops an event and tombstones its id. It reports
// whether the event was present.
func (v *View) RemoveOptimistic(id int64) bool {
	v.mu.Lock()
	idx := slices.IndexFunc(v.events, func(ev Event) bool { return ev.ID == id })
	if idx < 0 {
		v.tombstones[id] = tombstone{event: Event{ID: id}, after: v.started}
		v.mu.Unlock()
		return false
	}
	v.tombstones[id] = tombstone{event: v.events[idx], after: v.started}
	v.events = slices.Delete(v.events, idx, idx+1)
	events, hooks := slices.Clone(v.events), slices.Clone(v.onRefresh)
	v.mu.Unlock()

	for _, fn := range hooks {
		fn(events)
	}
	return true
}

// Restore undoes an optimistic removal whose delete failed.
func (v *View) Restore(id int64) {
	v.mu.Lock()
	t, ok := v.tombstones[id]
	delete(v.tombstones, id)
	ev := t.event
	if !ok || ev.Start.IsZero() || slices.ContainsFunc(v.events, func(e Event) bool { return e.ID == id }) {
		v.mu.Unlock()
		return
	}
	v.events = append(v.events, ev)
	slices.SortStableFunc(v.events, func(a, b Event) int { return a.Start.Compare(b.Start) })
	events, hooks := slices.Clone(v.events), slices.Clone(v.onRefresh)
	v.mu.Unlock()

	for _, fn := range hooks {
		fn(events)
	}
}

// Run refreshes the view on every invalidation signal until ctx is done or
// changes is closed. Signals that queue up during a refresh are coalesced.
func (v *View) Run(ctx context.Context, changes <-chan invalidation.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			drain(changes)
			if _, err := v.Refresh(ctx); err != nil && ctx.Err() == nil {
				v.logger.Warn("calendar refresh failed",
					zap.String("trigger", string(change.Kind)),
					zap.Int64("appointment_id", change.AppointmentID),
					zap.Error(err),
				)
			}
		}
	}
}

func drain(changes <-chan invalidation.Change) {
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
