package availability

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// ErrSuperseded is returned by Tracker.Update when a newer query replaced
// the one being resolved before its response arrived. The response has been
// discarded.
var ErrSuperseded = errors.New("availability query superseded")

// SlotResolver resolves one availability query.
type SlotResolver interface {
	Resolve(ctx context.Context, q Query) (*Slots, error)
}

// State is a snapshot of the tracker.
type State struct {
	Query   Query  `json:"query"`
	Slots   []Slot `json:"slots"`
	Loading bool   `json:"loading"`
	Err     error  `json:"-"`
}

// Tracker holds the slots of the latest query only. Starting a new query
// drops the previous result immediately, and a response that arrives for a
// query that is no longer current never becomes visible.
type Tracker struct {
	resolver SlotResolver

	mu      sync.Mutex
	gen     uint64
	query   Query
	slots   []Slot
	loading bool
	err     error
}

// NewTracker creates a tracker on top of resolver.
func NewTracker(resolver SlotResolver) *Tracker {
	return &Tracker{resolver: resolver}
}

// Update resolves q and, if q is still current when the response arrives,
// publishes the result.
func (t *Tracker) Update(ctx context.Context, q Query) ([]Slot, error) {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.query = q
	t.slots = nil
	t.err = nil
	t.loading = true
	t.mu.Unlock()

	result, err := t.resolver.Resolve(ctx, q)
	var slots []Slot
	if err == nil {
		slots = slices.Collect(result.All())
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return nil, ErrSuperseded
	}
	t.loading = false
	t.err = err
	t.slots = slots
	if err != nil {
		return nil, err
	}
	return slices.Clone(slots), nil
}

// Invalidate drops the current result and any outstanding response.
func (t *Tracker) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	t.query = Query{}
	t.slots = nil
	t.err = nil
	t.loading = false
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		Query:   t.query,
		Slots:   slices.Clone(t.slots),
		Loading: t.loading,
		Err:     t.err,
	}
}

// Loading reports whether a query is outstanding.
func (t *Tracker) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}

// Lookup finds a slot of the current result by start instant or by the raw
// server value.
func (t *Tracker) Lookup(start time.Time, raw string) (Slot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.slots {
		if (raw != "" && s.Raw == raw) || (!start.IsZero() && s.Start.Equal(start)) {
			return s, true
		}
	}
	return Slot{}, false
}
