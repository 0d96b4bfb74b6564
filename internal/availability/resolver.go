// Package availability queries the scheduling API for bookable slots and
// keeps the result bound to the query that produced it.
package availability

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"github.com/appointment-desk/backend/internal/scheduling"
	"go.uber.org/zap"
)

// ErrIncompleteQuery is returned when any of staff, service or day is unset.
var ErrIncompleteQuery = errors.New("availability query requires staff, service and day")

// Query identifies one availability lookup. Day is YYYY-MM-DD.
type Query struct {
	StaffID   int64  `json:"staff_id"`
	ServiceID int64  `json:"service_id"`
	Day       string `json:"day"`
}

// Complete reports whether every field is set.
func (q Query) Complete() bool {
	return q.StaffID != 0 && q.ServiceID != 0 && q.Day != ""
}

func (q Query) path() string {
	return fmt.Sprintf("/staffs/availability/%d/%d/%s/", q.StaffID, q.ServiceID, q.Day)
}

// Slot is one bookable start instant. Raw is the value the server sent and
// is what gets echoed back when a slot is picked.
type Slot struct {
	Start time.Time `json:"start"`
	Raw   string    `json:"raw"`
}

// Label renders the slot start as HH:MM.
func (s Slot) Label() string {
	return s.Start.Format(scheduling.ClockLayout)
}

// Getter is the subset of the scheduling client the resolver needs.
type Getter interface {
	Get(ctx context.Context, path string, out any) error
}

// Resolver fetches slots from the scheduling API.
type Resolver struct {
	api    Getter
	loc    *time.Location
	logger *zap.Logger
}

// NewResolver creates a resolver. Slots without a zone are interpreted in loc.
func NewResolver(api Getter, loc *time.Location, logger *zap.Logger) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{api: api, loc: loc, logger: logger}
}

// Resolve performs exactly one request for q. A response without slots
// yields an empty sequence. Failures are returned as
// *scheduling.ResolutionFailure and are not retried.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*Slots, error) {
	if !q.Complete() {
		return nil, ErrIncompleteQuery
	}
	day, err := time.ParseInLocation(scheduling.DateLayout, q.Day, r.loc)
	if err != nil {
		return nil, fmt.Errorf("availability day %q: %w", q.Day, err)
	}

	var resp struct {
		Slots []string `json:"slots"`
	}
	if err := r.api.Get(ctx, q.path(), &resp); err != nil {
		r.logger.Debug("availability query failed",
			zap.Int64("staff_id", q.StaffID),
			zap.Int64("service_id", q.ServiceID),
			zap.String("day", q.Day),
			zap.Error(err),
		)
		return nil, scheduling.ToResolutionFailure(err)
	}

	return &Slots{query: q, day: day, loc: r.loc, raw: resp.Slots}, nil
}

// Slots is the result of one resolution. It can be iterated once; raw
// server values are normalized as they are yielded and entries that cannot
// be parsed are skipped.
type Slots struct {
	query    Query
	day      time.Time
	loc      *time.Location
	raw      []string
	consumed atomic.Bool
}

// Query returns the query that produced the slots.
func (s *Slots) Query() Query {
	return s.query
}

// All returns the slot sequence. Only the first iteration yields values.
func (s *Slots) All() iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			return
		}
		for _, raw := range s.raw {
			start, ok := parseSlot(raw, s.day, s.loc)
			if !ok {
				continue
			}
			if !yield(Slot{Start: start, Raw: raw}) {
				return
			}
		}
	}
}

var slotLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

// parseSlot accepts full timestamps in the layouts above, or a bare clock
// time which is placed on the queried day.
func parseSlot(raw string, day time.Time, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range slotLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.In(loc), true
		}
	}
	h, m, sec, err := scheduling.ParseClock(raw)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, sec, 0, loc), true
}
