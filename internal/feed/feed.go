// Package feed keeps the operator's live notification list in sync with
// appointment events pushed by the server.
//
// A Feed owns the list and mutates it only on its own event loop (Run).
// Transports deliver raw payloads through the Handler methods; the Feed
// never reconnects a transport itself.
package feed

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/appointment-desk/backend/internal/invalidation"
	"github.com/appointment-desk/backend/internal/storage/models"
	"go.uber.org/zap"
)

// ErrStopped is returned by operations issued after Run has returned.
var ErrStopped = errors.New("notification feed is stopped")

// TransportDisconnected reports that the push stream failed or closed.
type TransportDisconnected struct {
	Err error
}

func (e *TransportDisconnected) Error() string {
	if e.Err == nil {
		return "push stream disconnected"
	}
	return fmt.Sprintf("push stream disconnected: %v", e.Err)
}

func (e *TransportDisconnected) Unwrap() error {
	return e.Err
}

// Handler receives transport events.
type Handler interface {
	OnOpen()
	OnMessage(data []byte)
	OnError(err error)
}

// Transport delivers pushed payloads to a Handler until ctx is done.
type Transport interface {
	Run(ctx context.Context, h Handler) error
}

// Store persists the list between restarts.
type Store interface {
	LoadNotifications(ctx context.Context) ([]models.Notification, error)
	SaveNotifications(ctx context.Context, list []models.Notification) error
}

// Listener is told about every change. Calls happen on the feed loop, so a
// Listener must not call back into the Feed synchronously.
type Listener interface {
	NotificationUpserted(n models.Notification)
	NotificationRemoved(appointmentID int64)
	NotificationsCleared()
	FeedStatusChanged(s Status)
}

// Publisher receives invalidation signals derived from pushed events.
type Publisher interface {
	Publish(c invalidation.Change)
}

// Status describes the push connection.
type Status struct {
	Connected bool   `json:"connected"`
	LastError string `json:"last_error,omitempty"`
}

// Option configures a Feed.
type Option func(*Feed)

// WithListener adds a change listener.
func WithListener(l Listener) Option {
	return func(f *Feed) { f.listeners = append(f.listeners, l) }
}

// WithInvalidation publishes a Change for every accepted event, so views
// of appointment data refresh when someone else books or cancels.
func WithInvalidation(p Publisher) Option {
	return func(f *Feed) { f.bus = p }
}

// WithClock overrides the time source used for receivedAt.
func WithClock(now func() time.Time) Option {
	return func(f *Feed) { f.now = now }
}

// Feed is the live notification list.
type Feed struct {
	store     Store
	logger    *zap.Logger
	now       func() time.Time
	listeners []Listener
	bus       Publisher

	ops  chan func(ctx context.Context)
	done chan struct{}

	// items is owned by the loop; readers use the published snapshot.
	items    []models.Notification
	snapshot atomic.Pointer[[]models.Notification]
	status   atomic.Pointer[Status]
}

// New creates a feed. store may be nil, in which case nothing is persisted.
func New(store Store, logger *zap.Logger, opts ...Option) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Feed{
		store:  store,
		logger: logger,
		now:    time.Now,
		ops:    make(chan func(ctx context.Context), 64),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.snapshot.Store(&[]models.Notification{})
	f.status.Store(&Status{})
	return f
}

// Run loads the persisted list and processes operations until ctx is done.
// It must be called exactly once.
func (f *Feed) Run(ctx context.Context) {
	defer close(f.done)

	if f.store != nil {
		list, err := f.store.LoadNotifications(ctx)
		if err != nil {
			f.logger.Warn("loading notifications failed", zap.Error(err))
		}
		f.items = dedupe(list)
		f.publishSnapshot()
	}
	f.logger.Info("notification feed started", zap.Int("restored", len(f.items)))

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("notification feed stopped")
			return
		case op := <-f.ops:
			op(ctx)
		}
	}
}

// Notifications returns the list, newest first.
func (f *Feed) Notifications() []models.Notification {
	return slices.Clone(*f.snapshot.Load())
}

// Connected reports whether the push stream is currently open.
func (f *Feed) Connected() bool {
	return f.status.Load().Connected
}

// Status returns the connection status.
func (f *Feed) Status() Status {
	return *f.status.Load()
}

// OnOpen implements Handler.
func (f *Feed) OnOpen() {
	f.enqueue(func(ctx context.Context) {
		f.setStatus(Status{Connected: true})
		f.logger.Info("push stream connected")
	})
}

// OnError implements Handler.
func (f *Feed) OnError(err error) {
	f.enqueue(func(ctx context.Context) {
		st := Status{}
		if err != nil {
			st.LastError = err.Error()
		}
		f.setStatus(st)
		f.logger.Warn("push stream disconnected", zap.Error(err))
	})
}

// OnMessage implements Handler.
func (f *Feed) OnMessage(data []byte) {
	f.enqueue(func(ctx context.Context) {
		n, ok, err := Normalize(data, f.now())
		if err != nil {
			f.logger.Debug("dropping malformed event", zap.Error(err), zap.ByteString("payload", data))
			return
		}
		if !ok {
			return
		}
		f.upsert(ctx, n)
	})
}

// Remove drops the notification for appointmentID and reports whether one
// was present.
func (f *Feed) Remove(ctx context.Context, appointmentID int64) (bool, error) {
	var removed bool
	err := f.call(ctx, func(loopCtx context.Context) {
		before := len(f.items)
		f.items = slices.DeleteFunc(f.items, func(n models.Notification) bool {
			return n.AppointmentID == appointmentID
		})
		if removed = len(f.items) != before; !removed {
			return
		}
		f.commit(loopCtx)
		for _, l := range f.listeners {
			l.NotificationRemoved(appointmentID)
		}
	})
	return removed, err
}

// Clear empties the list.
func (f *Feed) Clear(ctx context.Context) error {
	return f.call(ctx, func(loopCtx context.Context) {
		f.items = nil
		f.commit(loopCtx)
		for _, l := range f.listeners {
			l.NotificationsCleared()
		}
	})
}

// Prune drops notifications received before cutoff and returns how many
// were dropped.
func (f *Feed) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	var pruned []int64
	err := f.call(ctx, func(loopCtx context.Context) {
		f.items = slices.DeleteFunc(f.items, func(n models.Notification) bool {
			if n.ReceivedAt.Before(cutoff) {
				pruned = append(pruned, n.AppointmentID)
				return true
			}
			return false
		})
		if len(pruned) == 0 {
			return
		}
		f.commit(loopCtx)
		for _, id := range pruned {
			for _, l := range f.listeners {
				l.NotificationRemoved(id)
			}
		}
	})
	return len(pruned), err
}

// upsert replaces any notification with the same appointment id and puts n
// first.
func (f *Feed) upsert(ctx context.Context, n models.Notification) {
	f.items = slices.DeleteFunc(f.items, func(existing models.Notification) bool {
		return existing.AppointmentID == n.AppointmentID
	})
	f.items = slices.Insert(f.items, 0, n)
	f.commit(ctx)

	for _, l := range f.listeners {
		l.NotificationUpserted(n)
	}
	if f.bus != nil {
		kind := invalidation.AppointmentCreated
		if n.Kind == models.KindDeleted {
			kind = invalidation.AppointmentDeleted
		}
		f.bus.Publish(invalidation.Change{Kind: kind, AppointmentID: n.AppointmentID, Day: n.Date})
	}
	f.logger.Debug("notification received",
		zap.Int64("appointment_id", n.AppointmentID),
		zap.String("kind", string(n.Kind)),
	)
}

// commit publishes the snapshot and persists the list. A failed save only
// loses durability; the in-memory list stays authoritative.
func (f *Feed) commit(ctx context.Context) {
	f.publishSnapshot()
	if f.store == nil {
		return
	}
	if err := f.store.SaveNotifications(ctx, f.items); err != nil {
		f.logger.Warn("saving notifications failed", zap.Error(err))
	}
}

func (f *Feed) publishSnapshot() {
	list := slices.Clone(f.items)
	if list == nil {
		list = []models.Notification{}
	}
	f.snapshot.Store(&list)
}

func (f *Feed) setStatus(st Status) {
	f.status.Store(&st)
	for _, l := range f.listeners {
		l.FeedStatusChanged(st)
	}
}

// enqueue hands op to the loop, blocking until it is queued or the loop
// has exited.
func (f *Feed) enqueue(op func(ctx context.Context)) {
	select {
	case f.ops <- op:
	case <-f.done:
	}
}

// call runs op on the loop and waits for it to finish.
func (f *Feed) call(ctx context.Context, op func(loopCtx context.Context)) error {
	finished := make(chan struct{})
	wrapped := func(loopCtx context.Context) {
		defer close(finished)
		op(loopCtx)
	}
	select {
	case f.ops <- wrapped:
	case <-f.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-f.done:
		return ErrStopped
	}
}

// dedupe keeps the first entry per appointment id.
func dedupe(list []models.Notification) []models.Notification {
	seen := make(map[int64]bool, len(list))
	out := list[:0:0]
	for _, n := range list {
		if seen[n.AppointmentID] {
			continue
		}
		seen[n.AppointmentID] = true
		out = append(out, n)
	}
	return out
}
