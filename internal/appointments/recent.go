package appointments

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/appointment-desk/backend/internal/invalidation"
	"github.com/appointment-desk/backend/internal/scheduling"
	"go.uber.org/zap"
)

// RecentLister loads the most recently booked appointments.
type RecentLister interface {
	Recent(ctx context.Context) ([]scheduling.Appointment, error)
}

// RecentView caches the recent appointments list and reloads it whenever an
// appointment changes.
type RecentView struct {
	lister RecentLister
	logger *zap.Logger

	mu          sync.RWMutex
	items       []scheduling.Appointment
	refreshedAt time.Time
	lastErr     error
}

// NewRecentView creates an empty view.
func NewRecentView(lister RecentLister, logger *zap.Logger) *RecentView {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecentView{lister: lister, logger: logger}
}

// Items returns the cached list.
func (v *RecentView) Items() []scheduling.Appointment {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.items)
}

// Status reports the last successful refresh and the last error.
func (v *RecentView) Status() (time.Time, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.refreshedAt, v.lastErr
}

// Refresh reloads the list. On failure the cached list is kept.
func (v *RecentView) Refresh(ctx context.Context) ([]scheduling.Appointment, error) {
	items, err := v.lister.Recent(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.lastErr = err
		return nil, err
	}
	v.items = items
	v.refreshedAt = time.Now()
	v.lastErr = nil
	return slices.Clone(items), nil
}

// Run refreshes on every change until ctx is done or changes is closed.
// Changes queued during a refresh collapse into one reload.
func (v *RecentView) Run(ctx context.Context, changes <-chan invalidation.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			for pending := true; pending; {
				select {
				case _, ok := <-changes:
					pending = ok
				default:
					pending = false
				}
			}
			if _, err := v.Refresh(ctx); err != nil && ctx.Err() == nil {
				v.logger.Warn("recent appointments refresh failed", zap.Error(err))
			}
		}
	}
}
