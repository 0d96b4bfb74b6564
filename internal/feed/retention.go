package feed

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Retention periodically prunes notifications older than a maximum age.
type Retention struct {
	feed   *Feed
	maxAge time.Duration
	cron   *cron.Cron
	now    func() time.Time
	logger *zap.Logger
}

// NewRetention creates a sweeper for feed.
func NewRetention(feed *Feed, maxAge time.Duration, logger *zap.Logger) *Retention {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retention{
		feed:   feed,
		maxAge: maxAge,
		cron:   cron.New(),
		now:    time.Now,
		logger: logger,
	}
}

// Sweep prunes once.
func (r *Retention) Sweep(ctx context.Context) (int, error) {
	n, err := r.feed.Prune(ctx, r.now().Add(-r.maxAge))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("pruned old notifications", zap.Int("count", n), zap.Duration("max_age", r.maxAge))
	}
	return n, nil
}

// Start schedules sweeps with a cron spec such as "@hourly". A zero maximum
// age disables retention and Start does nothing.
func (r *Retention) Start(spec string) error {
	if r.maxAge <= 0 {
		return nil
	}
	_, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Warn("notification retention sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}
