// Package session carries the operator's authenticated context (identity,
// privilege and anti-forgery token) into the components that talk to the
// scheduling API. Components receive a Provider at construction instead of
// reading ambient state.
package session

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// AdminGroup is the group name the API uses for administrators.
const AdminGroup = "Admins"

// Context is a snapshot of the operator session.
type Context struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Group     string `json:"group"`
	Superuser bool   `json:"is_superuser"`
	SessionID string `json:"-"`
	CSRFToken string `json:"-"`
}

// Privileged reports whether the operator may perform destructive actions
// such as deleting appointments.
func (c Context) Privileged() bool {
	return c.Superuser || c.Group == AdminGroup
}

// HasToken reports whether an anti-forgery token is available.
func (c Context) HasToken() bool {
	return c.CSRFToken != ""
}

// Provider returns the current session.
type Provider interface {
	Current() Context
}

// Static is a Provider that always returns the same session.
type Static struct {
	ctx Context
}

// NewStatic creates a provider for a fixed session.
func NewStatic(ctx Context) Static {
	return Static{ctx: ctx}
}

// Current returns the fixed session.
func (s Static) Current() Context {
	return s.ctx
}

// Fetcher resolves a session id into a full session context.
type Fetcher interface {
	FetchSession(ctx context.Context, sessionID string) (Context, error)
}

// Remote is a Provider backed by the API's session endpoint. It starts from
// a seed context and refreshes it periodically.
type Remote struct {
	fetcher  Fetcher
	logger   *zap.Logger
	cron     *cron.Cron
	interval string

	mu      sync.RWMutex
	current Context
}

// NewRemote creates a remote provider. interval uses the cron "@every"
// duration syntax, e.g. "5m0s".
func NewRemote(fetcher Fetcher, seed Context, interval string, logger *zap.Logger) *Remote {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remote{
		fetcher:  fetcher,
		logger:   logger,
		cron:     cron.New(),
		interval: interval,
		current:  seed,
	}
}

// Current returns the most recently fetched session.
func (r *Remote) Current() Context {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Refresh fetches the session once. On failure the previous session is kept.
func (r *Remote) Refresh(ctx context.Context) error {
	seed := r.Current()
	next, err := r.fetcher.FetchSession(ctx, seed.SessionID)
	if err != nil {
		return err
	}
	if next.SessionID == "" {
		next.SessionID = seed.SessionID
	}
	if next.CSRFToken == "" {
		next.CSRFToken = seed.CSRFToken
	}

	r.mu.Lock()
	r.current = next
	r.mu.Unlock()
	return nil
}

// Start performs an initial refresh and schedules periodic ones.
func (r *Remote) Start(ctx context.Context) error {
	if err := r.Refresh(ctx); err != nil {
		return err
	}

	_, err := r.cron.AddFunc("@every "+r.interval, func() {
		if err := r.Refresh(context.Background()); err != nil {
			r.logger.Warn("session refresh failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts periodic refreshes and waits for a running one to finish.
func (r *Remote) Stop() {
	<-r.cron.Stop().Done()
}
