package booking

import (
	"errors"
	"sync"
	"time"

	"github.com/appointment-desk/backend/internal/appointments"
	"github.com/appointment-desk/backend/internal/availability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrWizardNotFound is returned for unknown or already discarded wizards.
var ErrWizardNotFound = errors.New("wizard not found")

// Sessions tracks the open wizards of the dashboard. A wizard is dropped
// when it is cancelled or completes.
type Sessions struct {
	resolver   availability.SlotResolver
	submitter  Submitter
	loc        *time.Location
	logger     *zap.Logger
	opts       []Option
	onComplete func(id string, res appointments.Result)

	mu      sync.RWMutex
	wizards map[string]*Wizard
}

// NewSessions creates a registry. opts apply to every wizard it opens.
func NewSessions(resolver availability.SlotResolver, submitter Submitter, loc *time.Location, logger *zap.Logger, opts ...Option) *Sessions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sessions{
		resolver:  resolver,
		submitter: submitter,
		loc:       loc,
		logger:    logger,
		opts:      opts,
		wizards:   make(map[string]*Wizard),
	}
}

// OnComplete registers a callback invoked after any wizard completes.
func (s *Sessions) OnComplete(fn func(id string, res appointments.Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = fn
}

// Open starts a wizard for clientID.
func (s *Sessions) Open(clientID int64) *Wizard {
	id := uuid.NewString()
	opts := append([]Option{WithLogger(s.logger)}, s.opts...)
	opts = append(opts, WithCompletion(s.completed))
	w := NewWizard(id, clientID, s.resolver, s.submitter, s.loc, opts...)

	s.mu.Lock()
	s.wizards[id] = w
	s.mu.Unlock()

	s.logger.Debug("wizard opened", zap.String("wizard_id", id), zap.Int64("client_id", clientID))
	return w
}

// Get returns an open wizard.
func (s *Sessions) Get(id string) (*Wizard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wizards[id]
	if !ok {
		return nil, ErrWizardNotFound
	}
	return w, nil
}

// Cancel closes and drops a wizard.
func (s *Sessions) Cancel(id string) error {
	s.mu.Lock()
	w, ok := s.wizards[id]
	delete(s.wizards, id)
	s.mu.Unlock()

	if !ok {
		return ErrWizardNotFound
	}
	w.Close()
	s.logger.Debug("wizard cancelled", zap.String("wizard_id", id))
	return nil
}

// Len returns the number of open wizards.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wizards)
}

// CloseAll cancels every open wizard.
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	wizards := s.wizards
	s.wizards = make(map[string]*Wizard)
	s.mu.Unlock()

	for _, w := range wizards {
		w.Close()
	}
}

func (s *Sessions) completed(id string, res appointments.Result) {
	s.mu.Lock()
	delete(s.wizards, id)
	fn := s.onComplete
	s.mu.Unlock()

	s.logger.Info("booking completed",
		zap.String("wizard_id", id),
		zap.Int64("appointment_id", res.Appointment.ID),
	)
	if fn != nil {
		fn(id, res)
	}
}
