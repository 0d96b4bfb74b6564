package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/appointment-desk/backend/internal/appointments"
	"github.com/appointment-desk/backend/internal/invalidation"
	"github.com/appointment-desk/backend/internal/session"
	"go.uber.org/zap"
)

// Mode is the selection state.
type Mode int

const (
	Idle Mode = iota
	EventSelected
	DeleteConfirming
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case EventSelected:
		return "event_selected"
	case DeleteConfirming:
		return "delete_confirming"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

var (
	ErrNotPrivileged     = errors.New("deleting appointments requires an administrator")
	ErrInvalidTransition = errors.New("invalid selection transition")
	ErrEventNotFound     = errors.New("event not found")
)

// Deleter deletes a confirmed appointment.
type Deleter interface {
	Delete(ctx context.Context, d appointments.ConfirmedDelete) (invalidation.Change, error)
}

// SelectionState is a snapshot of the selection.
type SelectionState struct {
	Mode  Mode   `json:"mode"`
	Event *Event `json:"event,omitempty"`
}

// Selection walks Idle -> EventSelected -> DeleteConfirming. Cancel returns
// to Idle from anywhere.
type Selection struct {
	view     *View
	deleter  Deleter
	sessions session.Provider
	logger   *zap.Logger

	mu       sync.Mutex
	mode     Mode
	selected *Event
	deleting bool
}

// NewSelection creates a selection over view.
func NewSelection(view *View, deleter Deleter, sessions session.Provider, logger *zap.Logger) *Selection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selection{view: view, deleter: deleter, sessions: sessions, logger: logger}
}

// State returns the current selection.
func (s *Selection) State() SelectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Selection) stateLocked() SelectionState {
	st := SelectionState{Mode: s.mode}
	if s.selected != nil {
		ev := *s.selected
		st.Event = &ev
	}
	return st
}

// Select opens the detail of an event. Selecting replaces any earlier
// selection, including one awaiting delete confirmation.
func (s *Selection) Select(id int64) (SelectionState, error) {
	ev, ok := s.view.Event(id)
	if !ok {
		return s.State(), ErrEventNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleting {
		return s.stateLocked(), ErrInvalidTransition
	}
	s.mode = EventSelected
	s.selected = &ev
	return s.stateLocked(), nil
}

// RequestDelete asks for confirmation to delete the selected event. Only
// privileged operators may do this.
func (s *Selection) RequestDelete() (SelectionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != EventSelected {
		return s.stateLocked(), ErrInvalidTransition
	}
	if !s.sessions.Current().Privileged() {
		return s.stateLocked(), ErrNotPrivileged
	}
	s.mode = DeleteConfirming
	return s.stateLocked(), nil
}

// Confirm deletes the selected event. The event leaves the view before the
// request is sent. If the delete fails the event is put back and stays
// selected.
func (s *Selection) Confirm(ctx context.Context) (SelectionState, error) {
	s.mu.Lock()
	if s.mode != DeleteConfirming || s.deleting {
		st := s.stateLocked()
		s.mu.Unlock()
		return st, ErrInvalidTransition
	}
	if !s.sessions.Current().Privileged() {
		st := s.stateLocked()
		s.mu.Unlock()
		return st, ErrNotPrivileged
	}
	ev := *s.selected
	s.deleting = true
	s.mu.Unlock()

	s.view.RemoveOptimistic(ev.ID)
	_, err := s.deleter.Delete(ctx, appointments.ConfirmDelete(ev.ID, ev.Day))
	if err != nil {
		s.view.Restore(ev.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleting = false
	if err != nil {
		s.mode = EventSelected
		s.logger.Warn("appointment delete failed", zap.Int64("appointment_id", ev.ID), zap.Error(err))
		return s.stateLocked(), err
	}
	s.mode = Idle
	s.selected = nil
	return s.stateLocked(), nil
}

// Cancel returns to Idle.
func (s *Selection) Cancel() SelectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleting {
		return s.stateLocked()
	}
	s.mode = Idle
	s.selected = nil
	return s.stateLocked()
}
