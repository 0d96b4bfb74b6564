// Package booking implements the booking wizard: an ordered sequence of
// steps that builds a (service, staff, day, slot) draft for a client and
// submits it as an appointment.
package booking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/appointment-desk/backend/internal/availability"
	"github.com/appointment-desk/backend/internal/scheduling"
)

// Step is a wizard step.
type Step int

const (
	SelectingService Step = iota
	SelectingStaff
	SelectingDaySlot
	Confirming
)

var stepNames = map[Step]string{
	SelectingService: "selecting_service",
	SelectingStaff:   "selecting_staff",
	SelectingDaySlot: "selecting_day_slot",
	Confirming:       "confirming",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Field names used in IncompleteDraft.
const (
	FieldClient       = "client"
	FieldService      = "service"
	FieldStaff        = "staff"
	FieldDay          = "day"
	FieldSlot         = "slot"
	FieldConfirmation = "confirmation"
)

var (
	// ErrSubmitInFlight is returned when a submit or a draft edit is
	// attempted while a submit is pending.
	ErrSubmitInFlight = errors.New("a submit is already in flight")

	// ErrDraftClosed is returned for any operation on a cancelled or
	// completed wizard, including responses that arrive after it closed.
	ErrDraftClosed = errors.New("booking draft is closed")

	// ErrSlotsLoading is returned when advancing past the day/slot step
	// while its availability request is outstanding.
	ErrSlotsLoading = errors.New("slots are still loading")

	ErrStaffNotEligible = errors.New("staff member does not offer the selected service")
	ErrSlotUnavailable  = errors.New("slot is not in the current availability")
	ErrDayInPast        = errors.New("day is in the past")
	ErrInvalidDay       = errors.New("day must be YYYY-MM-DD")
)

// IncompleteDraft is returned when an action needs fields that are not set.
// It is a local precondition, not a failure to show the operator.
type IncompleteDraft struct {
	Missing []string
}

func (e *IncompleteDraft) Error() string {
	return "booking draft incomplete: missing " + strings.Join(e.Missing, ", ")
}

// Draft is the in-progress selection.
//
// Invariants: Staff is set only if Service is set and Staff offers it; Slot
// is set only if Staff, Service and Day are set.
type Draft struct {
	ClientID int64                   `json:"client_id,omitempty"`
	Service  *scheduling.Service     `json:"service,omitempty"`
	Staff    *scheduling.StaffMember `json:"staff,omitempty"`
	Day      string                  `json:"day,omitempty"`
	Slot     *availability.Slot      `json:"slot,omitempty"`
}

// Missing lists the unset fields required for submission, in step order.
func (d Draft) Missing() []string {
	var missing []string
	if d.ClientID == 0 {
		missing = append(missing, FieldClient)
	}
	if d.Service == nil {
		missing = append(missing, FieldService)
	}
	if d.Staff == nil {
		missing = append(missing, FieldStaff)
	}
	if d.Day == "" {
		missing = append(missing, FieldDay)
	}
	if d.Slot == nil {
		missing = append(missing, FieldSlot)
	}
	return missing
}

// query returns the availability query for the draft.
func (d Draft) query() availability.Query {
	q := availability.Query{Day: d.Day}
	if d.Service != nil {
		q.ServiceID = d.Service.ID
	}
	if d.Staff != nil {
		q.StaffID = d.Staff.ID
	}
	return q
}

// stepMissing returns the unset fields owned by step.
func (d Draft) stepMissing(step Step) []string {
	switch step {
	case SelectingService:
		if d.Service == nil {
			return []string{FieldService}
		}
	case SelectingStaff:
		if d.Staff == nil {
			return []string{FieldStaff}
		}
	case SelectingDaySlot:
		var missing []string
		if d.Day == "" {
			missing = append(missing, FieldDay)
		}
		if d.Slot == nil {
			missing = append(missing, FieldSlot)
		}
		return missing
	}
	return nil
}

// reachable returns the furthest step whose prerequisites are all set.
func (d Draft) reachable() Step {
	for s := SelectingService; s < Confirming; s++ {
		if len(d.stepMissing(s)) > 0 {
			return s
		}
	}
	return Confirming
}
