// Package calendar projects appointments into staff calendar events and
// mediates selecting and deleting them.
package calendar

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/appointment-desk/backend/internal/scheduling"
)

// UnknownStaff is shown for appointments without a staff name.
const UnknownStaff = "Unknown"

// Event is a renderable calendar entry derived from an appointment.
type Event struct {
	ID      int64     `json:"id"`
	Title   string    `json:"title"`
	Client  string    `json:"client"`
	Service string    `json:"service"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Day     string    `json:"day"`
	Staff   string    `json:"staff"`
	Color   string    `json:"color"`
}

// Project converts appointments into events, in input order. Appointments
// without a date or start time, or with values that do not parse, are
// skipped.
func Project(appts []scheduling.Appointment, loc *time.Location) []Event {
	if loc == nil {
		loc = time.Local
	}
	events := make([]Event, 0, len(appts))
	for _, a := range appts {
		ev, ok := project(a, loc)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events
}

func project(a scheduling.Appointment, loc *time.Location) (Event, bool) {
	start, err := a.Start(loc)
	if err != nil {
		return Event{}, false
	}
	end, err := a.End(loc)
	if err != nil {
		return Event{}, false
	}

	staff := a.Staff
	if staff == "" {
		staff = UnknownStaff
	}
	return Event{
		ID:      a.ID,
		Title:   fmt.Sprintf("%s - %s", a.Client, a.Service),
		Client:  a.Client,
		Service: a.Service,
		Start:   start,
		End:     end,
		Day:     start.Format(scheduling.DateLayout),
		Staff:   staff,
		Color:   StaffColor(staff),
	}, true
}

// StaffColor hashes a staff display name into a #rrggbb color with 32-bit
// FNV-1a, keeping the low 24 bits. The same name always gets the same
// color. Different names may collide and some colors have poor contrast.
func StaffColor(name string) string {
	h := fnv.New32a()
	h.Write([]byte(name))
	return fmt.Sprintf("#%06x", h.Sum32()&0xffffff)
}
