package feed

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/appointment-desk/backend/internal/scheduling"
	"github.com/appointment-desk/backend/internal/storage/models"
)

// Canonical event types.
const (
	EventAppointmentCreated = "appointment.created"
	EventAppointmentDeleted = "appointment.deleted"
)

// eventKinds maps every type name the server has been seen to emit onto a
// notification kind. Anything else is dropped.
var eventKinds = map[string]models.NotificationKind{
	EventAppointmentCreated: models.KindCreated,
	"appointment_created":   models.KindCreated,
	"appointments.created":  models.KindCreated,
	EventAppointmentDeleted: models.KindDeleted,
	"appointment_deleted":   models.KindDeleted,
	"appointments.deleted":  models.KindDeleted,
	"appointment.cancelled": models.KindDeleted,
	"appointment_cancelled": models.KindDeleted,
}

var presentation = map[models.NotificationKind]struct{ title, color string }{
	models.KindCreated: {"New appointment booked", "blue"},
	models.KindDeleted: {"Appointment cancelled", "red"},
}

var errNoAppointmentID = errors.New("event has no appointment id")

// IsKeepAlive reports whether data is a heartbeat rather than an event.
func IsKeepAlive(data []byte) bool {
	trimmed := strings.TrimSpace(string(data))
	return trimmed == "" || strings.HasPrefix(trimmed, ":")
}

type rawEvent struct {
	Type          string          `json:"type"`
	AppointmentID json.RawMessage `json:"appointment_id"`
	ID            json.RawMessage `json:"id"`
	Client        string          `json:"client"`
	Customer      string          `json:"customer"`
	Service       json.RawMessage `json:"service"`
	Date          string          `json:"date"`
	Time          string          `json:"time"`
	StartTime     string          `json:"start_time"`
	Staff         string          `json:"staff"`
	ReceivedAt    *time.Time      `json:"receivedAt"`
}

// Normalize turns one pushed payload into a notification. ok is false for
// keep-alives and for event types the feed does not show; err is set only
// for payloads that are not JSON or lack an appointment id.
func Normalize(data []byte, now time.Time) (n models.Notification, ok bool, err error) {
	if IsKeepAlive(data) {
		return models.Notification{}, false, nil
	}

	var ev rawEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return models.Notification{}, false, err
	}
	kind, known := eventKinds[strings.ToLower(strings.TrimSpace(ev.Type))]
	if !known {
		return models.Notification{}, false, nil
	}

	id, found := scheduling.ParseID(ev.AppointmentID)
	if !found {
		id, found = scheduling.ParseID(ev.ID)
	}
	if !found {
		return models.Notification{}, false, errNoAppointmentID
	}

	p := presentation[kind]
	n = models.Notification{
		AppointmentID: id,
		Kind:          kind,
		Title:         p.title,
		Color:         p.color,
		Client:        firstNonEmpty(ev.Client, ev.Customer),
		Service:       serviceName(ev.Service),
		Date:          ev.Date,
		Time:          firstNonEmpty(ev.Time, ev.StartTime),
		Staff:         ev.Staff,
		ReceivedAt:    now,
	}
	if ev.ReceivedAt != nil && !ev.ReceivedAt.IsZero() {
		n.ReceivedAt = *ev.ReceivedAt
	}
	return n, true, nil
}

func serviceName(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var named struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(raw, &named) == nil {
		return named.Name
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
