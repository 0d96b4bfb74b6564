package websocket

import (
	"github.com/appointment-desk/backend/internal/appointments"
	"github.com/appointment-desk/backend/internal/calendar"
	"github.com/appointment-desk/backend/internal/feed"
	"github.com/appointment-desk/backend/internal/storage/models"
	"go.uber.org/zap"
)

// EventBroadcaster turns dashboard events into relay messages. It
// implements feed.Listener.
type EventBroadcaster struct {
	hub    *Hub
	logger *zap.Logger
}

var _ feed.Listener = (*EventBroadcaster)(nil)

// NewEventBroadcaster creates a broadcaster over hub.
func NewEventBroadcaster(hub *Hub, logger *zap.Logger) *EventBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBroadcaster{hub: hub, logger: logger}
}

// NotificationUpserted relays a new or replaced feed entry.
func (b *EventBroadcaster) NotificationUpserted(n models.Notification) {
	b.broadcast(NewMessage(TypeNotificationUpserted, NotificationPayload{Notification: n}))
}

// NotificationRemoved relays a removed feed entry.
func (b *EventBroadcaster) NotificationRemoved(appointmentID int64) {
	b.broadcast(NewMessage(TypeNotificationRemoved, NotificationRemovedPayload{AppointmentID: appointmentID}))
}

// NotificationsCleared relays an emptied feed.
func (b *EventBroadcaster) NotificationsCleared() {
	b.broadcast(NewMessage(TypeNotificationsCleared, nil))
}

// FeedStatusChanged relays the push connection state.
func (b *EventBroadcaster) FeedStatusChanged(s feed.Status) {
	b.broadcast(NewMessage(TypeFeedStatusChanged, FeedStatusPayload{Connected: s.Connected, LastError: s.LastError}))
}

// CalendarRefreshed relays the current calendar. It matches the
// calendar.View refresh hook.
func (b *EventBroadcaster) CalendarRefreshed(events []calendar.Event) {
	if events == nil {
		events = []calendar.Event{}
	}
	b.broadcast(NewMessage(TypeCalendarInvalidated, CalendarPayload{Events: events}))
}

// BookingCompleted relays a submitted wizard. It matches the
// booking.Sessions completion hook.
func (b *EventBroadcaster) BookingCompleted(wizardID string, res appointments.Result) {
	b.broadcast(NewMessage(TypeBookingCompleted, BookingCompletedPayload{
		WizardID:      wizardID,
		AppointmentID: res.Appointment.ID,
		Date:          res.Appointment.Date,
		StartTime:     res.Appointment.StartTime,
		EndTime:       res.Appointment.EndTime,
	}))
}

func (b *EventBroadcaster) broadcast(msg Message) {
	data, err := msg.JSON()
	if err != nil {
		b.logger.Error("encoding relay message failed", zap.String("type", string(msg.Type)), zap.Error(err))
		return
	}
	b.hub.Broadcast(data)
}
