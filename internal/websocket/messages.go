package websocket

import (
	"encoding/json"
	"time"

	"github.com/appointment-desk/backend/internal/calendar"
	"github.com/appointment-desk/backend/internal/storage/models"
)

// MessageType identifies the type of relay message.
type MessageType string

const (
	// Server -> browser events
	TypeNotificationUpserted MessageType = "notification.upserted"
	TypeNotificationRemoved  MessageType = "notification.removed"
	TypeNotificationsCleared MessageType = "notifications.cleared"
	TypeFeedStatusChanged    MessageType = "feed.status_changed"
	TypeCalendarInvalidated  MessageType = "calendar.invalidated"
	TypeBookingCompleted     MessageType = "booking.completed"

	// Browser -> server commands
	TypePing MessageType = "ping"

	// Server -> browser replies
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message is the relay envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload,omitempty"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// NotificationPayload carries one feed entry.
type NotificationPayload struct {
	Notification models.Notification `json:"notification"`
}

// NotificationRemovedPayload names the removed entry.
type NotificationRemovedPayload struct {
	AppointmentID int64 `json:"appointment_id"`
}

// FeedStatusPayload describes the push connection.
type FeedStatusPayload struct {
	Connected bool   `json:"connected"`
	LastError string `json:"last_error,omitempty"`
}

// CalendarPayload carries the refreshed calendar.
type CalendarPayload struct {
	Events []calendar.Event `json:"events"`
}

// BookingCompletedPayload reports a submitted wizard.
type BookingCompletedPayload struct {
	WizardID      string `json:"wizard_id"`
	AppointmentID int64  `json:"appointment_id"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

// ErrorPayload answers a command the server could not handle.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Command is a message sent by a browser.
type Command struct {
	Type MessageType `json:"type"`
}
