// Package models contains the records persisted by the dashboard.
package models

import (
	"time"
)

// NotificationKind is the normalized kind of a pushed appointment event.
type NotificationKind string

const (
	KindCreated NotificationKind = "created"
	KindDeleted NotificationKind = "deleted"
)

// Notification is one entry of the live feed. AppointmentID is the key: a
// later event for the same appointment replaces the earlier one.
type Notification struct {
	AppointmentID int64            `json:"id"`
	Kind          NotificationKind `json:"variant"`
	Title         string           `json:"title"`
	Color         string           `json:"color"`
	Client        string           `json:"client,omitempty"`
	Service       string           `json:"service,omitempty"`
	Date          string           `json:"date,omitempty"`
	Time          string           `json:"time,omitempty"`
	Staff         string           `json:"staff,omitempty"`
	ReceivedAt    time.Time        `json:"receivedAt"`
}

// NotificationsKey is the fixed key the feed is persisted under.
const NotificationsKey = "app-notifications"
