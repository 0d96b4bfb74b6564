package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/appointment-desk/backend/internal/storage/models"
)

// NotificationRepository persists the notification feed as one JSON
// document under models.NotificationsKey, newest first.
type NotificationRepository struct {
	state *StateRepository
}

// NewNotificationRepository creates a repository over db.
func NewNotificationRepository(db Queryable) *NotificationRepository {
	return &NotificationRepository{state: NewStateRepository(db)}
}

// LoadNotifications returns the stored feed, or nil if nothing was saved.
func (r *NotificationRepository) LoadNotifications(ctx context.Context) ([]models.Notification, error) {
	raw, ok, err := r.state.Get(ctx, models.NotificationsKey)
	if err != nil || !ok {
		return nil, err
	}
	var list []models.Notification
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decoding notifications: %w", err)
	}
	return list, nil
}

// SaveNotifications replaces the stored feed.
func (r *NotificationRepository) SaveNotifications(ctx context.Context, list []models.Notification) error {
	if list == nil {
		list = []models.Notification{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encoding notifications: %w", err)
	}
	return r.state.Put(ctx, models.NotificationsKey, raw)
}
