package handlers

import (
	"net/http"

	"github.com/appointment-desk/backend/internal/api/middleware"
	"github.com/appointment-desk/backend/internal/feed"
	"github.com/appointment-desk/backend/internal/storage/models"
	"go.uber.org/zap"
)

// NotificationsResponse is the live feed.
type NotificationsResponse struct {
	Connected     bool                  `json:"connected"`
	LastError     string                `json:"last_error,omitempty"`
	Notifications []models.Notification `json:"notifications"`
}

// ListNotifications returns the feed, newest first.
func ListNotifications(f *feed.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := f.Status()
		writeJSON(w, http.StatusOK, NotificationsResponse{
			Connected:     st.Connected,
			LastError:     st.LastError,
			Notifications: f.Notifications(),
		})
	}
}

// ClearNotifications empties the feed.
func ClearNotifications(f *feed.Feed, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := f.Clear(r.Context()); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// RemoveNotification drops the entry for one appointment.
func RemoveNotification(f *feed.Feed, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid appointment id")
			return
		}
		removed, err := f.Remove(r.Context(), id)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		if !removed {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Notification not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
