package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/appointment-desk/backend/internal/api/middleware"
	"github.com/appointment-desk/backend/internal/appointments"
	"github.com/appointment-desk/backend/internal/invalidation"
	"github.com/appointment-desk/backend/internal/scheduling"
	"go.uber.org/zap"
)

// Updater edits appointments.
type Updater interface {
	Update(ctx context.Context, id int64, p appointments.Patch) (invalidation.Change, error)
}

// RecentResponse is the recent appointments list.
type RecentResponse struct {
	Appointments []scheduling.Appointment `json:"recent_appointments"`
	RefreshedAt  string                   `json:"refreshed_at,omitempty"`
	Error        string                   `json:"error,omitempty"`
}

// ListRecent returns the cached recent appointments. ?refresh=1 reloads
// them first.
func ListRecent(recent *appointments.RecentView, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("refresh") != "" {
			if _, err := recent.Refresh(r.Context()); err != nil {
				writeDomainError(w, logger, err)
				return
			}
		}

		resp := RecentResponse{Appointments: recent.Items()}
		if resp.Appointments == nil {
			resp.Appointments = []scheduling.Appointment{}
		}
		refreshedAt, err := recent.Status()
		if !refreshedAt.IsZero() {
			resp.RefreshedAt = refreshedAt.UTC().Format(timeLayout)
		}
		if err != nil {
			resp.Error = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// UpdateAppointment applies a partial update to an appointment.
func UpdateAppointment(updater Updater, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid appointment id")
			return
		}
		var patch appointments.Patch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}

		change, err := updater.Update(r.Context(), id, patch)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, change)
	}
}
