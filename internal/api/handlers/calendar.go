package handlers

import (
	"net/http"

	"github.com/appointment-desk/backend/internal/api/middleware"
	"github.com/appointment-desk/backend/internal/calendar"
	"go.uber.org/zap"
)

// CalendarResponse is the projected staff calendar.
type CalendarResponse struct {
	Events      []calendar.Event `json:"events"`
	RefreshedAt string           `json:"refreshed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
}

func calendarResponse(view *calendar.View) CalendarResponse {
	resp := CalendarResponse{Events: view.Events()}
	if resp.Events == nil {
		resp.Events = []calendar.Event{}
	}
	refreshedAt, err := view.Status()
	if !refreshedAt.IsZero() {
		resp.RefreshedAt = refreshedAt.UTC().Format(timeLayout)
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// ListEvents returns the current calendar.
func ListEvents(view *calendar.View) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, calendarResponse(view))
	}
}

// RefreshCalendar reloads the calendar from the API.
func RefreshCalendar(view *calendar.View, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := view.Refresh(r.Context()); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, calendarResponse(view))
	}
}

// GetSelection returns the selection state.
func GetSelection(sel *calendar.Selection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sel.State())
	}
}

// SelectEvent opens the detail of one event.
func SelectEvent(sel *calendar.Selection, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid event id")
			return
		}
		st, err := sel.Select(id)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// RequestDelete asks to confirm deleting the selected event.
func RequestDelete(sel *calendar.Selection, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := sel.RequestDelete()
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// ConfirmDelete deletes the selected event.
func ConfirmDelete(sel *calendar.Selection, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := sel.Confirm(r.Context())
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// CancelSelection returns the selection to idle.
func CancelSelection(sel *calendar.Selection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sel.Cancel())
	}
}
