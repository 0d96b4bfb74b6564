package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/appointment-desk/backend/internal/api/middleware"
	"github.com/appointment-desk/backend/internal/appointments"
	"github.com/appointment-desk/backend/internal/availability"
	"github.com/appointment-desk/backend/internal/booking"
	"github.com/appointment-desk/backend/internal/calendar"
	"github.com/appointment-desk/backend/internal/feed"
	"github.com/appointment-desk/backend/internal/scheduling"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const timeLayout = time.RFC3339

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// pathID reads a positive integer route variable.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id, err == nil && id > 0
}

// writeDomainError maps the errors of the booking, calendar and feed
// packages onto the error envelope.
func writeDomainError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		incomplete *booking.IncompleteDraft
		resolution *scheduling.ResolutionFailure
		validation *scheduling.ValidationFailure
		conflict   *scheduling.BookingConflict
		upstream   *scheduling.StatusError
	)

	switch {
	case errors.As(err, &incomplete):
		middleware.WriteErrorWithDetails(w, http.StatusConflict, middleware.ErrIncompleteDraft, err.Error(),
			map[string]any{"missing": incomplete.Missing})
	case errors.As(err, &resolution):
		middleware.WriteError(w, http.StatusBadGateway, middleware.ErrResolutionFailure, err.Error())
	case errors.As(err, &validation):
		middleware.WriteError(w, http.StatusUnprocessableEntity, middleware.ErrValidation, validation.Message)
	case errors.As(err, &conflict):
		middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, conflict.Message)

	case errors.Is(err, scheduling.ErrMissingToken):
		middleware.WriteError(w, http.StatusUnauthorized, middleware.ErrUnauthorized, err.Error())
	case errors.Is(err, calendar.ErrNotPrivileged):
		middleware.WriteError(w, http.StatusForbidden, middleware.ErrForbidden, err.Error())
	case errors.As(err, &upstream) && upstream.Status == http.StatusForbidden:
		middleware.WriteError(w, http.StatusForbidden, middleware.ErrForbidden, upstream.Message)

	case errors.Is(err, booking.ErrWizardNotFound),
		errors.Is(err, calendar.ErrEventNotFound),
		scheduling.IsNotFound(err):
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, err.Error())

	case errors.Is(err, appointments.ErrInvalidPatch),
		errors.Is(err, booking.ErrStaffNotEligible),
		errors.Is(err, booking.ErrSlotUnavailable),
		errors.Is(err, booking.ErrDayInPast),
		errors.Is(err, booking.ErrInvalidDay):
		middleware.WriteError(w, http.StatusUnprocessableEntity, middleware.ErrValidation, err.Error())

	case errors.Is(err, booking.ErrSubmitInFlight),
		errors.Is(err, booking.ErrDraftClosed),
		errors.Is(err, booking.ErrSlotsLoading),
		errors.Is(err, availability.ErrSuperseded),
		errors.Is(err, calendar.ErrInvalidTransition):
		middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, err.Error())

	case errors.Is(err, feed.ErrStopped):
		middleware.WriteError(w, http.StatusServiceUnavailable, middleware.ErrUnavailable, err.Error())
	case errors.As(err, &upstream):
		middleware.WriteError(w, http.StatusBadGateway, middleware.ErrUpstream, upstream.Message)

	default:
		logger.Error("request failed", zap.Error(err))
		middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "An unexpected error occurred")
	}
}
