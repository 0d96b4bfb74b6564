package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/appointment-desk/backend/internal/api/middleware"
	"github.com/appointment-desk/backend/internal/availability"
	"github.com/appointment-desk/backend/internal/booking"
	"github.com/appointment-desk/backend/internal/scheduling"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Catalog lists what can be booked.
type Catalog interface {
	Services(ctx context.Context) ([]scheduling.Service, error)
	Service(ctx context.Context, id int64) (scheduling.Service, error)
	StaffForService(ctx context.Context, serviceID int64) ([]scheduling.StaffMember, error)
}

// Wizard request types

type OpenWizardRequest struct {
	ClientID int64 `json:"client_id"`
}

type SetClientRequest struct {
	ClientID int64 `json:"client_id"`
}

type SetServiceRequest struct {
	ServiceID int64 `json:"service_id"`
}

type SetStaffRequest struct {
	StaffID int64 `json:"staff_id"`
}

type SetDayRequest struct {
	Day string `json:"day"`
}

type SetSlotRequest struct {
	Slot string `json:"slot"`
}

func wizardFromPath(wizards *booking.Sessions, r *http.Request) (*booking.Wizard, error) {
	return wizards.Get(mux.Vars(r)["id"])
}

// OpenWizard starts a booking wizard.
func OpenWizard(wizards *booking.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OpenWizardRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
				return
			}
		}
		wiz := wizards.Open(req.ClientID)
		writeJSON(w, http.StatusCreated, wiz.State())
	}
}

// GetWizard returns the state of a wizard.
func GetWizard(wizards *booking.Sessions, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wiz, err := wizardFromPath(wizards, r)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, wiz.State())
	}
}

// CancelWizard discards a wizard and its draft.
func CancelWizard(wizards *booking.Sessions, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := wizards.Cancel(mux.Vars(r)["id"]); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// SetWizardClient sets the client of the draft.
func SetWizardClient(wizards *booking.Sessions, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wiz, err := wizardFromPath(wizards, r)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		var req SetClientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "client_id is required")
			return
		}
		if err := wiz.SetClient(req.ClientID); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, wiz.State())
	}
}

// SetWizardService selects a service from the catalog.
func SetWizardService(wizards *booking.Sessions, catalog Catalog, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wiz, err := wizardFromPath(wizards, r)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		var req SetServiceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ServiceID <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "service_id is required")
			return
		}

		svc, err := catalog.Service(r.Context(), req.ServiceID)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		if err := wiz.SetService(svc); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		loadSlotsIfReady(r.Context(), wiz, logger)
		writeJSON(w, http.StatusOK, wiz.State())
	}
}

// SetWizardStaff selects a staff member offering the draft's service.
func SetWizardStaff(wizards *booking.Sessions, catalog Catalog, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wiz, err := wizardFromPath(wizards, r)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		var req SetStaffRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StaffID <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "staff_id is required")
			return
		}

		svc := wiz.State().Draft.Service
		if svc == nil {
			writeDomainError(w, logger, &booking.IncompleteDraft{Missing: []string{booking.FieldService}})
			return
		}
		staff, err := catalog.StaffForService(r.Context(), svc.ID)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		idx := slices.IndexFunc(staff, func(m scheduling.StaffMember) bool { return m.ID == req.StaffID })
		if idx < 0 {
			writeDomainError(w, logger, booking.ErrStaffNotEligible)
			return
		}
		if err := wiz.SetStaff(staff[idx]); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		loadSlotsIfReady(r.Context(), wiz, logger)
		writeJSON(w, http.StatusOK, wiz.State())
	}
}

// SetWizardDay sets the day and reloads availability.
func SetWizardDay(wizards *booking.Sessions, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wiz, err := wizardFromPath(wizards, r)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		var req SetDayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}
		if err := wiz.SetDay(req.Day); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		loadSlotsIfReady(r.Context(), wiz, logger)
		writeJSON(w, http.StatusOK, wiz.State())
	}
}

// SetWizardSlot picks one of the currently available slots.
func SetWizardSlot(wizards *booking.Sessions, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wiz, err := wizardFromPath(wizards, r)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		var req SetSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Slot == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "slot is required")
			return
		}
		if err := wiz.SetSlot(req.Slot); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, wiz.State())
	}
}

// LoadWizardSlots resolves availability for the draft and returns it.
func LoadWizardSlots(wizards *booking.Sessions, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wiz, err := wizardFromPath(wizards, r)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		slots, err := wiz.LoadSlots(r.Context())
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		if slots == nil {
			slots = []availability.Slot{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
	}
}

// AdvanceWizard moves to the next step.
func AdvanceWizard(wizards *booking.Sessions, logger *zap.Logger) http.HandlerFunc {
	return stepHandler(wizards, logger, (*booking.Wizard).Advance)
}

// RetreatWizard moves to the previous step.
func RetreatWizard(wizards *booking.Sessions, logger *zap.Logger) http.HandlerFunc {
	return stepHandler(wizards, logger, (*booking.Wizard).Retreat)
}

func stepHandler(wizards *booking.Sessions, logger *zap.Logger, move func(*booking.Wizard) (booking.Step, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wiz, err := wizardFromPath(wizards, r)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		if _, err := move(wiz); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, wiz.State())
	}
}

// SubmitWizard books the confirmed draft.
func SubmitWizard(wizards *booking.Sessions, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wiz, err := wizardFromPath(wizards, r)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		res, err := wiz.Submit(r.Context())
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

// loadSlotsIfReady refreshes availability once service, staff and day are
// all set. Failures surface in the wizard state.
func loadSlotsIfReady(ctx context.Context, wiz *booking.Wizard, logger *zap.Logger) {
	_, err := wiz.LoadSlots(ctx)
	switch {
	case err == nil, booking.IsIncomplete(err), errors.Is(err, availability.ErrSuperseded):
	default:
		logger.Debug("loading slots failed", zap.String("wizard_id", wiz.ID()), zap.Error(err))
	}
}
