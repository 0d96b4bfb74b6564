package handlers

import (
	"net/http"

	"github.com/appointment-desk/backend/internal/api/middleware"
	"github.com/appointment-desk/backend/internal/scheduling"
	"go.uber.org/zap"
)

// ListServices returns the bookable services.
func ListServices(catalog Catalog, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services, err := catalog.Services(r.Context())
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		if services == nil {
			services = []scheduling.Service{}
		}
		writeJSON(w, http.StatusOK, services)
	}
}

// ListServiceStaff returns the staff members offering a service.
func ListServiceStaff(catalog Catalog, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid service id")
			return
		}
		staff, err := catalog.StaffForService(r.Context(), id)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		if staff == nil {
			staff = []scheduling.StaffMember{}
		}
		writeJSON(w, http.StatusOK, staff)
	}
}
