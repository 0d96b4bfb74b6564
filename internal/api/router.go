// Package api provides HTTP routing for the dashboard's local API.
package api

import (
	"net/http"

	"github.com/appointment-desk/backend/internal/api/handlers"
	"github.com/appointment-desk/backend/internal/api/middleware"
	"github.com/appointment-desk/backend/internal/appointments"
	"github.com/appointment-desk/backend/internal/booking"
	"github.com/appointment-desk/backend/internal/calendar"
	"github.com/appointment-desk/backend/internal/feed"
	"github.com/appointment-desk/backend/internal/session"
	"github.com/appointment-desk/backend/internal/telemetry"
	"github.com/appointment-desk/backend/internal/websocket"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Dependencies are the components the router exposes.
type Dependencies struct {
	Store     handlers.Pinger
	API       handlers.Prober
	Catalog   handlers.Catalog
	Updater   handlers.Updater
	Sessions  session.Provider
	Wizards   *booking.Sessions
	Calendar  *calendar.View
	Selection *calendar.Selection
	Recent    *appointments.RecentView
	Feed      *feed.Feed
	Hub       *websocket.Hub

	// RateLimiter throttles /api. Nil disables throttling.
	RateLimiter *middleware.RateLimiter
	StaticDir   string
	Logger      *zap.Logger
}

// NewRouter creates the HTTP handler with every API route. Requests are
// traced through otelhttp.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging(logger))
	r.Use(middleware.ErrorRecovery(logger))

	// API subrouter
	api := r.PathPrefix("/api").Subrouter()
	if deps.RateLimiter != nil {
		api.Use(deps.RateLimiter.Middleware(logger))
	}

	// Health and status endpoints
	api.HandleFunc("/health", handlers.HealthCheck(deps.Store, deps.Feed)).Methods("GET")
	api.HandleFunc("/status", handlers.Status(handlers.StatusSources{
		API:      deps.API,
		Feed:     deps.Feed,
		Wizards:  deps.Wizards,
		Hub:      deps.Hub,
		Calendar: deps.Calendar,
		Sessions: deps.Sessions,
	})).Methods("GET")

	// WebSocket relay
	api.HandleFunc("/ws", handlers.WebSocketUpgrade(deps.Hub, logger)).Methods("GET")

	// Catalog endpoints
	api.HandleFunc("/catalog/services", handlers.ListServices(deps.Catalog, logger)).Methods("GET")
	api.HandleFunc("/catalog/services/{id}/staff", handlers.ListServiceStaff(deps.Catalog, logger)).Methods("GET")

	// Booking wizard endpoints
	api.HandleFunc("/wizards", handlers.OpenWizard(deps.Wizards)).Methods("POST")
	api.HandleFunc("/wizards/{id}", handlers.GetWizard(deps.Wizards, logger)).Methods("GET")
	api.HandleFunc("/wizards/{id}", handlers.CancelWizard(deps.Wizards, logger)).Methods("DELETE")
	api.HandleFunc("/wizards/{id}/client", handlers.SetWizardClient(deps.Wizards, logger)).Methods("PUT")
	api.HandleFunc("/wizards/{id}/service", handlers.SetWizardService(deps.Wizards, deps.Catalog, logger)).Methods("PUT")
	api.HandleFunc("/wizards/{id}/staff", handlers.SetWizardStaff(deps.Wizards, deps.Catalog, logger)).Methods("PUT")
	api.HandleFunc("/wizards/{id}/day", handlers.SetWizardDay(deps.Wizards, logger)).Methods("PUT")
	api.HandleFunc("/wizards/{id}/slot", handlers.SetWizardSlot(deps.Wizards, logger)).Methods("PUT")
	api.HandleFunc("/wizards/{id}/slots", handlers.LoadWizardSlots(deps.Wizards, logger)).Methods("GET")
	api.HandleFunc("/wizards/{id}/advance", handlers.AdvanceWizard(deps.Wizards, logger)).Methods("POST")
	api.HandleFunc("/wizards/{id}/retreat", handlers.RetreatWizard(deps.Wizards, logger)).Methods("POST")
	api.HandleFunc("/wizards/{id}/submit", handlers.SubmitWizard(deps.Wizards, logger)).Methods("POST")

	// Calendar endpoints
	api.HandleFunc("/calendar/events", handlers.ListEvents(deps.Calendar)).Methods("GET")
	api.HandleFunc("/calendar/refresh", handlers.RefreshCalendar(deps.Calendar, logger)).Methods("POST")
	api.HandleFunc("/calendar/selection", handlers.GetSelection(deps.Selection)).Methods("GET")
	api.HandleFunc("/calendar/selection", handlers.CancelSelection(deps.Selection)).Methods("DELETE")
	api.HandleFunc("/calendar/selection/delete", handlers.RequestDelete(deps.Selection, logger)).Methods("POST")
	api.HandleFunc("/calendar/selection/confirm", handlers.ConfirmDelete(deps.Selection, logger)).Methods("POST")
	api.HandleFunc("/calendar/selection/{id:[0-9]+}", handlers.SelectEvent(deps.Selection, logger)).Methods("POST")

	// Appointment endpoints
	api.HandleFunc("/appointments/recent", handlers.ListRecent(deps.Recent, logger)).Methods("GET")
	api.HandleFunc("/appointments/{id}", handlers.UpdateAppointment(deps.Updater, logger)).Methods("PUT")

	// Notification feed endpoints
	api.HandleFunc("/notifications", handlers.ListNotifications(deps.Feed)).Methods("GET")
	api.HandleFunc("/notifications", handlers.ClearNotifications(deps.Feed, logger)).Methods("DELETE")
	api.HandleFunc("/notifications/{id}", handlers.RemoveNotification(deps.Feed, logger)).Methods("DELETE")

	// Serve static frontend files
	if deps.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(deps.StaticDir)))
	}

	return telemetry.Handler(r, "appointment-desk")
}
