// Package handlers provides HTTP request handlers for the local API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/appointment-desk/backend/internal/booking"
	"github.com/appointment-desk/backend/internal/calendar"
	"github.com/appointment-desk/backend/internal/feed"
	"github.com/appointment-desk/backend/internal/session"
	"github.com/appointment-desk/backend/internal/websocket"
)

// Pinger checks the local state store.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Prober checks that the scheduling API answers.
type Prober interface {
	Probe(ctx context.Context) bool
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status         string `json:"status"`
	StoreConnected bool   `json:"store_connected"`
	FeedConnected  bool   `json:"feed_connected"`
}

// HealthCheck reports whether the process can serve. A dropped push stream
// degrades nothing but the feed, so it does not fail the check.
func HealthCheck(store Pinger, f *feed.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		storeConnected := store == nil || store.PingContext(r.Context()) == nil

		status := "healthy"
		if !storeConnected {
			status = "degraded"
		}

		response := HealthResponse{
			Status:         status,
			StoreConnected: storeConnected,
			FeedConnected:  f.Connected(),
		}

		w.Header().Set("Content-Type", "application/json")
		if status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(response)
	}
}

// StatusResponse represents the system status response.
type StatusResponse struct {
	APIReachable       bool   `json:"api_reachable"`
	FeedConnected      bool   `json:"feed_connected"`
	FeedError          string `json:"feed_error,omitempty"`
	Notifications      int    `json:"notifications"`
	OpenWizards        int    `json:"open_wizards"`
	RelayClients       int    `json:"relay_clients"`
	CalendarEvents     int    `json:"calendar_events"`
	CalendarRefreshed  string `json:"calendar_refreshed_at,omitempty"`
	CalendarError      string `json:"calendar_error,omitempty"`
	Operator           string `json:"operator,omitempty"`
	OperatorPrivileged bool   `json:"operator_privileged"`
	CSRFTokenPresent   bool   `json:"csrf_token_present"`
}

// StatusSources are the components the status endpoint reports on.
type StatusSources struct {
	API      Prober
	Feed     *feed.Feed
	Wizards  *booking.Sessions
	Hub      *websocket.Hub
	Calendar *calendar.View
	Sessions session.Provider
}

// Status returns a handler that provides system status information.
func Status(src StatusSources) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feedStatus := src.Feed.Status()
		sess := src.Sessions.Current()

		response := StatusResponse{
			APIReachable:       src.API.Probe(r.Context()),
			FeedConnected:      feedStatus.Connected,
			FeedError:          feedStatus.LastError,
			Notifications:      len(src.Feed.Notifications()),
			OpenWizards:        src.Wizards.Len(),
			RelayClients:       src.Hub.ClientCount(),
			CalendarEvents:     len(src.Calendar.Events()),
			Operator:           sess.Username,
			OperatorPrivileged: sess.Privileged(),
			CSRFTokenPresent:   sess.HasToken(),
		}
		refreshedAt, err := src.Calendar.Status()
		if !refreshedAt.IsZero() {
			response.CalendarRefreshed = refreshedAt.UTC().Format(timeLayout)
		}
		if err != nil {
			response.CalendarError = err.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}
