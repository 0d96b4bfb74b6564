// Package scheduling provides the HTTP client for the remote clinic
// scheduling API and the wire types it returns.
package scheduling

import (
	"time"
)

// Config holds the configuration for scheduling API access.
type Config struct {
	// BaseURL is the API root, e.g. http://localhost:8001/v1/api
	BaseURL string

	// Timeout for non-streaming API requests
	Timeout time.Duration

	// Location interprets the wall-clock dates and times the API returns
	Location *time.Location
}

// location returns the configured location or time.Local.
func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}
