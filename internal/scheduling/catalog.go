package scheduling

import (
	"context"
	"fmt"
	"net/http"
)

// Services lists the bookable services.
func (c *Client) Services(ctx context.Context) ([]Service, error) {
	var resp struct {
		Services []Service `json:"services"`
	}
	if err := c.Get(ctx, "/services/", &resp); err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	return resp.Services, nil
}

// Service returns a single service from the catalog.
func (c *Client) Service(ctx context.Context, id int64) (Service, error) {
	services, err := c.Services(ctx)
	if err != nil {
		return Service{}, err
	}
	for _, s := range services {
		if s.ID == id {
			return s, nil
		}
	}
	return Service{}, &StatusError{Method: http.MethodGet, Path: "/services/", Status: http.StatusNotFound, Message: fmt.Sprintf("service %d not found", id)}
}

// StaffForService lists the staff members offering a service. The endpoint
// only returns id and name, so each member is tagged as offering the
// queried service.
func (c *Client) StaffForService(ctx context.Context, serviceID int64) ([]StaffMember, error) {
	var raw []struct {
		ID   flexID `json:"id"`
		Name string `json:"name"`
	}
	path := fmt.Sprintf("/staffs-by-service/%d/", serviceID)
	if err := c.Get(ctx, path, &raw); err != nil {
		return nil, fmt.Errorf("listing staff for service %d: %w", serviceID, err)
	}

	staff := make([]StaffMember, 0, len(raw))
	for _, r := range raw {
		staff = append(staff, StaffMember{
			ID:         int64(r.ID),
			Name:       r.Name,
			ServiceIDs: []int64{serviceID},
		})
	}
	return staff, nil
}
