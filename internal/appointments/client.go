// Package appointments submits, updates and deletes appointments through
// the scheduling API and announces every successful write on the
// invalidation bus.
package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/appointment-desk/backend/internal/invalidation"
	"github.com/appointment-desk/backend/internal/scheduling"
	"go.uber.org/zap"
)

// StatusConfirmed is the status of an appointment this client created.
const StatusConfirmed = "confirmed"

// ErrUnconfirmedDelete is returned when Delete gets a token that was not
// produced by a confirmation step.
var ErrUnconfirmedDelete = errors.New("delete has not been confirmed")

// ErrInvalidPatch is wrapped by every local Update validation error.
var ErrInvalidPatch = errors.New("invalid appointment update")

// API is the subset of the scheduling client used here.
type API interface {
	Get(ctx context.Context, path string, out any) error
	Send(ctx context.Context, method, path string, body any, out any) error
}

// Publisher receives change descriptors after successful writes.
type Publisher interface {
	Publish(c invalidation.Change)
}

// Client performs appointment reads and writes.
type Client struct {
	api    API
	bus    Publisher
	loc    *time.Location
	logger *zap.Logger
}

// NewClient creates an appointment client. bus may be nil.
func NewClient(api API, bus Publisher, loc *time.Location, logger *zap.Logger) *Client {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, bus: bus, loc: loc, logger: logger}
}

// NewAppointment is a complete booking ready to submit.
type NewAppointment struct {
	ClientID       int64
	Service        scheduling.Service
	StaffID        int64
	StaffName      string
	Start          time.Time
	AdditionalInfo string
}

func (n NewAppointment) validate() error {
	var missing []string
	if n.ClientID == 0 {
		missing = append(missing, "client")
	}
	if n.Service.ID == 0 {
		missing = append(missing, "service")
	}
	if n.StaffID == 0 {
		missing = append(missing, "staff")
	}
	if n.Start.IsZero() {
		missing = append(missing, "start")
	}
	if len(missing) > 0 {
		return fmt.Errorf("appointment is missing %s", strings.Join(missing, ", "))
	}
	if n.Service.Duration <= 0 {
		return fmt.Errorf("service %d has no duration", n.Service.ID)
	}
	return nil
}

// Result is the outcome of a successful write.
type Result struct {
	Appointment scheduling.Appointment `json:"appointment"`
	Change      invalidation.Change    `json:"change"`
}

type createRequest struct {
	ClientID       int64  `json:"client_id"`
	StaffID        int64  `json:"staff_id"`
	ServiceID      int64  `json:"service_id"`
	Date           string `json:"date"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	AdditionalInfo string `json:"additional_info,omitempty"`
}

// Create submits n. The end time is the slot start plus the service
// duration. Conflicts and validation errors are returned as
// *scheduling.BookingConflict and *scheduling.ValidationFailure and are
// never retried.
func (c *Client) Create(ctx context.Context, n NewAppointment) (Result, error) {
	if err := n.validate(); err != nil {
		return Result{}, err
	}

	start := n.Start.In(c.loc)
	end := start.Add(n.Service.Duration)
	req := createRequest{
		ClientID:       n.ClientID,
		StaffID:        n.StaffID,
		ServiceID:      n.Service.ID,
		Date:           start.Format(scheduling.DateLayout),
		StartTime:      start.Format(scheduling.ClockLayout),
		EndTime:        end.Format(scheduling.ClockLayout),
		AdditionalInfo: n.AdditionalInfo,
	}

	var resp map[string]json.RawMessage
	if err := c.api.Send(ctx, http.MethodPost, "/appointments/", req, &resp); err != nil {
		return Result{}, scheduling.ClassifyMutation(err)
	}
	id, err := writeOutcome(resp)
	if err != nil {
		return Result{}, err
	}

	appt := scheduling.Appointment{
		ID:        id,
		Service:   n.Service.Name,
		ServiceID: n.Service.ID,
		Staff:     n.StaffName,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Duration:  n.Service.Duration,
		Status:    StatusConfirmed,
	}
	change := invalidation.Change{Kind: invalidation.AppointmentCreated, AppointmentID: id, Day: req.Date}
	c.publish(change)

	c.logger.Info("appointment created",
		zap.Int64("appointment_id", id),
		zap.Int64("staff_id", n.StaffID),
		zap.String("date", req.Date),
		zap.String("start_time", req.StartTime),
		zap.String("end_time", req.EndTime),
	)
	return Result{Appointment: appt, Change: change}, nil
}

// Patch lists the fields to change on an appointment. Nil fields are left
// alone. Date is YYYY-MM-DD, times are HH:MM.
type Patch struct {
	ClientID       *int64  `json:"client_id,omitempty"`
	Date           *string `json:"date,omitempty"`
	StartTime      *string `json:"start_time,omitempty"`
	EndTime        *string `json:"end_time,omitempty"`
	AdditionalInfo *string `json:"additional_info,omitempty"`
}

func (p Patch) validate() error {
	if p.ClientID == nil && p.Date == nil && p.StartTime == nil && p.EndTime == nil && p.AdditionalInfo == nil {
		return fmt.Errorf("%w: patch is empty", ErrInvalidPatch)
	}
	if p.Date != nil {
		if _, err := time.Parse(scheduling.DateLayout, *p.Date); err != nil {
			return fmt.Errorf("%w: invalid date %q", ErrInvalidPatch, *p.Date)
		}
	}
	for _, clock := range []*string{p.StartTime, p.EndTime} {
		if clock == nil {
			continue
		}
		if _, err := time.Parse(scheduling.ClockLayout, *clock); err != nil {
			return fmt.Errorf("%w: invalid time %q, want HH:MM", ErrInvalidPatch, *clock)
		}
	}
	return nil
}

// Update applies p to appointment id.
func (c *Client) Update(ctx context.Context, id int64, p Patch) (invalidation.Change, error) {
	if id == 0 {
		return invalidation.Change{}, fmt.Errorf("%w: appointment id is required", ErrInvalidPatch)
	}
	if err := p.validate(); err != nil {
		return invalidation.Change{}, err
	}

	var resp map[string]json.RawMessage
	if err := c.api.Send(ctx, http.MethodPut, appointmentPath(id), p, &resp); err != nil {
		return invalidation.Change{}, scheduling.ClassifyMutation(err)
	}
	if _, err := writeOutcome(resp); err != nil {
		return invalidation.Change{}, err
	}

	change := invalidation.Change{Kind: invalidation.AppointmentUpdated, AppointmentID: id}
	if p.Date != nil {
		change.Day = *p.Date
	}
	c.publish(change)
	c.logger.Info("appointment updated", zap.Int64("appointment_id", id))
	return change, nil
}

// ConfirmedDelete is proof that the operator confirmed deleting one
// appointment. The zero value is not confirmed.
type ConfirmedDelete struct {
	id  int64
	day string
}

// ConfirmDelete records a confirmed intent to delete appointment id. It is
// meant to be called only by a confirmation step.
func ConfirmDelete(id int64, day string) ConfirmedDelete {
	return ConfirmedDelete{id: id, day: day}
}

// AppointmentID returns the appointment the confirmation is for.
func (d ConfirmedDelete) AppointmentID() int64 {
	return d.id
}

// Delete removes the confirmed appointment.
func (c *Client) Delete(ctx context.Context, d ConfirmedDelete) (invalidation.Change, error) {
	if d.id == 0 {
		return invalidation.Change{}, ErrUnconfirmedDelete
	}
	if err := c.api.Send(ctx, http.MethodDelete, appointmentPath(d.id), nil, nil); err != nil {
		return invalidation.Change{}, scheduling.ClassifyMutation(err)
	}

	change := invalidation.Change{Kind: invalidation.AppointmentDeleted, AppointmentID: d.id, Day: d.day}
	c.publish(change)
	c.logger.Info("appointment deleted", zap.Int64("appointment_id", d.id))
	return change, nil
}

// List returns the appointments visible to the operator.
func (c *Client) List(ctx context.Context) ([]scheduling.Appointment, error) {
	var resp struct {
		Appointments []scheduling.Appointment `json:"appointments"`
	}
	if err := c.api.Get(ctx, "/appointments/", &resp); err != nil {
		return nil, fmt.Errorf("listing appointments: %w", err)
	}
	return resp.Appointments, nil
}

// Get returns one appointment.
func (c *Client) Get(ctx context.Context, id int64) (scheduling.Appointment, error) {
	var appt scheduling.Appointment
	if err := c.api.Get(ctx, appointmentPath(id), &appt); err != nil {
		return scheduling.Appointment{}, fmt.Errorf("getting appointment %d: %w", id, err)
	}
	return appt, nil
}

// Recent returns the most recently booked appointments.
func (c *Client) Recent(ctx context.Context) ([]scheduling.Appointment, error) {
	var resp struct {
		Recent []scheduling.Appointment `json:"recent_appointments"`
	}
	if err := c.api.Get(ctx, "/appointments/recent/", &resp); err != nil {
		return nil, fmt.Errorf("listing recent appointments: %w", err)
	}
	return resp.Recent, nil
}

func (c *Client) publish(change invalidation.Change) {
	if c.bus != nil {
		c.bus.Publish(change)
	}
}

func appointmentPath(id int64) string {
	return fmt.Sprintf("/appointments/%d/", id)
}

// writeOutcome reads the body of a 2xx write. The API reports rejected
// overlaps as {"success": false, "error": "..."} with a 200 status, so
// those are turned into conflicts here. The appointment id comes from
// appointment_id or id.
func writeOutcome(resp map[string]json.RawMessage) (int64, error) {
	if raw, ok := resp["success"]; ok {
		var success bool
		if err := json.Unmarshal(raw, &success); err == nil && !success {
			msg := "request rejected"
			if rawMsg, ok := resp["error"]; ok {
				var s string
				if json.Unmarshal(rawMsg, &s) == nil && s != "" {
					msg = s
				}
			}
			return 0, &scheduling.BookingConflict{Status: http.StatusOK, Message: msg}
		}
	}
	for _, key := range []string{"appointment_id", "id"} {
		if id, ok := scheduling.ParseID(resp[key]); ok {
			return id, nil
		}
	}
	return 0, nil
}
