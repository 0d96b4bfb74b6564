package scheduling

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Wire layouts for dates and clock times.
const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// Service is a bookable service. Read-only on this side.
type Service struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Price       string        `json:"price,omitempty"`
	Currency    string        `json:"currency,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// UnmarshalJSON accepts ids as numbers or strings and durations in the
// formats described on ParseDuration.
func (s *Service) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          flexID          `json:"id"`
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Price       json.RawMessage `json:"price"`
		Currency    string          `json:"currency"`
		Duration    json.RawMessage `json:"duration"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d, err := durationFromJSON(raw.Duration)
	if err != nil {
		return fmt.Errorf("service %d: %w", raw.ID, err)
	}

	*s = Service{
		ID:          int64(raw.ID),
		Name:        raw.Name,
		Description: raw.Description,
		Price:       scalarText(raw.Price),
		Currency:    raw.Currency,
		Duration:    d,
	}
	return nil
}

// StaffMember is a staff member and the services they offer.
type StaffMember struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	ServiceIDs []int64 `json:"service_ids,omitempty"`
}

// Offers reports whether the staff member offers the service. A staff
// member loaded without a service list is assumed to offer nothing.
func (m StaffMember) Offers(serviceID int64) bool {
	for _, id := range m.ServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}

// Appointment is a confirmed booking as reported by the API. The list,
// detail and recent endpoints use slightly different shapes; UnmarshalJSON
// folds them into this one.
type Appointment struct {
	ID        int64         `json:"id"`
	Client    string        `json:"client"`
	Service   string        `json:"service"`
	ServiceID int64         `json:"service_id,omitempty"`
	Staff     string        `json:"staff"`
	Date      string        `json:"date"`
	StartTime string        `json:"start_time"`
	EndTime   string        `json:"end_time,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Status    string        `json:"status,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Appointment) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        flexID          `json:"id"`
		Client    string          `json:"client"`
		Customer  string          `json:"customer"`
		Service   json.RawMessage `json:"service"`
		ServiceID flexID          `json:"service_id"`
		Staff     string          `json:"staff"`
		Date      string          `json:"date"`
		StartTime string          `json:"start_time"`
		EndTime   string          `json:"end_time"`
		Duration  json.RawMessage `json:"duration"`
		Status    string          `json:"status"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Appointment{
		ID:        int64(raw.ID),
		Client:    raw.Client,
		ServiceID: int64(raw.ServiceID),
		Staff:     raw.Staff,
		Date:      raw.Date,
		StartTime: raw.StartTime,
		EndTime:   raw.EndTime,
		Status:    raw.Status,
	}
	if out.Client == "" {
		out.Client = raw.Customer
	}

	// The detail endpoint reports the service by id, the others by name.
	if len(raw.Service) > 0 {
		var name string
		if err := json.Unmarshal(raw.Service, &name); err == nil {
			out.Service = name
		} else {
			var id flexID
			if err := json.Unmarshal(raw.Service, &id); err == nil && out.ServiceID == 0 {
				out.ServiceID = int64(id)
			}
		}
	}

	// Duration is informational; a malformed value is not worth failing the
	// whole list over.
	if d, err := durationFromJSON(raw.Duration); err == nil {
		out.Duration = d
	}

	*a = out
	return nil
}

// Start returns the appointment start in loc.
func (a Appointment) Start(loc *time.Location) (time.Time, error) {
	if a.Date == "" || a.StartTime == "" {
		return time.Time{}, fmt.Errorf("appointment %d has no date or start time", a.ID)
	}
	return CombineDateClock(a.Date, a.StartTime, loc)
}

// End returns the appointment end in loc. Without an end time it falls back
// to start plus duration, and without a duration to the start itself.
func (a Appointment) End(loc *time.Location) (time.Time, error) {
	start, err := a.Start(loc)
	if err != nil {
		return time.Time{}, err
	}
	if a.EndTime != "" {
		end, err := CombineDateClock(a.Date, a.EndTime, loc)
		if err == nil && !end.Before(start) {
			return end, nil
		}
	}
	return start.Add(a.Duration), nil
}

// CombineDateClock parses a YYYY-MM-DD date and an HH:MM[:SS] clock into a
// time in loc.
func CombineDateClock(date, clock string, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", date, err)
	}
	h, m, s, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, loc), nil
}

// ParseClock parses HH:MM or HH:MM:SS, with optional fractional seconds.
func ParseClock(clock string) (hour, min, sec int, err error) {
	clock = strings.TrimSpace(clock)
	if i := strings.IndexByte(clock, '.'); i >= 0 {
		clock = clock[:i]
	}
	parts := strings.Split(clock, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, fmt.Errorf("parsing clock %q: want HH:MM[:SS]", clock)
	}
	vals := make([]int, 3)
	limits := []int{23, 59, 59}
	for i, p := range parts {
		n, convErr := strconv.Atoi(p)
		if convErr != nil || n < 0 || n > limits[i] {
			return 0, 0, 0, fmt.Errorf("parsing clock %q: bad field %q", clock, p)
		}
		vals[i] = n
	}
	return vals[0], vals[1], vals[2], nil
}

var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseDuration parses the duration formats the API emits: ISO 8601 as
// rendered by the server ("P0DT00H30M00S", "PT30M"), "HH:MM:SS", Go duration
// strings ("30m") and bare numbers, which are minutes.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if m := isoDuration.FindStringSubmatch(s); m != nil && s != "P" && s != "PT" {
		var d time.Duration
		units := []time.Duration{24 * time.Hour, time.Hour, time.Minute}
		for i, unit := range units {
			if m[i+1] == "" {
				continue
			}
			n, _ := strconv.Atoi(m[i+1])
			d += time.Duration(n) * unit
		}
		if m[4] != "" {
			secs, _ := strconv.ParseFloat(m[4], 64)
			d += time.Duration(secs * float64(time.Second))
		}
		return d, nil
	}

	if strings.Contains(s, ":") {
		h, m, sec, err := ParseClock(s)
		if err != nil {
			return 0, fmt.Errorf("parsing duration %q: %w", s, err)
		}
		return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
	}

	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(n * float64(time.Minute)), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: unrecognized format", s)
	}
	return d, nil
}

func durationFromJSON(raw json.RawMessage) (time.Duration, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	return ParseDuration(scalarText(raw))
}

// scalarText renders a JSON string or number as text.
func scalarText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// flexID decodes an id sent either as a JSON number or a numeric string.
type flexID int64

func (f *flexID) UnmarshalJSON(data []byte) error {
	text := scalarText(data)
	if text == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing id %q: %w", text, err)
	}
	*f = flexID(n)
	return nil
}

// ParseID parses an id from a JSON scalar (number or string). It returns
// false for anything else.
func ParseID(raw json.RawMessage) (int64, bool) {
	var id flexID
	if err := id.UnmarshalJSON(raw); err != nil || id == 0 {
		return 0, false
	}
	return int64(id), true
}
