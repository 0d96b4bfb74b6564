package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/appointment-desk/backend/internal/appointments"
	"github.com/appointment-desk/backend/internal/availability"
	"github.com/appointment-desk/backend/internal/scheduling"
	"go.uber.org/zap"
)

// Submitter creates appointments.
type Submitter interface {
	Create(ctx context.Context, n appointments.NewAppointment) (appointments.Result, error)
}

// Option configures a Wizard.
type Option func(*Wizard)

// WithClock overrides the time source used for the default day and the
// past-day check.
func WithClock(now func() time.Time) Option {
	return func(w *Wizard) { w.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Wizard) { w.logger = logger }
}

// WithCompletion registers a callback that runs after a successful submit.
func WithCompletion(fn func(id string, res appointments.Result)) Option {
	return func(w *Wizard) { w.onComplete = fn }
}

// Wizard is one open booking wizard.
type Wizard struct {
	id         string
	submitter  Submitter
	slots      *availability.Tracker
	loc        *time.Location
	now        func() time.Time
	logger     *zap.Logger
	onComplete func(id string, res appointments.Result)

	mu         sync.Mutex
	step       Step
	draft      Draft
	submitting bool
	closed     bool
}

// NewWizard opens a wizard for clientID (0 leaves the client unset). The
// day starts out as today in loc.
func NewWizard(id string, clientID int64, resolver availability.SlotResolver, submitter Submitter, loc *time.Location, opts ...Option) *Wizard {
	if loc == nil {
		loc = time.Local
	}
	w := &Wizard{
		id:        id,
		submitter: submitter,
		slots:     availability.NewTracker(resolver),
		loc:       loc,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.draft = Draft{ClientID: clientID, Day: w.today()}
	return w
}

// State is a snapshot of a wizard for display.
type State struct {
	ID           string              `json:"id"`
	Step         Step                `json:"step"`
	Draft        Draft               `json:"draft"`
	Slots        []availability.Slot `json:"slots"`
	SlotsLoading bool                `json:"slots_loading"`
	SlotsError   string              `json:"slots_error,omitempty"`
	CanAdvance   bool                `json:"can_advance"`
	Missing      []string            `json:"missing,omitempty"`
	Submitting   bool                `json:"submitting"`
	Closed       bool                `json:"closed"`
}

// ID returns the wizard id.
func (w *Wizard) ID() string {
	return w.id
}

// State returns a snapshot. Slots are only reported while they belong to
// the draft's current (staff, service, day).
func (w *Wizard) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := State{
		ID:         w.id,
		Step:       w.step,
		Draft:      w.draft,
		Missing:    w.draft.Missing(),
		Submitting: w.submitting,
		Closed:     w.closed,
	}

	slots := w.slots.State()
	if slots.Query == w.draft.query() {
		st.Slots = slots.Slots
		st.SlotsLoading = slots.Loading
		if slots.Err != nil {
			st.SlotsError = slots.Err.Error()
		}
	}
	st.CanAdvance = w.step < Confirming && len(w.draft.stepMissing(w.step)) == 0 && !st.SlotsLoading
	return st
}

// SetClient sets the client the appointment is for.
func (w *Wizard) SetClient(clientID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editableLocked(); err != nil {
		return err
	}
	w.draft.ClientID = clientID
	return nil
}

// SetService selects the service. A chosen staff member who does not offer
// the new service is cleared, and any slot is cleared since availability
// depends on the service.
func (w *Wizard) SetService(svc scheduling.Service) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editableLocked(); err != nil {
		return err
	}

	changed := w.draft.Service == nil || w.draft.Service.ID != svc.ID
	w.draft.Service = &svc
	if w.draft.Staff != nil && !w.draft.Staff.Offers(svc.ID) {
		w.draft.Staff = nil
		changed = true
	}
	if changed {
		w.clearSlotLocked()
	}
	w.clampStepLocked()
	return nil
}

// SetStaff selects the staff member. A service must already be chosen and
// the staff member must offer it.
func (w *Wizard) SetStaff(member scheduling.StaffMember) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editableLocked(); err != nil {
		return err
	}
	if w.draft.Service == nil {
		return &IncompleteDraft{Missing: []string{FieldService}}
	}
	if !member.Offers(w.draft.Service.ID) {
		return ErrStaffNotEligible
	}

	if w.draft.Staff == nil || w.draft.Staff.ID != member.ID {
		w.clearSlotLocked()
	}
	w.draft.Staff = &member
	w.clampStepLocked()
	return nil
}

// SetDay sets the day (YYYY-MM-DD). The slot is always cleared, even when
// the day does not change.
func (w *Wizard) SetDay(day string) error {
	parsed, err := time.ParseInLocation(scheduling.DateLayout, day, w.loc)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDay, day)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editableLocked(); err != nil {
		return err
	}
	if parsed.Format(scheduling.DateLayout) < w.today() {
		return ErrDayInPast
	}

	w.draft.Day = parsed.Format(scheduling.DateLayout)
	w.clearSlotLocked()
	w.clampStepLocked()
	return nil
}

// LoadSlots resolves availability for the current staff, service and day.
// Advancing past the day/slot step is refused while it runs. If the draft
// changes while the request is outstanding, the response is dropped and
// availability.ErrSuperseded is returned.
func (w *Wizard) LoadSlots(ctx context.Context) ([]availability.Slot, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrDraftClosed
	}
	q := w.draft.query()
	w.mu.Unlock()

	if !q.Complete() {
		var missing []string
		if q.ServiceID == 0 {
			missing = append(missing, FieldService)
		}
		if q.StaffID == 0 {
			missing = append(missing, FieldStaff)
		}
		if q.Day == "" {
			missing = append(missing, FieldDay)
		}
		return nil, &IncompleteDraft{Missing: missing}
	}

	slots, err := w.slots.Update(ctx, q)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrDraftClosed
	}
	if err != nil {
		return nil, err
	}
	return slots, nil
}

// SetSlot picks a slot. value is either the raw server value of a slot or
// an RFC 3339 start instant; it must belong to the current availability.
func (w *Wizard) SetSlot(value string) error {
	var start time.Time
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		start = t
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editableLocked(); err != nil {
		return err
	}

	q := w.draft.query()
	if !q.Complete() {
		return &IncompleteDraft{Missing: w.draft.Missing()}
	}
	if w.slots.State().Query != q {
		return ErrSlotUnavailable
	}
	slot, ok := w.slots.Lookup(start, value)
	if !ok {
		return ErrSlotUnavailable
	}
	w.draft.Slot = &slot
	return nil
}

// Advance moves to the next step if the current one is complete. It is a
// no-op at Confirming.
func (w *Wizard) Advance() (Step, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editableLocked(); err != nil {
		return w.step, err
	}
	if w.step >= Confirming {
		return w.step, nil
	}
	if w.step == SelectingDaySlot && w.slots.Loading() {
		return w.step, ErrSlotsLoading
	}
	if missing := w.draft.stepMissing(w.step); len(missing) > 0 {
		return w.step, &IncompleteDraft{Missing: missing}
	}
	w.step++
	return w.step, nil
}

// Retreat moves to the previous step. It is a no-op at SelectingService.
// Selections are kept.
func (w *Wizard) Retreat() (Step, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editableLocked(); err != nil {
		return w.step, err
	}
	if w.step > SelectingService {
		w.step--
	}
	return w.step, nil
}

// Submit creates the appointment. It is only allowed from Confirming with a
// fully populated draft. On failure the draft is left as it was; on success
// the draft is discarded and the wizard closes.
func (w *Wizard) Submit(ctx context.Context) (appointments.Result, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return appointments.Result{}, ErrDraftClosed
	}
	if w.submitting {
		w.mu.Unlock()
		return appointments.Result{}, ErrSubmitInFlight
	}
	missing := w.draft.Missing()
	if w.step != Confirming {
		missing = append(missing, FieldConfirmation)
	}
	if len(missing) > 0 {
		w.mu.Unlock()
		return appointments.Result{}, &IncompleteDraft{Missing: missing}
	}

	req := appointments.NewAppointment{
		ClientID:  w.draft.ClientID,
		Service:   *w.draft.Service,
		StaffID:   w.draft.Staff.ID,
		StaffName: w.draft.Staff.Name,
		Start:     w.draft.Slot.Start,
	}
	w.submitting = true
	w.mu.Unlock()

	res, err := w.submitter.Create(ctx, req)

	w.mu.Lock()
	w.submitting = false
	if w.closed {
		w.mu.Unlock()
		if err == nil {
			w.logger.Info("booking completed after wizard closed",
				zap.String("wizard_id", w.id), zap.Int64("appointment_id", res.Appointment.ID))
		}
		return appointments.Result{}, ErrDraftClosed
	}
	if err != nil {
		w.mu.Unlock()
		return appointments.Result{}, err
	}
	w.closed = true
	w.draft = Draft{}
	w.step = SelectingService
	w.slots.Invalidate()
	w.mu.Unlock()

	if w.onComplete != nil {
		w.onComplete(w.id, res)
	}
	return res, nil
}

// Close discards the draft. Responses to requests still in flight are
// ignored.
func (w *Wizard) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.draft = Draft{}
	w.slots.Invalidate()
}

// editableLocked refuses changes to a closed draft or one whose submit is
// pending.
func (w *Wizard) editableLocked() error {
	if w.closed {
		return ErrDraftClosed
	}
	if w.submitting {
		return ErrSubmitInFlight
	}
	return nil
}

func (w *Wizard) clearSlotLocked() {
	w.draft.Slot = nil
	w.slots.Invalidate()
}

// clampStepLocked moves the wizard back to the first step whose
// prerequisites are no longer met.
func (w *Wizard) clampStepLocked() {
	if r := w.draft.reachable(); w.step > r {
		w.step = r
	}
}

func (w *Wizard) today() string {
	return w.now().In(w.loc).Format(scheduling.DateLayout)
}

// IsIncomplete reports whether err is an IncompleteDraft.
func IsIncomplete(err error) bool {
	var inc *IncompleteDraft
	return errors.As(err, &inc)
}
