package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/appointment-desk/backend/internal/appointments"
	"github.com/appointment-desk/backend/internal/availability"
	"github.com/appointment-desk/backend/internal/scheduling"
)

var (
	consult  = scheduling.Service{ID: 3, Name: "Consult", Duration: 30 * time.Minute}
	cleaning = scheduling.Service{ID: 4, Name: "Cleaning", Duration: time.Hour}
	drA      = scheduling.StaffMember{ID: 5, Name: "Dr. A", ServiceIDs: []int64{3}}
	drB      = scheduling.StaffMember{ID: 6, Name: "Dr. B", ServiceIDs: []int64{3, 4}}
)

func fixedClock() time.Time {
	return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
}

type fakeGetter struct {
	GetFunc func(ctx context.Context, path string, out any) error
}

func (f *fakeGetter) Get(ctx context.Context, path string, out any) error {
	return f.GetFunc(ctx, path, out)
}

// slotsByDay serves the given slots for any staff and service.
func slotsByDay(days map[string][]string) *fakeGetter {
	return &fakeGetter{GetFunc: func(ctx context.Context, path string, out any) error {
		for day, slots := range days {
			if strings.HasSuffix(path, "/"+day+"/") {
				body, _ := json.Marshal(map[string][]string{"slots": slots})
				return json.Unmarshal(body, out)
			}
		}
		return nil
	}}
}

type fakeSubmitter struct {
	CreateFunc func(ctx context.Context, n appointments.NewAppointment) (appointments.Result, error)

	mu    sync.Mutex
	calls int
}

func (f *fakeSubmitter) Create(ctx context.Context, n appointments.NewAppointment) (appointments.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.CreateFunc(ctx, n)
}

func (f *fakeSubmitter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okSubmitter() *fakeSubmitter {
	return &fakeSubmitter{CreateFunc: func(ctx context.Context, n appointments.NewAppointment) (appointments.Result, error) {
		return appointments.Result{Appointment: scheduling.Appointment{ID: 42}}, nil
	}}
}

func newWizard(t *testing.T, getter availability.Getter, sub Submitter, opts ...Option) *Wizard {
	t.Helper()
	resolver := availability.NewResolver(getter, time.UTC, nil)
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	return NewWizard("w1", 9, resolver, sub, time.UTC, opts...)
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func advance(t *testing.T, w *Wizard, want Step) {
	t.Helper()
	got, err := w.Advance()
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if got != want {
		t.Fatalf("expected step %s, got %s", want, got)
	}
}

// toConfirming drives a wizard through every step with Consult, Dr. A,
// 2024-06-10 09:00.
func toConfirming(t *testing.T, w *Wizard) {
	t.Helper()
	must(t, w.SetService(consult))
	advance(t, w, SelectingStaff)
	must(t, w.SetStaff(drA))
	advance(t, w, SelectingDaySlot)
	must(t, w.SetDay("2024-06-10"))
	if _, err := w.LoadSlots(context.Background()); err != nil {
		t.Fatalf("LoadSlots: %v", err)
	}
	must(t, w.SetSlot("2024-06-10 09:00:00"))
	advance(t, w, Confirming)
}

func checkInvariants(t *testing.T, d Draft) {
	t.Helper()
	if d.Slot != nil && (d.Staff == nil || d.Service == nil || d.Day == "") {
		t.Fatalf("slot set without prerequisites: %+v", d)
	}
	if d.Staff != nil && (d.Service == nil || !d.Staff.Offers(d.Service.ID)) {
		t.Fatalf("staff set without an offered service: %+v", d)
	}
}

func TestWizard_DefaultsToToday(t *testing.T) {
	w := newWizard(t, slotsByDay(nil), okSubmitter())
	st := w.State()
	if st.Draft.Day != "2024-06-01" || st.Step != SelectingService {
		t.Fatalf("unexpected initial state %+v", st)
	}
}

func TestWizard_InvariantsHoldUnderRandomOperations(t *testing.T) {
	getter := slotsByDay(map[string][]string{
		"2024-06-10": {"2024-06-10 09:00:00", "2024-06-10 10:00:00"},
		"2024-06-11": {"2024-06-11 14:00:00"},
	})
	rng := rand.New(rand.NewSource(7))
	services := []scheduling.Service{consult, cleaning}
	staff := []scheduling.StaffMember{drA, drB}
	days := []string{"2024-06-10", "2024-06-11"}
	slotValues := []string{"2024-06-10 09:00:00", "2024-06-10 10:00:00", "2024-06-11 14:00:00"}

	for run := 0; run < 20; run++ {
		w := newWizard(t, getter, okSubmitter())
		for op := 0; op < 60; op++ {
			switch rng.Intn(7) {
			case 0:
				w.SetService(services[rng.Intn(len(services))])
			case 1:
				w.SetStaff(staff[rng.Intn(len(staff))])
			case 2:
				w.SetDay(days[rng.Intn(len(days))])
			case 3:
				w.LoadSlots(context.Background())
			case 4:
				w.SetSlot(slotValues[rng.Intn(len(slotValues))])
			case 5:
				w.Advance()
			case 6:
				w.Retreat()
			}
			st := w.State()
			checkInvariants(t, st.Draft)
			if st.Step > st.Draft.reachable() {
				t.Fatalf("step %s beyond reachable %s", st.Step, st.Draft.reachable())
			}
		}
	}
}

func TestWizard_SetDayAlwaysClearsSlot(t *testing.T) {
	w := newWizard(t, slotsByDay(map[string][]string{"2024-06-10": {"2024-06-10 09:00:00"}}), okSubmitter())
	toConfirming(t, w)

	must(t, w.SetDay("2024-06-10"))
	st := w.State()
	if st.Draft.Slot != nil {
		t.Fatal("expected slot cleared after setting the same day")
	}
	if st.Step != SelectingDaySlot {
		t.Fatalf("expected wizard back at day/slot step, got %s", st.Step)
	}
}

func TestWizard_ServiceChangeClearsIneligibleStaff(t *testing.T) {
	w := newWizard(t, slotsByDay(map[string][]string{"2024-06-10": {"2024-06-10 09:00:00"}}), okSubmitter())
	toConfirming(t, w)

	must(t, w.SetService(cleaning))
	st := w.State()
	if st.Draft.Staff != nil || st.Draft.Slot != nil {
		t.Fatalf("expected staff and slot cleared, got %+v", st.Draft)
	}
	if st.Step != SelectingStaff {
		t.Fatalf("expected wizard back at staff step, got %s", st.Step)
	}
}

func TestWizard_ServiceChangeKeepsEligibleStaff(t *testing.T) {
	w := newWizard(t, slotsByDay(nil), okSubmitter())
	must(t, w.SetService(consult))
	must(t, w.SetStaff(drB))
	must(t, w.SetService(cleaning))
	if st := w.State(); st.Draft.Staff == nil || st.Draft.Staff.ID != drB.ID {
		t.Fatalf("expected Dr. B kept, got %+v", st.Draft.Staff)
	}
}

func TestWizard_StaffRequiresService(t *testing.T) {
	w := newWizard(t, slotsByDay(nil), okSubmitter())
	if err := w.SetStaff(drA); !IsIncomplete(err) {
		t.Fatalf("expected IncompleteDraft, got %v", err)
	}
	must(t, w.SetService(cleaning))
	if err := w.SetStaff(drA); !errors.Is(err, ErrStaffNotEligible) {
		t.Fatalf("expected ErrStaffNotEligible, got %v", err)
	}
}

func TestWizard_AdvanceAndRetreatClamp(t *testing.T) {
	w := newWizard(t, slotsByDay(nil), okSubmitter())

	if step, _ := w.Retreat(); step != SelectingService {
		t.Fatalf("expected clamp at first step, got %s", step)
	}
	step, err := w.Advance()
	if !IsIncomplete(err) || step != SelectingService {
		t.Fatalf("expected advance refused without service, got %s %v", step, err)
	}

	w2 := newWizard(t, slotsByDay(map[string][]string{"2024-06-10": {"2024-06-10 09:00:00"}}), okSubmitter())
	toConfirming(t, w2)
	advance(t, w2, Confirming)
	if step, _ := w2.Retreat(); step != SelectingDaySlot {
		t.Fatalf("expected retreat to day/slot, got %s", step)
	}
	if st := w2.State(); st.Draft.Slot == nil {
		t.Fatal("expected retreat to keep selections")
	}
}

func TestWizard_DayInPastRejected(t *testing.T) {
	w := newWizard(t, slotsByDay(nil), okSubmitter())
	if err := w.SetDay("2024-05-31"); !errors.Is(err, ErrDayInPast) {
		t.Fatalf("expected ErrDayInPast, got %v", err)
	}
	if err := w.SetDay("10/06/2024"); !errors.Is(err, ErrInvalidDay) {
		t.Fatalf("expected ErrInvalidDay, got %v", err)
	}
}

func TestWizard_SlotMustComeFromCurrentAvailability(t *testing.T) {
	w := newWizard(t, slotsByDay(map[string][]string{"2024-06-10": {"2024-06-10 09:00:00"}}), okSubmitter())
	must(t, w.SetService(consult))
	must(t, w.SetStaff(drA))
	must(t, w.SetDay("2024-06-10"))

	if err := w.SetSlot("2024-06-10 09:00:00"); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected slot refused before loading, got %v", err)
	}
	w.LoadSlots(context.Background())
	if err := w.SetSlot("2024-06-10 11:00:00"); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected unknown slot refused, got %v", err)
	}
	if err := w.SetSlot("2024-06-10T09:00:00Z"); err != nil {
		t.Fatalf("expected RFC 3339 start accepted, got %v", err)
	}
}

func TestWizard_AdvanceBlockedWhileSlotsLoading(t *testing.T) {
	release := make(chan struct{})
	getter := &fakeGetter{GetFunc: func(ctx context.Context, path string, out any) error {
		<-release
		return json.Unmarshal([]byte(`{"slots": ["09:00"]}`), out)
	}}
	w := newWizard(t, getter, okSubmitter())
	must(t, w.SetService(consult))
	advance(t, w, SelectingStaff)
	must(t, w.SetStaff(drA))
	advance(t, w, SelectingDaySlot)
	must(t, w.SetDay("2024-06-10"))

	done := make(chan struct{})
	go func() {
		w.LoadSlots(context.Background())
		close(done)
	}()
	waitFor(t, func() bool { return w.State().SlotsLoading })

	if _, err := w.Advance(); !errors.Is(err, ErrSlotsLoading) {
		t.Fatalf("expected ErrSlotsLoading, got %v", err)
	}
	close(release)
	<-done

	must(t, w.SetSlot("09:00"))
	advance(t, w, Confirming)
}

func TestWizard_NoStaleSlotsAcrossDayChange(t *testing.T) {
	release := make(chan struct{})
	getter := &fakeGetter{GetFunc: func(ctx context.Context, path string, out any) error {
		if strings.HasSuffix(path, "/2024-06-10/") {
			<-release
			return json.Unmarshal([]byte(`{"slots": ["09:00", "10:00"]}`), out)
		}
		return json.Unmarshal([]byte(`{"slots": ["14:00"]}`), out)
	}}
	w := newWizard(t, getter, okSubmitter())
	must(t, w.SetService(consult))
	must(t, w.SetStaff(drA))
	must(t, w.SetDay("2024-06-10"))

	firstErr := make(chan error, 1)
	go func() {
		_, err := w.LoadSlots(context.Background())
		firstErr <- err
	}()
	waitFor(t, func() bool { return w.State().SlotsLoading })

	must(t, w.SetDay("2024-06-11"))
	if _, err := w.LoadSlots(context.Background()); err != nil {
		t.Fatalf("LoadSlots: %v", err)
	}
	close(release)
	if err := <-firstErr; !errors.Is(err, availability.ErrSuperseded) {
		t.Fatalf("expected first response discarded, got %v", err)
	}

	var got []string
	for _, s := range w.State().Slots {
		got = append(got, s.Label())
	}
	if !slices.Equal(got, []string{"14:00"}) {
		t.Fatalf("rendered slots must be exactly [14:00], got %v", got)
	}
	if err := w.SetSlot("09:00"); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected slot from the first day refused, got %v", err)
	}
}

func TestSubmit_OnlyFromConfirming(t *testing.T) {
	sub := okSubmitter()
	w := newWizard(t, slotsByDay(map[string][]string{"2024-06-10": {"2024-06-10 09:00:00"}}), sub)
	must(t, w.SetService(consult))
	advance(t, w, SelectingStaff)
	must(t, w.SetStaff(drA))
	advance(t, w, SelectingDaySlot)
	must(t, w.SetDay("2024-06-10"))
	w.LoadSlots(context.Background())
	must(t, w.SetSlot("2024-06-10 09:00:00"))

	_, err := w.Submit(context.Background())
	var inc *IncompleteDraft
	if !errors.As(err, &inc) || !slices.Contains(inc.Missing, FieldConfirmation) {
		t.Fatalf("expected IncompleteDraft naming confirmation, got %v", err)
	}
	if sub.Calls() != 0 {
		t.Fatal("submitter must not be called")
	}
}

func TestSubmit_NamesMissingClient(t *testing.T) {
	sub := okSubmitter()
	w := newWizard(t, slotsByDay(map[string][]string{"2024-06-10": {"2024-06-10 09:00:00"}}), sub)
	toConfirming(t, w)
	must(t, w.SetClient(0))

	_, err := w.Submit(context.Background())
	var inc *IncompleteDraft
	if !errors.As(err, &inc) || !slices.Equal(inc.Missing, []string{FieldClient}) {
		t.Fatalf("expected IncompleteDraft [client], got %v", err)
	}
	if sub.Calls() != 0 {
		t.Fatal("submitter must not be called")
	}
}

func TestSubmit_FailureLeavesDraftIntact(t *testing.T) {
	sub := &fakeSubmitter{CreateFunc: func(ctx context.Context, n appointments.NewAppointment) (appointments.Result, error) {
		return appointments.Result{}, &scheduling.BookingConflict{Status: 409, Message: "Slot already taken"}
	}}
	w := newWizard(t, slotsByDay(map[string][]string{"2024-06-10": {"2024-06-10 09:00:00"}}), sub)
	toConfirming(t, w)
	before := w.State()

	_, err := w.Submit(context.Background())
	var conflict *scheduling.BookingConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected BookingConflict, got %v", err)
	}
	after := w.State()
	if after.Step != Confirming || after.Closed || after.Draft.Slot == nil || after.Draft.Slot.Raw != before.Draft.Slot.Raw {
		t.Fatalf("expected draft untouched, got %+v", after)
	}

	// Retry without re-entering data.
	sub.CreateFunc = okSubmitter().CreateFunc
	if _, err := w.Submit(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestSubmit_RejectsSecondWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	sub := &fakeSubmitter{CreateFunc: func(ctx context.Context, n appointments.NewAppointment) (appointments.Result, error) {
		<-release
		return appointments.Result{Appointment: scheduling.Appointment{ID: 1}}, nil
	}}
	w := newWizard(t, slotsByDay(map[string][]string{"2024-06-10": {"2024-06-10 09:00:00"}}), sub)
	toConfirming(t, w)

	done := make(chan error, 1)
	go func() {
		_, err := w.Submit(context.Background())
		done <- err
	}()
	waitFor(t, func() bool { return w.State().Submitting })

	if _, err := w.Submit(context.Background()); !errors.Is(err, ErrSubmitInFlight) {
		t.Fatalf("expected ErrSubmitInFlight, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if sub.Calls() != 1 {
		t.Fatalf("expected one create, got %d", sub.Calls())
	}
}

func TestSubmit_DraftFrozenWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	sub := &fakeSubmitter{CreateFunc: func(ctx context.Context, n appointments.NewAppointment) (appointments.Result, error) {
		<-release
		return appointments.Result{}, &scheduling.BookingConflict{Status: 409, Message: "slot taken"}
	}}
	w := newWizard(t, slotsByDay(map[string][]string{
		"2024-06-10": {"2024-06-10 09:00:00"},
		"2024-06-11": {"2024-06-11 14:00:00"},
	}), sub)
	toConfirming(t, w)
	before := w.State()

	done := make(chan error, 1)
	go func() {
		_, err := w.Submit(context.Background())
		done <- err
	}()
	waitFor(t, func() bool { return w.State().Submitting })

	edits := map[string]error{
		"client":  w.SetClient(10),
		"service": w.SetService(cleaning),
		"staff":   w.SetStaff(drB),
		"day":     w.SetDay("2024-06-11"),
		"slot":    w.SetSlot("2024-06-10 09:00:00"),
	}
	_, edits["retreat"] = w.Retreat()
	_, edits["advance"] = w.Advance()
	for name, err := range edits {
		if !errors.Is(err, ErrSubmitInFlight) {
			t.Errorf("%s: expected ErrSubmitInFlight, got %v", name, err)
		}
	}

	close(release)
	var conflict *scheduling.BookingConflict
	if err := <-done; !errors.As(err, &conflict) {
		t.Fatalf("expected BookingConflict, got %v", err)
	}
	after := w.State()
	if after.Step != Confirming || after.Draft.ClientID != before.Draft.ClientID ||
		after.Draft.Service.ID != consult.ID || after.Draft.Staff.ID != drA.ID ||
		after.Draft.Day != "2024-06-10" || after.Draft.Slot == nil {
		t.Fatalf("expected draft untouched, got %+v", after)
	}
}

func TestSubmit_ResponseAfterCloseIsIgnored(t *testing.T) {
	release := make(chan struct{})
	completed := false
	sub := &fakeSubmitter{CreateFunc: func(ctx context.Context, n appointments.NewAppointment) (appointments.Result, error) {
		<-release
		return appointments.Result{Appointment: scheduling.Appointment{ID: 1}}, nil
	}}
	w := newWizard(t, slotsByDay(map[string][]string{"2024-06-10": {"2024-06-10 09:00:00"}}), sub,
		WithCompletion(func(string, appointments.Result) { completed = true }))
	toConfirming(t, w)

	done := make(chan error, 1)
	go func() {
		_, err := w.Submit(context.Background())
		done <- err
	}()
	waitFor(t, func() bool { return w.State().Submitting })

	w.Close()
	close(release)
	if err := <-done; !errors.Is(err, ErrDraftClosed) {
		t.Fatalf("expected ErrDraftClosed, got %v", err)
	}
	if completed {
		t.Fatal("completion must not fire after close")
	}
	if err := w.SetDay("2024-06-12"); !errors.Is(err, ErrDraftClosed) {
		t.Fatalf("expected closed wizard to refuse changes, got %v", err)
	}
}

// Consult (30 min) with Dr. A on 2024-06-10 at 09:00 ends at 09:30.
func TestSubmit_EndToEndComputesEnd(t *testing.T) {
	var payload map[string]any
	api := &fakeAPI{SendFunc: func(ctx context.Context, method, path string, body any, out any) error {
		data, _ := json.Marshal(body)
		json.Unmarshal(data, &payload)
		return json.Unmarshal([]byte(`{"success": true, "appointment_id": 77}`), out)
	}}
	mutations := appointments.NewClient(api, nil, time.UTC, nil)

	var completedWith appointments.Result
	w := newWizard(t, slotsByDay(map[string][]string{"2024-06-10": {"2024-06-10T09:00"}}), mutations,
		WithCompletion(func(_ string, res appointments.Result) { completedWith = res }))
	must(t, w.SetService(consult))
	advance(t, w, SelectingStaff)
	must(t, w.SetStaff(drA))
	advance(t, w, SelectingDaySlot)
	must(t, w.SetDay("2024-06-10"))
	w.LoadSlots(context.Background())
	must(t, w.SetSlot("2024-06-10T09:00"))
	advance(t, w, Confirming)

	res, err := w.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Appointment.EndTime != "09:30" || payload["end_time"] != "09:30" {
		t.Fatalf("expected end 09:30, got appointment %q payload %v", res.Appointment.EndTime, payload["end_time"])
	}
	if completedWith.Appointment.ID != 77 {
		t.Fatalf("expected completion signal, got %+v", completedWith)
	}
	st := w.State()
	if !st.Closed || st.Draft.Service != nil {
		t.Fatalf("expected draft discarded, got %+v", st)
	}
}

type fakeAPI struct {
	SendFunc func(ctx context.Context, method, path string, body any, out any) error
}

func (f *fakeAPI) Get(ctx context.Context, path string, out any) error {
	return fmt.Errorf("unexpected GET %s", path)
}

func (f *fakeAPI) Send(ctx context.Context, method, path string, body any, out any) error {
	return f.SendFunc(ctx, method, path, body, out)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
