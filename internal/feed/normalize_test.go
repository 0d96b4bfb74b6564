package feed

import (
	"testing"
	"time"

	"github.com/appointment-desk/backend/internal/storage/models"
)

var testNow = time.Date(2024, 6, 10, 9, 30, 0, 0, time.UTC)

func TestNormalize_IgnoresKeepAlivesAndUnknownKinds(t *testing.T) {
	for _, payload := range []string{
		"",
		"   ",
		":keep-alive",
		`{"type":"connected","user_id":3}`,
		`{"type":"appointment.rescheduled","appointment_id":1}`,
		`{"appointment_id":1}`,
	} {
		_, ok, err := Normalize([]byte(payload), testNow)
		if ok || err != nil {
			t.Errorf("Normalize(%q) = ok %v err %v, want silently dropped", payload, ok, err)
		}
	}
}

func TestNormalize_RejectsMalformed(t *testing.T) {
	if _, _, err := Normalize([]byte("{not json"), testNow); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, _, err := Normalize([]byte(`{"type":"appointment.created","client":"Ana"}`), testNow); err == nil {
		t.Error("expected error for missing appointment id")
	}
}

func TestNormalize_Aliases(t *testing.T) {
	tests := []struct {
		payload string
		kind    models.NotificationKind
		title   string
	}{
		{`{"type":"appointment.created","appointment_id":42}`, models.KindCreated, "New appointment booked"},
		{`{"type":"appointment_created","appointment_id":"42"}`, models.KindCreated, "New appointment booked"},
		{`{"type":"appointments.created","id":42}`, models.KindCreated, "New appointment booked"},
		{`{"type":"appointment.deleted","appointment_id":42}`, models.KindDeleted, "Appointment cancelled"},
		{`{"type":"appointments.deleted","appointment_id":42}`, models.KindDeleted, "Appointment cancelled"},
		{`{"type":"appointment.cancelled","appointment_id":42}`, models.KindDeleted, "Appointment cancelled"},
	}
	for _, tt := range tests {
		n, ok, err := Normalize([]byte(tt.payload), testNow)
		if err != nil || !ok {
			t.Errorf("Normalize(%s): ok %v err %v", tt.payload, ok, err)
			continue
		}
		if n.AppointmentID != 42 || n.Kind != tt.kind || n.Title != tt.title {
			t.Errorf("Normalize(%s) = %+v", tt.payload, n)
		}
	}
}

func TestNormalize_Fields(t *testing.T) {
	payload := `{"type":"appointment_created","appointment_id":7,"customer":"Ana","service":"Consult",` +
		`"date":"2024-06-10","start_time":"09:00","staff":"Dr. A"}`
	n, ok, err := Normalize([]byte(payload), testNow)
	if err != nil || !ok {
		t.Fatalf("Normalize: ok %v err %v", ok, err)
	}
	want := models.Notification{
		AppointmentID: 7,
		Kind:          models.KindCreated,
		Title:         "New appointment booked",
		Color:         "blue",
		Client:        "Ana",
		Service:       "Consult",
		Date:          "2024-06-10",
		Time:          "09:00",
		Staff:         "Dr. A",
		ReceivedAt:    testNow,
	}
	if n != want {
		t.Fatalf("got %+v\nwant %+v", n, want)
	}
}

func TestNormalize_KeepsReceivedAtFromPayload(t *testing.T) {
	n, _, _ := Normalize([]byte(`{"type":"appointment.deleted","appointment_id":1,"receivedAt":"2024-06-09T08:00:00Z"}`), testNow)
	if !n.ReceivedAt.Equal(time.Date(2024, 6, 9, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected receivedAt %v", n.ReceivedAt)
	}
	if n.Color != "red" {
		t.Fatalf("unexpected color %q", n.Color)
	}
}
