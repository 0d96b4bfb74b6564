package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/appointment-desk/backend/internal/appointments"
	"github.com/appointment-desk/backend/internal/feed"
	"github.com/appointment-desk/backend/internal/scheduling"
	"github.com/appointment-desk/backend/internal/storage/models"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data, ok := <-c.Send():
		if !ok {
			t.Fatal("client channel closed")
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decoding %s: %v", data, err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
	return Message{}
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	hub := startHub(t)
	a, b := NewClient(), NewClient()
	hub.Register(a)
	hub.Register(b)
	if n := hub.ClientCount(); n != 2 {
		t.Fatalf("expected 2 clients, got %d", n)
	}

	NewEventBroadcaster(hub, nil).NotificationUpserted(models.Notification{AppointmentID: 42, Kind: models.KindCreated})

	for _, c := range []*Client{a, b} {
		if msg := receive(t, c); msg.Type != TypeNotificationUpserted {
			t.Fatalf("unexpected type %s", msg.Type)
		}
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := startHub(t)
	c := NewClient()
	hub.Register(c)
	hub.Unregister(c)

	select {
	case _, ok := <-c.Send():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed")
	}
	if n := hub.ClientCount(); n != 0 {
		t.Fatalf("expected no clients, got %d", n)
	}
}

func TestHub_SendToTargetsOneClient(t *testing.T) {
	hub := startHub(t)
	a, b := NewClient(), NewClient()
	hub.Register(a)
	hub.Register(b)

	pong, _ := NewMessage(TypePong, nil).JSON()
	hub.SendTo(a, pong)
	if msg := receive(t, a); msg.Type != TypePong {
		t.Fatalf("unexpected type %s", msg.Type)
	}
	select {
	case data := <-b.Send():
		t.Fatalf("unexpected message for b: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_StoppedHubRefusesClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	if hub.Register(NewClient()) {
		t.Fatal("expected register to fail on a stopped hub")
	}
	if hub.ClientCount() != 0 {
		t.Fatal("expected zero clients")
	}
}

func TestEventBroadcaster_Payloads(t *testing.T) {
	hub := startHub(t)
	c := NewClient()
	hub.Register(c)
	b := NewEventBroadcaster(hub, nil)

	b.FeedStatusChanged(feed.Status{Connected: false, LastError: "push stream disconnected"})
	b.CalendarRefreshed(nil)
	b.BookingCompleted("w1", appointments.Result{Appointment: scheduling.Appointment{ID: 9, Date: "2024-06-10", StartTime: "09:00", EndTime: "09:30"}})
	b.NotificationsCleared()

	want := []MessageType{TypeFeedStatusChanged, TypeCalendarInvalidated, TypeBookingCompleted, TypeNotificationsCleared}
	for _, typ := range want {
		msg := receive(t, c)
		if msg.Type != typ {
			t.Fatalf("expected %s, got %s", typ, msg.Type)
		}
		if typ == TypeBookingCompleted {
			payload := msg.Payload.(map[string]any)
			if payload["end_time"] != "09:30" || payload["wizard_id"] != "w1" {
				t.Fatalf("unexpected payload %v", payload)
			}
		}
	}
}
