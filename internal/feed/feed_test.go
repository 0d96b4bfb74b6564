package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/appointment-desk/backend/internal/invalidation"
	"github.com/appointment-desk/backend/internal/storage/models"
)

type memoryStore struct {
	mu    sync.Mutex
	list  []models.Notification
	saves int
	err   error
}

func (m *memoryStore) LoadNotifications(ctx context.Context) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Notification(nil), m.list...), nil
}

func (m *memoryStore) SaveNotifications(ctx context.Context, list []models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.err != nil {
		return m.err
	}
	m.list = append([]models.Notification(nil), list...)
	return nil
}

func (m *memoryStore) snapshot() []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Notification(nil), m.list...)
}

type recordingListener struct {
	mu       sync.Mutex
	upserted []int64
	removed  []int64
	cleared  int
	statuses []Status
}

func (r *recordingListener) NotificationUpserted(n models.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserted = append(r.upserted, n.AppointmentID)
}

func (r *recordingListener) NotificationRemoved(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
}

func (r *recordingListener) NotificationsCleared() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
}

func (r *recordingListener) FeedStatusChanged(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

type publisherFunc func(invalidation.Change)

func (f publisherFunc) Publish(c invalidation.Change) { f(c) }

func startFeed(t *testing.T, store Store, opts ...Option) *Feed {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	f := New(store, nil, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return f
}

// flush waits until everything queued before it has been processed.
func flush(t *testing.T, f *Feed) {
	t.Helper()
	if err := f.call(context.Background(), func(context.Context) {}); err != nil {
		t.Fatalf("feed loop: %v", err)
	}
}

func TestFeed_CreatedThenDeletedReplaces(t *testing.T) {
	store := &memoryStore{}
	f := startFeed(t, store)

	f.OnMessage([]byte(`{"type":"appointment.created","appointment_id":42,"client":"Ana"}`))
	f.OnMessage([]byte(`{"type":"appointment.deleted","appointment_id":42}`))
	flush(t, f)

	list := f.Notifications()
	if len(list) != 1 {
		t.Fatalf("expected one notification, got %+v", list)
	}
	if list[0].AppointmentID != 42 || list[0].Kind != models.KindDeleted {
		t.Fatalf("expected deleted variant for 42, got %+v", list[0])
	}
	if persisted := store.snapshot(); len(persisted) != 1 || persisted[0].Kind != models.KindDeleted {
		t.Fatalf("expected persisted replacement, got %+v", persisted)
	}
}

func TestFeed_NewestFirstAndIgnoresNoise(t *testing.T) {
	f := startFeed(t, nil)

	f.OnMessage([]byte(`{"type":"appointment.created","appointment_id":1}`))
	f.OnMessage([]byte(":keep-alive"))
	f.OnMessage([]byte(`{"type":"connected","user_id":1}`))
	f.OnMessage([]byte(`garbage`))
	f.OnMessage([]byte(`{"type":"appointment.created","appointment_id":2}`))
	flush(t, f)

	list := f.Notifications()
	if len(list) != 2 || list[0].AppointmentID != 2 || list[1].AppointmentID != 1 {
		t.Fatalf("unexpected order %+v", list)
	}
}

func TestFeed_RestoresPersistedList(t *testing.T) {
	store := &memoryStore{list: []models.Notification{
		{AppointmentID: 5, Kind: models.KindCreated},
		{AppointmentID: 4, Kind: models.KindDeleted},
		{AppointmentID: 5, Kind: models.KindDeleted},
	}}
	f := startFeed(t, store)
	flush(t, f)

	list := f.Notifications()
	if len(list) != 2 || list[0].AppointmentID != 5 || list[1].AppointmentID != 4 {
		t.Fatalf("unexpected restored list %+v", list)
	}
}

func TestFeed_ConnectionStatus(t *testing.T) {
	listener := &recordingListener{}
	f := startFeed(t, nil, WithListener(listener))

	if f.Connected() {
		t.Fatal("expected disconnected before open")
	}
	f.OnOpen()
	flush(t, f)
	if !f.Connected() {
		t.Fatal("expected connected after open")
	}
	f.OnError(&TransportDisconnected{Err: errors.New("reset by peer")})
	flush(t, f)
	st := f.Status()
	if st.Connected || st.LastError == "" {
		t.Fatalf("expected disconnected with error, got %+v", st)
	}
	if len(listener.statuses) != 2 {
		t.Fatalf("expected two status changes, got %+v", listener.statuses)
	}
}

func TestFeed_RemoveAndClear(t *testing.T) {
	store := &memoryStore{}
	listener := &recordingListener{}
	f := startFeed(t, store, WithListener(listener))
	ctx := context.Background()

	f.OnMessage([]byte(`{"type":"appointment.created","appointment_id":1}`))
	f.OnMessage([]byte(`{"type":"appointment.created","appointment_id":2}`))

	removed, err := f.Remove(ctx, 1)
	if err != nil || !removed {
		t.Fatalf("Remove(1) = %v %v", removed, err)
	}
	if removed, _ := f.Remove(ctx, 99); removed {
		t.Fatal("expected Remove(99) to report nothing removed")
	}
	if list := f.Notifications(); len(list) != 1 || list[0].AppointmentID != 2 {
		t.Fatalf("unexpected list after remove %+v", list)
	}

	if err := f.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(f.Notifications()) != 0 || len(store.snapshot()) != 0 {
		t.Fatal("expected empty feed and store")
	}
	if len(listener.upserted) != 2 || len(listener.removed) != 1 || listener.cleared != 1 {
		t.Fatalf("unexpected listener calls %+v", listener)
	}
}

func TestFeed_PublishesInvalidation(t *testing.T) {
	var (
		mu      sync.Mutex
		changes []invalidation.Change
	)
	f := startFeed(t, nil, WithInvalidation(publisherFunc(func(c invalidation.Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	})))

	f.OnMessage([]byte(`{"type":"appointment_created","appointment_id":"9","date":"2024-06-10"}`))
	f.OnMessage([]byte(`{"type":"appointment.cancelled","appointment_id":9}`))
	f.OnMessage([]byte(":keep-alive"))
	flush(t, f)

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 2 {
		t.Fatalf("expected two changes, got %+v", changes)
	}
	if changes[0].Kind != invalidation.AppointmentCreated || changes[0].Day != "2024-06-10" {
		t.Fatalf("unexpected first change %+v", changes[0])
	}
	if changes[1].Kind != invalidation.AppointmentDeleted || changes[1].AppointmentID != 9 {
		t.Fatalf("unexpected second change %+v", changes[1])
	}
}

func TestFeed_SaveFailureKeepsList(t *testing.T) {
	store := &memoryStore{err: errors.New("disk full")}
	f := startFeed(t, store)
	f.OnMessage([]byte(`{"type":"appointment.created","appointment_id":3}`))
	flush(t, f)
	if len(f.Notifications()) != 1 {
		t.Fatal("expected in-memory list to survive a failed save")
	}
}

func TestRetention_SweepPrunesOld(t *testing.T) {
	store := &memoryStore{list: []models.Notification{
		{AppointmentID: 2, ReceivedAt: testNow.Add(-time.Hour)},
		{AppointmentID: 1, ReceivedAt: testNow.Add(-48 * time.Hour)},
	}}
	f := startFeed(t, store)
	r := NewRetention(f, 24*time.Hour, nil)
	r.now = func() time.Time { return testNow }

	n, err := r.Sweep(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Sweep = %d %v", n, err)
	}
	if list := f.Notifications(); len(list) != 1 || list[0].AppointmentID != 2 {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestFeed_OperationsAfterStop(t *testing.T) {
	f := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if err := f.Clear(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	f.OnMessage([]byte(`{"type":"appointment.created","appointment_id":1}`))
}
