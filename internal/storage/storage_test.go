package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/appointment-desk/backend/internal/storage/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "state", "desk.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := Migrate(ctx, db, nil); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	ran, err := Migrate(context.Background(), db, nil)
	if err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if len(ran) != 0 {
		t.Fatalf("expected nothing to apply, got %v", ran)
	}
}

func TestStateRepository_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewStateRepository(openTestDB(t).DB)

	if _, ok, err := repo.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	if err := repo.Put(ctx, "k", []byte("one")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := repo.Put(ctx, "k", []byte("two")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	v, ok, err := repo.Get(ctx, "k")
	if err != nil || !ok || string(v) != "two" {
		t.Fatalf("Get = %q %v %v", v, ok, err)
	}
	if err := repo.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := repo.Get(ctx, "k"); ok {
		t.Fatal("expected key gone")
	}
}

func TestNotificationRepository_RoundTripKeepsOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewNotificationRepository(openTestDB(t).DB)

	list, err := repo.LoadNotifications(ctx)
	if err != nil || list != nil {
		t.Fatalf("expected empty feed, got %v %v", list, err)
	}

	at := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	want := []models.Notification{
		{AppointmentID: 43, Kind: models.KindDeleted, Title: "Appointment cancelled", ReceivedAt: at.Add(time.Minute)},
		{AppointmentID: 42, Kind: models.KindCreated, Title: "New appointment booked", Client: "Ana", ReceivedAt: at},
	}
	if err := repo.SaveNotifications(ctx, want); err != nil {
		t.Fatalf("SaveNotifications: %v", err)
	}
	got, err := repo.LoadNotifications(ctx)
	if err != nil {
		t.Fatalf("LoadNotifications: %v", err)
	}
	if len(got) != 2 || got[0].AppointmentID != 43 || got[1].Client != "Ana" || !got[1].ReceivedAt.Equal(at) {
		t.Fatalf("unexpected feed %+v", got)
	}

	if err := repo.SaveNotifications(ctx, nil); err != nil {
		t.Fatalf("SaveNotifications(nil): %v", err)
	}
	got, _ = repo.LoadNotifications(ctx)
	if len(got) != 0 {
		t.Fatalf("expected cleared feed, got %+v", got)
	}
}

func TestTransaction_RollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := NewStateRepository(tx).Put(ctx, "k", []byte("v")); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok, _ := NewStateRepository(db.DB).Get(ctx, "k"); ok {
		t.Fatal("expected rollback")
	}
}
