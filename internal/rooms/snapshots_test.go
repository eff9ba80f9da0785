package rooms

import (
	"bytes"
	"context"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustSnapshotStore(t *testing.T) *SnapshotStore {
	t.Helper()
	database, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := database.AutoMigrate(&Snapshot{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := NewSnapshotStore(SnapshotStoreConfig{
		Database: database,
		Clock: func() time.Time {
			return time.Unix(1700000000, 0).UTC()
		},
	})
	if err != nil {
		t.Fatalf("failed to create snapshot store: %v", err)
	}
	return store
}

func TestSnapshotStoreLoadMissingRoom(t *testing.T) {
	store := mustSnapshotStore(t)

	state, found, err := store.Load(context.Background(), "room-missing")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if found {
		t.Fatal("expected no snapshot for unknown room")
	}
	if state != nil {
		t.Fatalf("expected nil state, got %v", state)
	}
}

func TestSnapshotStoreSaveLoadRoundTrip(t *testing.T) {
	store := mustSnapshotStore(t)

	if err := store.Save(context.Background(), "room-rt", "tenant-1", []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	state, found, err := store.Load(context.Background(), "room-rt")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !found {
		t.Fatal("expected snapshot to be found")
	}
	if !bytes.Equal(state, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("expected saved state back, got %v", state)
	}
}

func TestSnapshotStoreUpsertBumpsVersion(t *testing.T) {
	store := mustSnapshotStore(t)

	if err := store.Save(context.Background(), "room-ver", "tenant-1", []byte{0x01}); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := store.Save(context.Background(), "room-ver", "tenant-1", []byte{0x02}); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	var record Snapshot
	if err := store.db.Where("room_id = ?", "room-ver").Take(&record).Error; err != nil {
		t.Fatalf("failed to read snapshot row: %v", err)
	}
	if record.Version != 2 {
		t.Fatalf("expected version 2 after upsert, got %d", record.Version)
	}

	state, found, err := store.Load(context.Background(), "room-ver")
	if err != nil || !found {
		t.Fatalf("load failed: found=%v err=%v", found, err)
	}
	if !bytes.Equal(state, []byte{0x02}) {
		t.Fatalf("expected last write to win, got %v", state)
	}
}

func TestSnapshotStoreLoadCorruptBase64(t *testing.T) {
	store := mustSnapshotStore(t)

	record := Snapshot{
		RoomID:             "room-corrupt",
		TenantID:           "tenant-1",
		StateB64:           "%%% not base64 %%%",
		LastUpdatedSeconds: 1700000000,
		Version:            1,
	}
	if err := store.db.Create(&record).Error; err != nil {
		t.Fatalf("failed to seed corrupt row: %v", err)
	}

	if _, _, err := store.Load(context.Background(), "room-corrupt"); err == nil {
		t.Fatal("expected corrupt snapshot error")
	}
}
