package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/inkwellhq/inkwell-sync/internal/notes"
	"github.com/inkwellhq/inkwell-sync/internal/rooms"
)

type staticTokenManager struct {
	subjects map[string]string
}

func (s staticTokenManager) ValidateToken(token string) (string, error) {
	subject, known := s.subjects[token]
	if !known {
		return "", errors.New("unknown token")
	}
	return subject, nil
}

type stubTokenManager struct {
	validateErr error
}

func (s stubTokenManager) ValidateToken(string) (string, error) {
	return "", s.validateErr
}

type sequenceIDGenerator struct {
	next int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("note-%d", g.next), nil
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()

	dsn := fmt.Sprintf("file:inkwell_server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&notes.Note{}, &rooms.Snapshot{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	snapshots, err := rooms.NewSnapshotStore(rooms.SnapshotStoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct snapshot store: %v", err)
	}
	registry, err := rooms.NewRegistry(rooms.RegistryConfig{
		Snapshots:   snapshots,
		GracePeriod: time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to construct room registry: %v", err)
	}
	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		IDProvider: &sequenceIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: staticTokenManager{subjects: map[string]string{
			"token-user-1": "user-1",
			"token-user-2": "user-2",
		}},
		NotesService: notesService,
		Rooms:        registry,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return handler
}
