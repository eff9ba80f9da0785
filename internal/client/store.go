// Package client implements the device-side half of note synchronization:
// a local note cache, a durable queue of writes made while offline, and a
// manager that pushes the queue and reconciles against the server's reply.
package client

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("client: database handle is required")

// LocalNote is the device's cached copy of one note.
type LocalNote struct {
	NoteID           string `gorm:"column:note_id;primaryKey;size:190;not null"`
	NoteType         string `gorm:"column:note_type;size:64;not null;default:'text'"`
	Content          string `gorm:"column:content;type:text;not null"`
	TagsJSON         string `gorm:"column:tags_json;type:text;not null;default:'[]'"`
	Category         string `gorm:"column:category;size:190;not null;default:''"`
	Archived         bool   `gorm:"column:archived;not null;default:false"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (LocalNote) TableName() string {
	return "client_notes"
}

// PendingWrite marks a note as dirty: it has local changes the server has
// not acknowledged. The queue is a set, one row per note, so editing the
// same note repeatedly while offline never grows it.
type PendingWrite struct {
	NoteID            string `gorm:"column:note_id;primaryKey;size:190;not null"`
	EnqueuedAtSeconds int64  `gorm:"column:enqueued_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PendingWrite) TableName() string {
	return "client_pending_writes"
}

// Store persists the local cache and the pending queue, typically in a
// per-device sqlite file that survives restarts.
type Store struct {
	db *gorm.DB
}

// NewStore constructs the store and ensures its schema exists.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if err := db.AutoMigrate(&LocalNote{}, &PendingWrite{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// GetNote returns the cached note, reporting absence without error.
func (s *Store) GetNote(ctx context.Context, noteID string) (*LocalNote, error) {
	var note LocalNote
	err := s.db.WithContext(ctx).Where("note_id = ?", noteID).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &note, nil
}

// ListNotes returns every cached note, tombstones included, newest first.
func (s *Store) ListNotes(ctx context.Context) ([]LocalNote, error) {
	var notes []LocalNote
	if err := s.db.WithContext(ctx).Order("updated_at_s DESC").Find(&notes).Error; err != nil {
		return nil, err
	}
	return notes, nil
}

// PutNote upserts a cached note.
func (s *Store) PutNote(ctx context.Context, note LocalNote) error {
	return s.db.WithContext(ctx).Save(&note).Error
}

// RemoveNote drops the cached row entirely, used when the server reports a
// deletion the device has no pending edit against.
func (s *Store) RemoveNote(ctx context.Context, noteID string) error {
	return s.db.WithContext(ctx).Where("note_id = ?", noteID).Delete(&LocalNote{}).Error
}

// Enqueue marks a note dirty. Idempotent: a note already queued stays
// queued once.
func (s *Store) Enqueue(ctx context.Context, noteID string, nowSeconds int64) error {
	record := PendingWrite{NoteID: noteID, EnqueuedAtSeconds: nowSeconds}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record).Error
}

// Dequeue clears a note's dirty mark after the server acknowledged it.
func (s *Store) Dequeue(ctx context.Context, noteID string) error {
	return s.db.WithContext(ctx).Where("note_id = ?", noteID).Delete(&PendingWrite{}).Error
}

// QueuedIDs returns the dirty note ids in enqueue order.
func (s *Store) QueuedIDs(ctx context.Context) ([]string, error) {
	var records []PendingWrite
	if err := s.db.WithContext(ctx).
		Order("enqueued_at_s ASC, note_id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.NoteID)
	}
	return ids, nil
}
