package notes

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// OperationType enumerates supported client operations.
type OperationType string

const (
	// OperationTypeUpsert represents an insert or update payload.
	OperationTypeUpsert OperationType = "upsert"
	// OperationTypeDelete marks a note as deleted.
	OperationTypeDelete OperationType = "delete"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("notes: invalid user id")
	// ErrInvalidTimestamp indicates that a unix timestamp value is not positive.
	ErrInvalidTimestamp = errors.New("notes: invalid unix timestamp")
)

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Note models a persisted note as the sync core sees it: content plus the
// metadata the reconciliation rules operate on.
type Note struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_notes_user_updated,priority:1"`
	NoteID           string `gorm:"column:note_id;primaryKey;size:190;not null"`
	NoteType         string `gorm:"column:note_type;size:64;not null;default:'text'"`
	Content          string `gorm:"column:content;type:text;not null"`
	TagsJSON         string `gorm:"column:tags_json;type:text;not null;default:'[]'"`
	Category         string `gorm:"column:category;size:190;not null;default:''"`
	Archived         bool   `gorm:"column:archived;not null;default:false"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false;index:idx_notes_user_updated,priority:3"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;index:idx_notes_user_updated,priority:2"`
	Version          int64  `gorm:"column:version;not null;default:1"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// Tags decodes the stored tag list.
func (n Note) Tags() []string {
	if n.TagsJSON == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(n.TagsJSON), &tags); err != nil {
		return nil
	}
	return tags
}

// EncodeTags serializes a tag list for storage.
func EncodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

// ChangeRequest describes one note write supplied by a client during sync.
type ChangeRequest struct {
	NoteID           NoteID
	Operation        OperationType
	NoteType         string
	Content          string
	Tags             []string
	Category         string
	Archived         bool
	CreatedAtSeconds int64
	UpdatedAtSeconds int64
}

// ConflictOutcome captures the decision from resolveChange.
type ConflictOutcome struct {
	Accepted    bool
	UpdatedNote *Note
}

// MonotonicUpdatedAt returns the updated timestamp for a fresh local
// mutation: strictly greater than the previous value even when the clock
// is coarse or has gone backwards.
func MonotonicUpdatedAt(nowSeconds, previousSeconds int64) int64 {
	if nowSeconds > previousSeconds {
		return nowSeconds
	}
	return previousSeconds + 1
}
