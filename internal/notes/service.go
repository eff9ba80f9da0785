package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "notes.service.new"
	opApplyChanges = "notes.apply_changes"
	opListNotes    = "notes.list_notes"
	opCreateNote   = "notes.create_note"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

type IDProvider interface {
	NewID() (string, error)
}

type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

type ChangeOutcome struct {
	Request ChangeRequest
	Outcome ConflictOutcome
}

type SyncResult struct {
	ChangeOutcomes []ChangeOutcome
	Notes          []Note
}

// ApplyChanges runs a batch of client writes through last-write-wins
// reconciliation inside one transaction, then returns the full authoritative
// note list for the user so clients can reconcile in a single round trip.
// The batch is all-or-nothing at the storage level, while each change is
// accepted or rejected on its own merits.
func (s *Service) ApplyChanges(ctx context.Context, userID UserID, changes []ChangeRequest) (SyncResult, error) {
	if s.db == nil {
		s.logError(opApplyChanges, "missing_database", errMissingDatabase)
		return SyncResult{}, newServiceError(opApplyChanges, "missing_database", errMissingDatabase)
	}

	result := SyncResult{ChangeOutcomes: make([]ChangeOutcome, 0, len(changes))}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, change := range changes {
			var existing Note
			var existingPtr *Note
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("user_id = ? AND note_id = ?", userID.String(), change.NoteID.String()).
				Take(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				existingPtr = nil
			} else if err != nil {
				s.logError(opApplyChanges, "note_select_failed", err,
					zap.String("user_id", userID.String()),
					zap.String("note_id", change.NoteID.String()))
				return newServiceError(opApplyChanges, "note_select_failed", err)
			} else {
				existingPtr = &existing
			}

			outcome := resolveChange(existingPtr, change, s.clock().UTC())
			if outcome.Accepted {
				outcome.UpdatedNote.UserID = userID.String()
				if err := tx.Save(outcome.UpdatedNote).Error; err != nil {
					s.logError(opApplyChanges, "note_save_failed", err,
						zap.String("user_id", userID.String()),
						zap.String("note_id", change.NoteID.String()))
					return newServiceError(opApplyChanges, "note_save_failed", err)
				}
			}

			result.ChangeOutcomes = append(result.ChangeOutcomes, ChangeOutcome{
				Request: change,
				Outcome: outcome,
			})
		}

		var notes []Note
		if err := tx.
			Where("user_id = ?", userID.String()).
			Order("updated_at_s DESC").
			Find(&notes).Error; err != nil {
			s.logError(opApplyChanges, "list_failed", err, zap.String("user_id", userID.String()))
			return newServiceError(opApplyChanges, "list_failed", err)
		}
		result.Notes = notes
		return nil
	})

	if txErr != nil {
		return SyncResult{}, txErr
	}

	return result, nil
}

// ListNotes returns all persisted notes for the provided user identifier,
// tombstones included, newest first.
func (s *Service) ListNotes(ctx context.Context, userID string) ([]Note, error) {
	if s.db == nil {
		s.logError(opListNotes, "missing_database", errMissingDatabase)
		return nil, newServiceError(opListNotes, "missing_database", errMissingDatabase)
	}
	if userID == "" {
		s.logError(opListNotes, "missing_user_id", errMissingUserID)
		return nil, newServiceError(opListNotes, "missing_user_id", errMissingUserID)
	}

	var notes []Note
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at_s DESC").
		Find(&notes).Error; err != nil {
		s.logError(opListNotes, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opListNotes, "query_failed", err)
	}

	return notes, nil
}

// CreateNote persists a brand new note with a server-issued identifier.
func (s *Service) CreateNote(ctx context.Context, userID UserID, content string, tags []string) (Note, error) {
	if s.db == nil {
		s.logError(opCreateNote, "missing_database", errMissingDatabase)
		return Note{}, newServiceError(opCreateNote, "missing_database", errMissingDatabase)
	}

	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateNote, "id_generation_failed", err, zap.String("user_id", userID.String()))
		return Note{}, newServiceError(opCreateNote, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	note := Note{
		UserID:           userID.String(),
		NoteID:           noteID,
		NoteType:         "text",
		Content:          content,
		TagsJSON:         EncodeTags(tags),
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
		Version:          1,
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opCreateNote, "note_insert_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("note_id", noteID))
		return Note{}, newServiceError(opCreateNote, "note_insert_failed", err)
	}
	return note, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("notes service error", attrs...)
}
