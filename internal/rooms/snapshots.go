package rooms

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("rooms: database handle is required")
	// ErrCorruptSnapshot indicates stored snapshot bytes that no longer decode.
	ErrCorruptSnapshot = errors.New("rooms: corrupt snapshot")
)

// Snapshot is the durably saved full-state encoding of a room's replica.
// One row per room, upserted on every mutation, read once at hydration.
type Snapshot struct {
	RoomID             string `gorm:"column:room_id;primaryKey;size:190;not null"`
	TenantID           string `gorm:"column:tenant_id;size:190;not null;index:idx_room_snapshots_tenant"`
	StateB64           string `gorm:"column:state_b64;type:text;not null"`
	LastUpdatedSeconds int64  `gorm:"column:last_updated_s;not null"`
	Version            int64  `gorm:"column:version;not null;default:1"`
}

// TableName provides the explicit table binding for GORM.
func (Snapshot) TableName() string {
	return "room_snapshots"
}

// SnapshotStoreConfig describes the dependencies of the persistence bridge.
type SnapshotStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// SnapshotStore loads and saves room state blobs. Saves are upserts keyed by
// room id; callers must not assume ordering between overlapping saves beyond
// last-write-wins, since only the most recent snapshot is ever read back.
type SnapshotStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewSnapshotStore constructs the persistence bridge.
func NewSnapshotStore(cfg SnapshotStoreConfig) (*SnapshotStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Load returns the last saved state for a room, reporting absence without error.
func (s *SnapshotStore) Load(ctx context.Context, roomID string) ([]byte, bool, error) {
	var record Snapshot
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	state, decodeErr := base64.StdEncoding.DecodeString(record.StateB64)
	if decodeErr != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptSnapshot, decodeErr)
	}
	return state, true, nil
}

// Save upserts the room's state blob, bumping version and last-updated.
func (s *SnapshotStore) Save(ctx context.Context, roomID, tenantID string, state []byte) error {
	encoded := base64.StdEncoding.EncodeToString(state)
	savedAt := s.clock().UTC().Unix()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Snapshot
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("room_id = ?", roomID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&Snapshot{
				RoomID:             roomID,
				TenantID:           tenantID,
				StateB64:           encoded,
				LastUpdatedSeconds: savedAt,
				Version:            1,
			}).Error
		}
		if err != nil {
			return err
		}

		existing.TenantID = tenantID
		existing.StateB64 = encoded
		existing.LastUpdatedSeconds = savedAt
		existing.Version++
		return tx.Save(&existing).Error
	})
}
