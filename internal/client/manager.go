package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inkwellhq/inkwell-sync/internal/notes"
)

var (
	errMissingStore  = errors.New("client: store is required")
	errMissingRemote = errors.New("client: remote is required")
)

// Remote is the server's bulk sync operation: push a batch of local writes,
// receive the full authoritative note list back.
type Remote interface {
	Sync(ctx context.Context, operations []notes.ChangeRequest) ([]notes.Note, error)
}

// ManagerConfig describes the dependencies of the sync manager.
type ManagerConfig struct {
	Store  *Store
	Remote Remote
	Clock  func() time.Time
	Logger *zap.Logger
}

// Manager owns the device's sync lifecycle. Edits land in the local cache
// immediately and are queued for the next flush; a flush pushes the queue
// and reconciles the cache against the server's authoritative reply.
type Manager struct {
	store  *Store
	remote Remote
	clock  func() time.Time
	logger *zap.Logger

	mu       sync.Mutex
	inflight *flushRun
}

type flushRun struct {
	done chan struct{}
	err  error
}

// NewManager constructs the sync manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Remote == nil {
		return nil, errMissingRemote
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: cfg.Store, remote: cfg.Remote, clock: clock, logger: logger}, nil
}

// NoteDraft carries the editable fields of one local write.
type NoteDraft struct {
	NoteID   string
	NoteType string
	Content  string
	Tags     []string
	Category string
	Archived bool
}

// SaveNote applies an edit to the local cache and queues it for the next
// flush. The updated timestamp is forced strictly past the previous one so
// rapid edits inside one clock tick never tie.
func (m *Manager) SaveNote(ctx context.Context, draft NoteDraft) (LocalNote, error) {
	existing, err := m.store.GetNote(ctx, draft.NoteID)
	if err != nil {
		return LocalNote{}, err
	}

	now := m.clock().UTC().Unix()
	note := LocalNote{
		NoteID:           draft.NoteID,
		NoteType:         draft.NoteType,
		Content:          draft.Content,
		TagsJSON:         notes.EncodeTags(draft.Tags),
		Category:         draft.Category,
		Archived:         draft.Archived,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: notes.MonotonicUpdatedAt(now, 0),
	}
	if note.NoteType == "" {
		note.NoteType = "text"
	}
	if existing != nil {
		note.CreatedAtSeconds = existing.CreatedAtSeconds
		note.UpdatedAtSeconds = notes.MonotonicUpdatedAt(now, existing.UpdatedAtSeconds)
	}

	if err := m.store.PutNote(ctx, note); err != nil {
		return LocalNote{}, err
	}
	if err := m.store.Enqueue(ctx, note.NoteID, now); err != nil {
		return LocalNote{}, err
	}
	return note, nil
}

// DeleteNote tombstones the note locally and queues the deletion.
func (m *Manager) DeleteNote(ctx context.Context, noteID string) error {
	existing, err := m.store.GetNote(ctx, noteID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	now := m.clock().UTC().Unix()
	existing.IsDeleted = true
	existing.Content = ""
	existing.TagsJSON = "[]"
	existing.UpdatedAtSeconds = notes.MonotonicUpdatedAt(now, existing.UpdatedAtSeconds)
	if err := m.store.PutNote(ctx, *existing); err != nil {
		return err
	}
	return m.store.Enqueue(ctx, noteID, now)
}

// Notes returns the live (non-deleted) cached notes.
func (m *Manager) Notes(ctx context.Context) ([]LocalNote, error) {
	all, err := m.store.ListNotes(ctx)
	if err != nil {
		return nil, err
	}
	live := make([]LocalNote, 0, len(all))
	for _, note := range all {
		if note.IsDeleted {
			continue
		}
		live = append(live, note)
	}
	return live, nil
}

// Flush pushes the pending queue and reconciles the cache. Concurrent calls
// join the in-flight flush instead of starting a second one, so a timer and
// a reconnect handler firing together still produce a single round trip.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	if run := m.inflight; run != nil {
		m.mu.Unlock()
		select {
		case <-run.done:
			return run.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	run := &flushRun{done: make(chan struct{})}
	m.inflight = run
	m.mu.Unlock()

	run.err = m.flushOnce(ctx)

	m.mu.Lock()
	m.inflight = nil
	close(run.done)
	m.mu.Unlock()
	return run.err
}

func (m *Manager) flushOnce(ctx context.Context) error {
	queued, err := m.store.QueuedIDs(ctx)
	if err != nil {
		return err
	}

	operations := make([]notes.ChangeRequest, 0, len(queued))
	pushed := make(map[string]int64, len(queued))
	for _, noteID := range queued {
		local, err := m.store.GetNote(ctx, noteID)
		if err != nil {
			return err
		}
		if local == nil {
			// Queue entry without a cached row; nothing to push.
			if err := m.store.Dequeue(ctx, noteID); err != nil {
				return err
			}
			continue
		}
		operations = append(operations, changeRequestFromLocal(*local))
		pushed[noteID] = local.UpdatedAtSeconds
	}

	authoritative, err := m.remote.Sync(ctx, operations)
	if err != nil {
		m.logger.Warn("flush failed, queue retained",
			zap.Int("pending", len(operations)), zap.Error(err))
		return err
	}

	// Acknowledge only writes the server saw in this round. A note edited
	// again mid-flight keeps its queue entry for the next flush.
	for noteID, pushedAt := range pushed {
		current, err := m.store.GetNote(ctx, noteID)
		if err != nil {
			return err
		}
		if current != nil && current.UpdatedAtSeconds != pushedAt {
			continue
		}
		if err := m.store.Dequeue(ctx, noteID); err != nil {
			return err
		}
	}

	return m.reconcile(ctx, authoritative)
}

// reconcile folds the server's authoritative list into the cache. A server
// copy wins only when strictly newer than the cached one, so a queued local
// edit made during the flush is never clobbered.
func (m *Manager) reconcile(ctx context.Context, authoritative []notes.Note) error {
	remoteIDs := make(map[string]struct{}, len(authoritative))
	for _, remote := range authoritative {
		remoteIDs[remote.NoteID] = struct{}{}
	}

	for _, remote := range authoritative {
		local, err := m.store.GetNote(ctx, remote.NoteID)
		if err != nil {
			return err
		}

		if remote.IsDeleted {
			if local == nil {
				continue
			}
			// A server tombstone settles a local one at any timestamp, so a
			// confirmed delete purges its row instead of keeping it forever.
			if local.IsDeleted || remote.UpdatedAtSeconds > local.UpdatedAtSeconds {
				if err := m.store.RemoveNote(ctx, remote.NoteID); err != nil {
					return err
				}
				if err := m.store.Dequeue(ctx, remote.NoteID); err != nil {
					return err
				}
			}
			continue
		}

		if local != nil && remote.UpdatedAtSeconds <= local.UpdatedAtSeconds {
			continue
		}

		adopted := LocalNote{
			NoteID:           remote.NoteID,
			NoteType:         remote.NoteType,
			Content:          remote.Content,
			TagsJSON:         remote.TagsJSON,
			Category:         remote.Category,
			Archived:         remote.Archived,
			CreatedAtSeconds: remote.CreatedAtSeconds,
			UpdatedAtSeconds: remote.UpdatedAtSeconds,
		}
		if err := m.store.PutNote(ctx, adopted); err != nil {
			return err
		}
	}

	// A cached note the server does not know about is stranded unless it is
	// queued; put it back on the queue so the next flush pushes it.
	locals, err := m.store.ListNotes(ctx)
	if err != nil {
		return err
	}
	queued, err := m.store.QueuedIDs(ctx)
	if err != nil {
		return err
	}
	pending := make(map[string]struct{}, len(queued))
	for _, noteID := range queued {
		pending[noteID] = struct{}{}
	}
	for _, local := range locals {
		if _, known := remoteIDs[local.NoteID]; known {
			continue
		}
		if _, isPending := pending[local.NoteID]; isPending {
			continue
		}
		if err := m.store.Enqueue(ctx, local.NoteID, m.clock().UTC().Unix()); err != nil {
			return err
		}
	}
	return nil
}

func changeRequestFromLocal(local LocalNote) notes.ChangeRequest {
	operation := notes.OperationTypeUpsert
	if local.IsDeleted {
		operation = notes.OperationTypeDelete
	}
	tags := notes.Note{TagsJSON: local.TagsJSON}.Tags()
	return notes.ChangeRequest{
		NoteID:           notes.NoteID(local.NoteID),
		Operation:        operation,
		NoteType:         local.NoteType,
		Content:          local.Content,
		Tags:             tags,
		Category:         local.Category,
		Archived:         local.Archived,
		CreatedAtSeconds: local.CreatedAtSeconds,
		UpdatedAtSeconds: local.UpdatedAtSeconds,
	}
}
