package rooms

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultGracePeriod = 60 * time.Second

var errMissingSnapshotStore = errors.New("rooms: snapshot store is required")

// RegistryConfig describes the dependencies of the room registry.
type RegistryConfig struct {
	Snapshots   *SnapshotStore
	GracePeriod time.Duration
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Registry is the process-wide map of room name to live Room. It is
// constructed once at startup and injected into the connection handler,
// never reached through package state.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	snapshots *SnapshotStore
	grace     time.Duration
	clock     func() time.Time
	logger    *zap.Logger
}

// RoomInfo is the listing shape exposed over the rooms endpoint.
type RoomInfo struct {
	ID          string
	Connections int
	LastUpdated time.Time
}

// NewRegistry constructs the registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Snapshots == nil {
		return nil, errMissingSnapshotStore
	}
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		rooms:     make(map[string]*Room),
		snapshots: cfg.Snapshots,
		grace:     grace,
		clock:     clock,
		logger:    logger,
	}, nil
}

// GetOrCreate returns the live room for a name, lazily constructing and
// hydrating it on first reference. Idempotent: concurrent callers for the
// same name observe the same room.
func (g *Registry) GetOrCreate(name, tenantID string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lockedGetOrCreate(name, tenantID)
}

// Connect resolves the room and joins it in one registry-visible step. The
// reservation taken under the registry lock keeps the reaper from evicting
// an empty room while this connection is between lookup and membership.
func (g *Registry) Connect(ctx context.Context, name, tenantID string) (*Room, *Member, error) {
	g.mu.Lock()
	room := g.lockedGetOrCreate(name, tenantID)
	room.reserve()
	g.mu.Unlock()

	member, err := room.Join(ctx)
	room.release()
	if err != nil {
		return nil, nil, err
	}
	return room, member, nil
}

func (g *Registry) lockedGetOrCreate(name, tenantID string) *Room {
	if room, exists := g.rooms[name]; exists {
		return room
	}

	room := newRoom(name, tenantID, g.snapshots, g.clock, g.logger, func() {
		g.scheduleEviction(name)
	})
	g.rooms[name] = room
	go room.hydrate(context.Background())

	// Armed at creation too: a room nobody manages to join still gets reaped.
	g.scheduleEviction(name)

	g.logger.Info("room created", zap.String("room", name))
	return room
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// List describes every live room for the listing endpoint.
func (g *Registry) List() []RoomInfo {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.Unlock()

	infos := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		infos = append(infos, RoomInfo{
			ID:          room.Name(),
			Connections: room.ConnectionCount(),
			LastUpdated: room.LastUpdated(),
		})
	}
	return infos
}

// scheduleEviction arms the idle reaper for a room that just became empty.
// The timer is never cancelled on reconnect; evict re-checks the live set
// at fire time instead, which keeps the logic race-free.
func (g *Registry) scheduleEviction(name string) {
	time.AfterFunc(g.grace, func() {
		g.evict(name)
	})
}

// evict removes a room only if its connection set and its join reservations
// are still empty at fire time. The persisted snapshot is never touched: a
// later connection to the same name recreates the room and rehydrates it.
func (g *Registry) evict(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, exists := g.rooms[name]
	if !exists {
		return
	}
	if !room.idle() {
		return
	}
	delete(g.rooms, name)
	g.logger.Info("idle room evicted", zap.String("room", name))
}
