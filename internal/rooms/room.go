package rooms

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inkwellhq/inkwell-sync/internal/awareness"
	"github.com/inkwellhq/inkwell-sync/internal/protocol"
	"github.com/inkwellhq/inkwell-sync/internal/replica"
)

const (
	memberBufferSize    = 64
	snapshotSaveTimeout = 5 * time.Second
)

// Member is one live connection's membership in a room. Outbound frames are
// emitted through a buffered channel drained by the connection's write pump.
type Member struct {
	session   *replica.SyncSession
	outbound  chan []byte
	clientIDs map[uint64]struct{}
}

// Frames returns the member's outbound frame stream. The channel is closed
// when the member leaves the room.
func (m *Member) Frames() <-chan []byte {
	return m.outbound
}

// Room is the unit of real-time collaboration: one shared document replica,
// its presence store, and the set of live connections. All replica and
// presence mutations are serialized under the room lock, so one frame is
// fully handled before the next frame for the same room is processed.
type Room struct {
	name   string
	tenant string

	mu          sync.Mutex
	doc         *replica.Replica
	presence    *awareness.Store
	members     map[*Member]struct{}
	reserved    int
	lastUpdated time.Time

	ready     chan struct{}
	snapshots *SnapshotStore
	clock     func() time.Time
	logger    *zap.Logger
	onEmpty   func()
}

func newRoom(name, tenant string, snapshots *SnapshotStore, clock func() time.Time, logger *zap.Logger, onEmpty func()) *Room {
	return &Room{
		name:      name,
		tenant:    tenant,
		presence:  awareness.NewStore(),
		members:   make(map[*Member]struct{}),
		ready:     make(chan struct{}),
		snapshots: snapshots,
		clock:     clock,
		logger:    logger,
		onEmpty:   onEmpty,
	}
}

// hydrate applies the last saved snapshot to a fresh replica before any
// client update is accepted. Joins block on the readiness gate, which
// closes only after the replica is in place, so the lost-update race
// between hydration and early frames cannot occur. A corrupt snapshot is
// treated as no snapshot: the room starts empty rather than failing.
func (r *Room) hydrate(ctx context.Context) {
	doc := replica.New()

	state, found, err := r.snapshots.Load(ctx, r.name)
	if err != nil {
		r.logger.Warn("room snapshot load failed, starting empty",
			zap.String("room", r.name), zap.Error(err))
	} else if found {
		if loaded, loadErr := replica.Load(state); loadErr != nil {
			r.logger.Warn("room snapshot corrupt, starting empty",
				zap.String("room", r.name), zap.Error(loadErr))
		} else {
			doc = loaded
		}
	}

	r.mu.Lock()
	r.doc = doc
	r.lastUpdated = r.clock().UTC()
	r.mu.Unlock()
	close(r.ready)
}

// Join registers a new connection once hydration has completed and sends it
// the sync handshake opener plus the current presence state.
func (r *Room) Join(ctx context.Context) (*Member, error) {
	select {
	case <-r.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	member := &Member{
		session:   r.doc.NewSession(),
		outbound:  make(chan []byte, memberBufferSize),
		clientIDs: make(map[uint64]struct{}),
	}
	r.members[member] = struct{}{}

	// Handshake step 1: ask the peer for its state so divergent replicas
	// re-converge without a full-state transfer unless necessary.
	r.drainSession(member)

	if snapshot := r.presence.Snapshot(); snapshot != nil {
		r.send(member, protocol.EncodeFrame(protocol.MessageAwareness, snapshot))
	}
	return member, nil
}

// Leave removes the connection, force-clears its presence entries with a
// broadcast removal notice, and reports an empty room to the registry.
func (r *Room) Leave(member *Member) {
	r.mu.Lock()
	if _, present := r.members[member]; !present {
		r.mu.Unlock()
		return
	}
	delete(r.members, member)
	close(member.outbound)

	if len(member.clientIDs) > 0 {
		departed := make([]uint64, 0, len(member.clientIDs))
		for clientID := range member.clientIDs {
			departed = append(departed, clientID)
		}
		removal := r.presence.RemoveClients(departed)
		r.broadcast(nil, protocol.EncodeFrame(protocol.MessageAwareness, removal))
	}

	empty := len(r.members) == 0 && r.reserved == 0
	r.mu.Unlock()

	if empty && r.onEmpty != nil {
		r.onEmpty()
	}
}

// reserve marks a join in flight. The reaper treats a reserved room as
// occupied, so a connection between registry lookup and membership cannot
// lose its room to eviction.
func (r *Room) reserve() {
	r.mu.Lock()
	r.reserved++
	r.mu.Unlock()
}

// release drops a join reservation. A reservation that fell through on an
// otherwise empty room reports the empty transition so the reaper is armed.
func (r *Room) release() {
	r.mu.Lock()
	r.reserved--
	empty := r.reserved == 0 && len(r.members) == 0
	r.mu.Unlock()

	if empty && r.onEmpty != nil {
		r.onEmpty()
	}
}

// idle reports whether the room has no members and no joins in flight.
func (r *Room) idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members) == 0 && r.reserved == 0
}

// HandleSync feeds one sync-protocol payload to the sender's session.
// Replies owed to the sender are unicast back; document changes propagate
// to every other member through that member's own session, so the sender
// never sees its own update echoed.
func (r *Room) HandleSync(member *Member, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	headsBefore := r.doc.Heads()
	if err := member.session.Receive(payload); err != nil {
		return err
	}
	r.drainSession(member)

	for other := range r.members {
		if other == member {
			continue
		}
		r.drainSession(other)
	}

	if headsDiffer(headsBefore, r.doc.Heads()) {
		r.lastUpdated = r.clock().UTC()
		r.saveAsync(r.doc.Encode())
	}
	return nil
}

// HandleAwareness merges a presence delta and broadcasts the changed subset
// to every other member.
func (r *Room) HandleAwareness(member *Member, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed, err := r.presence.ApplyUpdate(payload)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}
	for _, clientID := range changed {
		member.clientIDs[clientID] = struct{}{}
	}

	update := r.presence.EncodeUpdate(changed)
	r.broadcast(member, protocol.EncodeFrame(protocol.MessageAwareness, update))
	return nil
}

// ConnectionCount returns the number of live members.
func (r *Room) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Name returns the room identifier.
func (r *Room) Name() string {
	return r.name
}

// LastUpdated returns the time of the last accepted mutation or hydration.
func (r *Room) LastUpdated() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUpdated
}

// Render returns a textual rendering of the room document, once hydrated.
func (r *Room) Render() string {
	<-r.ready
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Render()
}

// drainSession flushes every pending sync message the member's session owes
// its peer. Callers hold the room lock.
func (r *Room) drainSession(member *Member) {
	for {
		message, pending := member.session.Generate()
		if !pending {
			return
		}
		r.send(member, protocol.EncodeFrame(protocol.MessageSync, message))
	}
}

// broadcast fans a frame out to every member except the excluded sender.
// Callers hold the room lock.
func (r *Room) broadcast(exclude *Member, frame []byte) {
	for member := range r.members {
		if member == exclude {
			continue
		}
		r.send(member, frame)
	}
}

// send enqueues a frame without blocking the room. A member whose write
// pump cannot keep up loses frames; the sync protocol recovers on the next
// exchange, presence on the next delta.
func (r *Room) send(member *Member, frame []byte) {
	select {
	case member.outbound <- frame:
	default:
		r.logger.Warn("dropping frame for slow connection", zap.String("room", r.name))
	}
}

// saveAsync snapshots the encoded state without blocking frame handling.
// Failures are logged only: the in-memory replica stays authoritative.
func (r *Room) saveAsync(state []byte) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotSaveTimeout)
		defer cancel()
		if err := r.snapshots.Save(ctx, r.name, r.tenant, state); err != nil {
			r.logger.Warn("room snapshot save failed",
				zap.String("room", r.name), zap.Error(err))
		}
	}()
}

func headsDiffer(before, after []string) bool {
	if len(before) != len(after) {
		return true
	}
	known := make(map[string]struct{}, len(before))
	for _, head := range before {
		known[head] = struct{}{}
	}
	for _, head := range after {
		if _, ok := known[head]; !ok {
			return true
		}
	}
	return false
}
