// Package awareness tracks ephemeral per-client presence for a room:
// cursor positions and client labels that fan out to peers but are never
// persisted. Entries carry a clock so re-ordered updates cannot regress state.
package awareness

import "sync"

type entry struct {
	clock   uint64
	payload []byte
}

// Store holds the latest presence payload per client id for one room.
type Store struct {
	mu      sync.Mutex
	entries map[uint64]entry
}

// NewStore returns an empty presence store.
func NewStore() *Store {
	return &Store{entries: make(map[uint64]entry)}
}

// ApplyUpdate merges an encoded presence delta and reports which client ids
// actually changed. Entries whose clock is not newer than the stored one are
// discarded as stale replays.
func (s *Store) ApplyUpdate(update []byte) ([]uint64, error) {
	incoming, err := DecodeEntries(update)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := make([]uint64, 0, len(incoming))
	for _, record := range incoming {
		known, exists := s.entries[record.ClientID]
		if exists && record.Clock <= known.clock {
			continue
		}
		s.entries[record.ClientID] = entry{clock: record.Clock, payload: record.Payload}
		changed = append(changed, record.ClientID)
	}
	return changed, nil
}

// EncodeUpdate serializes the current state of the given client ids only,
// so broadcasts carry the changed subset instead of the whole map.
func (s *Store) EncodeUpdate(clientIDs []uint64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]Entry, 0, len(clientIDs))
	for _, clientID := range clientIDs {
		known, exists := s.entries[clientID]
		if !exists {
			continue
		}
		records = append(records, Entry{ClientID: clientID, Clock: known.clock, Payload: known.payload})
	}
	return EncodeEntries(records...)
}

// RemoveClients force-removes entries for a closing connection and returns
// the encoded removal notice to broadcast. The removal bumps each entry's
// clock so a late re-ordered update for the same client cannot resurrect it.
func (s *Store) RemoveClients(clientIDs []uint64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]Entry, 0, len(clientIDs))
	for _, clientID := range clientIDs {
		known, exists := s.entries[clientID]
		if !exists {
			continue
		}
		removed := entry{clock: known.clock + 1, payload: nil}
		s.entries[clientID] = removed
		records = append(records, Entry{ClientID: clientID, Clock: removed.clock})
	}
	return EncodeEntries(records...)
}

// Snapshot returns the encoded state of every live entry, used to bring a
// newly joined connection up to date. Returns nil when nothing is live.
func (s *Store) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]Entry, 0, len(s.entries))
	for clientID, known := range s.entries {
		if len(known.payload) == 0 {
			continue
		}
		records = append(records, Entry{ClientID: clientID, Clock: known.clock, Payload: known.payload})
	}
	if len(records) == 0 {
		return nil
	}
	return EncodeEntries(records...)
}

// Presence returns a copy of the live presence payloads keyed by client id.
func (s *Store) Presence() map[uint64][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := make(map[uint64][]byte, len(s.entries))
	for clientID, known := range s.entries {
		if len(known.payload) == 0 {
			continue
		}
		payload := make([]byte, len(known.payload))
		copy(payload, known.payload)
		live[clientID] = payload
	}
	return live
}
