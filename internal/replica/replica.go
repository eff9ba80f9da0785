// Package replica wraps the convergent document type backing every room.
// Callers treat it as an opaque merge-capable value: full-state encoding,
// change-set diffing, and per-peer sync sessions.
package replica

import (
	"errors"
	"fmt"

	"github.com/automerge/automerge-go"
)

// ErrCorruptState indicates saved replica bytes that no longer decode.
var ErrCorruptState = errors.New("replica: corrupt state")

// Change is one causally-ordered document mutation. Applying a set of
// changes is commutative, associative, and idempotent.
type Change = automerge.Change

// Replica holds one logical document's merged state.
type Replica struct {
	doc *automerge.Doc
}

// New returns an empty replica.
func New() *Replica {
	return &Replica{doc: automerge.New()}
}

// Load decodes a full-state encoding produced by Encode.
func Load(state []byte) (*Replica, error) {
	doc, err := automerge.Load(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return &Replica{doc: doc}, nil
}

// Encode returns the full-state encoding of the document.
func (r *Replica) Encode() []byte {
	return r.doc.Save()
}

// Set writes a value at the given root path. Each call commits one change.
func (r *Replica) Set(path string, value any) error {
	return r.doc.Path(path).Set(value)
}

// Render returns a stable textual rendering of the document content,
// usable for equality comparison between converged replicas.
func (r *Replica) Render() string {
	return r.doc.RootMap().GoString()
}

// Heads returns the hashes identifying the current document frontier.
func (r *Replica) Heads() []string {
	heads := r.doc.Heads()
	rendered := make([]string, 0, len(heads))
	for _, head := range heads {
		rendered = append(rendered, head.String())
	}
	return rendered
}

// DiffSince returns every change the remote side has not seen, given the
// set of change hashes it reports knowing.
func (r *Replica) DiffSince(seenHashes []string) ([]*Change, error) {
	seen := make(map[string]struct{}, len(seenHashes))
	for _, hash := range seenHashes {
		seen[hash] = struct{}{}
	}
	changes, err := r.doc.Changes()
	if err != nil {
		return nil, err
	}
	missing := make([]*Change, 0, len(changes))
	for _, change := range changes {
		if _, known := seen[change.Hash().String()]; known {
			continue
		}
		missing = append(missing, change)
	}
	return missing, nil
}

// KnownHashes returns the hash of every change the replica holds.
func (r *Replica) KnownHashes() ([]string, error) {
	changes, err := r.doc.Changes()
	if err != nil {
		return nil, err
	}
	hashes := make([]string, 0, len(changes))
	for _, change := range changes {
		hashes = append(hashes, change.Hash().String())
	}
	return hashes, nil
}

// ApplyChanges merges a change set into the document. Re-applying changes
// the document already holds is a no-op.
func (r *Replica) ApplyChanges(changes ...*Change) error {
	return r.doc.Apply(changes...)
}

// NewSession starts a sync session against this replica for one peer.
func (r *Replica) NewSession() *SyncSession {
	return &SyncSession{state: automerge.NewSyncState(r.doc)}
}

// SyncSession tracks what one remote peer is known to have, so divergent
// replicas re-converge without a full-state transfer unless necessary.
type SyncSession struct {
	state *automerge.SyncState
}

// Receive applies one sync-protocol message from the peer.
func (s *SyncSession) Receive(message []byte) error {
	_, err := s.state.ReceiveMessage(message)
	return err
}

// Generate produces the next sync-protocol message owed to the peer.
// The second return is false once the peer is fully caught up.
func (s *SyncSession) Generate() ([]byte, bool) {
	message, valid := s.state.GenerateMessage()
	if !valid || message == nil {
		return nil, false
	}
	return message.Bytes(), true
}
