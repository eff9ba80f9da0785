package awareness

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestApplyUpdateStoresPresence(t *testing.T) {
	store := NewStore()
	update := EncodeEntries(Entry{ClientID: 7, Clock: 1, Payload: []byte(`{"cursor":4}`)})

	changed, err := store.ApplyUpdate(update)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if len(changed) != 1 || changed[0] != 7 {
		t.Fatalf("expected client 7 changed, got %v", changed)
	}

	presence := store.Presence()
	if !bytes.Equal(presence[7], []byte(`{"cursor":4}`)) {
		t.Fatalf("expected stored payload, got %s", presence[7])
	}
}

func TestApplyUpdateDiscardsStaleClock(t *testing.T) {
	store := NewStore()
	if _, err := store.ApplyUpdate(EncodeEntries(Entry{ClientID: 3, Clock: 5, Payload: []byte("new")})); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	changed, err := store.ApplyUpdate(EncodeEntries(Entry{ClientID: 3, Clock: 4, Payload: []byte("old")}))
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("expected stale update to be discarded, got changes %v", changed)
	}
	if !bytes.Equal(store.Presence()[3], []byte("new")) {
		t.Fatalf("expected newer payload to survive, got %s", store.Presence()[3])
	}
}

func TestEncodeUpdateCarriesChangedSubsetOnly(t *testing.T) {
	store := NewStore()
	update := EncodeEntries(
		Entry{ClientID: 1, Clock: 1, Payload: []byte("one")},
		Entry{ClientID: 2, Clock: 1, Payload: []byte("two")},
	)
	if _, err := store.ApplyUpdate(update); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	decoded, err := DecodeEntries(store.EncodeUpdate([]uint64{2}))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded) != 1 || decoded[0].ClientID != 2 {
		t.Fatalf("expected only client 2 in subset, got %v", decoded)
	}
}

func TestRemoveClientsBroadcastsRemovalAndBlocksResurrection(t *testing.T) {
	store := NewStore()
	if _, err := store.ApplyUpdate(EncodeEntries(Entry{ClientID: 9, Clock: 2, Payload: []byte("here")})); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	decoded, err := DecodeEntries(store.RemoveClients([]uint64{9}))
	if err != nil {
		t.Fatalf("decode removal failed: %v", err)
	}
	if len(decoded) != 1 || decoded[0].ClientID != 9 || len(decoded[0].Payload) != 0 {
		t.Fatalf("expected empty-payload removal for client 9, got %v", decoded)
	}
	if _, present := store.Presence()[9]; present {
		t.Fatal("expected client 9 to be removed")
	}

	// A re-ordered update with the pre-removal clock must not resurrect the entry.
	changed, err := store.ApplyUpdate(EncodeEntries(Entry{ClientID: 9, Clock: 2, Payload: []byte("ghost")}))
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("expected late update to be discarded, got %v", changed)
	}
}

func TestSnapshotSkipsRemovedEntries(t *testing.T) {
	store := NewStore()
	seed := EncodeEntries(
		Entry{ClientID: 1, Clock: 1, Payload: []byte("live")},
		Entry{ClientID: 2, Clock: 1, Payload: []byte("gone")},
	)
	if _, err := store.ApplyUpdate(seed); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	store.RemoveClients([]uint64{2})

	decoded, err := DecodeEntries(store.Snapshot())
	if err != nil {
		t.Fatalf("decode snapshot failed: %v", err)
	}
	if len(decoded) != 1 || decoded[0].ClientID != 1 {
		t.Fatalf("expected only live client in snapshot, got %v", decoded)
	}
}

func TestSnapshotNilWhenEmpty(t *testing.T) {
	store := NewStore()
	if snapshot := store.Snapshot(); snapshot != nil {
		t.Fatalf("expected nil snapshot for empty store, got %v", snapshot)
	}
}

func TestApplyUpdateRejectsMalformedBytes(t *testing.T) {
	store := NewStore()
	if _, err := store.ApplyUpdate([]byte{0x02, 0x01}); !errors.Is(err, ErrMalformedUpdate) {
		t.Fatalf("expected malformed update error, got %v", err)
	}
}

func TestApplyUpdateRejectsOversizedEntryCount(t *testing.T) {
	store := NewStore()

	// A tiny frame claiming an enormous entry count must fail cleanly
	// instead of sizing a slice to the claim.
	update := binary.AppendUvarint(nil, 1<<40)
	if _, err := store.ApplyUpdate(update); !errors.Is(err, ErrMalformedUpdate) {
		t.Fatalf("expected malformed update error, got %v", err)
	}
}

func TestEncodeDecodeEntriesRoundTrip(t *testing.T) {
	entries := []Entry{
		{ClientID: 42, Clock: 3, Payload: []byte(`{"cursor":12}`)},
		{ClientID: 300, Clock: 1, Payload: nil},
	}
	decoded, err := DecodeEntries(EncodeEntries(entries...))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(decoded))
	}
	if decoded[0].ClientID != 42 || decoded[0].Clock != 3 || !bytes.Equal(decoded[0].Payload, []byte(`{"cursor":12}`)) {
		t.Fatalf("unexpected first entry: %+v", decoded[0])
	}
	if decoded[1].ClientID != 300 || len(decoded[1].Payload) != 0 {
		t.Fatalf("unexpected second entry: %+v", decoded[1])
	}
}
