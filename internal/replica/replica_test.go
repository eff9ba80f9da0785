package replica

import (
	"sort"
	"testing"
)

func TestEncodeLoadRoundTrip(t *testing.T) {
	original := New()
	if err := original.Set("title", "meeting notes"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	restored, err := Load(original.Encode())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if restored.Render() != original.Render() {
		t.Fatalf("expected restored content %s, got %s", original.Render(), restored.Render())
	}
}

func TestLoadRejectsCorruptState(t *testing.T) {
	if _, err := Load([]byte("not a document")); err == nil {
		t.Fatal("expected corrupt state to be rejected")
	}
}

func TestConcurrentEditsConvergeRegardlessOfOrder(t *testing.T) {
	left := New()
	right, err := Load(left.Encode())
	if err != nil {
		t.Fatalf("fork failed: %v", err)
	}

	if err := left.Set("alpha", "from left"); err != nil {
		t.Fatalf("left edit failed: %v", err)
	}
	if err := right.Set("beta", "from right"); err != nil {
		t.Fatalf("right edit failed: %v", err)
	}

	leftDiff, err := left.DiffSince(nil)
	if err != nil {
		t.Fatalf("left diff failed: %v", err)
	}
	rightDiff, err := right.DiffSince(nil)
	if err != nil {
		t.Fatalf("right diff failed: %v", err)
	}

	// Deliver in opposite orders on each side.
	if err := left.ApplyChanges(rightDiff...); err != nil {
		t.Fatalf("left apply failed: %v", err)
	}
	if err := right.ApplyChanges(leftDiff...); err != nil {
		t.Fatalf("right apply failed: %v", err)
	}

	if !sameHeads(left, right) {
		t.Fatalf("expected identical heads, got %v and %v", left.Heads(), right.Heads())
	}
	if left.Render() != right.Render() {
		t.Fatalf("expected identical content, got %s and %s", left.Render(), right.Render())
	}
}

func TestApplyChangesIsIdempotent(t *testing.T) {
	source := New()
	if err := source.Set("body", "hello"); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	diff, err := source.DiffSince(nil)
	if err != nil {
		t.Fatalf("diff failed: %v", err)
	}

	target := New()
	if err := target.ApplyChanges(diff...); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	once := target.Render()
	if err := target.ApplyChanges(diff...); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if target.Render() != once {
		t.Fatalf("expected reapplied state %s, got %s", once, target.Render())
	}
	if !sameHeads(source, target) {
		t.Fatalf("expected source heads %v, got %v", source.Heads(), target.Heads())
	}
}

func TestDiffSinceSkipsKnownChanges(t *testing.T) {
	source := New()
	if err := source.Set("first", 1); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	known, err := source.KnownHashes()
	if err != nil {
		t.Fatalf("known hashes failed: %v", err)
	}
	if err := source.Set("second", 2); err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	diff, err := source.DiffSince(known)
	if err != nil {
		t.Fatalf("diff failed: %v", err)
	}
	if len(diff) != 1 {
		t.Fatalf("expected one missing change, got %d", len(diff))
	}
}

func TestSyncSessionsExchangeToConvergence(t *testing.T) {
	left := New()
	right := New()
	if err := left.Set("x", 1); err != nil {
		t.Fatalf("left edit failed: %v", err)
	}
	if err := right.Set("y", 2); err != nil {
		t.Fatalf("right edit failed: %v", err)
	}

	leftSession := left.NewSession()
	rightSession := right.NewSession()

	exchanged := true
	for exchanged {
		exchanged = false
		for {
			message, pending := leftSession.Generate()
			if !pending {
				break
			}
			exchanged = true
			if err := rightSession.Receive(message); err != nil {
				t.Fatalf("right receive failed: %v", err)
			}
		}
		for {
			message, pending := rightSession.Generate()
			if !pending {
				break
			}
			exchanged = true
			if err := leftSession.Receive(message); err != nil {
				t.Fatalf("left receive failed: %v", err)
			}
		}
	}

	if !sameHeads(left, right) {
		t.Fatalf("expected converged heads, got %v and %v", left.Heads(), right.Heads())
	}
}

func sameHeads(a, b *Replica) bool {
	left := a.Heads()
	right := b.Heads()
	if len(left) != len(right) {
		return false
	}
	sort.Strings(left)
	sort.Strings(right)
	for index := range left {
		if left[index] != right[index] {
			return false
		}
	}
	return true
}
