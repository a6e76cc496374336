package registry

import (
	"reflect"
	"testing"
)

func TestOrphansSingleRemoval(t *testing.T) {
	// Active chain: sentinel -> a -> c -> f -> sentinel. Node a is rewritten
	// to point at d: only c was unlinked, f stays.
	active := []string{SentinelKey, "a", "c", "f"}
	got := Orphans("c", "d", active)
	want := []string{"c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Orphans = %v, want %v", got, want)
	}
}

func TestOrphansRangeRemoval(t *testing.T) {
	active := []string{SentinelKey, "a", "b", "c", "d", "e"}
	got := Orphans("b", "e", active)
	want := []string{"b", "c", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Orphans = %v, want %v", got, want)
	}
}

func TestOrphansRemovalThroughTail(t *testing.T) {
	// Successor rewritten to the sentinel: everything from the old target to
	// the end of the chain was unlinked.
	active := []string{SentinelKey, "a", "c", "f"}
	got := Orphans("c", SentinelKey, active)
	want := []string{"c", "f"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Orphans = %v, want %v", got, want)
	}
}

func TestOrphansInsertionUnlinksNothing(t *testing.T) {
	// A new node b spliced in between a and c: a's successor moves backward
	// in the order, nothing is removed.
	active := []string{SentinelKey, "a", "c", "f"}
	if got := Orphans("c", "b", active); got != nil {
		t.Fatalf("insertion should unlink nothing, got %v", got)
	}
}

func TestOrphansInsertionAtTail(t *testing.T) {
	// The last node's successor moves from the sentinel to a new key.
	active := []string{SentinelKey, "a", "c", "f"}
	if got := Orphans(SentinelKey, "g", active); got != nil {
		t.Fatalf("tail insertion should unlink nothing, got %v", got)
	}
}

func TestOrphansRemovalOfFirstNode(t *testing.T) {
	// The sentinel's own successor is rewritten past the first node.
	active := []string{SentinelKey, "a", "c", "f"}
	got := Orphans("a", "c", active)
	want := []string{"a"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Orphans = %v, want %v", got, want)
	}
}

func TestOrphansUnchangedPointer(t *testing.T) {
	if got := Orphans("c", "c", []string{SentinelKey, "a", "c"}); got != nil {
		t.Fatalf("unchanged pointer should unlink nothing, got %v", got)
	}
}

func TestOrphansNeverReturnsSentinel(t *testing.T) {
	got := Orphans("a", SentinelKey, []string{SentinelKey, "a", "b"})
	for _, key := range got {
		if key == SentinelKey {
			t.Fatal("sentinel must never be orphaned")
		}
	}
}
