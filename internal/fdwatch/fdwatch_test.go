package fdwatch

import (
	"testing"

	"kerneld/internal/kernel"
)

func TestWatchUnwatch(t *testing.T) {
	s := New()
	owner := kernel.MakeActorID(0, 1)
	if err := s.Watch(owner, 5, EventRead); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", s.Len())
	}
	e, ok := s.Lookup(5)
	if !ok || e.Owner != owner || e.Events != EventRead {
		t.Fatalf("unexpected lookup result: %+v ok=%v", e, ok)
	}
	s.Unwatch(5)
	if _, ok := s.Lookup(5); ok {
		t.Fatalf("expected fd 5 gone after unwatch")
	}
}

func TestUnwatchOwnedBy(t *testing.T) {
	s := New()
	a := kernel.MakeActorID(0, 1)
	b := kernel.MakeActorID(0, 2)
	_ = s.Watch(a, 1, EventRead)
	_ = s.Watch(a, 2, EventWrite)
	_ = s.Watch(b, 3, EventRead)

	s.UnwatchOwnedBy(a)
	if s.Len() != 1 {
		t.Fatalf("expected 1 entry remaining, got %d", s.Len())
	}
	if _, ok := s.Lookup(3); !ok {
		t.Fatalf("expected b's watch to survive")
	}
}

func TestEntriesSnapshot(t *testing.T) {
	s := New()
	_ = s.Watch(kernel.MakeActorID(0, 1), 1, EventRead)
	_ = s.Watch(kernel.MakeActorID(0, 1), 2, EventRead|EventWrite)
	entries := s.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}
