package timer

import (
	"testing"
	"time"

	"kerneld/internal/kernel"
)

func TestOneShotFiresOnceAndRemoves(t *testing.T) {
	base := time.Unix(0, 0)
	clock := base
	s := New().WithClock(func() time.Time { return clock })

	owner := kernel.MakeActorID(0, 1)
	id := s.Set(owner, 100, false)

	if fired := s.Due(clock); len(fired) != 0 {
		t.Fatalf("expected no expirations before deadline, got %v", fired)
	}

	clock = base.Add(150 * time.Millisecond)
	fired := s.Due(clock)
	if len(fired) != 1 || fired[0].TimerID != id || fired[0].Expirations != 1 {
		t.Fatalf("expected one expiration, got %+v", fired)
	}
	if s.Len() != 0 {
		t.Fatalf("expected one-shot timer removed after firing, len=%d", s.Len())
	}

	// Firing again at a later time should produce nothing (it's gone).
	fired = s.Due(clock.Add(time.Second))
	if len(fired) != 0 {
		t.Fatalf("expected no further expirations, got %v", fired)
	}
}

func TestPeriodicCoalescesMissedIntervals(t *testing.T) {
	base := time.Unix(0, 0)
	clock := base
	s := New().WithClock(func() time.Time { return clock })

	owner := kernel.MakeActorID(0, 1)
	id := s.Set(owner, 10, true)

	// Jump forward 35ms: 3 whole 10ms intervals have elapsed (10,20,30),
	// the 4th hasn't (40 > 35), so coalesced count is 3... but since the
	// first check happens at t=35 relative to a deadline at t=10, elapsed
	// since deadline is 25ms -> missed = 25/10 + 1 = 3.
	clock = base.Add(35 * time.Millisecond)
	fired := s.Due(clock)
	if len(fired) != 1 || fired[0].TimerID != id {
		t.Fatalf("expected one coalesced expiration, got %+v", fired)
	}
	if fired[0].Expirations < 2 {
		t.Fatalf("expected multiple coalesced expirations, got %d", fired[0].Expirations)
	}
	if s.Len() != 1 {
		t.Fatalf("expected periodic timer to remain armed, len=%d", s.Len())
	}
}

func TestCancelAndCancelOwnedBy(t *testing.T) {
	s := New()
	owner := kernel.MakeActorID(0, 1)
	other := kernel.MakeActorID(0, 2)
	id1 := s.Set(owner, 1000, false)
	_ = s.Set(owner, 2000, true)
	_ = s.Set(other, 3000, false)

	s.Cancel(id1)
	if s.Len() != 2 {
		t.Fatalf("expected 2 remaining after single cancel, got %d", s.Len())
	}

	s.CancelOwnedBy(owner)
	if s.Len() != 1 {
		t.Fatalf("expected 1 remaining after owner cleanup, got %d", s.Len())
	}
}

func TestNextDeadline(t *testing.T) {
	base := time.Unix(0, 0)
	s := New().WithClock(func() time.Time { return base })
	if _, ok := s.NextDeadline(base); ok {
		t.Fatalf("expected no deadline with no timers")
	}
	s.Set(kernel.MakeActorID(0, 1), 50, false)
	s.Set(kernel.MakeActorID(0, 1), 10, false)
	d, ok := s.NextDeadline(base)
	if !ok || d != 10*time.Millisecond {
		t.Fatalf("expected soonest deadline 10ms, got %v ok=%v", d, ok)
	}
}
