// Package timer implements the spec's one-shot and periodic timer service:
// timers keyed to an owning actor, fired via a Due(now) sweep driven by the
// runtime's poll loop rather than a per-timer OS handle, since Go has no
// portable cross-platform timerfd. The runtime instead uses
// Service.NextDeadline to bound its poll(timeout) call — the soonest timer
// deadline becomes part of the timeout computation described in spec §4.3.
package timer

import (
	"time"

	"kerneld/internal/kernel"
)

// Expiration is delivered to the owner as a Timer{id, expirations} message.
// Periodic timers may coalesce multiple missed intervals into one
// expiration count rather than replaying them individually, per spec §5's
// note that "a periodic timer may coalesce expirations and report the
// count."
type Expiration struct {
	TimerID     uint32
	Owner       kernel.ActorID
	Expirations uint64
}

type entry struct {
	id         uint32
	owner      kernel.ActorID
	intervalMs int64
	periodic   bool
	next       time.Time
}

// Service owns every live timer entry for one runtime.
type Service struct {
	entries map[uint32]*entry
	nextID  uint32
	now     func() time.Time
}

// New returns an empty timer service. now defaults to time.Now; tests
// inject a fake clock to exercise coalescing deterministically.
func New() *Service {
	return &Service{entries: make(map[uint32]*entry), now: time.Now}
}

// WithClock overrides the time source (test hook).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Set creates a one-shot or periodic timer owned by owner, firing after
// intervalMs milliseconds (and every intervalMs thereafter if periodic).
func (s *Service) Set(owner kernel.ActorID, intervalMs int64, periodic bool) uint32 {
	s.nextID++
	id := s.nextID
	s.entries[id] = &entry{
		id:         id,
		owner:      owner,
		intervalMs: intervalMs,
		periodic:   periodic,
		next:       s.now().Add(time.Duration(intervalMs) * time.Millisecond),
	}
	return id
}

// Cancel removes a timer by id regardless of owner; a cancel of an unknown
// id is a silent no-op (idempotent, matching the spec's "cancellable at
// any time" language).
func (s *Service) Cancel(id uint32) { delete(s.entries, id) }

// CancelOwnedBy releases every timer owned by owner — called from the
// runtime's stopped-actor cleanup pass.
func (s *Service) CancelOwnedBy(owner kernel.ActorID) {
	for id, e := range s.entries {
		if e.owner == owner {
			delete(s.entries, id)
		}
	}
}

// Due sweeps every entry whose deadline has passed, returning one
// Expiration per fired timer. One-shot timers are removed; periodic
// timers are rescheduled and their expiration count reflects how many
// whole intervals elapsed since the last check (coalesced, not replayed).
func (s *Service) Due(now time.Time) []Expiration {
	var fired []Expiration
	for id, e := range s.entries {
		if now.Before(e.next) {
			continue
		}
		if !e.periodic {
			fired = append(fired, Expiration{TimerID: id, Owner: e.owner, Expirations: 1})
			delete(s.entries, id)
			continue
		}
		interval := time.Duration(e.intervalMs) * time.Millisecond
		if interval <= 0 {
			interval = time.Millisecond
		}
		elapsed := now.Sub(e.next)
		missed := uint64(elapsed/interval) + 1
		e.next = e.next.Add(time.Duration(missed) * interval)
		fired = append(fired, Expiration{TimerID: id, Owner: e.owner, Expirations: missed})
	}
	return fired
}

// NextDeadline returns the duration until the soonest pending timer, and
// false if there are no live timers at all.
func (s *Service) NextDeadline(now time.Time) (time.Duration, bool) {
	have := false
	var soonest time.Time
	for _, e := range s.entries {
		if !have || e.next.Before(soonest) {
			soonest = e.next
			have = true
		}
	}
	if !have {
		return 0, false
	}
	if soonest.Before(now) {
		return 0, true
	}
	return soonest.Sub(now), true
}

// Len reports the number of live timers (used by the poll-set size check).
func (s *Service) Len() int { return len(s.entries) }
