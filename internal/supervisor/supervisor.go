// Package supervisor implements Erlang-style supervision: restart
// strategies, restart-type gating, and rate-limited restart throttling
// over a fixed list of child actors (spec §4.5).
package supervisor

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"kerneld/internal/kernel"
	"kerneld/internal/logging"
)

// MsgChildExit is the message type the runtime's stopped-actor cleanup
// pass uses to notify a parent that one of its children stopped (spec
// §4.3's "emits ChildExit{child_id, reason} to its parent if any").
const MsgChildExit uint32 = 0x5350_4558 // "SPEX"

// EncodeChildExit builds the wire payload for a ChildExit notification.
func EncodeChildExit(child kernel.ActorID, reason kernel.ExitReason) []byte {
	buf := make([]byte, 9)
	binary.BigEndian.PutUint64(buf[:8], uint64(child))
	buf[8] = byte(reason)
	return buf
}

// DecodeChildExit reverses EncodeChildExit.
func DecodeChildExit(payload []byte) (kernel.ActorID, kernel.ExitReason, error) {
	if len(payload) != 9 {
		return 0, 0, fmt.Errorf("supervisor: malformed ChildExit payload (%d bytes)", len(payload))
	}
	return kernel.ActorID(binary.BigEndian.Uint64(payload[:8])), kernel.ExitReason(payload[8]), nil
}

// Strategy is how a supervisor reacts to one child exiting.
type Strategy uint8

const (
	OneForOne Strategy = iota
	OneForAll
	RestForOne
)

// RestartType gates whether a child is restarted at all.
type RestartType uint8

const (
	Permanent RestartType = iota // always restarted
	Transient                    // restarted only on abnormal exit
	Temporary                    // never restarted
)

// ChildSpec describes one supervised child. StateFactory is called fresh
// on every (re)start so each incarnation gets its own state value, per
// spec §4.5.
type ChildSpec struct {
	Name         string
	Behavior     kernel.Behavior
	StateFactory func() any
	Release      kernel.Release
	MailboxSize  int
	Restart      RestartType
}

// childSlot is the live runtime state for one ChildSpec.
type childSlot struct {
	id    kernel.ActorID
	alive bool
}

// RestartRecorder is an optional durable audit sink for restart events,
// satisfied by state.SQLStore's restart_events table. The supervisor
// keeps its decisions on the in-memory ring either way; the recorder
// only makes them inspectable after the fact.
type RestartRecorder interface {
	RecordRestart(supervisor string, childIndex int, actorName string, reason string) error
}

// Supervisor tracks a fixed, ordered list of children and restarts them
// according to Strategy when one exits, subject to a rolling restart-rate
// limit.
type Supervisor struct {
	Strategy    Strategy
	MaxRestarts int
	WindowMS    int64

	specs    []ChildSpec
	slots    []childSlot
	ring     *restartRing
	down     bool
	self     kernel.ActorID
	nowFn    func() int64
	name     string
	recorder RestartRecorder
	logger   *slog.Logger
}

// New builds a supervisor over specs. nowFn supplies the current time in
// milliseconds for the restart-rate ring buffer (tests inject a fake
// clock; cmd/kerneld wires time.Now in milliseconds).
func New(strategy Strategy, maxRestarts int, windowMS int64, specs []ChildSpec, nowFn func() int64) *Supervisor {
	return &Supervisor{
		Strategy:    strategy,
		MaxRestarts: maxRestarts,
		WindowMS:    windowMS,
		specs:       specs,
		slots:       make([]childSlot, len(specs)),
		ring:        newRestartRing(maxRestarts + 1),
		nowFn:       nowFn,
		logger:      logging.New("supervisor"),
	}
}

// WithRecorder attaches a durable restart-event sink under the given
// supervisor name; every restart and the final give-up are appended to
// it. Same chaining shape as timer.Service.WithClock.
func (s *Supervisor) WithRecorder(name string, rec RestartRecorder) *Supervisor {
	s.name = name
	s.recorder = rec
	return s
}

// Start spawns every child in spec order under ctx, recording self as
// their supervisor.
func (s *Supervisor) Start(ctx *kernel.Context) error {
	s.self = ctx.Self()
	for i := range s.specs {
		if err := s.spawnChild(ctx, i); err != nil {
			return fmt.Errorf("supervisor: starting child %q: %w", s.specs[i].Name, err)
		}
	}
	return nil
}

func (s *Supervisor) spawnChild(ctx *kernel.Context, index int) error {
	spec := s.specs[index]
	state := spec.StateFactory()
	id, err := ctx.Spawn(spec.Behavior, state, spec.Release, spec.MailboxSize)
	if err != nil {
		return err
	}
	s.slots[index] = childSlot{id: id, alive: true}
	return nil
}

// GetChild returns the current ActorID of the child at index, the
// "get_child(0)" query in spec §8's scenario 5.
func (s *Supervisor) GetChild(index int) (kernel.ActorID, bool) {
	if index < 0 || index >= len(s.slots) || !s.slots[index].alive {
		return 0, false
	}
	return s.slots[index].id, true
}

// ShuttingDown reports whether the restart-rate limit was exceeded and
// this supervisor is unwinding.
func (s *Supervisor) ShuttingDown() bool { return s.down }

// Behavior returns the kernel.Behavior this supervisor runs as, reacting
// to MsgChildExit and otherwise ignoring messages (a pure supervisor has
// no other mailbox traffic in this system).
func (s *Supervisor) Behavior() kernel.Behavior {
	return func(ctx *kernel.Context, msg kernel.Message) bool {
		if msg.Type != MsgChildExit {
			return true
		}
		childID, reason, err := DecodeChildExit(msg.Payload)
		if err != nil {
			s.logger.Warn("malformed ChildExit", "error", err)
			return true
		}
		return s.HandleChildExit(ctx, childID, reason)
	}
}

// HandleChildExit implements spec §4.5's ChildExit algorithm. It returns
// false when the supervisor itself should exit (restart intensity
// exceeded), mirroring a Behavior's return convention.
func (s *Supervisor) HandleChildExit(ctx *kernel.Context, childID kernel.ActorID, reason kernel.ExitReason) bool {
	if s.down {
		return false
	}
	index := s.indexOf(childID)
	if index < 0 {
		return true // not one of ours (e.g. already respawned and stale notification)
	}
	s.slots[index].alive = false

	if !s.shouldRestart(s.specs[index].Restart, reason) {
		return true
	}

	now := s.nowFn()
	s.ring.record(now)
	if s.ring.countWithin(now, s.WindowMS) > s.MaxRestarts {
		s.logger.Warn("restart intensity exceeded, giving up", "supervisor", s.self)
		s.record(index, "give-up")
		s.down = true
		s.stopAll(ctx)
		return false
	}

	s.record(index, reason.String())
	s.applyStrategy(ctx, index)
	return true
}

// record appends one row to the attached audit sink, if any. A failed
// append is logged and otherwise ignored: restart policy never depends
// on the durability of its own audit trail.
func (s *Supervisor) record(index int, reason string) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordRestart(s.name, index, s.specs[index].Name, reason); err != nil {
		s.logger.Warn("recording restart event", "error", err)
	}
}

func (s *Supervisor) shouldRestart(rt RestartType, reason kernel.ExitReason) bool {
	switch rt {
	case Permanent:
		return true
	case Transient:
		return reason != kernel.ExitNormal
	default: // Temporary
		return false
	}
}

func (s *Supervisor) applyStrategy(ctx *kernel.Context, failedIndex int) {
	switch s.Strategy {
	case OneForOne:
		_ = s.spawnChild(ctx, failedIndex)

	case OneForAll:
		for i := range s.slots {
			if i != failedIndex {
				s.detachAndStop(ctx, i)
			}
		}
		for i := range s.specs {
			_ = s.spawnChild(ctx, i)
		}

	case RestForOne:
		for i := failedIndex + 1; i < len(s.slots); i++ {
			s.detachAndStop(ctx, i)
		}
		for i := failedIndex; i < len(s.specs); i++ {
			_ = s.spawnChild(ctx, i)
		}
	}
}

// detachAndStop clears a slot and stops its actor without restarting it,
// used when a strategy needs to tear down siblings of a failed child.
// Spec §4.5: "the supervisor detaches the parent pointer first to
// suppress cascading ChildExit messages" — here that's modeled by
// marking the slot dead before calling Stop so a subsequent ChildExit
// for it (should the runtime still emit one) finds no live slot.
func (s *Supervisor) detachAndStop(ctx *kernel.Context, index int) {
	if !s.slots[index].alive {
		return
	}
	id := s.slots[index].id
	s.slots[index].alive = false
	ctx.Stop(id)
}

func (s *Supervisor) stopAll(ctx *kernel.Context) {
	for i := range s.slots {
		s.detachAndStop(ctx, i)
	}
}

func (s *Supervisor) indexOf(id kernel.ActorID) int {
	for i, slot := range s.slots {
		if slot.alive && slot.id == id {
			return i
		}
	}
	return -1
}
