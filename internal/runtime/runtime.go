// Package runtime composes the kernel's leaf data structures — actor
// table, scheduler, registry, timer service, fd watch service,
// connection engine, and transport layer — into the single-threaded
// kernel the spec describes: Spawn/Send/Stop, the cooperative Step, and
// the unified poll-and-dispatch Run loop (spec §4.3). Runtime is the sole
// implementation of kernel.KernelAPI; a Behavior only ever sees it
// through a *kernel.Context.
package runtime

import (
	"errors"
	"log/slog"
	"time"

	"kerneld/internal/conn"
	"kerneld/internal/fdwatch"
	"kerneld/internal/kernel"
	"kerneld/internal/logging"
	"kerneld/internal/registry"
	"kerneld/internal/supervisor"
	"kerneld/internal/timer"
	"kerneld/internal/transport"
)

var (
	ErrActorTableFull = errors.New("runtime: actor table full")
	ErrNoSuchActor    = errors.New("runtime: no such actor")
	ErrActorStopped   = errors.New("runtime: actor is stopped")
	ErrUnknownDest    = errors.New("runtime: no transport to destination node")
)

// Config bounds the runtime's resource pools, generalizing the teacher's
// flag-driven startup knobs into fields a config loader (internal/config)
// can populate (spec §10's Configuration section).
type Config struct {
	NodeID      uint32
	MaxActors   int
	PollIdle    time.Duration // the 100ms idle poll timeout of the run loop
	DefaultMBox int
}

// DefaultConfig returns sane defaults for a single demo node.
func DefaultConfig() Config {
	return Config{NodeID: 1, MaxActors: 4096, PollIdle: 100 * time.Millisecond, DefaultMBox: 32}
}

// Runtime is the kernel: every piece of mutable state it owns is touched
// only from the single thread that calls Run/Step, per spec §5.
type Runtime struct {
	cfg Config

	actors  map[kernel.ActorID]*kernel.Actor
	nextSeq uint32
	sched   *kernel.Scheduler

	registry   *registry.Registry
	timers     *timer.Service
	fdwatch    *fdwatch.Service
	conns      *conn.Manager
	transports *transport.Manager

	stopping bool

	log *slog.Logger
}

// New builds a Runtime and wires the registry's replication broadcasts
// to the transport manager (spec §4.6/§4.7).
func New(cfg Config, identity string) *Runtime {
	rt := &Runtime{
		cfg:        cfg,
		actors:     make(map[kernel.ActorID]*kernel.Actor),
		sched:      kernel.NewScheduler(),
		timers:     timer.New(),
		fdwatch:    fdwatch.New(),
		conns:      conn.NewManager(),
		transports: transport.New(cfg.NodeID, identity),
		log:        logging.New("runtime"),
	}
	rt.registry = registry.New(rt.transports)
	rt.transports.BindRegistry(rt.registry)
	return rt
}

// Registry exposes the registry for callers that need direct access
// (e.g. cmd/kerneld wiring a mount, or tests inspecting state).
func (rt *Runtime) Registry() *registry.Registry { return rt.registry }

// Transports exposes the transport manager so cmd/kerneld can Connect to
// peer nodes and Accept incoming ones.
func (rt *Runtime) Transports() *transport.Manager { return rt.transports }

// Conns exposes the connection manager for advanced callers (tests).
func (rt *Runtime) Conns() *conn.Manager { return rt.conns }

// NewContext builds a Context bound to id, for bootstrapping code outside
// any Behavior (e.g. cmd/kerneld spawning the first actors).
func (rt *Runtime) NewContext(id kernel.ActorID) *kernel.Context {
	return kernel.NewContext(rt, id)
}

// ---- kernel.KernelAPI -------------------------------------------------

func (rt *Runtime) Spawn(caller kernel.ActorID, behavior kernel.Behavior, state any, release kernel.Release, mailboxSize int) (kernel.ActorID, error) {
	if len(rt.actors) >= rt.cfg.MaxActors {
		return kernel.Invalid, ErrActorTableFull
	}
	if mailboxSize <= 0 {
		mailboxSize = rt.cfg.DefaultMBox
	}
	rt.nextSeq++
	id := kernel.MakeActorID(rt.cfg.NodeID, rt.nextSeq)
	a := &kernel.Actor{
		ID:       id,
		Parent:   caller,
		Mailbox:  kernel.NewMailbox(mailboxSize),
		Behavior: behavior,
		State:    state,
		Release:  release,
		Status:   kernel.StatusIdle,
	}
	rt.actors[id] = a
	return id, nil
}

// Stop marks an actor Stopped; actual resource release and slot removal
// happens in the cleanup pass the Run loop runs every iteration (spec
// §4.3's "Stopped-actor cleanup"), so Stop is safe to call from inside or
// outside a Behavior and is idempotent.
func (rt *Runtime) Stop(id kernel.ActorID) {
	a, ok := rt.actors[id]
	if !ok || a.Status == kernel.StatusStopped {
		return
	}
	a.Status = kernel.StatusStopped
	a.Reason = kernel.ExitKilled
}

func (rt *Runtime) Self(caller kernel.ActorID) kernel.ActorID { return caller }

func (rt *Runtime) State(id kernel.ActorID) any {
	a, ok := rt.actors[id]
	if !ok {
		return nil
	}
	return a.State
}

// Send routes by destination node id, per spec §4.3: local delivery
// enqueues into the target's mailbox and schedules it if it was idle;
// remote delivery hands off to the node's transport, failing if none
// exists.
func (rt *Runtime) Send(from, dest kernel.ActorID, msgType uint32, payload []byte) error {
	if dest.NodeID() != rt.cfg.NodeID {
		t, ok := rt.transports.Get(dest.NodeID())
		if !ok {
			return ErrUnknownDest
		}
		t.Send(kernel.Message{Source: from, Dest: dest, Type: msgType, Payload: payload})
		return nil
	}
	a, ok := rt.actors[dest]
	if !ok {
		return ErrNoSuchActor
	}
	if a.Status == kernel.StatusStopped {
		return ErrActorStopped
	}
	msg := kernel.Message{Source: from, Dest: dest, Type: msgType, Payload: payload}
	if err := a.Mailbox.Enqueue(msg); err != nil {
		return err
	}
	rt.scheduleIfNeeded(a)
	return nil
}

// scheduleIfNeeded enqueues a onto the scheduler's ready queue exactly
// once even if called multiple times before it next runs (spec §4.2's
// idempotent-enqueue requirement), and advances Idle actors to Ready.
func (rt *Runtime) scheduleIfNeeded(a *kernel.Actor) {
	if a.Status == kernel.StatusStopped {
		return
	}
	if a.Status == kernel.StatusIdle {
		a.Status = kernel.StatusReady
	}
	if a.TryMarkReady() {
		rt.sched.Enqueue(a.ID)
	}
}

func (rt *Runtime) RegisterName(caller kernel.ActorID, name string, id kernel.ActorID) error {
	return rt.registry.Register(name, id)
}

func (rt *Runtime) Lookup(name string) (kernel.ActorID, bool) { return rt.registry.Lookup(name) }

func (rt *Runtime) ReverseLookup(id kernel.ActorID) (string, bool) {
	return rt.registry.ReverseLookup(id)
}

func (rt *Runtime) SetTimer(owner kernel.ActorID, intervalMs int64, periodic bool) uint32 {
	return rt.timers.Set(owner, intervalMs, periodic)
}

func (rt *Runtime) CancelTimer(owner kernel.ActorID, id uint32) { rt.timers.Cancel(id) }

func (rt *Runtime) WatchFD(owner kernel.ActorID, fd int, events uint32) error {
	return rt.fdwatch.Watch(owner, fd, events)
}

func (rt *Runtime) UnwatchFD(owner kernel.ActorID, fd int) { rt.fdwatch.Unwatch(fd) }

// ---- Step / Run --------------------------------------------------------

// Step dequeues and runs at most one actor's next message, per spec
// §4.3's "Step" algorithm. It returns false if the scheduler had nothing
// runnable.
func (rt *Runtime) Step() bool {
	id, ok := rt.sched.Dequeue()
	if !ok {
		return false
	}
	a, ok := rt.actors[id]
	if !ok || a.Status == kernel.StatusStopped {
		return true
	}
	a.ClearReady()
	a.Status = kernel.StatusRunning

	msg, ok := a.Mailbox.Dequeue()
	if !ok {
		a.Status = kernel.StatusIdle
		return true
	}

	cont := rt.invoke(a, msg)

	if !cont {
		a.Status = kernel.StatusStopped
		if a.Reason != kernel.ExitKilled {
			a.Reason = kernel.ExitNormal
		}
		return true
	}
	if a.Status == kernel.StatusStopped {
		return true
	}
	if !a.Mailbox.IsEmpty() {
		a.Status = kernel.StatusReady
		rt.scheduleIfNeeded(a)
	} else {
		a.Status = kernel.StatusIdle
	}
	return true
}

// invoke runs a Behavior, translating a panic to ExitKilled instead of
// letting it escape and take the whole process down with it (spec §7:
// "the runtime itself never panics on recoverable errors").
func (rt *Runtime) invoke(a *kernel.Actor, msg kernel.Message) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			rt.log.Error("behavior panicked, killing actor", "actor", a.ID, "recover", r)
			a.Reason = kernel.ExitKilled
			cont = false
		}
	}()
	ctx := kernel.NewContext(rt, a.ID)
	return a.Behavior(ctx, msg)
}

// Run alternates draining the scheduler with polling I/O, per spec
// §4.3's run loop. It returns once RequestStop has been called and
// nothing remains runnable, or once nothing remains runnable and no I/O
// source is registered.
func (rt *Runtime) Run() {
	for {
		for rt.Step() {
			if rt.stopping {
				break
			}
		}
		rt.cleanupStopped()
		if rt.stopping && rt.sched.IsEmpty() {
			return
		}
		if !rt.hasIOSources() {
			if rt.sched.IsEmpty() {
				return
			}
			continue
		}
		timeout := time.Duration(0)
		if rt.sched.IsEmpty() {
			timeout = rt.cfg.PollIdle
		}
		rt.poll(timeout)
		rt.cleanupStopped()
	}
}

// RequestStop tells Run to wind down after the current scheduler drain.
func (rt *Runtime) RequestStop() { rt.stopping = true }

func (rt *Runtime) hasIOSources() bool {
	if _, listening := rt.transports.ListenerFD(); listening {
		return true
	}
	return rt.timers.Len() > 0 || rt.fdwatch.Len() > 0 || len(rt.conns.Entries()) > 0 || len(rt.transports.Entries()) > 0
}

// cleanupStopped implements spec §4.3's "Stopped-actor cleanup": release
// every timer/fd-watch/connection/listener the actor owned, deregister
// its names/paths, notify its parent, then destroy the actor.
func (rt *Runtime) cleanupStopped() {
	for id, a := range rt.actors {
		if a.Status != kernel.StatusStopped {
			continue
		}
		rt.timers.CancelOwnedBy(id)
		rt.fdwatch.UnwatchOwnedBy(id)
		rt.conns.CloseOwnedBy(id)
		rt.registry.Deregister(id)
		if a.Release != nil {
			a.Release(a.State)
		}
		if a.Parent.Valid() {
			if parent, ok := rt.actors[a.Parent]; ok && parent.Status != kernel.StatusStopped {
				payload := supervisor.EncodeChildExit(id, a.Reason)
				_ = rt.Send(kernel.Invalid, a.Parent, supervisor.MsgChildExit, payload)
			}
		}
		delete(rt.actors, id)
	}
}

// --- connection / HTTP-ish KernelAPI methods live in http.go ---
