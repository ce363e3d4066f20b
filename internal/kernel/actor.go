package kernel

// Behavior is invoked once per delivered message. Returning false means
// normal termination of the actor; returning true means continue running.
// A panic escaping a Behavior is caught by the runtime and translated to
// ExitKilled (see §7 of the spec this package implements).
type Behavior func(ctx *Context, msg Message) bool

// Release is an optional callback invoked with an actor's opaque state once
// the actor is fully cleaned up, so state can close files, connections, etc.
type Release func(state any)

// Actor owns a mailbox, opaque state, a behavior, and lifecycle metadata.
// It is created by Spawn and destroyed only after the runtime's cleanup
// pass observes it in StatusStopped.
type Actor struct {
	ID       ActorID
	Name     string
	Parent   ActorID
	Mailbox  *Mailbox
	Behavior Behavior
	State    any
	Release  Release
	Status   Status
	Reason   ExitReason

	// ready is the scheduler readiness bit: set when enqueued, cleared when
	// dequeued, so re-enqueuing an already-ready actor is a no-op.
	ready bool
}

// TryMarkReady sets the readiness bit and reports whether it was
// previously clear. The runtime calls this before Scheduler.Enqueue so a
// second Send to an already-scheduled actor never double-enqueues it
// (the idempotence Scheduler's doc comment promises).
func (a *Actor) TryMarkReady() bool {
	if a.ready {
		return false
	}
	a.ready = true
	return true
}

// ClearReady clears the readiness bit; the runtime calls this when
// dequeuing an actor to run it.
func (a *Actor) ClearReady() { a.ready = false }

// Ready reports the current readiness bit (diagnostics/tests only).
func (a *Actor) Ready() bool { return a.ready }

// KernelAPI is the set of runtime operations a Behavior can reach through
// its Context. It is implemented by *runtime.Runtime; kernel never imports
// runtime; this keeps the actor data model free of I/O and registry
// concerns while letting Context stay a thin, concrete wrapper (mirroring
// the teacher's ActCtx/IKernel split) instead of a sprawling interface
// every call site has to satisfy by hand.
type KernelAPI interface {
	Send(from, dest ActorID, msgType uint32, payload []byte) error
	Spawn(caller ActorID, behavior Behavior, state any, release Release, mailboxSize int) (ActorID, error)
	Stop(id ActorID)
	Self(caller ActorID) ActorID
	State(id ActorID) any

	RegisterName(caller ActorID, name string, id ActorID) error
	Lookup(name string) (ActorID, bool)
	ReverseLookup(id ActorID) (string, bool)

	SetTimer(owner ActorID, intervalMs int64, periodic bool) uint32
	CancelTimer(owner ActorID, id uint32)

	WatchFD(owner ActorID, fd int, events uint32) error
	UnwatchFD(owner ActorID, fd int)

	HTTPGet(owner ActorID, url string) (uint64, error)
	HTTPFetch(owner ActorID, method, url string, headers map[string]string, body []byte) (uint64, error)
	SSEConnect(owner ActorID, url string) (uint64, error)
	WSConnect(owner ActorID, url string) (uint64, error)
	HTTPListen(owner ActorID, port int) (uint64, error)
	HTTPRespond(connID uint64, status int, headers map[string]string, body []byte) error
	WSSendText(connID uint64, data []byte) error
	WSSendBinary(connID uint64, data []byte) error
	WSClose(connID uint64, code uint16) error
	SSEStart(connID uint64) error
	SSEPush(connID uint64, event string, data []byte) error
	CloseConn(connID uint64) error
}

// Context is the capability surface passed to a Behavior: a thin wrapper
// binding a KernelAPI to the actor currently running (c.self), so call
// sites read as plain method calls instead of threading the caller id by
// hand at every Send/Spawn/etc — directly generalizing the teacher's
// ActCtx.
type Context struct {
	K    KernelAPI
	self ActorID
}

// NewContext builds a Context bound to self; runtime constructs one per
// dispatched message.
func NewContext(k KernelAPI, self ActorID) *Context {
	return &Context{K: k, self: self}
}

func (c *Context) Self() ActorID { return c.K.Self(c.self) }

func (c *Context) Send(dest ActorID, msgType uint32, payload []byte) error {
	return c.K.Send(c.self, dest, msgType, payload)
}

func (c *Context) Spawn(behavior Behavior, state any, release Release, mailboxSize int) (ActorID, error) {
	return c.K.Spawn(c.self, behavior, state, release, mailboxSize)
}

func (c *Context) Stop(id ActorID) { c.K.Stop(id) }

// State returns the calling actor's own opaque state value, the
// Actor API's "state() -> opaque" entry point (spec §6).
func (c *Context) State() any { return c.K.State(c.self) }

func (c *Context) RegisterName(name string, id ActorID) error {
	return c.K.RegisterName(c.self, name, id)
}

func (c *Context) Lookup(name string) (ActorID, bool) { return c.K.Lookup(name) }

func (c *Context) ReverseLookup(id ActorID) (string, bool) { return c.K.ReverseLookup(id) }

func (c *Context) SetTimer(intervalMs int64, periodic bool) uint32 {
	return c.K.SetTimer(c.self, intervalMs, periodic)
}

func (c *Context) CancelTimer(id uint32) { c.K.CancelTimer(c.self, id) }

func (c *Context) WatchFD(fd int, events uint32) error { return c.K.WatchFD(c.self, fd, events) }

func (c *Context) UnwatchFD(fd int) { c.K.UnwatchFD(c.self, fd) }

func (c *Context) HTTPGet(url string) (uint64, error) { return c.K.HTTPGet(c.self, url) }

func (c *Context) HTTPFetch(method, url string, headers map[string]string, body []byte) (uint64, error) {
	return c.K.HTTPFetch(c.self, method, url, headers, body)
}

func (c *Context) SSEConnect(url string) (uint64, error) { return c.K.SSEConnect(c.self, url) }

func (c *Context) WSConnect(url string) (uint64, error) { return c.K.WSConnect(c.self, url) }

func (c *Context) HTTPListen(port int) (uint64, error) { return c.K.HTTPListen(c.self, port) }

func (c *Context) HTTPRespond(connID uint64, status int, headers map[string]string, body []byte) error {
	return c.K.HTTPRespond(connID, status, headers, body)
}

func (c *Context) WSSendText(connID uint64, data []byte) error { return c.K.WSSendText(connID, data) }

func (c *Context) WSSendBinary(connID uint64, data []byte) error {
	return c.K.WSSendBinary(connID, data)
}

func (c *Context) WSClose(connID uint64, code uint16) error { return c.K.WSClose(connID, code) }

func (c *Context) SSEStart(connID uint64) error { return c.K.SSEStart(connID) }

func (c *Context) SSEPush(connID uint64, event string, data []byte) error {
	return c.K.SSEPush(connID, event, data)
}

func (c *Context) CloseConn(connID uint64) error { return c.K.CloseConn(connID) }
