// Package kernel holds the actor microkernel's core data model: actor ids,
// messages, mailboxes, the ready-queue scheduler, and actor lifecycle state.
// Nothing in this package touches I/O, registries, or poll sets — those
// live in internal/runtime, which composes these leaf types into the
// single-threaded kernel described by the spec.
package kernel

// ActorID is a 64-bit composite: high 32 bits are the owning node id, low
// 32 bits are a locally monotonic sequence number. Sequence 0 is reserved
// invalid so the zero value of ActorID never resolves to a live actor.
type ActorID uint64

// Invalid is the zero ActorID: never allocated, never resolves.
const Invalid ActorID = 0

// MakeActorID packs a node id and local sequence into a composite id.
func MakeActorID(nodeID uint32, sequence uint32) ActorID {
	return ActorID(nodeID)<<32 | ActorID(sequence)
}

// NodeID returns the high 32 bits: which node owns this actor.
func (id ActorID) NodeID() uint32 { return uint32(id >> 32) }

// Sequence returns the low 32 bits: the local allocation sequence.
func (id ActorID) Sequence() uint32 { return uint32(id) }

// Valid reports whether id is anything other than Invalid.
func (id ActorID) Valid() bool { return id != Invalid }
