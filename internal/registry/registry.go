// Package registry implements the flat name map, hierarchical path table,
// and longest-prefix mount table described in the spec's §4.6, plus the
// broadcast hooks the transport layer uses to replicate registrations to
// peer nodes on connect and on every subsequent register/deregister.
package registry

import (
	"errors"
	"log/slog"
	"strings"

	"kerneld/internal/kernel"
	"kerneld/internal/logging"
)

var (
	ErrDuplicateName = errors.New("registry: name already registered")
	ErrDuplicatePath = errors.New("registry: path already registered")
	ErrNameTooLong   = errors.New("registry: name exceeds 63 bytes")
)

// Broadcaster is implemented by the transport manager; Registry calls it
// whenever a LOCAL registration/deregistration happens so every connected
// peer learns about it. Applying an incoming remote register must go
// through ApplyRemoteXxx instead, which never calls back into Broadcaster
// — this is what breaks the replication loop the spec calls for.
type Broadcaster interface {
	BroadcastNameRegister(name string, id kernel.ActorID)
	BroadcastNameUnregister(name string)
	BroadcastPathRegister(path string, id kernel.ActorID)
	BroadcastPathUnregister(path string)
}

type ownedName struct {
	name string
	path bool
}

// Registry composes the name map, path table, and mount table, and tracks
// which names/paths belong to which owning actor so the runtime's
// stopped-actor cleanup pass can deregister everything in one call.
type Registry struct {
	names  *nameTable
	paths  *pathTable
	mounts *mountTable
	owner  map[kernel.ActorID][]ownedName
	bcast  Broadcaster
	log    *slog.Logger
}

func New(bcast Broadcaster) *Registry {
	return &Registry{
		names:  newNameTable(),
		paths:  newPathTable(),
		mounts: newMountTable(),
		owner:  make(map[kernel.ActorID][]ownedName),
		bcast:  bcast,
		log:    logging.New("registry"),
	}
}

// Register registers name for id, routing '/'-prefixed names to the path
// table and everything else to the flat name map, then broadcasts the
// registration to every connected transport.
func (r *Registry) Register(name string, id kernel.ActorID) error {
	if strings.HasPrefix(name, "/") {
		return r.registerPath(name, id)
	}
	return r.registerName(name, id)
}

func (r *Registry) registerName(name string, id kernel.ActorID) error {
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	if !r.names.insert(name, id) {
		return ErrDuplicateName
	}
	r.owner[id] = append(r.owner[id], ownedName{name: name})
	if r.bcast != nil {
		r.bcast.BroadcastNameRegister(name, id)
	}
	r.log.Info("registered name", "name", name, "actor", id)
	return nil
}

func (r *Registry) registerPath(path string, id kernel.ActorID) error {
	if !r.paths.insert(path, id) {
		return ErrDuplicatePath
	}
	r.owner[id] = append(r.owner[id], ownedName{name: path, path: true})
	if r.bcast != nil {
		r.bcast.BroadcastPathRegister(path, id)
	}
	r.log.Info("registered path", "path", path, "actor", id)
	return nil
}

// Mount binds a '/'-prefixed path PREFIX to target, consulted before the
// path table on every Lookup of a '/'-prefixed name.
func (r *Registry) Mount(prefix string, target kernel.ActorID) error {
	if !r.mounts.insert(prefix, target) {
		return errors.New("registry: mount already bound")
	}
	return nil
}

func (r *Registry) Unmount(prefix string) { r.mounts.delete(prefix) }

// Lookup resolves name: '/'-prefixed names consult mounts first, then the
// path table; everything else consults the flat name map.
func (r *Registry) Lookup(name string) (kernel.ActorID, bool) {
	if strings.HasPrefix(name, "/") {
		if id, ok := r.mounts.lookup(name); ok {
			return id, true
		}
		return r.paths.lookup(name)
	}
	return r.names.lookup(name)
}

// ReverseLookup finds any name or path registered for id.
func (r *Registry) ReverseLookup(id kernel.ActorID) (string, bool) {
	if name, ok := r.names.reverseLookup(id); ok {
		return name, true
	}
	return r.paths.reverseLookup(id)
}

// Deregister removes every name/path id owns — called by the runtime's
// stopped-actor cleanup pass — and broadcasts the corresponding unregister
// messages.
func (r *Registry) Deregister(id kernel.ActorID) {
	owned := r.owner[id]
	delete(r.owner, id)
	for _, o := range owned {
		if o.path {
			r.paths.delete(o.name)
			if r.bcast != nil {
				r.bcast.BroadcastPathUnregister(o.name)
			}
		} else {
			r.names.delete(o.name)
			if r.bcast != nil {
				r.bcast.BroadcastNameUnregister(o.name)
			}
		}
	}
}

// ApplyRemoteNameRegister/Unregister and ApplyRemotePathRegister/Unregister
// apply an incoming registration from a peer transport WITHOUT
// re-broadcasting, breaking the replication loop.

func (r *Registry) ApplyRemoteNameRegister(name string, id kernel.ActorID) {
	if r.names.insert(name, id) {
		r.owner[id] = append(r.owner[id], ownedName{name: name})
	}
}

func (r *Registry) ApplyRemoteNameUnregister(name string) {
	if id, ok := r.names.lookup(name); ok {
		r.names.delete(name)
		r.removeOwned(id, name, false)
	}
}

func (r *Registry) ApplyRemotePathRegister(path string, id kernel.ActorID) {
	if r.paths.insert(path, id) {
		r.owner[id] = append(r.owner[id], ownedName{name: path, path: true})
	}
}

func (r *Registry) ApplyRemotePathUnregister(path string) {
	if id, ok := r.paths.lookup(path); ok {
		r.paths.delete(path)
		r.removeOwned(id, path, true)
	}
}

func (r *Registry) removeOwned(id kernel.ActorID, name string, isPath bool) {
	owned := r.owner[id]
	for i, o := range owned {
		if o.name == name && o.path == isPath {
			r.owner[id] = append(owned[:i], owned[i+1:]...)
			return
		}
	}
}

// Registered lists every currently registered flat name (names() - used by
// diagnostics/testing).
func (r *Registry) Registered() []string { return r.names.names() }

// Paths lists every currently registered path.
func (r *Registry) Paths() []string { return r.paths.paths() }
