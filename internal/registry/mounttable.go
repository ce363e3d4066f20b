package registry

import (
	"strings"

	"kerneld/internal/kernel"
)

type mountEntry struct {
	prefix string
	target kernel.ActorID
}

// mountTable finds the longest '/'-prefix mount bound to a path, where a
// match requires the path to end exactly at the mount boundary: the next
// character after the prefix must be '/' or end-of-string, so a mount at
// "/api" matches "/api/v1" and "/api" but not "/apiary".
type mountTable struct {
	entries []mountEntry
}

func newMountTable() *mountTable { return &mountTable{} }

func (t *mountTable) insert(prefix string, target kernel.ActorID) bool {
	for _, e := range t.entries {
		if e.prefix == prefix {
			return false
		}
	}
	t.entries = append(t.entries, mountEntry{prefix: prefix, target: target})
	return true
}

func (t *mountTable) delete(prefix string) {
	for i, e := range t.entries {
		if e.prefix == prefix {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

func (t *mountTable) lookup(path string) (kernel.ActorID, bool) {
	best := -1
	var bestTarget kernel.ActorID
	for _, e := range t.entries {
		if !boundaryMatch(path, e.prefix) {
			continue
		}
		if len(e.prefix) > best {
			best = len(e.prefix)
			bestTarget = e.target
		}
	}
	if best < 0 {
		return kernel.Invalid, false
	}
	return bestTarget, true
}

func boundaryMatch(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	return path[len(prefix)] == '/'
}
