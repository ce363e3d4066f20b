package registry

import "kerneld/internal/kernel"

// pathEntry binds a '/'-prefixed path to an actor.
type pathEntry struct {
	path string
	id   kernel.ActorID
}

// pathTable is a linear array of (path, actor id) pairs, as the spec calls
// for explicitly (O(n) lookup — paths are expected to number in the tens,
// not the thousands, for a single node).
type pathTable struct {
	entries []pathEntry
}

func newPathTable() *pathTable { return &pathTable{} }

func (t *pathTable) insert(path string, id kernel.ActorID) bool {
	for _, e := range t.entries {
		if e.path == path {
			return false
		}
	}
	t.entries = append(t.entries, pathEntry{path: path, id: id})
	return true
}

func (t *pathTable) lookup(path string) (kernel.ActorID, bool) {
	for _, e := range t.entries {
		if e.path == path {
			return e.id, true
		}
	}
	return kernel.Invalid, false
}

func (t *pathTable) delete(path string) {
	for i, e := range t.entries {
		if e.path == path {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

func (t *pathTable) reverseLookup(id kernel.ActorID) (string, bool) {
	for _, e := range t.entries {
		if e.id == id {
			return e.path, true
		}
	}
	return "", false
}

func (t *pathTable) paths() []string {
	out := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.path)
	}
	return out
}
