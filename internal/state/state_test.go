package state

import (
	"path/filepath"
	"testing"
)

func TestKeyEscapeRoundTrip(t *testing.T) {
	cases := []string{
		"plain",
		"has/slash",
		"has_underscore",
		"mixed/both_kinds",
		"",
		"___///___",
	}
	for _, c := range cases {
		got := unescapeKey(escapeKey(c))
		if got != c {
			t.Fatalf("round trip failed for %q: got %q", c, got)
		}
	}
}

func TestFSStorePutGetDelete(t *testing.T) {
	store, err := NewFSStore(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	if _, ok, err := store.Get("actor/a", "k_1"); err != nil || ok {
		t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
	}

	if err := store.Put("actor/a", "k_1", []byte("value")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := store.Get("actor/a", "k_1")
	if err != nil || !ok || string(v) != "value" {
		t.Fatalf("Get after Put: v=%q ok=%v err=%v", v, ok, err)
	}

	if err := store.Delete("actor/a", "k_1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, err := store.Get("actor/a", "k_1"); err != nil || ok {
		t.Fatalf("expected absent after delete, got ok=%v err=%v", ok, err)
	}
}
