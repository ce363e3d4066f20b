package kernel

import "testing"

func TestMailboxFIFO(t *testing.T) {
	mb := NewMailbox(2)
	if !mb.IsEmpty() {
		t.Fatalf("expected new mailbox to be empty")
	}
	if err := mb.Enqueue(Message{Type: 1}); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	if err := mb.Enqueue(Message{Type: 2}); err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}
	if err := mb.Enqueue(Message{Type: 3}); err != ErrMailboxFull {
		t.Fatalf("expected ErrMailboxFull, got %v", err)
	}

	msg, ok := mb.Dequeue()
	if !ok || msg.Type != 1 {
		t.Fatalf("expected first message type 1, got %+v ok=%v", msg, ok)
	}
	msg, ok = mb.Dequeue()
	if !ok || msg.Type != 2 {
		t.Fatalf("expected second message type 2, got %+v ok=%v", msg, ok)
	}
	if _, ok := mb.Dequeue(); ok {
		t.Fatalf("expected empty mailbox after draining")
	}
}

func TestMailboxWrapsRing(t *testing.T) {
	mb := NewMailbox(3)
	for i := 0; i < 3; i++ {
		if err := mb.Enqueue(Message{Type: uint32(i)}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if msg, _ := mb.Dequeue(); msg.Type != 0 {
		t.Fatalf("expected type 0, got %d", msg.Type)
	}
	if err := mb.Enqueue(Message{Type: 3}); err != nil {
		t.Fatalf("enqueue after wrap: %v", err)
	}
	for i, want := range []uint32{1, 2, 3} {
		msg, ok := mb.Dequeue()
		if !ok || msg.Type != want {
			t.Fatalf("dequeue %d: want type %d, got %+v ok=%v", i, want, msg, ok)
		}
	}
}

func TestMailboxCapacityAndLen(t *testing.T) {
	mb := NewMailbox(4)
	if mb.Cap() != 4 {
		t.Fatalf("expected cap 4, got %d", mb.Cap())
	}
	_ = mb.Enqueue(Message{})
	_ = mb.Enqueue(Message{})
	if mb.Len() != 2 {
		t.Fatalf("expected len 2, got %d", mb.Len())
	}
}
