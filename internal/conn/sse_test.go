package conn

import (
	"bytes"
	"testing"
)

func feedLines(b *sseBuilder, lines []string) []SSEEvent {
	var out []SSEEvent
	for _, l := range lines {
		if ev, ok := b.feedLine([]byte(l)); ok {
			out = append(out, ev)
		}
	}
	return out
}

func TestSSEBuilderDefaultEventName(t *testing.T) {
	b := newSSEBuilder()
	events := feedLines(b, []string{"data: hello", ""})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Name != "message" {
		t.Fatalf("expected default event name message, got %q", events[0].Name)
	}
	if string(events[0].Data) != "hello" {
		t.Fatalf("data = %q", events[0].Data)
	}
}

func TestSSEBuilderMultilineDataJoined(t *testing.T) {
	b := newSSEBuilder()
	events := feedLines(b, []string{"event: update", "data: line1", "data: line2", ""})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Name != "update" {
		t.Fatalf("name = %q", events[0].Name)
	}
	if string(events[0].Data) != "line1\nline2" {
		t.Fatalf("data = %q", events[0].Data)
	}
}

func TestSSEBuilderIgnoresComments(t *testing.T) {
	b := newSSEBuilder()
	events := feedLines(b, []string{": this is a comment", "data: x", ""})
	if len(events) != 1 || string(events[0].Data) != "x" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestSSEBuilderEmptyDispatchIgnored(t *testing.T) {
	b := newSSEBuilder()
	events := feedLines(b, []string{"", ""})
	if len(events) != 0 {
		t.Fatalf("expected no events from blank-only input, got %d", len(events))
	}
}

func TestSSEPushFrameRoundTrip(t *testing.T) {
	frame := ssePushFrame("update", []byte("line1\nline2"))
	b := newSSEBuilder()
	var got []SSEEvent
	rest := frame
	for {
		line, n, ok := sseLineSplitter(rest)
		if !ok {
			break
		}
		if ev, dispatched := b.feedLine(line); dispatched {
			got = append(got, ev)
		}
		rest = rest[n:]
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d: %q", len(got), frame)
	}
	if got[0].Name != "update" || !bytes.Equal(got[0].Data, []byte("line1\nline2")) {
		t.Fatalf("unexpected event: %+v", got[0])
	}
}

func TestSSELineSplitterTolerantOfBareLF(t *testing.T) {
	line, n, ok := sseLineSplitter([]byte("data: x\nrest"))
	if !ok || string(line) != "data: x" || n != 8 {
		t.Fatalf("got %q %d %v", line, n, ok)
	}
}
