package conn

import (
	"testing"
	"time"

	"kerneld/internal/kernel"
)

// driveUntil repeatedly calls Advance on id, tolerating the short
// per-call read/write deadlines, until an event fires or the deadline
// passes. It stands in for the runtime's poll() loop, which a real
// socket test has no access to outside internal/runtime.
func driveUntil(t *testing.T, m *Manager, id uint64, timeout time.Duration) Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ev, _, err := m.Advance(id, true, true)
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		if ev.Kind != EventNone {
			return ev
		}
	}
	t.Fatalf("timed out waiting for an event on connection %d", id)
	return Event{}
}

func TestHTTPClientServerRoundTrip(t *testing.T) {
	server := NewManager()
	lnID, err := server.Listen(kernel.MakeActorID(0, 1), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	lnConn, _ := server.Get(lnID)
	addr := lnConn.listener.Addr().String()

	client := NewManager()
	clientID, err := client.Dial(kernel.MakeActorID(0, 2), "tcp", addr, KindHTTPClient)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := client.SendHTTPRequest(clientID, "GET", "/widgets", "example.com", nil, nil); err != nil {
		t.Fatalf("send request: %v", err)
	}
	// SendHTTPRequest only queues the bytes; flush them the way the
	// runtime's poll loop would once the socket reports writable.
	if _, _, err := client.Advance(clientID, false, true); err != nil {
		t.Fatalf("flush request: %v", err)
	}

	var acceptedID uint64
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		id, ok, err := server.Accept(lnID)
		if err != nil {
			t.Fatalf("accept: %v", err)
		}
		if ok {
			acceptedID = id
			break
		}
	}
	if acceptedID == 0 {
		t.Fatalf("server never accepted a connection")
	}

	reqEvent := driveUntil(t, server, acceptedID, 2*time.Second)
	if reqEvent.Kind != EventHTTPRequest || reqEvent.Method != "GET" || reqEvent.Path != "/widgets" {
		t.Fatalf("unexpected request event: %+v", reqEvent)
	}

	if err := server.SendHTTPResponse(acceptedID, 200, "OK", map[string]string{"X-Test": "1"}, []byte("hello")); err != nil {
		t.Fatalf("send response: %v", err)
	}
	// drain the write.
	for i := 0; i < 20; i++ {
		if _, _, err := server.Advance(acceptedID, true, true); err != nil {
			t.Fatalf("advance server: %v", err)
		}
	}

	respEvent := driveUntil(t, client, clientID, 2*time.Second)
	if respEvent.Kind != EventHTTPResponse || respEvent.Status != 200 {
		t.Fatalf("unexpected response event: %+v", respEvent)
	}
	if string(respEvent.Body) != "hello" {
		t.Fatalf("body = %q, want %q", respEvent.Body, "hello")
	}
	if respEvent.Headers["x-test"] != "1" {
		t.Fatalf("missing expected header, got %+v", respEvent.Headers)
	}
}

func TestWSClientServerEcho(t *testing.T) {
	server := NewManager()
	lnID, err := server.Listen(kernel.MakeActorID(0, 1), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	lnConn, _ := server.Get(lnID)
	addr := lnConn.listener.Addr().String()

	client := NewManager()
	clientID, err := client.Dial(kernel.MakeActorID(0, 2), "tcp", addr, KindWSClient)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := client.SendWSHandshake(clientID, "/ws", "example.com"); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if _, _, err := client.Advance(clientID, false, true); err != nil {
		t.Fatalf("flush handshake: %v", err)
	}

	var acceptedID uint64
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		id, ok, err := server.Accept(lnID)
		if err != nil {
			t.Fatalf("accept: %v", err)
		}
		if ok {
			acceptedID = id
			break
		}
	}
	if acceptedID == 0 {
		t.Fatalf("server never accepted a connection")
	}

	reqEvent := driveUntil(t, server, acceptedID, 2*time.Second)
	if reqEvent.Kind != EventHTTPRequest {
		t.Fatalf("unexpected event: %+v", reqEvent)
	}
	clientKey := reqEvent.Headers["sec-websocket-key"]
	accept := wsAcceptValue(clientKey)
	if err := server.SendHTTPResponse(acceptedID, 101, "Switching Protocols", map[string]string{
		"Upgrade":              "websocket",
		"Connection":           "Upgrade",
		"Sec-WebSocket-Accept": accept,
	}, nil); err != nil {
		t.Fatalf("send upgrade response: %v", err)
	}
	serverConn, _ := server.Get(acceptedID)
	serverConn.wsIsClient = false
	for i := 0; i < 20; i++ {
		if _, _, err := server.Advance(acceptedID, true, true); err != nil {
			t.Fatalf("advance server: %v", err)
		}
	}

	upgradeEvent := driveUntil(t, client, clientID, 2*time.Second)
	if upgradeEvent.Kind != EventHTTPResponse || upgradeEvent.Status != 101 {
		t.Fatalf("unexpected upgrade event: %+v", upgradeEvent)
	}

	if err := client.SendWSFrame(clientID, wsOpText, []byte("ping from client")); err != nil {
		t.Fatalf("send frame: %v", err)
	}

	msgEvent := driveUntil(t, server, acceptedID, 2*time.Second)
	if msgEvent.Kind != EventWSMessage || string(msgEvent.WSPayload) != "ping from client" {
		t.Fatalf("unexpected server message event: %+v", msgEvent)
	}

	if err := server.SendWSFrame(acceptedID, wsOpText, []byte("pong from server")); err != nil {
		t.Fatalf("server send frame: %v", err)
	}

	echoEvent := driveUntil(t, client, clientID, 2*time.Second)
	if echoEvent.Kind != EventWSMessage || string(echoEvent.WSPayload) != "pong from server" {
		t.Fatalf("unexpected client message event: %+v", echoEvent)
	}
}

func TestSSEServerPushClientObservesEvents(t *testing.T) {
	server := NewManager()
	lnID, err := server.Listen(kernel.MakeActorID(0, 1), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	lnConn, _ := server.Get(lnID)
	addr := lnConn.listener.Addr().String()

	client := NewManager()
	clientID, err := client.Dial(kernel.MakeActorID(0, 2), "tcp", addr, KindSSEClient)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	headers := map[string]string{"Accept": "text/event-stream"}
	if err := client.SendHTTPRequest(clientID, "GET", "/events", "example.com", headers, nil); err != nil {
		t.Fatalf("send request: %v", err)
	}
	if _, _, err := client.Advance(clientID, false, true); err != nil {
		t.Fatalf("flush request: %v", err)
	}

	var acceptedID uint64
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		id, ok, err := server.Accept(lnID)
		if err != nil {
			t.Fatalf("accept: %v", err)
		}
		if ok {
			acceptedID = id
			break
		}
	}
	if acceptedID == 0 {
		t.Fatalf("server never accepted a connection")
	}

	reqEvent := driveUntil(t, server, acceptedID, 2*time.Second)
	if reqEvent.Kind != EventHTTPRequest || reqEvent.Path != "/events" {
		t.Fatalf("unexpected request event: %+v", reqEvent)
	}

	if err := server.StartSSEResponse(acceptedID, nil); err != nil {
		t.Fatalf("start sse: %v", err)
	}
	if err := server.SendSSEPush(acceptedID, "", []byte("event1")); err != nil {
		t.Fatalf("push 1: %v", err)
	}
	if err := server.SendSSEPush(acceptedID, "", []byte("event2")); err != nil {
		t.Fatalf("push 2: %v", err)
	}
	for i := 0; i < 20; i++ {
		if _, _, err := server.Advance(acceptedID, false, true); err != nil {
			t.Fatalf("advance server: %v", err)
		}
	}

	open := driveUntil(t, client, clientID, 2*time.Second)
	if open.Kind != EventSSEOpen || open.Status != 200 {
		t.Fatalf("unexpected open event: %+v", open)
	}
	for _, want := range []string{"event1", "event2"} {
		ev := driveUntil(t, client, clientID, 2*time.Second)
		if ev.Kind != EventSSEEvent {
			t.Fatalf("unexpected event kind: %+v", ev)
		}
		if ev.SSE.Name != "message" || string(ev.SSE.Data) != want {
			t.Fatalf("event = %+v, want name=message data=%q", ev.SSE, want)
		}
	}
}
