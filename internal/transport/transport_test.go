package transport

import (
	"net"
	"testing"
	"time"

	"kerneld/internal/kernel"
	"kerneld/internal/registry"
)

func dialPair(t *testing.T) (clientMgr, serverMgr *Manager, client, server *Transport) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	clientMgr = New(1, "client-node")
	serverMgr = New(2, "server-node")

	acceptedCh := make(chan *Transport, 1)
	errCh := make(chan error, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		tr, err := serverMgr.Accept(nc)
		if err != nil {
			errCh <- err
			return
		}
		acceptedCh <- tr
	}()

	client, err = clientMgr.Connect(ln.Addr().String())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	select {
	case server = <-acceptedCh:
	case err := <-errCh:
		t.Fatalf("accept: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for accept")
	}
	return clientMgr, serverMgr, client, server
}

func TestHandshakeEstablishesPeerIdentity(t *testing.T) {
	_, _, client, server := dialPair(t)
	defer client.Close()
	defer server.Close()

	if client.PeerNode != 2 {
		t.Fatalf("client sees peer node %d, want 2", client.PeerNode)
	}
	if server.PeerNode != 1 {
		t.Fatalf("server sees peer node %d, want 1", server.PeerNode)
	}
}

func TestSendRecvPreservesOrder(t *testing.T) {
	_, _, client, server := dialPair(t)
	defer client.Close()
	defer server.Close()

	for i := 0; i < 5; i++ {
		client.Send(kernel.Message{
			Source:  kernel.MakeActorID(1, 1),
			Dest:    kernel.MakeActorID(2, uint32(i)),
			Type:    uint32(i),
			Payload: []byte{byte(i)},
		})
	}
	if err := client.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var got []kernel.Message
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 5 && time.Now().Before(deadline) {
		msgs, err := server.Pull()
		if err != nil {
			t.Fatalf("pull: %v", err)
		}
		got = append(got, msgs...)
	}
	if len(got) != 5 {
		t.Fatalf("got %d messages, want 5", len(got))
	}
	for i, m := range got {
		if m.Type != uint32(i) || m.Payload[0] != byte(i) {
			t.Fatalf("message %d out of order: %+v", i, m)
		}
	}
}

func TestSelfConnectRejected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	mgr := New(9, "self")
	errCh := make(chan error, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		_, err = mgr.Accept(nc)
		errCh <- err
	}()

	if _, err := mgr.Connect(ln.Addr().String()); err != ErrSelfConnect {
		t.Fatalf("expected ErrSelfConnect, got %v", err)
	}
	<-errCh
}

func TestReplayRegistrySendsExistingRegistrations(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	clientMgr := New(1, "client")
	serverMgr := New(2, "server")
	reg := registry.New(clientMgr)
	clientMgr.BindRegistry(reg)
	actorID := kernel.MakeActorID(1, 1)
	if err := reg.Register("svc", actorID); err != nil {
		t.Fatalf("register: %v", err)
	}

	acceptedCh := make(chan *Transport, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		tr, err := serverMgr.Accept(nc)
		if err == nil {
			acceptedCh <- tr
		}
	}()

	client, err := clientMgr.Connect(ln.Addr().String())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()
	server := <-acceptedCh
	defer server.Close()

	// Connect only queues the replayed registrations; push them out the
	// way the runtime's poll loop would.
	if err := client.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var got []kernel.Message
	for len(got) == 0 && time.Now().Before(deadline) {
		msgs, err := server.Pull()
		if err != nil {
			t.Fatalf("pull: %v", err)
		}
		got = append(got, msgs...)
	}
	if len(got) != 1 {
		t.Fatalf("got %d replayed registrations, want 1", len(got))
	}
}

func TestListenAcceptReady(t *testing.T) {
	serverMgr := New(2, "server")
	if err := serverMgr.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := serverMgr.ListenerAddr().String()

	clientMgr := New(1, "client")
	connected := make(chan error, 1)
	go func() {
		_, err := clientMgr.Connect(addr)
		connected <- err
	}()

	var accepted *Transport
	deadline := time.Now().Add(2 * time.Second)
	for accepted == nil && time.Now().Before(deadline) {
		tr, err := serverMgr.AcceptReady()
		if err != nil {
			t.Fatalf("accept ready: %v", err)
		}
		accepted = tr
	}
	if accepted == nil {
		t.Fatalf("listener never produced a peer transport")
	}
	if accepted.PeerNode != 1 {
		t.Fatalf("accepted peer node %d, want 1", accepted.PeerNode)
	}
	if err := <-connected; err != nil {
		t.Fatalf("connect: %v", err)
	}
}
