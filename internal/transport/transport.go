// Package transport implements the cross-node layer described by spec
// §4.7: a framed byte stream per peer carrying (source, dest, type,
// payload_size, payload), a handshake that exchanges (magic, node id,
// identity string), and registry replication on connect. It is driven
// the same way internal/conn drives a connection — non-blocking
// reads/writes with a pending-byte accumulator consumed by the runtime's
// single poll loop — rather than a per-peer goroutine, so the whole
// layer folds into spec §4.3's one poll() call.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"kerneld/internal/kernel"
	"kerneld/internal/logging"
	"kerneld/internal/registry"
)

// magic identifies this wire protocol; a peer presenting any other value
// fails the handshake (spec §4.7).
const magic uint32 = 0x4b524e44 // "KRND"

// pollDeadline bounds every non-blocking read/write, mirroring
// internal/conn's hybrid poll design (readiness established by the
// runtime's poll() beforehand; this is only a safety net).
const pollDeadline = 10 * time.Millisecond

var (
	ErrBadMagic    = errors.New("transport: handshake magic mismatch")
	ErrDuplicate   = errors.New("transport: peer node already connected")
	ErrSelfConnect = errors.New("transport: peer node id equals our own")
)

// Transport is one live peer connection: framed message send/recv over a
// non-blocking net.Conn, plus the raw fd the runtime folds into its
// poll-set construction (spec §4.7's "(peer_node_id, fd, send, recv,
// destroy)" capability).
type Transport struct {
	PeerNode uint32
	PeerName string

	conn    net.Conn
	fd      int
	pending []byte
	readBuf [4096]byte
	outbox  []byte
}

func (t *Transport) FD() int { return t.fd }

// Send frames and queues msg for write; actual bytes move on the next
// runtime-driven Flush.
func (t *Transport) Send(msg kernel.Message) {
	var hdr [24]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(msg.Source))
	binary.BigEndian.PutUint64(hdr[8:16], uint64(msg.Dest))
	binary.BigEndian.PutUint32(hdr[16:20], msg.Type)
	binary.BigEndian.PutUint32(hdr[20:24], uint32(len(msg.Payload)))
	t.outbox = append(t.outbox, hdr[:]...)
	t.outbox = append(t.outbox, msg.Payload...)
}

// WantsWrite reports whether Transport has buffered bytes to flush —
// folded into the runtime's poll-set interest rule (write iff sending).
func (t *Transport) WantsWrite() bool { return len(t.outbox) > 0 }

// Flush performs a best-effort non-blocking write of any queued frames.
func (t *Transport) Flush() error {
	if len(t.outbox) == 0 {
		return nil
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(pollDeadline))
	n, err := t.conn.Write(t.outbox)
	t.outbox = t.outbox[n:]
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return err
	}
	return nil
}

// Pull reads whatever is available non-blocking and decodes as many
// whole frames as the buffered bytes allow.
func (t *Transport) Pull() ([]kernel.Message, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(pollDeadline))
	n, err := t.conn.Read(t.readBuf[:])
	if n > 0 {
		t.pending = append(t.pending, t.readBuf[:n]...)
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			err = nil
		}
	}
	var out []kernel.Message
	for {
		if len(t.pending) < 24 {
			break
		}
		payloadLen := binary.BigEndian.Uint32(t.pending[20:24])
		total := 24 + int(payloadLen)
		if len(t.pending) < total {
			break
		}
		msg := kernel.Message{
			Source: kernel.ActorID(binary.BigEndian.Uint64(t.pending[0:8])),
			Dest:   kernel.ActorID(binary.BigEndian.Uint64(t.pending[8:16])),
			Type:   binary.BigEndian.Uint32(t.pending[16:20]),
		}
		if payloadLen > 0 {
			msg.Payload = append([]byte(nil), t.pending[24:total]...)
		}
		out = append(out, msg)
		t.pending = t.pending[total:]
	}
	return out, err
}

func (t *Transport) Close() error { return t.conn.Close() }

// Manager owns every live peer Transport for one node and implements
// registry.Broadcaster so the Registry can fan local registrations out
// to every connected peer without knowing about sockets.
type Manager struct {
	selfNode uint32
	identity string
	reg      *registry.Registry
	peers    map[uint32]*Transport
	ln       net.Listener
	lnFD     int
	log      *slog.Logger
}

func New(selfNode uint32, identity string) *Manager {
	return &Manager{selfNode: selfNode, identity: identity, peers: make(map[uint32]*Transport), log: logging.New("transport")}
}

// BindRegistry lets the manager replay and broadcast against reg; called
// once during runtime construction (the Registry and Manager are
// constructed in tandem since each needs a reference to the other).
func (m *Manager) BindRegistry(reg *registry.Registry) { m.reg = reg }

func (m *Manager) Entries() []*Transport {
	out := make([]*Transport, 0, len(m.peers))
	for _, t := range m.peers {
		out = append(out, t)
	}
	return out
}

func (m *Manager) Get(node uint32) (*Transport, bool) {
	t, ok := m.peers[node]
	return t, ok
}

// Listen binds addr for inbound peer connections; the runtime folds the
// listener's fd into its poll set and calls AcceptReady when it trips.
func (m *Manager) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	fd, err := extractFD(ln)
	if err != nil {
		ln.Close()
		return err
	}
	m.ln = ln
	m.lnFD = fd
	m.log.Info("transport listening", "addr", ln.Addr())
	return nil
}

// ListenerFD returns the poll fd of the inbound listener, if one is bound.
func (m *Manager) ListenerFD() (int, bool) {
	if m.ln == nil {
		return -1, false
	}
	return m.lnFD, true
}

// ListenerAddr returns the bound listener address (tests listen on port 0
// and need to discover the ephemeral port chosen).
func (m *Manager) ListenerAddr() net.Addr {
	if m.ln == nil {
		return nil
	}
	return m.ln.Addr()
}

// AcceptReady accepts one inbound peer connection after the runtime's
// poll reported the listener readable, running the accepting-side
// handshake and registry replay. A spurious wakeup (nothing actually
// pending) returns (nil, nil).
func (m *Manager) AcceptReady() (*Transport, error) {
	if m.ln == nil {
		return nil, errors.New("transport: not listening")
	}
	type deadliner interface{ SetDeadline(time.Time) error }
	if d, ok := m.ln.(deadliner); ok {
		_ = d.SetDeadline(time.Now().Add(pollDeadline))
	}
	nc, err := m.ln.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	return m.Accept(nc)
}

// Connect dials addr and performs the connecting-side handshake: send our
// (magic, node, identity), read the peer's, then replay our entire
// registry to them (spec §4.7).
func (m *Manager) Connect(addr string) (*Transport, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	t, err := m.handshake(nc, true)
	if err != nil {
		nc.Close()
		return nil, err
	}
	m.replayRegistry(t)
	return t, nil
}

// Accept performs the accepting side of the handshake over an already
// -accepted net.Conn (the runtime hands this in from a listener ready
// event in the same style as internal/conn.Manager.Accept).
func (m *Manager) Accept(nc net.Conn) (*Transport, error) {
	t, err := m.handshake(nc, false)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return t, nil
}

// handshake runs the symmetric exchange: each side writes its own
// (magic, node, identity) first, then reads the peer's, so BOTH sides
// get to observe a magic mismatch or self-connect rather than just the
// side that happened to validate first. The small fixed-size write fits
// the socket buffer, so writing before reading cannot deadlock.
func (m *Manager) handshake(nc net.Conn, initiator bool) (*Transport, error) {
	_ = nc.SetDeadline(time.Now().Add(2 * time.Second))
	if err := writeHandshake(nc, m.selfNode, m.identity); err != nil {
		return nil, err
	}
	peerMagic, peerNode, peerName, err := readHandshake(nc)
	if err != nil {
		return nil, err
	}
	if peerMagic != magic {
		return nil, ErrBadMagic
	}
	if peerNode == m.selfNode {
		return nil, ErrSelfConnect
	}
	if _, dup := m.peers[peerNode]; dup {
		return nil, ErrDuplicate
	}
	_ = nc.SetDeadline(time.Time{})
	fd, err := extractFD(nc)
	if err != nil {
		return nil, err
	}
	t := &Transport{PeerNode: peerNode, PeerName: peerName, conn: nc, fd: fd}
	m.peers[peerNode] = t
	m.log.Info("transport connected", "peer_node", peerNode, "peer_name", peerName, "initiator", initiator)
	if !initiator {
		m.replayRegistry(t)
	}
	return t, nil
}

// replayRegistry sends every currently registered name and path to a
// newly connected peer, per spec §4.7 ("the connecting side replays its
// entire name and path registry to the peer" — applied symmetrically
// here to both handshake roles so either side of a fresh connection ends
// up with a consistent view).
func (m *Manager) replayRegistry(t *Transport) {
	if m.reg == nil {
		return
	}
	for _, name := range m.reg.Registered() {
		if id, ok := m.reg.Lookup(name); ok {
			t.Send(registerMessage(nameRegisterWire(name, id)))
		}
	}
	for _, path := range m.reg.Paths() {
		if id, ok := m.reg.Lookup(path); ok {
			t.Send(registerMessage(pathRegisterWire(path, id)))
		}
	}
}

// Close removes and closes a peer transport.
func (m *Manager) Close(node uint32) error {
	t, ok := m.peers[node]
	if !ok {
		return fmt.Errorf("transport: no peer node %d", node)
	}
	delete(m.peers, node)
	return t.Close()
}

// BroadcastNameRegister/Unregister/PathRegister/Unregister implement
// registry.Broadcaster.
func (m *Manager) BroadcastNameRegister(name string, id kernel.ActorID) {
	m.broadcast(registerMessage(nameRegisterWire(name, id)))
}
func (m *Manager) BroadcastNameUnregister(name string) {
	m.broadcast(unregisterMessage(nameUnregisterWire(name)))
}
func (m *Manager) BroadcastPathRegister(path string, id kernel.ActorID) {
	m.broadcast(registerMessage(pathRegisterWire(path, id)))
}
func (m *Manager) BroadcastPathUnregister(path string) {
	m.broadcast(unregisterMessage(pathUnregisterWire(path)))
}

func (m *Manager) broadcast(msg kernel.Message) {
	for _, t := range m.peers {
		t.Send(msg)
	}
}
