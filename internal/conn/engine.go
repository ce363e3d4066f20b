package conn

import (
	"fmt"
	"io"
	"net"
	"time"

	"kerneld/internal/kernel"
)

// EventKind tags what an Advance() call produced for its caller (the
// runtime) to turn into a kernel.Message delivered to the connection's
// owning actor.
type EventKind uint8

const (
	EventNone EventKind = iota
	EventHTTPResponse
	EventHTTPRequest
	EventSSEOpen
	EventSSEEvent
	EventWSMessage
	EventWSClosed
	EventError
	EventClosed
)

// Event is the result of driving one connection's state machine forward.
type Event struct {
	Kind       EventKind
	ConnID     uint64
	Owner      kernel.ActorID
	Status     int
	Headers    map[string]string
	Body       []byte
	Method     string
	Path       string
	SSE        SSEEvent
	WSOpcode   byte
	WSPayload  []byte
	WSCode     uint16
	Err        error
}

// pollDeadline bounds every non-blocking Read/Write this engine issues.
// Readiness is established by the runtime's poll() call beforehand; this
// is only a safety net against net.Conn blocking the single thread if
// readiness turns out to be stale (spec §4.3's hybrid poll design).
const pollDeadline = 10 * time.Millisecond

// Manager owns every live Connection for one runtime and is the sole
// thing the runtime's poll loop and KernelAPI implementation talk to.
type Manager struct {
	conns map[uint64]*Connection
	next  uint64
}

func NewManager() *Manager {
	return &Manager{conns: make(map[uint64]*Connection)}
}

func (m *Manager) allocID() uint64 {
	m.next++
	return m.next
}

// Get returns the connection by id.
func (m *Manager) Get(id uint64) (*Connection, bool) {
	c, ok := m.conns[id]
	return c, ok
}

// Entries returns every live connection, for poll-set construction.
func (m *Manager) Entries() []*Connection {
	out := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}

// Close releases the connection's socket and removes it from the table.
func (m *Manager) Close(id uint64) error {
	c, ok := m.conns[id]
	if !ok {
		return fmt.Errorf("conn: no such connection %d", id)
	}
	delete(m.conns, id)
	if c.netConn != nil {
		return c.netConn.Close()
	}
	if c.listener != nil {
		return c.listener.Close()
	}
	return nil
}

// CloseOwnedBy closes every connection owned by owner, used when an actor
// stops (spec §7's cleanup-on-exit pass), returning the ids removed.
func (m *Manager) CloseOwnedBy(owner kernel.ActorID) []uint64 {
	var ids []uint64
	for id, c := range m.conns {
		if c.Owner == owner {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		_ = m.Close(id)
	}
	return ids
}

// Dial opens an outbound HTTP or WebSocket connection. The caller is
// responsible for composing and sending the request/handshake via
// SendHTTPRequest / SendWSHandshake once the socket is writable.
func (m *Manager) Dial(owner kernel.ActorID, network, addr string, kind Kind) (uint64, error) {
	nc, err := net.Dial(network, addr)
	if err != nil {
		return 0, err
	}
	fd, err := fdOfConn(nc)
	if err != nil {
		nc.Close()
		return 0, err
	}
	id := m.allocID()
	c := &Connection{ID: id, Owner: owner, Kind: kind, State: StateSending, netConn: nc, fd: fd, contentLen: -1}
	if kind == KindWSClient {
		c.wsIsClient = true
	}
	m.conns[id] = c
	return id, nil
}

// Listen opens a listening socket; Accept pulls connections off it.
func (m *Manager) Listen(owner kernel.ActorID, network, addr string) (uint64, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return 0, err
	}
	fd, err := fdOfListener(ln)
	if err != nil {
		ln.Close()
		return 0, err
	}
	id := m.allocID()
	c := &Connection{ID: id, Owner: owner, Kind: KindListener, State: StateListening, listener: ln, fd: fd}
	m.conns[id] = c
	return id, nil
}

// Accept tries a non-blocking accept on a listener connection, returning
// the new connection id if one was ready.
func (m *Manager) Accept(listenerID uint64) (uint64, bool, error) {
	c, ok := m.conns[listenerID]
	if !ok || c.listener == nil {
		return 0, false, fmt.Errorf("conn: %d is not a listener", listenerID)
	}
	type deadliner interface{ SetDeadline(time.Time) error }
	if d, ok := c.listener.(deadliner); ok {
		_ = d.SetDeadline(time.Now().Add(pollDeadline))
	}
	nc, err := c.listener.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, false, nil
		}
		return 0, false, err
	}
	fd, err := fdOfConn(nc)
	if err != nil {
		nc.Close()
		return 0, false, err
	}
	id := m.allocID()
	accepted := &Connection{ID: id, Owner: c.Owner, Kind: KindHTTPServer, State: StateSrvRecvRequest, netConn: nc, fd: fd, contentLen: -1}
	m.conns[id] = accepted
	return id, true, nil
}

// SendHTTPRequest queues a full HTTP/1.1 request line, standard + extra
// headers, and body for write, arming the Sending state.
func (m *Manager) SendHTTPRequest(id uint64, method, path, host string, headers map[string]string, body []byte) error {
	c, ok := m.conns[id]
	if !ok {
		return fmt.Errorf("conn: no such connection %d", id)
	}
	var buf []byte
	buf = append(buf, method...)
	buf = append(buf, ' ')
	buf = append(buf, path...)
	buf = append(buf, " HTTP/1.1\r\n"...)
	buf = append(buf, "Host: "+host+"\r\n"...)
	for k, v := range headers {
		buf = append(buf, k+": "+v+"\r\n"...)
	}
	if len(body) > 0 {
		buf = append(buf, fmt.Sprintf("Content-Length: %d\r\n", len(body))...)
	}
	buf = append(buf, "\r\n"...)
	buf = append(buf, body...)
	c.writeBuf = buf
	c.State = StateSending
	return nil
}

// SendWSHandshake queues a WebSocket upgrade request, recording the
// client key for later Sec-WebSocket-Accept validation.
func (m *Manager) SendWSHandshake(id uint64, path, host string) error {
	c, ok := m.conns[id]
	if !ok {
		return fmt.Errorf("conn: no such connection %d", id)
	}
	key, err := wsGenerateClientKey()
	if err != nil {
		return err
	}
	c.wsClientKey = key
	headers := map[string]string{
		"Upgrade":               "websocket",
		"Connection":            "Upgrade",
		"Sec-WebSocket-Key":     key,
		"Sec-WebSocket-Version": "13",
	}
	return m.SendHTTPRequest(id, "GET", path, host, headers, nil)
}

// SendHTTPResponse queues a server-side HTTP response.
func (m *Manager) SendHTTPResponse(id uint64, status int, reason string, headers map[string]string, body []byte) error {
	c, ok := m.conns[id]
	if !ok {
		return fmt.Errorf("conn: no such connection %d", id)
	}
	var buf []byte
	buf = append(buf, fmt.Sprintf("HTTP/1.1 %d %s\r\n", status, reason)...)
	for k, v := range headers {
		buf = append(buf, k+": "+v+"\r\n"...)
	}
	switch {
	case status == 101:
		c.wsServer = true
	case status == 204 || status == 304 || (status >= 100 && status < 200):
		// these statuses carry no body and no length header
	default:
		// Always state the length, even zero — without it the peer has
		// no framing and falls back to read-until-close.
		buf = append(buf, fmt.Sprintf("Content-Length: %d\r\n", len(body))...)
	}
	buf = append(buf, "\r\n"...)
	buf = append(buf, body...)
	c.writeBuf = buf
	c.State = StateSrvSending
	return nil
}

// SendWSFrame queues one WebSocket frame, masking it iff this connection
// plays the client role (RFC 6455 §5.1).
func (m *Manager) SendWSFrame(id uint64, opcode byte, payload []byte) error {
	c, ok := m.conns[id]
	if !ok {
		return fmt.Errorf("conn: no such connection %d", id)
	}
	var frame []byte
	if c.wsIsClient {
		f, err := wsMaskClientFrame(opcode, payload)
		if err != nil {
			return err
		}
		frame = f
	} else {
		frame = wsServerFrame(opcode, payload)
	}
	c.writeBuf = append(c.writeBuf, frame...)
	return m.flushNow(c)
}

// SendWSText queues a text (opcode 0x1) WebSocket frame — the
// ws_send_text entry point of the actor API (spec §6).
func (m *Manager) SendWSText(id uint64, data []byte) error {
	return m.SendWSFrame(id, wsOpText, data)
}

// SendWSBinary queues a binary (opcode 0x2) WebSocket frame.
func (m *Manager) SendWSBinary(id uint64, data []byte) error {
	return m.SendWSFrame(id, wsOpBinary, data)
}

// SendWSClose queues a close (opcode 0x8) frame carrying code, the
// ws_send_close entry point.
func (m *Manager) SendWSClose(id uint64, code uint16) error {
	return m.SendWSFrame(id, wsOpClose, wsCloseFrame(code))
}

// SendSSEPush queues one SSE event frame for an active SSE server
// connection (StateSrvSseActive).
func (m *Manager) SendSSEPush(id uint64, name string, data []byte) error {
	c, ok := m.conns[id]
	if !ok {
		return fmt.Errorf("conn: no such connection %d", id)
	}
	c.writeBuf = append(c.writeBuf, ssePushFrame(name, data)...)
	return m.flushNow(c)
}

// flushNow performs an immediate best-effort write without waiting for
// the next poll() readiness notification, used for small pushed frames
// where latency matters more than strict poll-driven discipline.
func (m *Manager) flushNow(c *Connection) error {
	if c.netConn == nil || len(c.writeBuf) == 0 {
		return nil
	}
	_ = c.netConn.SetWriteDeadline(time.Now().Add(pollDeadline))
	n, err := c.netConn.Write(c.writeBuf)
	c.writeBuf = c.writeBuf[n:]
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return err
	}
	if len(c.writeBuf) == 0 && (c.State == StateSending || c.State == StateSrvSending) {
		m.afterWriteDone(c)
	}
	return nil
}

// Advance drives connection id forward given the readiness this poll
// cycle observed, returning at most one Event. Further events from the
// same connection surface on subsequent Advance calls as more of the
// already-buffered stream is consumed, since the runtime calls Advance
// again whenever a previous call reports progress.
func (m *Manager) Advance(id uint64, canRead, canWrite bool) (Event, bool, error) {
	c, ok := m.conns[id]
	if !ok {
		return Event{}, false, fmt.Errorf("conn: no such connection %d", id)
	}

	progressedIO := false
	if canWrite && len(c.writeBuf) > 0 {
		if err := m.writeSome(c); err != nil {
			c.State = StateError
			c.err = err
			return Event{Kind: EventError, ConnID: id, Owner: c.Owner, Err: err}, false, nil
		}
		if len(c.writeBuf) == 0 {
			progressedIO = true
			if c.State == StateSending || c.State == StateSrvSending {
				m.afterWriteDone(c)
			}
		}
	}
	if canRead && readInterest(c.State) {
		n, err := m.readSome(c)
		if n > 0 {
			progressedIO = true
		}
		if err != nil {
			if err == io.EOF {
				c.eof = true
			} else {
				c.State = StateError
				c.err = err
				return Event{Kind: EventError, ConnID: id, Owner: c.Owner, Err: err}, false, nil
			}
		}
	}

	ev, progressedState, err := m.step(c)
	if err != nil {
		c.State = StateError
		c.err = err
		return Event{Kind: EventError, ConnID: id, Owner: c.Owner, Err: err}, false, nil
	}
	return ev, progressedIO || progressedState, nil
}

func readInterest(s State) bool {
	switch s {
	case StateSending, StateSrvSending, StateDone, StateError, StateListening:
		return false
	default:
		return true
	}
}

func (m *Manager) readSome(c *Connection) (int, error) {
	if c.netConn == nil {
		return 0, nil
	}
	_ = c.netConn.SetReadDeadline(time.Now().Add(pollDeadline))
	n, err := c.netConn.Read(c.readBuf[:])
	if n > 0 {
		c.pending = append(c.pending, c.readBuf[:n]...)
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, nil
		}
		return n, err
	}
	return n, nil
}

func (m *Manager) writeSome(c *Connection) error {
	if c.netConn == nil || len(c.writeBuf) == 0 {
		return nil
	}
	_ = c.netConn.SetWriteDeadline(time.Now().Add(pollDeadline))
	n, err := c.netConn.Write(c.writeBuf)
	c.writeBuf = c.writeBuf[n:]
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return err
	}
	return nil
}

func (m *Manager) afterWriteDone(c *Connection) {
	switch c.Kind {
	case KindHTTPClient, KindSSEClient:
		c.State = StateRecvStatus
	case KindWSClient:
		c.State = StateRecvStatus
	case KindWSServer:
		c.State = StateWSActive
		c.wsParser = &wsFrameParser{}
	case KindHTTPServer:
		switch {
		case c.wsServer:
			c.State = StateWSActive
			c.wsParser = &wsFrameParser{}
		case c.sseServer:
			c.State = StateSrvSseActive
			c.sseBuilder = newSSEBuilder()
		default:
			c.State = StateDone
		}
	}
}

// StartSSEResponse queues the response headers that begin a server-sent
// events stream and marks the connection to stay open for SendSSEPush
// calls once those headers are flushed, instead of closing after one
// response the way an ordinary HTTP reply would.
func (m *Manager) StartSSEResponse(id uint64, headers map[string]string) error {
	c, ok := m.conns[id]
	if !ok {
		return fmt.Errorf("conn: no such connection %d", id)
	}
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = "text/event-stream"
	headers["Cache-Control"] = "no-cache"
	c.sseServer = true
	var buf []byte
	buf = append(buf, "HTTP/1.1 200 OK\r\n"...)
	for k, v := range headers {
		buf = append(buf, k+": "+v+"\r\n"...)
	}
	buf = append(buf, "\r\n"...)
	c.writeBuf = buf
	c.State = StateSrvSending
	return nil
}

// step advances c's state machine using only already-buffered bytes in
// c.pending (no I/O), returning an event when a complete unit (response,
// request, SSE event, WS message) becomes available.
func (m *Manager) step(c *Connection) (Event, bool, error) {
	switch c.State {
	case StateRecvStatus:
		line, n, ok := splitCRLFLine(c.pending)
		if !ok {
			if c.eof {
				return Event{}, false, io.ErrUnexpectedEOF
			}
			return Event{}, false, nil
		}
		version, status, _, err := ParseStatusLine(line)
		if err != nil {
			return Event{}, false, err
		}
		c.pending = c.pending[n:]
		c.version = version
		c.statusCode = status
		c.headerAcc = NewHeaderAccumulator()
		c.State = StateRecvHeaders
		return Event{}, true, nil

	case StateRecvHeaders:
		line, n, ok := splitCRLFLine(c.pending)
		if !ok {
			if c.eof {
				return Event{}, false, io.ErrUnexpectedEOF
			}
			return Event{}, false, nil
		}
		c.pending = c.pending[n:]
		if len(line) == 0 {
			contentLen, chunked, upgradeWS, accept := recognizedHeaders(c.headerAcc)
			c.contentLen, c.chunked, c.upgradeWS, c.wsAccept = contentLen, chunked, upgradeWS, accept
			c.headers = c.headerAcc.Map()
			return m.startBody(c)
		}
		c.headerAcc.AddLine(line)
		return Event{}, true, nil

	case StateBodyContentLen:
		need := c.contentLen - int64(len(c.bodyBuf))
		take := int64(len(c.pending))
		if take > need {
			take = need
		}
		c.bodyBuf = append(c.bodyBuf, c.pending[:take]...)
		c.pending = c.pending[take:]
		if int64(len(c.bodyBuf)) < c.contentLen {
			if c.eof {
				return Event{}, false, io.ErrUnexpectedEOF
			}
			return Event{}, take > 0, nil
		}
		return m.completeResponse(c)

	case StateBodyChunked:
		if c.chunkDecoder == nil {
			c.chunkDecoder = NewChunkedDecoder()
		}
		n, err := c.chunkDecoder.Feed(c.pending)
		if err != nil {
			return Event{}, false, err
		}
		c.pending = c.pending[n:]
		if !c.chunkDecoder.Done() {
			if c.eof && len(c.pending) == 0 {
				return Event{}, false, io.ErrUnexpectedEOF
			}
			return Event{}, n > 0, nil
		}
		c.bodyBuf = c.chunkDecoder.Bytes()
		return m.completeResponse(c)

	case StateBodyStream:
		if c.Kind == KindSSEClient {
			line, n, ok := sseLineSplitter(c.pending)
			if !ok {
				if c.eof {
					c.State = StateDone
					return Event{Kind: EventClosed, ConnID: c.ID, Owner: c.Owner}, true, nil
				}
				return Event{}, false, nil
			}
			c.pending = c.pending[n:]
			if ev, dispatched := c.sseBuilder.feedLine(line); dispatched {
				return Event{Kind: EventSSEEvent, ConnID: c.ID, Owner: c.Owner, SSE: ev}, true, nil
			}
			return Event{}, true, nil
		}
		// read-until-EOF body of unknown length (the policy this engine
		// adopts for HTTP responses that are neither chunked nor carry a
		// Content-Length).
		if len(c.pending) > 0 {
			c.bodyBuf = append(c.bodyBuf, c.pending...)
			n := len(c.pending)
			c.pending = nil
			return Event{}, n > 0, nil
		}
		if c.eof {
			return m.completeResponse(c)
		}
		return Event{}, false, nil

	case StateWSActive:
		if c.wsParser == nil {
			c.wsParser = &wsFrameParser{}
		}
		frame, n, ok, err := c.wsParser.feed(c.pending)
		if err != nil {
			return Event{}, false, err
		}
		c.pending = c.pending[n:]
		if !ok {
			if c.eof && len(c.pending) == 0 {
				// Peer vanished without a Close frame: abnormal closure,
				// reported with the RFC 6455 reserved 1006 code.
				c.State = StateDone
				return Event{Kind: EventWSClosed, ConnID: c.ID, Owner: c.Owner, WSCode: 1006}, true, nil
			}
			return Event{}, n > 0, nil
		}
		return m.handleWSFrame(c, frame)

	case StateSrvRecvRequest:
		line, n, ok := splitCRLFLine(c.pending)
		if !ok {
			if c.eof {
				if len(c.pending) == 0 {
					// A keep-alive peer hanging up between requests is a
					// normal close, not a protocol failure.
					c.State = StateDone
					return Event{}, true, nil
				}
				return Event{}, false, io.ErrUnexpectedEOF
			}
			return Event{}, false, nil
		}
		method, path, version, err := ParseRequestLine(line)
		if err != nil {
			return Event{}, false, err
		}
		c.pending = c.pending[n:]
		c.method, c.path, c.version = method, path, version
		c.headerAcc = NewHeaderAccumulator()
		c.State = StateSrvRecvHeaders
		return Event{}, true, nil

	case StateSrvRecvHeaders:
		line, n, ok := splitCRLFLine(c.pending)
		if !ok {
			if c.eof {
				return Event{}, false, io.ErrUnexpectedEOF
			}
			return Event{}, false, nil
		}
		c.pending = c.pending[n:]
		if len(line) == 0 {
			contentLen, chunked, upgradeWS, accept := recognizedHeaders(c.headerAcc)
			c.contentLen, c.chunked, c.upgradeWS, c.wsAccept = contentLen, chunked, upgradeWS, accept
			c.headers = c.headerAcc.Map()
			if contentLen <= 0 && !chunked {
				return m.completeRequest(c)
			}
			c.State = StateSrvRecvBody
			return Event{}, true, nil
		}
		c.headerAcc.AddLine(line)
		return Event{}, true, nil

	case StateSrvRecvBody:
		if c.chunked {
			if c.chunkDecoder == nil {
				c.chunkDecoder = NewChunkedDecoder()
			}
			n, err := c.chunkDecoder.Feed(c.pending)
			if err != nil {
				return Event{}, false, err
			}
			c.pending = c.pending[n:]
			if !c.chunkDecoder.Done() {
				if c.eof && len(c.pending) == 0 {
					return Event{}, false, io.ErrUnexpectedEOF
				}
				return Event{}, n > 0, nil
			}
			c.bodyBuf = c.chunkDecoder.Bytes()
			return m.completeRequest(c)
		}
		need := c.contentLen - int64(len(c.bodyBuf))
		take := int64(len(c.pending))
		if take > need {
			take = need
		}
		c.bodyBuf = append(c.bodyBuf, c.pending[:take]...)
		c.pending = c.pending[take:]
		if int64(len(c.bodyBuf)) < c.contentLen {
			if c.eof {
				return Event{}, false, io.ErrUnexpectedEOF
			}
			return Event{}, take > 0, nil
		}
		return m.completeRequest(c)

	case StateSrvSseActive:
		// Server-side SSE connections only ever write; the read side
		// exists solely to notice the subscriber hanging up.
		if c.eof {
			c.State = StateDone
			return Event{Kind: EventClosed, ConnID: c.ID, Owner: c.Owner}, true, nil
		}
		c.pending = nil
		return Event{}, false, nil

	default:
		return Event{}, false, nil
	}
}

func (m *Manager) startBody(c *Connection) (Event, bool, error) {
	if c.upgradeWS {
		if c.Kind == KindWSClient && wsAcceptValue(c.wsClientKey) != c.wsAccept {
			return Event{}, false, fmt.Errorf("conn: Sec-WebSocket-Accept mismatch")
		}
		c.State = StateWSActive
		c.wsParser = &wsFrameParser{}
		return Event{Kind: EventHTTPResponse, ConnID: c.ID, Owner: c.Owner, Status: c.statusCode, Headers: c.headers}, true, nil
	}
	hasBody, length, chunked := bodyFramingDecision(c.statusCode, c.contentLen, c.chunked)
	if !hasBody {
		return m.completeResponse(c)
	}
	if c.Kind == KindSSEClient {
		c.State = StateBodyStream
		c.sseBuilder = newSSEBuilder()
		return Event{Kind: EventSSEOpen, ConnID: c.ID, Owner: c.Owner, Status: c.statusCode}, true, nil
	}
	switch {
	case chunked:
		c.State = StateBodyChunked
	case length >= 0:
		c.State = StateBodyContentLen
	default:
		c.State = StateBodyStream
	}
	return Event{}, true, nil
}

func (m *Manager) completeResponse(c *Connection) (Event, bool, error) {
	c.State = StateDone
	return Event{Kind: EventHTTPResponse, ConnID: c.ID, Owner: c.Owner, Status: c.statusCode, Headers: c.headers, Body: c.bodyBuf}, true, nil
}

func (m *Manager) completeRequest(c *Connection) (Event, bool, error) {
	c.State = StateSrvSending
	return Event{Kind: EventHTTPRequest, ConnID: c.ID, Owner: c.Owner, Method: c.method, Path: c.path, Headers: c.headers, Body: c.bodyBuf}, true, nil
}

func (m *Manager) handleWSFrame(c *Connection, frame wsFrame) (Event, bool, error) {
	if err := validateOpcode(frame.Opcode); err != nil {
		return Event{}, false, err
	}
	switch frame.Opcode {
	case wsOpPing:
		_ = m.SendWSFrame(c.ID, wsOpPong, frame.Payload)
		return Event{}, true, nil
	case wsOpPong:
		return Event{}, true, nil
	case wsOpClose:
		code, _ := wsCloseStatus(frame.Payload)
		if !c.wsCloseSent {
			_ = m.SendWSFrame(c.ID, wsOpClose, frame.Payload)
			c.wsCloseSent = true
		}
		c.State = StateDone
		return Event{Kind: EventWSClosed, ConnID: c.ID, Owner: c.Owner, WSCode: code}, true, nil
	default:
		return Event{Kind: EventWSMessage, ConnID: c.ID, Owner: c.Owner, WSOpcode: frame.Opcode, WSPayload: frame.Payload}, true, nil
	}
}

func splitCRLFLine(data []byte) (line []byte, consumed int, ok bool) {
	idx := indexCRLF(data)
	if idx < 0 {
		return nil, 0, false
	}
	return data[:idx], idx + 2, true
}
