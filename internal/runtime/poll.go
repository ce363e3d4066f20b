package runtime

import (
	"time"

	"golang.org/x/sys/unix"

	"kerneld/internal/conn"
	"kerneld/internal/fdwatch"
	"kerneld/internal/kernel"
	"kerneld/internal/proto"
	"kerneld/internal/transport"
)

// pollSource records what a pollfd slot belongs to, so a single rebuilt
// unix.Poll array can dispatch back to the right subsystem after the
// syscall returns (spec §4.3's poll-set construction: "one fd per
// transport, one per fd-watch, one per open connection, one per
// listener... rebuilt every iteration, never diffed").
type pollSource struct {
	kind      byte // 't' transport, 'l' transport listener, 'f' fdwatch, 'c' connection
	transport *transport.Transport
	fdEntry   fdwatch.Entry
	connID    uint64
}

// poll builds the combined pollfd set, blocks up to timeout (0 means
// non-blocking), and dispatches whichever fds came back ready. When the
// scheduler already has runnable actors the runtime calls this with a
// zero timeout so I/O still gets a chance to progress without stalling
// the step loop (spec §4.3 step 2).
func (rt *Runtime) poll(timeout time.Duration) {
	var fds []unix.PollFd
	var sources []pollSource

	if fd, ok := rt.transports.ListenerFD(); ok {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		sources = append(sources, pollSource{kind: 'l'})
	}
	for _, t := range rt.transports.Entries() {
		events := int16(unix.POLLIN)
		if t.WantsWrite() {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(t.FD()), Events: events})
		sources = append(sources, pollSource{kind: 't', transport: t})
	}
	for _, e := range rt.fdwatch.Entries() {
		var events int16
		if e.Events&fdwatch.EventRead != 0 {
			events |= unix.POLLIN
		}
		if e.Events&fdwatch.EventWrite != 0 {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(e.FD), Events: events})
		sources = append(sources, pollSource{kind: 'f', fdEntry: e})
	}
	for _, c := range rt.conns.Entries() {
		read, write := c.Interest()
		if !read && !write {
			continue
		}
		var events int16
		if read {
			events |= unix.POLLIN
		}
		if write {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(c.FD()), Events: events})
		sources = append(sources, pollSource{kind: 'c', connID: c.ID})
	}

	ms := timeoutMs(timeout, rt.timers.NextDeadline)
	if len(fds) > 0 {
		if _, err := unix.Poll(fds, ms); err != nil && err != unix.EINTR {
			rt.log.Error("poll failed", "err", err)
		}
	} else if ms > 0 {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}

	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		src := sources[i]
		canRead := pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
		canWrite := pfd.Revents&unix.POLLOUT != 0
		switch src.kind {
		case 't':
			rt.handleTransportReady(src.transport, canRead, canWrite)
		case 'l':
			if canRead {
				if _, err := rt.transports.AcceptReady(); err != nil {
					rt.log.Warn("transport accept failed", "err", err)
				}
			}
		case 'f':
			rt.handleFDReady(src.fdEntry, pfd.Revents)
		case 'c':
			rt.handleConnReady(src.connID, canRead, canWrite)
		}
	}

	rt.deliverTimers()
}

// timeoutMs resolves the poll() timeout: the caller's requested timeout,
// clamped DOWN against the soonest timer deadline so a timer never fires
// late just because nothing else is pollable. A zero request stays zero —
// the run loop polls non-blocking while actors are still runnable.
func timeoutMs(requested time.Duration, nextDeadline func(time.Time) (time.Duration, bool)) int {
	ms := int(requested / time.Millisecond)
	if d, ok := nextDeadline(time.Now()); ok {
		dm := int(d / time.Millisecond)
		if dm < 0 {
			dm = 0
		}
		if dm < ms {
			ms = dm
		}
	}
	return ms
}

func (rt *Runtime) deliverTimers() {
	for _, exp := range rt.timers.Due(time.Now()) {
		payload := proto.EncodeTimer(proto.Timer{ID: exp.TimerID, Expirations: exp.Expirations})
		_ = rt.Send(kernel.Invalid, exp.Owner, proto.MsgTimer, payload)
	}
}

func (rt *Runtime) handleFDReady(e fdwatch.Entry, revents int16) {
	payload := proto.EncodeFdEvent(proto.FdEvent{FD: int32(e.FD), Revents: uint32(revents)})
	_ = rt.Send(kernel.Invalid, e.Owner, proto.MsgFdEvent, payload)
}

// handleTransportReady pulls and flushes one peer connection, applying
// registry-gossip messages locally and delivering everything else to its
// addressed local actor (spec §4.7's replication loop avoidance: applied
// messages are never re-broadcast since ApplyRemoteXxx doesn't call back
// into Broadcaster).
func (rt *Runtime) handleTransportReady(t *transport.Transport, canRead, canWrite bool) {
	if canWrite {
		if err := t.Flush(); err != nil {
			rt.log.Warn("transport flush failed", "peer", t.PeerNode, "err", err)
		}
	}
	if !canRead {
		return
	}
	msgs, err := t.Pull()
	if err != nil {
		rt.log.Warn("transport pull failed", "peer", t.PeerNode, "err", err)
		rt.transports.Close(t.PeerNode)
		return
	}
	for _, msg := range msgs {
		if rt.applyRemoteRegistration(msg) {
			continue
		}
		if msg.Dest.Valid() {
			_ = rt.Send(msg.Source, msg.Dest, msg.Type, msg.Payload)
		}
	}
}

// applyRemoteRegistration special-cases the four registry-gossip message
// types a peer transport may deliver, applying them directly to the
// registry instead of routing to an actor mailbox.
func (rt *Runtime) applyRemoteRegistration(msg kernel.Message) bool {
	switch msg.Type {
	case proto.MsgNameRegister:
		r, err := proto.DecodeNameRegistration(msg.Payload)
		if err == nil {
			rt.registry.ApplyRemoteNameRegister(r.Name, r.ID)
		}
		return true
	case proto.MsgNameUnregister:
		r, err := proto.DecodeNameRegistration(msg.Payload)
		if err == nil {
			rt.registry.ApplyRemoteNameUnregister(r.Name)
		}
		return true
	case proto.MsgPathRegister:
		r, err := proto.DecodePathRegistration(msg.Payload)
		if err == nil {
			rt.registry.ApplyRemotePathRegister(r.Path, r.ID)
		}
		return true
	case proto.MsgPathUnregister:
		r, err := proto.DecodePathRegistration(msg.Payload)
		if err == nil {
			rt.registry.ApplyRemotePathUnregister(r.Path)
		}
		return true
	}
	return false
}

// handleConnReady drives one connection's state machine forward and
// translates any resulting Event into a proto-encoded message delivered
// to the connection's owner, or handles an accepted listener connection
// inline (spec §4.4/§4.5/§4.6's message schema).
func (rt *Runtime) handleConnReady(id uint64, canRead, canWrite bool) {
	c, ok := rt.conns.Get(id)
	if !ok {
		return
	}
	if c.Kind == conn.KindListener {
		if !canRead {
			return
		}
		for {
			_, accepted, err := rt.conns.Accept(id)
			if err != nil {
				rt.log.Warn("accept failed", "listener", id, "err", err)
				return
			}
			if !accepted {
				return
			}
		}
	}

	// One readiness wakeup may buffer several complete protocol units
	// (pipelined SSE events, coalesced WS frames), so keep stepping the
	// state machine until it stops making progress. I/O happens only on
	// the first pass; later passes consume what's already buffered, so
	// this loop never blocks on a drained socket.
	for first := true; ; first = false {
		ev, progressed, err := rt.conns.Advance(id, canRead && first, canWrite && first)
		if err != nil {
			return
		}
		rt.deliverConnEvent(ev)
		if c, ok := rt.conns.Get(id); ok && c.Kind == conn.KindHTTPServer && c.State == conn.StateDone {
			// A plain HTTP server exchange is one request, one response,
			// close — the engine parks the connection in Done once the
			// response bytes are flushed, and nothing owns it after that.
			_ = rt.conns.Close(id)
			return
		}
		if !progressed {
			return
		}
	}
}

// deliverConnEvent maps one conn.Event onto the wire message type and
// owner it's addressed to, per spec §6's message schema table.
func (rt *Runtime) deliverConnEvent(ev conn.Event) {
	if ev.Kind == conn.EventNone {
		return
	}
	var msgType uint32
	var payload []byte

	switch ev.Kind {
	case conn.EventHTTPResponse:
		if ev.Status == 101 {
			msgType = proto.MsgWSOpen
			payload = proto.EncodeWSOpen(proto.WSOpen{ConnID: ev.ConnID})
			break
		}
		msgType = proto.MsgHTTPResponse
		payload = proto.EncodeHTTPResponse(proto.HTTPResponse{ConnID: ev.ConnID, Status: int32(ev.Status), Headers: ev.Headers, Body: ev.Body})
	case conn.EventHTTPRequest:
		msgType = proto.MsgHTTPRequest
		payload = proto.EncodeHTTPRequest(proto.HTTPRequest{ConnID: ev.ConnID, Method: ev.Method, Path: ev.Path, Headers: ev.Headers, Body: ev.Body})
	case conn.EventSSEOpen:
		msgType = proto.MsgSSEOpen
		payload = proto.EncodeSSEOpenClosed(proto.SSEOpenClosed{ConnID: ev.ConnID, Status: int32(ev.Status)})
	case conn.EventSSEEvent:
		msgType = proto.MsgSSEEvent
		payload = proto.EncodeSSEEvent(proto.SSEEvent{ConnID: ev.ConnID, Event: ev.SSE.Name, Data: string(ev.SSE.Data)})
	case conn.EventWSMessage:
		msgType = proto.MsgWSMessage
		payload = proto.EncodeWSMessage(proto.WSMessage{ConnID: ev.ConnID, IsBinary: ev.WSOpcode == 0x2, Data: ev.WSPayload})
	case conn.EventWSClosed:
		msgType = proto.MsgWSClosed
		payload = proto.EncodeWSClosed(proto.WSClosed{ConnID: ev.ConnID, CloseCode: ev.WSCode})
	case conn.EventError:
		// The error message variant depends on what protocol the
		// connection was speaking (spec §7: HttpError, WsError, or
		// SseClosed, exactly one per failed connection).
		c, live := rt.conns.Get(ev.ConnID)
		switch {
		case live && c.IsWS():
			msgType = proto.MsgWSError
			payload = proto.EncodeWSError(proto.WSError{ConnID: ev.ConnID})
		case live && c.IsSSE():
			msgType = proto.MsgSSEClosed
			payload = proto.EncodeSSEOpenClosed(proto.SSEOpenClosed{ConnID: ev.ConnID})
		default:
			code := int32(0)
			if ev.Err != nil {
				code = -1
			}
			payload = proto.EncodeHTTPError(proto.HTTPError{ConnID: ev.ConnID, Code: code, Message: errString(ev.Err)})
			msgType = proto.MsgHTTPError
		}
	case conn.EventClosed:
		if c, live := rt.conns.Get(ev.ConnID); live && c.IsSSE() {
			msgType = proto.MsgSSEClosed
			payload = proto.EncodeSSEOpenClosed(proto.SSEOpenClosed{ConnID: ev.ConnID, Status: int32(ev.Status)})
			break
		}
		msgType = proto.MsgWSClosed
		payload = proto.EncodeWSClosed(proto.WSClosed{ConnID: ev.ConnID})
	default:
		return
	}
	_ = rt.Send(kernel.Invalid, ev.Owner, msgType, payload)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
