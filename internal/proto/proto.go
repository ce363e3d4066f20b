// Package proto defines the wire encoding of the fixed message payloads
// the runtime delivers to actors: Timer, FdEvent, HTTP request/response/
// error, SSE open/event/closed, WebSocket open/message/closed/error, and
// name/path register/unregister (spec §6's message schema). Each payload
// is a plain POD struct with fixed-width integer fields plus a variable
// tail, encoded with encoding/binary the same way supervisor.EncodeChildExit
// does for ChildExit — this package generalizes that one-off encoding to
// every other message type the kernel emits.
package proto

import (
	"encoding/binary"
	"errors"

	"kerneld/internal/kernel"
)

// Message type tags (spec §6). ChildExit's tag lives in package supervisor
// (0x5350_4558) since that package owns its own encode/decode; the rest
// are declared here.
const (
	MsgTimer           uint32 = 1
	MsgFdEvent         uint32 = 2
	MsgHTTPRequest     uint32 = 3
	MsgHTTPResponse    uint32 = 4
	MsgHTTPError       uint32 = 5
	MsgSSEOpen         uint32 = 6
	MsgSSEEvent        uint32 = 7
	MsgSSEClosed       uint32 = 8
	MsgWSOpen          uint32 = 9
	MsgWSMessage       uint32 = 10
	MsgWSClosed        uint32 = 11
	MsgWSError         uint32 = 12
	MsgNameRegister    uint32 = 13
	MsgNameUnregister  uint32 = 14
	MsgPathRegister    uint32 = 15
	MsgPathUnregister  uint32 = 16
)

var errShort = errors.New("proto: payload too short")

func putString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func takeString(b []byte) (string, []byte, error) {
	if len(b) < 4 {
		return "", nil, errShort
	}
	n := binary.BigEndian.Uint32(b)
	b = b[4:]
	if uint32(len(b)) < n {
		return "", nil, errShort
	}
	return string(b[:n]), b[n:], nil
}

func putBytes(buf []byte, v []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(v)))
	return append(buf, v...)
}

func takeBytes(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, errShort
	}
	n := binary.BigEndian.Uint32(b)
	b = b[4:]
	if uint32(len(b)) < n {
		return nil, nil, errShort
	}
	return b[:n], b[n:], nil
}

func putHeaders(buf []byte, h map[string]string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(h)))
	for k, v := range h {
		buf = putString(buf, k)
		buf = putString(buf, v)
	}
	return buf
}

func takeHeaders(b []byte) (map[string]string, []byte, error) {
	if len(b) < 4 {
		return nil, nil, errShort
	}
	n := binary.BigEndian.Uint32(b)
	b = b[4:]
	h := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		var k, v string
		var err error
		k, b, err = takeString(b)
		if err != nil {
			return nil, nil, err
		}
		v, b, err = takeString(b)
		if err != nil {
			return nil, nil, err
		}
		h[k] = v
	}
	return h, b, nil
}

// Timer is delivered to a timer's owner on expiration.
type Timer struct {
	ID          uint32
	Expirations uint64
}

func EncodeTimer(t Timer) []byte {
	buf := make([]byte, 0, 12)
	buf = binary.BigEndian.AppendUint32(buf, t.ID)
	buf = binary.BigEndian.AppendUint64(buf, t.Expirations)
	return buf
}

func DecodeTimer(b []byte) (Timer, error) {
	if len(b) != 12 {
		return Timer{}, errShort
	}
	return Timer{
		ID:          binary.BigEndian.Uint32(b[:4]),
		Expirations: binary.BigEndian.Uint64(b[4:]),
	}, nil
}

// FdEvent is delivered to a watched fd's owner on readiness.
type FdEvent struct {
	FD      int32
	Revents uint32
}

func EncodeFdEvent(e FdEvent) []byte {
	buf := make([]byte, 0, 8)
	buf = binary.BigEndian.AppendUint32(buf, uint32(e.FD))
	buf = binary.BigEndian.AppendUint32(buf, e.Revents)
	return buf
}

func DecodeFdEvent(b []byte) (FdEvent, error) {
	if len(b) != 8 {
		return FdEvent{}, errShort
	}
	return FdEvent{
		FD:      int32(binary.BigEndian.Uint32(b[:4])),
		Revents: binary.BigEndian.Uint32(b[4:]),
	}, nil
}

// HTTPRequest is delivered to an HTTP listener's owning actor.
type HTTPRequest struct {
	ConnID  uint64
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

func EncodeHTTPRequest(r HTTPRequest) []byte {
	buf := make([]byte, 0, 64+len(r.Body))
	buf = binary.BigEndian.AppendUint64(buf, r.ConnID)
	buf = putString(buf, r.Method)
	buf = putString(buf, r.Path)
	buf = putHeaders(buf, r.Headers)
	buf = putBytes(buf, r.Body)
	return buf
}

func DecodeHTTPRequest(b []byte) (HTTPRequest, error) {
	if len(b) < 8 {
		return HTTPRequest{}, errShort
	}
	r := HTTPRequest{ConnID: binary.BigEndian.Uint64(b[:8])}
	b = b[8:]
	var err error
	if r.Method, b, err = takeString(b); err != nil {
		return HTTPRequest{}, err
	}
	if r.Path, b, err = takeString(b); err != nil {
		return HTTPRequest{}, err
	}
	if r.Headers, b, err = takeHeaders(b); err != nil {
		return HTTPRequest{}, err
	}
	if r.Body, _, err = takeBytes(b); err != nil {
		return HTTPRequest{}, err
	}
	return r, nil
}

// HTTPResponse is delivered to an HTTP client's owning actor.
type HTTPResponse struct {
	ConnID  uint64
	Status  int32
	Headers map[string]string
	Body    []byte
}

func EncodeHTTPResponse(r HTTPResponse) []byte {
	buf := make([]byte, 0, 64+len(r.Body))
	buf = binary.BigEndian.AppendUint64(buf, r.ConnID)
	buf = binary.BigEndian.AppendUint32(buf, uint32(r.Status))
	buf = putHeaders(buf, r.Headers)
	buf = putBytes(buf, r.Body)
	return buf
}

func DecodeHTTPResponse(b []byte) (HTTPResponse, error) {
	if len(b) < 12 {
		return HTTPResponse{}, errShort
	}
	r := HTTPResponse{ConnID: binary.BigEndian.Uint64(b[:8])}
	r.Status = int32(binary.BigEndian.Uint32(b[8:12]))
	b = b[12:]
	var err error
	if r.Headers, b, err = takeHeaders(b); err != nil {
		return HTTPResponse{}, err
	}
	if r.Body, _, err = takeBytes(b); err != nil {
		return HTTPResponse{}, err
	}
	return r, nil
}

// HTTPError is delivered when a connection's HTTP parse fails.
type HTTPError struct {
	ConnID  uint64
	Code    int32
	Message string
}

func EncodeHTTPError(e HTTPError) []byte {
	buf := make([]byte, 0, 32+len(e.Message))
	buf = binary.BigEndian.AppendUint64(buf, e.ConnID)
	buf = binary.BigEndian.AppendUint32(buf, uint32(e.Code))
	buf = putString(buf, e.Message)
	return buf
}

func DecodeHTTPError(b []byte) (HTTPError, error) {
	if len(b) < 12 {
		return HTTPError{}, errShort
	}
	e := HTTPError{ConnID: binary.BigEndian.Uint64(b[:8])}
	e.Code = int32(binary.BigEndian.Uint32(b[8:12]))
	var err error
	if e.Message, _, err = takeString(b[12:]); err != nil {
		return HTTPError{}, err
	}
	return e, nil
}

// SSEOpenClosed covers both SseOpen{conn_id, status} and
// SseClosed{conn_id, status}, which share the same shape.
type SSEOpenClosed struct {
	ConnID uint64
	Status int32
}

func EncodeSSEOpenClosed(s SSEOpenClosed) []byte {
	buf := make([]byte, 0, 12)
	buf = binary.BigEndian.AppendUint64(buf, s.ConnID)
	buf = binary.BigEndian.AppendUint32(buf, uint32(s.Status))
	return buf
}

func DecodeSSEOpenClosed(b []byte) (SSEOpenClosed, error) {
	if len(b) != 12 {
		return SSEOpenClosed{}, errShort
	}
	return SSEOpenClosed{
		ConnID: binary.BigEndian.Uint64(b[:8]),
		Status: int32(binary.BigEndian.Uint32(b[8:12])),
	}, nil
}

// SSEEvent is delivered once per dispatched server-sent event.
type SSEEvent struct {
	ConnID uint64
	Event  string
	Data   string
}

func EncodeSSEEvent(e SSEEvent) []byte {
	buf := make([]byte, 0, 32+len(e.Event)+len(e.Data))
	buf = binary.BigEndian.AppendUint64(buf, e.ConnID)
	buf = putString(buf, e.Event)
	buf = putString(buf, e.Data)
	return buf
}

func DecodeSSEEvent(b []byte) (SSEEvent, error) {
	if len(b) < 8 {
		return SSEEvent{}, errShort
	}
	e := SSEEvent{ConnID: binary.BigEndian.Uint64(b[:8])}
	b = b[8:]
	var err error
	if e.Event, b, err = takeString(b); err != nil {
		return SSEEvent{}, err
	}
	if e.Data, _, err = takeString(b); err != nil {
		return SSEEvent{}, err
	}
	return e, nil
}

// WSOpen is delivered once a WebSocket handshake completes.
type WSOpen struct {
	ConnID uint64
}

func EncodeWSOpen(o WSOpen) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, o.ConnID)
	return buf
}

func DecodeWSOpen(b []byte) (WSOpen, error) {
	if len(b) != 8 {
		return WSOpen{}, errShort
	}
	return WSOpen{ConnID: binary.BigEndian.Uint64(b)}, nil
}

// WSMessage carries one text or binary WebSocket frame payload.
type WSMessage struct {
	ConnID   uint64
	IsBinary bool
	Data     []byte
}

func EncodeWSMessage(m WSMessage) []byte {
	buf := make([]byte, 0, 16+len(m.Data))
	buf = binary.BigEndian.AppendUint64(buf, m.ConnID)
	if m.IsBinary {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = putBytes(buf, m.Data)
	return buf
}

func DecodeWSMessage(b []byte) (WSMessage, error) {
	if len(b) < 9 {
		return WSMessage{}, errShort
	}
	m := WSMessage{ConnID: binary.BigEndian.Uint64(b[:8]), IsBinary: b[8] != 0}
	var err error
	if m.Data, _, err = takeBytes(b[9:]); err != nil {
		return WSMessage{}, err
	}
	return m, nil
}

// WSClosed reports the close code a WebSocket connection settled on.
type WSClosed struct {
	ConnID    uint64
	CloseCode uint16
}

func EncodeWSClosed(c WSClosed) []byte {
	buf := make([]byte, 10)
	binary.BigEndian.PutUint64(buf[:8], c.ConnID)
	binary.BigEndian.PutUint16(buf[8:], c.CloseCode)
	return buf
}

func DecodeWSClosed(b []byte) (WSClosed, error) {
	if len(b) != 10 {
		return WSClosed{}, errShort
	}
	return WSClosed{
		ConnID:    binary.BigEndian.Uint64(b[:8]),
		CloseCode: binary.BigEndian.Uint16(b[8:]),
	}, nil
}

// WSError reports a WebSocket protocol failure (spec §4.4's WsError).
type WSError struct {
	ConnID uint64
}

func EncodeWSError(e WSError) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, e.ConnID)
	return buf
}

func DecodeWSError(b []byte) (WSError, error) {
	if len(b) != 8 {
		return WSError{}, errShort
	}
	return WSError{ConnID: binary.BigEndian.Uint64(b)}, nil
}

// NameRegistration covers both NameRegister and NameUnregister, which
// share a shape (spec caps names at 64 bytes; Unregister carries a zero
// ActorID since only the name matters).
type NameRegistration struct {
	Name string
	ID   kernel.ActorID
}

func EncodeNameRegistration(r NameRegistration) []byte {
	buf := make([]byte, 0, 16+len(r.Name))
	buf = putString(buf, r.Name)
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.ID))
	return buf
}

func DecodeNameRegistration(b []byte) (NameRegistration, error) {
	name, rest, err := takeString(b)
	if err != nil {
		return NameRegistration{}, err
	}
	if len(rest) != 8 {
		return NameRegistration{}, errShort
	}
	return NameRegistration{Name: name, ID: kernel.ActorID(binary.BigEndian.Uint64(rest))}, nil
}

// PathRegistration covers both PathRegister and PathUnregister.
type PathRegistration struct {
	Path string
	ID   kernel.ActorID
}

func EncodePathRegistration(r PathRegistration) []byte {
	buf := make([]byte, 0, 16+len(r.Path))
	buf = putString(buf, r.Path)
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.ID))
	return buf
}

func DecodePathRegistration(b []byte) (PathRegistration, error) {
	path, rest, err := takeString(b)
	if err != nil {
		return PathRegistration{}, err
	}
	if len(rest) != 8 {
		return PathRegistration{}, errShort
	}
	return PathRegistration{Path: path, ID: kernel.ActorID(binary.BigEndian.Uint64(rest))}, nil
}
