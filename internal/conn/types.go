// Package conn implements the connection engine: per-connection state
// machines for HTTP/1.1 client and server, Server-Sent Events, and
// WebSocket, each driven by a single advance(revents) entry point rather
// than a blocking read loop, so the whole engine folds into the runtime's
// one poll() call (spec §4.4).
package conn

import (
	"net"

	"kerneld/internal/kernel"
)

// State is the active state of one connection's driven state machine.
type State uint8

const (
	StateSending State = iota
	StateRecvStatus
	StateRecvHeaders
	StateBodyContentLen
	StateBodyChunked
	StateBodyStream // SSE event stream, or a body read until EOF
	StateWSActive

	StateSrvRecvRequest
	StateSrvRecvHeaders
	StateSrvRecvBody
	StateSrvSending
	StateSrvSseActive

	StateListening

	StateDone
	StateError
)

// Kind distinguishes the protocol role a Connection plays.
type Kind uint8

const (
	KindHTTPClient Kind = iota
	KindHTTPServer
	KindSSEClient
	KindWSClient
	KindWSServer
	KindListener
)

// Connection is the discriminated record described by spec §4.4: socket
// handle, read window, protocol state, and protocol-specific accumulators.
// Only the fields relevant to Kind/State are meaningful at any one time —
// this mirrors the teacher's plain-struct-per-actor style rather than a Go
// sum type (no such thing in this language without an interface per
// variant, which would fragment advance() across N types instead of one
// entry point, the opposite of what spec §4.4 asks for).
type Connection struct {
	ID    uint64
	Owner kernel.ActorID
	Kind  Kind
	State State

	netConn  net.Conn
	listener net.Listener
	fd       int // raw fd, extracted once via SyscallConn, used for poll()

	// read window
	readBuf [4096]byte
	pending []byte // unconsumed bytes carried between advance() calls

	// request/response line + header accumulator
	method      string
	path        string
	version     string
	statusCode  int
	headerAcc   *HeaderAccumulator
	headers     map[string]string
	contentLen  int64 // -1 = unknown
	chunked     bool
	upgradeWS   bool
	wsAccept    string
	bodyBuf     []byte

	chunkDecoder *ChunkedDecoder
	sseBuilder   *sseBuilder
	wsParser     *wsFrameParser

	// outbound write buffer (for Sending states)
	writeBuf []byte
	eof      bool

	// WebSocket
	wsClientKey string // base64 key we sent, for accept validation
	wsIsClient  bool
	wsCloseSent bool

	sseServer bool // server-side connection upgraded to a push-only SSE stream
	wsServer  bool // server-side connection upgraded to an active WS stream

	err error
}

type chunkDecodeState uint8

const (
	chunkAwaitSize chunkDecodeState = iota
	chunkAwaitData
	chunkAwaitDataCRLF
	chunkAwaitTrailerCRLF
)

type wsPartialFrame struct {
	fin         bool
	opcode      byte
	masked      bool
	maskKey     [4]byte
	maskKeyDone bool
	length      uint64
	gotLen      bool
	payload     []byte
}

// Interest reports whether the connection currently wants to be polled for
// read or write readiness — write iff it's in a sending state, else read,
// exactly as spec §4.3's poll-set construction rule (e) specifies.
func (c *Connection) Interest() (read, write bool) {
	if len(c.writeBuf) > 0 {
		return false, true
	}
	switch c.State {
	case StateDone, StateError:
		return false, false
	default:
		return true, false
	}
}

// FD returns the raw file descriptor used for poll-set construction.
func (c *Connection) FD() int { return c.fd }

// Addr returns the bound local address of a listener connection, or nil
// for any other Kind — used by callers that Listen on port 0 and need to
// discover the actual ephemeral port chosen.
func (c *Connection) Addr() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Err returns the error that moved this connection into StateError, if any.
func (c *Connection) Err() error { return c.err }

// IsSSE reports whether this connection speaks Server-Sent Events in
// either direction: a client subscription, or a server connection that
// upgraded into a push stream via StartSSEResponse.
func (c *Connection) IsSSE() bool { return c.Kind == KindSSEClient || c.sseServer }

// IsWS reports whether this connection speaks WebSocket, counting server
// connections upgraded by a 101 response.
func (c *Connection) IsWS() bool {
	return c.Kind == KindWSClient || c.Kind == KindWSServer || c.wsServer
}
