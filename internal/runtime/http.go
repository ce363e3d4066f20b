package runtime

import (
	"fmt"
	"net/url"

	"kerneld/internal/conn"
	"kerneld/internal/kernel"
)

// splitHostPath parses rawurl into a "host:port" dial target and a path,
// defaulting the port to 80 — the engine speaks plain HTTP/1.1 only, TLS
// being out of scope (spec §4.4 Non-goals).
func splitHostPath(rawurl string) (addr, host, path string, err error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", "", "", err
	}
	host = u.Host
	addr = u.Host
	if u.Port() == "" {
		addr = u.Host + ":80"
	}
	path = u.RequestURI()
	if path == "" {
		path = "/"
	}
	return addr, host, path, nil
}

func (rt *Runtime) HTTPGet(owner kernel.ActorID, rawurl string) (uint64, error) {
	return rt.HTTPFetch(owner, "GET", rawurl, nil, nil)
}

func (rt *Runtime) HTTPFetch(owner kernel.ActorID, method, rawurl string, headers map[string]string, body []byte) (uint64, error) {
	addr, host, path, err := splitHostPath(rawurl)
	if err != nil {
		return 0, err
	}
	id, err := rt.conns.Dial(owner, "tcp", addr, conn.KindHTTPClient)
	if err != nil {
		return 0, err
	}
	if err := rt.conns.SendHTTPRequest(id, method, path, host, headers, body); err != nil {
		rt.conns.Close(id)
		return 0, err
	}
	return id, nil
}

func (rt *Runtime) SSEConnect(owner kernel.ActorID, rawurl string) (uint64, error) {
	addr, host, path, err := splitHostPath(rawurl)
	if err != nil {
		return 0, err
	}
	id, err := rt.conns.Dial(owner, "tcp", addr, conn.KindSSEClient)
	if err != nil {
		return 0, err
	}
	headers := map[string]string{"Accept": "text/event-stream"}
	if err := rt.conns.SendHTTPRequest(id, "GET", path, host, headers, nil); err != nil {
		rt.conns.Close(id)
		return 0, err
	}
	return id, nil
}

func (rt *Runtime) WSConnect(owner kernel.ActorID, rawurl string) (uint64, error) {
	addr, host, path, err := splitHostPath(rawurl)
	if err != nil {
		return 0, err
	}
	id, err := rt.conns.Dial(owner, "tcp", addr, conn.KindWSClient)
	if err != nil {
		return 0, err
	}
	if err := rt.conns.SendWSHandshake(id, path, host); err != nil {
		rt.conns.Close(id)
		return 0, err
	}
	return id, nil
}

func (rt *Runtime) HTTPListen(owner kernel.ActorID, port int) (uint64, error) {
	return rt.conns.Listen(owner, "tcp", fmt.Sprintf(":%d", port))
}

func (rt *Runtime) HTTPRespond(connID uint64, status int, headers map[string]string, body []byte) error {
	reason := statusReason(status)
	return rt.conns.SendHTTPResponse(connID, status, reason, headers, body)
}

func (rt *Runtime) WSSendText(connID uint64, data []byte) error   { return rt.conns.SendWSText(connID, data) }
func (rt *Runtime) WSSendBinary(connID uint64, data []byte) error { return rt.conns.SendWSBinary(connID, data) }
func (rt *Runtime) WSClose(connID uint64, code uint16) error      { return rt.conns.SendWSClose(connID, code) }

func (rt *Runtime) SSEStart(connID uint64) error {
	return rt.conns.StartSSEResponse(connID, map[string]string{
		"Content-Type":  "text/event-stream",
		"Cache-Control": "no-cache",
	})
}

func (rt *Runtime) SSEPush(connID uint64, event string, data []byte) error {
	return rt.conns.SendSSEPush(connID, event, data)
}

func (rt *Runtime) CloseConn(connID uint64) error { return rt.conns.Close(connID) }

// statusReason mirrors the small fixed set of statuses this engine's demo
// actors actually emit (spec §8 scenarios); anything else falls back to a
// generic reason phrase rather than pulling in net/http's full table.
func statusReason(status int) string {
	switch status {
	case 200:
		return "OK"
	case 101:
		return "Switching Protocols"
	case 204:
		return "No Content"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	default:
		return "Status"
	}
}
