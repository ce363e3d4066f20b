package conn

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// ParseStatusLine parses "HTTP/1.x SSS reason" per spec §4.4: the status
// code must fall in 100..599.
func ParseStatusLine(line []byte) (version string, status int, reason string, err error) {
	s := string(bytes.TrimRight(line, "\r\n"))
	parts := strings.SplitN(s, " ", 3)
	if len(parts) < 2 {
		return "", 0, "", fmt.Errorf("conn: malformed status line %q", s)
	}
	version = parts[0]
	code, convErr := strconv.Atoi(parts[1])
	if convErr != nil || code < 100 || code > 599 {
		return "", 0, "", fmt.Errorf("conn: bad status code in %q", s)
	}
	if len(parts) == 3 {
		reason = parts[2]
	}
	return version, code, reason, nil
}

// ParseRequestLine parses "METHOD /path HTTP/1.x".
func ParseRequestLine(line []byte) (method, path, version string, err error) {
	s := string(bytes.TrimRight(line, "\r\n"))
	parts := strings.SplitN(s, " ", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("conn: malformed request line %q", s)
	}
	return parts[0], parts[1], parts[2], nil
}

// HeaderAccumulator builds the raw "Name: Value\0" blob spec §4.4 and
// §6 describe while also keeping a case-insensitive lookup map for the
// state machine's own decisions (Content-Length, Transfer-Encoding, ...).
type HeaderAccumulator struct {
	blob   []byte
	lookup map[string]string
}

func NewHeaderAccumulator() *HeaderAccumulator {
	return &HeaderAccumulator{lookup: make(map[string]string)}
}

// Add records one "Name: Value" header line (CRLF already stripped).
func (h *HeaderAccumulator) Add(name, value string) {
	h.blob = append(h.blob, []byte(name)...)
	h.blob = append(h.blob, ':', ' ')
	h.blob = append(h.blob, []byte(value)...)
	h.blob = append(h.blob, 0)
	h.lookup[strings.ToLower(name)] = value
}

// AddLine splits a raw "Name: Value" line and records it; returns false if
// the line has no colon separator.
func (h *HeaderAccumulator) AddLine(line []byte) bool {
	s := string(bytes.TrimRight(line, "\r\n"))
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return false
	}
	name := strings.TrimSpace(s[:idx])
	value := strings.TrimSpace(s[idx+1:])
	h.Add(name, value)
	return true
}

func (h *HeaderAccumulator) Get(name string) (string, bool) {
	v, ok := h.lookup[strings.ToLower(name)]
	return v, ok
}

func (h *HeaderAccumulator) Blob() []byte { return h.blob }

func (h *HeaderAccumulator) Map() map[string]string {
	out := make(map[string]string, len(h.lookup))
	for k, v := range h.lookup {
		out[k] = v
	}
	return out
}

// recognizedHeaders extracts the four headers spec §4.4 says the engine
// must recognize, applying defaults (contentLen -1 meaning unknown).
func recognizedHeaders(h *HeaderAccumulator) (contentLen int64, chunked, upgradeWS bool, wsAccept string) {
	contentLen = -1
	if v, ok := h.Get("Content-Length"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && n >= 0 {
			contentLen = n
		}
	}
	if v, ok := h.Get("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(v), "chunked") {
		chunked = true
	}
	if v, ok := h.Get("Upgrade"); ok && strings.EqualFold(v, "websocket") {
		upgradeWS = true
	}
	if v, ok := h.Get("Sec-WebSocket-Accept"); ok {
		wsAccept = v
	}
	return
}

// indexCRLF finds the next line terminator in data, or -1.
func indexCRLF(data []byte) int { return bytes.Index(data, []byte("\r\n")) }

// bodyFramingDecision captures the immediate-emit rules spec §4.4 and the
// HTTP/1.1 spec require: a response with status 204/304 or an explicit
// Content-Length: 0 has no body at all, regardless of other headers.
func bodyFramingDecision(status int, contentLen int64, chunked bool) (hasBody bool, length int64, useChunked bool) {
	if status == 204 || status == 304 || (status >= 100 && status < 200) {
		return false, 0, false
	}
	if chunked {
		return true, -1, true
	}
	if contentLen == 0 {
		return false, 0, false
	}
	if contentLen > 0 {
		return true, contentLen, false
	}
	// Unknown length with no chunked encoding: per the read-until-EOF
	// policy this engine adopts for the open question in spec §9, the
	// body is read until the peer closes the connection.
	return true, -1, false
}
