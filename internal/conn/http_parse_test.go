package conn

import "testing"

func TestParseStatusLine(t *testing.T) {
	version, status, reason, err := ParseStatusLine([]byte("HTTP/1.1 200 OK\r\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if version != "HTTP/1.1" || status != 200 || reason != "OK" {
		t.Fatalf("got %q %d %q", version, status, reason)
	}
}

func TestParseStatusLineRejectsOutOfRange(t *testing.T) {
	if _, _, _, err := ParseStatusLine([]byte("HTTP/1.1 999 Nope\r\n")); err == nil {
		t.Fatalf("expected rejection of status 999")
	}
	if _, _, _, err := ParseStatusLine([]byte("HTTP/1.1 99 Nope\r\n")); err == nil {
		t.Fatalf("expected rejection of status 99")
	}
}

func TestParseRequestLine(t *testing.T) {
	method, path, version, err := ParseRequestLine([]byte("GET /widgets?x=1 HTTP/1.1\r\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if method != "GET" || path != "/widgets?x=1" || version != "HTTP/1.1" {
		t.Fatalf("got %q %q %q", method, path, version)
	}
}

func TestHeaderAccumulatorRecognizesKnownHeaders(t *testing.T) {
	h := NewHeaderAccumulator()
	h.AddLine([]byte("Content-Length: 42\r\n"))
	h.AddLine([]byte("Transfer-Encoding: chunked\r\n"))
	h.AddLine([]byte("Upgrade: websocket\r\n"))
	h.AddLine([]byte("Sec-WebSocket-Accept: abc123\r\n"))

	contentLen, chunked, upgradeWS, accept := recognizedHeaders(h)
	if contentLen != 42 {
		t.Fatalf("contentLen = %d, want 42", contentLen)
	}
	if !chunked {
		t.Fatalf("expected chunked true")
	}
	if !upgradeWS {
		t.Fatalf("expected upgradeWS true")
	}
	if accept != "abc123" {
		t.Fatalf("accept = %q", accept)
	}
}

func TestHeaderAccumulatorDefaultsContentLengthUnknown(t *testing.T) {
	h := NewHeaderAccumulator()
	h.AddLine([]byte("Host: example.com\r\n"))
	contentLen, chunked, upgradeWS, _ := recognizedHeaders(h)
	if contentLen != -1 || chunked || upgradeWS {
		t.Fatalf("expected defaults, got %d %v %v", contentLen, chunked, upgradeWS)
	}
}

func TestHeaderAccumulatorBlobFormat(t *testing.T) {
	h := NewHeaderAccumulator()
	h.Add("X-Foo", "bar")
	blob := h.Blob()
	want := "X-Foo: bar\x00"
	if string(blob) != want {
		t.Fatalf("blob = %q, want %q", blob, want)
	}
}

func TestBodyFramingDecision(t *testing.T) {
	if hasBody, _, _ := bodyFramingDecision(204, -1, false); hasBody {
		t.Fatalf("204 must have no body")
	}
	if hasBody, _, _ := bodyFramingDecision(200, 0, false); hasBody {
		t.Fatalf("Content-Length: 0 must have no body")
	}
	if hasBody, length, chunked := bodyFramingDecision(200, 100, false); !hasBody || length != 100 || chunked {
		t.Fatalf("expected fixed-length body of 100")
	}
	if hasBody, _, chunked := bodyFramingDecision(200, -1, true); !hasBody || !chunked {
		t.Fatalf("expected chunked body")
	}
	if hasBody, length, chunked := bodyFramingDecision(200, -1, false); !hasBody || length != -1 || chunked {
		t.Fatalf("expected read-until-EOF body for unknown length")
	}
}
