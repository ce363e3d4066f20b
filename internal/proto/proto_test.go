package proto

import (
	"bytes"
	"testing"

	"kerneld/internal/kernel"
)

func TestTimerRoundTrip(t *testing.T) {
	in := Timer{ID: 7, Expirations: 42}
	out, err := DecodeTimer(EncodeTimer(in))
	if err != nil || out != in {
		t.Fatalf("round-trip mismatch: got %+v err=%v", out, err)
	}
}

func TestFdEventRoundTrip(t *testing.T) {
	in := FdEvent{FD: 5, Revents: 1}
	out, err := DecodeFdEvent(EncodeFdEvent(in))
	if err != nil || out != in {
		t.Fatalf("round-trip mismatch: got %+v err=%v", out, err)
	}
}

func TestHTTPRequestRoundTrip(t *testing.T) {
	in := HTTPRequest{
		ConnID:  3,
		Method:  "GET",
		Path:    "/hello",
		Headers: map[string]string{"Host": "x"},
		Body:    []byte("hi"),
	}
	out, err := DecodeHTTPRequest(EncodeHTTPRequest(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ConnID != in.ConnID || out.Method != in.Method || out.Path != in.Path ||
		out.Headers["Host"] != "x" || !bytes.Equal(out.Body, in.Body) {
		t.Fatalf("round-trip mismatch: got %+v", out)
	}
}

func TestHTTPResponseRoundTrip(t *testing.T) {
	in := HTTPResponse{ConnID: 9, Status: 200, Headers: map[string]string{"Content-Type": "text/plain"}, Body: []byte("hello")}
	out, err := DecodeHTTPResponse(EncodeHTTPResponse(in))
	if err != nil || out.Status != 200 || !bytes.Equal(out.Body, in.Body) {
		t.Fatalf("round-trip mismatch: got %+v err=%v", out, err)
	}
}

func TestNameRegistrationRoundTrip(t *testing.T) {
	in := NameRegistration{Name: "svc", ID: kernel.MakeActorID(2, 5)}
	out, err := DecodeNameRegistration(EncodeNameRegistration(in))
	if err != nil || out != in {
		t.Fatalf("round-trip mismatch: got %+v err=%v", out, err)
	}
}

func TestWSMessageRoundTrip(t *testing.T) {
	in := WSMessage{ConnID: 1, IsBinary: true, Data: []byte{0x01, 0x02, 0x03}}
	out, err := DecodeWSMessage(EncodeWSMessage(in))
	if err != nil || out.ConnID != in.ConnID || out.IsBinary != in.IsBinary || !bytes.Equal(out.Data, in.Data) {
		t.Fatalf("round-trip mismatch: got %+v err=%v", out, err)
	}
}
