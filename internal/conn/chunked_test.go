package conn

import (
	"bytes"
	"testing"
)

func TestChunkedEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("a"),
		[]byte("hello world"),
		bytes.Repeat([]byte("x"), 5000),
		bytes.Repeat([]byte("ab"), 13),
	}
	for i, data := range cases {
		encoded := ChunkedEncode(data, 7)
		decoded, err := ChunkedDecode(encoded)
		if err != nil {
			t.Fatalf("case %d: decode: %v", i, err)
		}
		if !bytes.Equal(decoded, data) {
			t.Fatalf("case %d: round-trip mismatch: got %q want %q", i, decoded, data)
		}
	}
}

func TestChunkedDecoderAcrossPartialFeeds(t *testing.T) {
	data := bytes.Repeat([]byte("payload-segment-"), 50)
	encoded := ChunkedEncode(data, 37)

	d := NewChunkedDecoder()
	for i := 0; i < len(encoded); i++ {
		if _, err := d.Feed(encoded[i : i+1]); err != nil {
			t.Fatalf("feed byte %d: %v", i, err)
		}
	}
	if !d.Done() {
		t.Fatalf("decoder never reached done")
	}
	if !bytes.Equal(d.Bytes(), data) {
		t.Fatalf("decoded mismatch")
	}
}

func TestChunkedDecodeRejectsTruncatedStream(t *testing.T) {
	data := []byte("hello world")
	encoded := ChunkedEncode(data, 64)
	truncated := encoded[:len(encoded)-3]
	if _, err := ChunkedDecode(truncated); err == nil {
		t.Fatalf("expected error decoding truncated chunked stream")
	}
}

func TestChunkedDecodeRejectsBadSize(t *testing.T) {
	if _, err := ChunkedDecode([]byte("zzzz\r\n1234\r\n0\r\n\r\n")); err == nil {
		t.Fatalf("expected error on non-hex chunk size")
	}
}
