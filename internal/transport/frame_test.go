package transport

import (
	"bytes"
	"math"
	"strings"
	"testing"
)

func TestFrameCodec_RoundTrip(t *testing.T) {
	payload := []byte(`{"type":"packet","fromId":"!aabbccdd"}`)

	frame, err := encodeFrame(payload)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if frame[0] != 0x94 || frame[1] != 0xC3 {
		t.Fatalf("expected frame header 94C3, got %02X%02X", frame[0], frame[1])
	}

	got, err := readFrame(ioReadFullFunc(bytes.NewReader(frame)))
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %q", got)
	}
}

func TestReadFrame_ResyncsPastGarbage(t *testing.T) {
	payload := []byte("hello")
	frame, err := encodeFrame(payload)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}

	// Garbage includes a stray first header byte that must not desync.
	stream := append([]byte{0x00, 0xFF, 0x94, 0x00, 0x42}, frame...)
	got, err := readFrame(ioReadFullFunc(bytes.NewReader(stream)))
	if err != nil {
		t.Fatalf("read frame after garbage: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch after resync: %q", got)
	}
}

func TestReadFrame_ResyncsPastRepeatedMagicByte(t *testing.T) {
	payload := []byte("hi")
	frame, err := encodeFrame(payload)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}

	// A 0x94 run directly before the header must still align on the
	// final 94C3 pair.
	stream := append([]byte{0x94, 0x94}, frame[1:]...)
	got, err := readFrame(ioReadFullFunc(bytes.NewReader(stream)))
	if err != nil {
		t.Fatalf("read frame after repeated magic byte: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch after resync: %q", got)
	}
}

func TestReadFrame_RejectsZeroLength(t *testing.T) {
	stream := []byte{0x94, 0xC3, 0x00, 0x00}
	if _, err := readFrame(ioReadFullFunc(bytes.NewReader(stream))); err == nil {
		t.Fatalf("expected error for zero-length frame")
	}
}

func TestReadFrame_TruncatedPayloadFails(t *testing.T) {
	frame, err := encodeFrame([]byte("full payload"))
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if _, err := readFrame(ioReadFullFunc(bytes.NewReader(frame[:len(frame)-3]))); err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}

func TestEncodeFrame_RejectsOversizedPayload(t *testing.T) {
	big := strings.Repeat("x", math.MaxUint16+1)
	if _, err := encodeFrame([]byte(big)); err == nil {
		t.Fatalf("expected error for oversized payload")
	}
}
