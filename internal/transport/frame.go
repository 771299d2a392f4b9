package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Radio streams delimit frames with a two-byte magic header followed
// by a big-endian uint16 payload length.
const (
	frameMagic0 = 0x94
	frameMagic1 = 0xC3

	maxFramePayload = math.MaxUint16
)

// byteSource fills buf completely or returns an error, abstracting
// over net.Conn and serial ports.
type byteSource func(buf []byte) error

func encodeFrame(payload []byte) ([]byte, error) {
	n := len(payload)
	if n > maxFramePayload {
		return nil, fmt.Errorf("frame payload %d exceeds %d bytes", n, maxFramePayload)
	}

	frame := make([]byte, 4, 4+n)
	frame[0] = frameMagic0
	frame[1] = frameMagic1
	// #nosec G115 -- length bounded by maxFramePayload above.
	binary.BigEndian.PutUint16(frame[2:4], uint16(n))

	return append(frame, payload...), nil
}

// readFrame scans src byte-by-byte for the next frame header, then
// reads the length-prefixed payload. Garbage between frames, including
// repeated first magic bytes, is skipped so a stream corrupted
// mid-frame recovers at the next header.
func readFrame(src byteSource) ([]byte, error) {
	one := make([]byte, 1)
	sawMagic0 := false
	for {
		if err := src(one); err != nil {
			return nil, fmt.Errorf("scan frame header: %w", err)
		}
		if sawMagic0 && one[0] == frameMagic1 {
			break
		}
		sawMagic0 = one[0] == frameMagic0
	}

	var lenBuf [2]byte
	if err := src(lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	n := int(binary.BigEndian.Uint16(lenBuf[:]))
	if n == 0 {
		return nil, errors.New("zero-length frame")
	}

	payload := make([]byte, n)
	if err := src(payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

// ioReadFullFunc adapts an io.Reader into a byteSource.
func ioReadFullFunc(r io.Reader) byteSource {
	return func(buf []byte) error {
		_, err := io.ReadFull(r, buf)
		return err
	}
}
