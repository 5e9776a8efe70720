// Package protocol implements the wire format shared by the text and image
// channels: a 4-byte big-endian length followed by that many payload bytes.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLen is the size of the length prefix in bytes.
const HeaderLen = 4

// ErrShortRead is returned when the peer closes the stream in the middle of a
// frame. Partial bytes are discarded.
var ErrShortRead = errors.New("short read")

// FrameError describes a failure while reading or writing a single frame.
type FrameError struct {
	Op  string // "read header", "read payload", "write"
	Err error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %s: %v", e.Op, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Encode returns payload prefixed with its length.
func Encode(payload []byte) []byte {
	buf := make([]byte, HeaderLen+len(payload))
	binary.BigEndian.PutUint32(buf[:HeaderLen], uint32(len(payload)))
	copy(buf[HeaderLen:], payload)
	return buf
}

// WriteFrame encodes payload and writes the whole buffer to w, retrying
// partial writes until everything is written or w fails.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := Encode(payload)
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return &FrameError{Op: "write", Err: err}
		}
		if n == 0 {
			return &FrameError{Op: "write", Err: io.ErrShortWrite}
		}
		buf = buf[n:]
	}
	return nil
}

// ReadFrame reads exactly one frame from r.
//
// A stream that ends before the first header byte yields io.EOF. A stream
// that ends anywhere inside a frame yields an error matching ErrShortRead.
// Zero-length frames return an empty slice without further reads.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [HeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &FrameError{Op: "read header", Err: ErrShortRead}
		}
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &FrameError{Op: "read header", Err: err}
	}

	n := binary.BigEndian.Uint32(header[:])
	payload := make([]byte, n)
	if n == 0 {
		return payload, nil
	}

	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &FrameError{Op: "read payload", Err: ErrShortRead}
		}
		return nil, &FrameError{Op: "read payload", Err: err}
	}
	return payload, nil
}
