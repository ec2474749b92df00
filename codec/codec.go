// Package codec implements the length-prefixed JSON framing shared by the
// peer wire protocol and the on-disk block log: a 4-byte big-endian length
// header followed by that many bytes of JSON payload.
package codec

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame so a corrupt or hostile length header
// cannot force an unbounded allocation.
const MaxFrameSize = 16 << 20 // 16 MiB

// Encode marshals v to JSON and writes it to w as a single length-prefixed
// frame.
func Encode(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("codec: marshal: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("codec: payload of %d bytes exceeds max frame size", len(payload))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("codec: write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("codec: write payload: %w", err)
	}
	return nil
}

// Decode reads one length-prefixed frame from r and unmarshals it into v.
// It returns io.EOF only when r is exhausted before any bytes of a new
// frame's header have been read; a header followed by a short payload is
// reported as io.ErrUnexpectedEOF so callers can tell a clean stream end
// from a truncated record.
func Decode(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return fmt.Errorf("codec: frame of %d bytes exceeds max frame size", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("codec: unmarshal: %w", err)
	}
	return nil
}

// NewReader wraps r in a buffered reader sized for frame-by-frame Decode
// calls, avoiding a syscall per header/payload pair on file and socket
// sources alike.
func NewReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 64*1024)
}
