package control

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// maxFrameLen bounds a single frame's declared length, guarding a
// misbehaving peer from making the server allocate an unbounded buffer.
const maxFrameLen = 16 << 20

// WriteFrame CBOR-encodes v and writes it to w behind a 4-byte big-endian
// length prefix (spec.md §6's control-channel framing).
func WriteFrame(w io.Writer, v any) error {
	body, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("control: encoding frame: %w", err)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("control: writing frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("control: writing frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one 4-byte-length-prefixed frame from r and CBOR-decodes
// it into out.
func ReadFrame(r io.Reader, out any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameLen {
		return fmt.Errorf("control: frame length %d exceeds maximum %d", n, maxFrameLen)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("control: reading frame body: %w", err)
	}
	if err := cbor.Unmarshal(body, out); err != nil {
		return fmt.Errorf("control: decoding frame: %w", err)
	}
	return nil
}
