// Package frame implements the Soulseek length-prefixed binary framing
// used on both the server connection and peer connections. A frame is a
// 4-byte little-endian length L, a code field, then L-|code| bytes of
// payload. Peer frames use a 1-byte code; server and distributed frames
// use a 4-byte code.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// CodeWidth is the width, in bytes, of a frame's code field.
type CodeWidth int

const (
	// PeerCodeWidth is used for peer-to-peer frames.
	PeerCodeWidth CodeWidth = 1
	// ServerCodeWidth is used for server and distributed frames.
	ServerCodeWidth CodeWidth = 4
)

// MalformedError is returned when a frame's length prefix does not
// account for at least its code field.
type MalformedError struct {
	Position int
	Reason   string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("frame: malformed at position %d: %s", e.Position, e.Reason)
}

// Framer encodes and decodes frames of a fixed code width.
type Framer struct {
	width CodeWidth
}

// New returns a Framer that encodes/decodes frames with the given code
// width.
func New(width CodeWidth) *Framer {
	return &Framer{width: width}
}

// Encode produces the wire bytes for a single frame carrying code and
// payload.
func (f *Framer) Encode(code uint32, payload []byte) []byte {
	length := int(f.width) + len(payload)
	buf := make([]byte, 4+length)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(length))

	switch f.width {
	case PeerCodeWidth:
		buf[4] = byte(code)
	case ServerCodeWidth:
		binary.LittleEndian.PutUint32(buf[4:8], code)
	}

	copy(buf[4+int(f.width):], payload)
	return buf
}

// Decode reads exactly one frame from r, returning its code and payload.
// It first reads the 4-byte length, then the code, then the remaining
// payload bytes.
func (f *Framer) Decode(r io.Reader) (code uint32, payload []byte, err error) {
	var lenBuf [4]byte
	if _, err = io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])

	if length < uint32(f.width) {
		return 0, nil, &MalformedError{Position: 4, Reason: "length shorter than code field"}
	}

	codeBuf := make([]byte, f.width)
	if _, err = io.ReadFull(r, codeBuf); err != nil {
		return 0, nil, err
	}

	switch f.width {
	case PeerCodeWidth:
		code = uint32(codeBuf[0])
	case ServerCodeWidth:
		code = binary.LittleEndian.Uint32(codeBuf)
	}

	remaining := length - uint32(f.width)
	payload = make([]byte, remaining)
	if remaining > 0 {
		if _, err = io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}

	return code, payload, nil
}
