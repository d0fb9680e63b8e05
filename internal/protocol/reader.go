package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ErrShortPayload is returned when a read would advance the cursor past
// the end of the payload.
type ErrShortPayload struct {
	Position int
	Wanted   int
	Have     int
}

func (e *ErrShortPayload) Error() string {
	return fmt.Sprintf("protocol: short payload at position %d: wanted %d bytes, have %d", e.Position, e.Wanted, e.Have)
}

// Reader walks a payload buffer, decoding Soulseek primitive types in
// order. It never copies the underlying buffer.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader over buf starting at position 0.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining reports how many unread bytes are left.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, &ErrShortPayload{Position: r.pos, Wanted: n, Have: r.Remaining()}
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Uint8 reads a single byte.
func (r *Reader) Uint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Bool reads a u8 0/1 value.
func (r *Reader) Bool() (bool, error) {
	v, err := r.Uint8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// Uint32 reads a little-endian u32.
func (r *Reader) Uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 reads a little-endian u64.
func (r *Reader) Uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Float32 reads a little-endian f32.
func (r *Reader) Float32() (float32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

// String reads a u32-length-prefixed ASCII string.
func (r *Reader) String() (string, error) {
	n, err := r.Uint32()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// IP reads a byte-reversed (high-to-low) IPv4 address and returns it in
// conventional dotted-quad byte order.
func (r *Reader) IP() ([4]byte, error) {
	var ip [4]byte
	b, err := r.take(4)
	if err != nil {
		return ip, err
	}
	ip[0], ip[1], ip[2], ip[3] = b[3], b[2], b[1], b[0]
	return ip, nil
}

// Bytes reads n raw bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	return r.take(n)
}
