package protocol

import (
	"encoding/binary"
	"math"
)

// Writer builds a Soulseek payload buffer by appending primitive values
// in order.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Uint8 appends a single byte.
func (w *Writer) Uint8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

// Bool appends a u8 0/1 value.
func (w *Writer) Bool(v bool) *Writer {
	if v {
		return w.Uint8(1)
	}
	return w.Uint8(0)
}

// Uint32 appends a little-endian u32.
func (w *Writer) Uint32(v uint32) *Writer {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// Uint64 appends a little-endian u64.
func (w *Writer) Uint64(v uint64) *Writer {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// Float32 appends a little-endian f32.
func (w *Writer) Float32(v float32) *Writer {
	return w.Uint32(math.Float32bits(v))
}

// String appends a u32-length-prefixed ASCII string.
func (w *Writer) String(s string) *Writer {
	w.Uint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

// IP appends a byte-reversed (high-to-low) IPv4 address given in
// conventional dotted-quad byte order.
func (w *Writer) IP(ip [4]byte) *Writer {
	w.buf = append(w.buf, ip[3], ip[2], ip[1], ip[0])
	return w
}

// Raw appends raw bytes verbatim.
func (w *Writer) Raw(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}
