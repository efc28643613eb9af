// Package clone implements the structured-clone wire format: an
// append-only Writer and bounds-checked Reader over a byte sequence
// (spec §4.1), and an engine-neutral codec that walks a tagged-union
// Value graph to and from that wire format (spec §4.2).
package clone

import (
	"encoding/binary"
	"math"

	"github.com/cryguy/jsworker/internal/core"
)

// Writer is an append-only byte sequence builder. All multi-byte integers
// and floats are little-endian, fixed per spec §4.1 to guarantee
// byte-exact portability between host platforms. Writes never fail: the
// backing slice grows geometrically via Go's append.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with a pre-sized backing array. sizeHint may
// be zero; it is only a capacity hint.
func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

// Len reports the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Take returns the final byte sequence. The Writer must not be reused
// afterward.
func (w *Writer) Take() []byte { return w.buf }

// WriteU8 appends a single byte.
func (w *Writer) WriteU8(v uint8) {
	w.buf = append(w.buf, v)
}

// WriteU32 appends a 32-bit unsigned integer, little-endian.
func (w *Writer) WriteU32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// WriteI32 appends a 32-bit signed integer, little-endian.
func (w *Writer) WriteI32(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

// WriteF64 appends an IEEE-754 double, little-endian.
func (w *Writer) WriteF64(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

// WriteBytes appends raw bytes verbatim, with no length prefix.
func (w *Writer) WriteBytes(p []byte) {
	w.buf = append(w.buf, p...)
}

// WriteString appends a u32 length prefix followed by the UTF-8 bytes.
func (w *Writer) WriteString(s string) {
	w.WriteU32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// Reader is a bounds-checked cursor over a byte range it does not own.
// The backing slice must outlive the Reader for the full decode.
type Reader struct {
	buf []byte
	off int
}

// NewReader constructs a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// HasMore reports whether any unread bytes remain.
func (r *Reader) HasMore() bool { return r.off < len(r.buf) }

// Offset returns the current read position, for error messages.
func (r *Reader) Offset() int { return r.off }

func (r *Reader) need(width int) error {
	if r.off+width > len(r.buf) {
		return &core.InvalidDataError{Reason: "truncated input"}
	}
	return nil
}

// ReadU8 reads a single byte.
func (r *Reader) ReadU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

// ReadU32 reads a 32-bit unsigned integer, little-endian.
func (r *Reader) ReadU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

// ReadI32 reads a 32-bit signed integer, little-endian.
func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

// ReadF64 reads an IEEE-754 double, little-endian.
func (r *Reader) ReadF64() (float64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return math.Float64frombits(v), nil
}

// ReadBytes reads n raw bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, &core.InvalidDataError{Reason: "negative length"}
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v, nil
}

// ReadString reads a u32 length prefix followed by that many UTF-8 bytes.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
