package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortBuffer is returned when a read or write runs past the end of the
// buffer.
var ErrShortBuffer = errors.New("wire: short buffer")

// ShortError records where a read ran out of bytes.
type ShortError struct {
	Offset int
	Need   int
	Have   int
}

func (e *ShortError) Error() string {
	return fmt.Sprintf("wire: need %d bytes at offset %d, have %d", e.Need, e.Offset, e.Have)
}

func (e *ShortError) Unwrap() error { return ErrShortBuffer }

// Reader decodes wire-order fields from a byte slice. The first failure is
// sticky: later reads return zero values and Err reports the original error.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) Offset() int    { return r.off }
func (r *Reader) Remaining() int { return len(r.buf) - r.off }
func (r *Reader) Err() error     { return r.err }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.err = &ShortError{Offset: r.off, Need: n, Have: r.Remaining()}
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return Normalize(binary.NativeEndian.Uint16(b), ToHost)
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return Normalize(binary.NativeEndian.Uint32(b), ToHost)
}

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return Normalize(binary.NativeEndian.Uint64(b), ToHost)
}

func (r *Reader) I16() int16 { return int16(r.U16()) }
func (r *Reader) I32() int32 { return int32(r.U32()) }

func (r *Reader) F32() float32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	raw := math.Float32frombits(binary.NativeEndian.Uint32(b))
	return NormalizeFloat(raw, ToHost)
}

func (r *Reader) F64() float64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	raw := math.Float64frombits(binary.NativeEndian.Uint64(b))
	return NormalizeFloat(raw, ToHost)
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) []byte { return r.take(n) }

// Skip advances past n bytes.
func (r *Reader) Skip(n int) { r.take(n) }

// String reads a fixed-width, NUL-padded text field.
func (r *Reader) String(n int) string {
	b := r.take(n)
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Writer appends wire-order fields to a growing buffer.
type Writer struct {
	buf []byte
}

// NewWriter starts a writer with room for sizeHint bytes.
func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

// AppendTo continues writing after the existing contents of b.
func AppendTo(b []byte) *Writer {
	return &Writer{buf: b}
}

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) U16(v uint16) {
	w.buf = binary.NativeEndian.AppendUint16(w.buf, Normalize(v, ToWire))
}

func (w *Writer) U32(v uint32) {
	w.buf = binary.NativeEndian.AppendUint32(w.buf, Normalize(v, ToWire))
}

func (w *Writer) U64(v uint64) {
	w.buf = binary.NativeEndian.AppendUint64(w.buf, Normalize(v, ToWire))
}

func (w *Writer) I16(v int16) { w.U16(uint16(v)) }
func (w *Writer) I32(v int32) { w.U32(uint32(v)) }

func (w *Writer) F32(v float32) {
	w.buf = binary.NativeEndian.AppendUint32(w.buf, math.Float32bits(NormalizeFloat(v, ToWire)))
}

func (w *Writer) F64(v float64) {
	w.buf = binary.NativeEndian.AppendUint64(w.buf, math.Float64bits(NormalizeFloat(v, ToWire)))
}

// Raw appends b verbatim.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Zero appends n zero bytes.
func (w *Writer) Zero(n int) {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

// String writes s into a fixed n-byte field, truncating and NUL-padding.
func (w *Writer) String(s string, n int) {
	if n <= 0 {
		return
	}
	if len(s) > n {
		s = s[:n]
	}
	w.buf = append(w.buf, s...)
	w.Zero(n - len(s))
}

// PutU16 and PutU32 patch already-written fields, such as a size known only
// after the payload was built.
func PutU16(b []byte, v uint16) { binary.NativeEndian.PutUint16(b, Normalize(v, ToWire)) }
func PutU32(b []byte, v uint32) { binary.NativeEndian.PutUint32(b, Normalize(v, ToWire)) }
func PutU64(b []byte, v uint64) { binary.NativeEndian.PutUint64(b, Normalize(v, ToWire)) }

// U16At, U32At and U64At read a single field without a cursor. The caller
// guarantees the slice is long enough.
func U16At(b []byte) uint16 { return Normalize(binary.NativeEndian.Uint16(b), ToHost) }
func U32At(b []byte) uint32 { return Normalize(binary.NativeEndian.Uint32(b), ToHost) }
func U64At(b []byte) uint64 { return Normalize(binary.NativeEndian.Uint64(b), ToHost) }
