// Package variant encodes payloads whose optional sub-blocks are selected by a
// 32-bit feature mask.
//
// Layout: base bytes | mask u32 | block for each set bit, ascending bit order.
//
// Blocks carry no length prefix. A decoder walks the set bits in order and
// consumes the size its table gives for each one; a set bit missing from the
// table stops the walk because nothing says where the next block starts.
package variant

import (
	"fmt"
	"math/bits"
	"sort"

	"example.com/radarwire/internal/packet"
	"example.com/radarwire/internal/wire"
)

// Bit is a feature mask bit index, 0-31.
type Bit uint8

// MaxBits is the width of the feature mask.
const MaxBits = 32

// Mask returns the mask value with only b set.
func (b Bit) Mask() uint32 { return 1 << b }

// MaskSize is the number of bytes the mask occupies on the wire.
const MaskSize = 4

// SizeTable gives the block size of every bit a decoder knows. Zero is a valid
// size for flag-only bits.
type SizeTable map[Bit]int

// Clone returns an independent copy.
func (t SizeTable) Clone() SizeTable {
	out := make(SizeTable, len(t))
	for b, n := range t {
		out[b] = n
	}
	return out
}

// Extend returns a copy of t with more entries added.
func (t SizeTable) Extend(more SizeTable) SizeTable {
	out := t.Clone()
	for b, n := range more {
		out[b] = n
	}
	return out
}

// Sum adds up the sizes of the bits set in mask. ok is false if any set bit is
// missing from the table.
func (t SizeTable) Sum(mask uint32) (total int, ok bool) {
	ok = true
	for m := mask; m != 0; m &= m - 1 {
		b := Bit(bits.TrailingZeros32(m))
		n, known := t[b]
		if !known {
			ok = false
			continue
		}
		total += n
	}
	return total, ok
}

// Schema describes one message family: the fixed base before the mask and the
// block sizes known at a given protocol revision.
type Schema struct {
	Name     string
	BaseSize int
	Sizes    SizeTable
}

// With returns a schema that also knows bit's size, for blocks whose size is
// learned from a side channel.
func (s Schema) With(bit Bit, size int) Schema {
	s.Sizes = s.Sizes.Extend(SizeTable{bit: size})
	return s
}

// EncodedSize is the total length of a message with the given mask.
func (s Schema) EncodedSize(mask uint32) (int, error) {
	n, ok := s.Sizes.Sum(mask)
	if !ok {
		return 0, fmt.Errorf("%s: mask %#08x: %w", s.Name, mask, packet.ErrUnknownFeatureBit)
	}
	return s.BaseSize + MaskSize + n, nil
}

// Encode emits base, the mask built from the keys of blocks, then every block
// in ascending bit order. Every block must match its table size exactly.
func Encode(s Schema, base []byte, blocks map[Bit][]byte) ([]byte, error) {
	if len(base) != s.BaseSize {
		return nil, fmt.Errorf("%s: base is %d bytes, want %d", s.Name, len(base), s.BaseSize)
	}
	var mask uint32
	for b, data := range blocks {
		if b >= MaxBits {
			return nil, fmt.Errorf("%s: bit %d out of range", s.Name, b)
		}
		size, ok := s.Sizes[b]
		if !ok {
			return nil, fmt.Errorf("%s: bit %d: %w", s.Name, b, packet.ErrUnknownFeatureBit)
		}
		if len(data) != size {
			return nil, fmt.Errorf("%s: bit %d block is %d bytes, want %d", s.Name, b, len(data), size)
		}
		mask |= b.Mask()
	}
	total, err := s.EncodedSize(mask)
	if err != nil {
		return nil, err
	}
	w := wire.NewWriter(total)
	w.Raw(base)
	w.U32(mask)
	for m := mask; m != 0; m &= m - 1 {
		w.Raw(blocks[Bit(bits.TrailingZeros32(m))])
	}
	return w.Bytes(), nil
}

// Message is a decoded variant payload. Block slices alias the decoded buffer.
type Message struct {
	Base []byte
	Mask uint32

	blocks  map[Bit][]byte
	order   []Bit
	offsets map[Bit]int

	// Partial is set when decoding stopped at a bit the table does not know.
	Partial bool
	// Unknown is the first bit that could not be sized when Partial is set.
	Unknown Bit
	// Tail holds the undecoded bytes from the first unknown block onwards.
	Tail []byte
}

// Block returns the bytes of bit's block. A bit that is not present reports
// false; that is not an error.
func (m *Message) Block(b Bit) ([]byte, bool) {
	data, ok := m.blocks[b]
	return data, ok
}

// Has reports whether the mask sets bit b, whether or not it was decoded.
func (m *Message) Has(b Bit) bool { return m.Mask&b.Mask() != 0 }

// Bits lists the decoded bits in wire order.
func (m *Message) Bits() []Bit { return append([]Bit(nil), m.order...) }

// Offset returns where bit's block starts within the decoded buffer.
func (m *Message) Offset(b Bit) (int, bool) {
	off, ok := m.offsets[b]
	return off, ok
}

// Blocks returns a copy of the decoded blocks keyed by bit.
func (m *Message) Blocks() map[Bit][]byte {
	out := make(map[Bit][]byte, len(m.blocks))
	for b, data := range m.blocks {
		out[b] = data
	}
	return out
}

// Decode splits buf according to s. The whole of buf is expected to be one
// message: bytes left after the last block are ErrSizeMismatch. When a set bit
// has no size in the table the returned message holds the blocks decoded so
// far plus the raw tail, and the error matches both ErrPartiallyUnderstood and
// ErrUnknownFeatureBit.
func Decode(s Schema, buf []byte) (*Message, error) {
	r := wire.NewReader(buf)
	base := r.Bytes(s.BaseSize)
	mask := r.U32()
	if r.Err() != nil {
		return nil, packet.Errorf(s.Name, int64(r.Offset()), packet.ErrTruncated, "base and mask need %d bytes, have %d", s.BaseSize+MaskSize, len(buf))
	}
	msg := &Message{
		Base:    base,
		Mask:    mask,
		blocks:  make(map[Bit][]byte, bits.OnesCount32(mask)),
		offsets: make(map[Bit]int, bits.OnesCount32(mask)),
	}
	for m := mask; m != 0; m &= m - 1 {
		b := Bit(bits.TrailingZeros32(m))
		size, ok := s.Sizes[b]
		if !ok {
			msg.Partial = true
			msg.Unknown = b
			msg.Tail = buf[r.Offset():]
			return msg, &PartialError{Schema: s.Name, Bit: b, Offset: r.Offset()}
		}
		start := r.Offset()
		data := r.Bytes(size)
		if r.Err() != nil {
			return nil, packet.Errorf(s.Name, int64(start), packet.ErrTruncated, "bit %d block needs %d bytes, have %d", b, size, len(buf)-start)
		}
		msg.blocks[b] = data
		msg.offsets[b] = start
		msg.order = append(msg.order, b)
	}
	if r.Remaining() != 0 {
		return nil, packet.Errorf(s.Name, int64(r.Offset()), packet.ErrSizeMismatch, "%d bytes after the last block", r.Remaining())
	}
	return msg, nil
}

// PartialError reports the first set bit a decoder could not size.
type PartialError struct {
	Schema string
	Bit    Bit
	Offset int
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%s: bit %d at offset %d: %v", e.Schema, e.Bit, e.Offset, packet.ErrPartiallyUnderstood)
}

// Is matches both ErrPartiallyUnderstood and ErrUnknownFeatureBit.
func (e *PartialError) Is(target error) bool {
	return target == packet.ErrPartiallyUnderstood || target == packet.ErrUnknownFeatureBit
}

// SortedBits returns the keys of a block map in wire order.
func SortedBits(blocks map[Bit][]byte) []Bit {
	out := make([]Bit, 0, len(blocks))
	for b := range blocks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
