// Package packet frames messages with the two header shapes of the protocol
// and keeps the registry of message kinds.
//
// Header A (4 bytes):  magic u16 | tag u8 | total size u8
// Header B (16 bytes): magic u16 | tag u16 | total size u32 | secs u32 | usecs u32
//
// The magic sits at offset 0 in both shapes so a reader can peek it before
// deciding how much header to decode. Sizes include the header itself.
package packet

import (
	"fmt"
	"time"

	"example.com/radarwire/internal/wire"
)

const (
	MagicA uint16 = 'C'<<8 | 'A'
	MagicB uint16 = 'C'<<8 | 'B'

	HeaderASize = 4
	HeaderBSize = 16

	// MaxPayloadA is the largest payload a Header A packet can frame.
	MaxPayloadA = 0xFF - HeaderASize
)

// Kind is the outcome of peeking a buffer.
type Kind uint8

const (
	KindUnrecognized Kind = iota
	KindIncomplete
	KindA
	KindB
)

func (k Kind) String() string {
	switch k {
	case KindA:
		return "A"
	case KindB:
		return "B"
	case KindIncomplete:
		return "incomplete"
	default:
		return "unrecognized"
	}
}

// HeaderSize is the number of header bytes for the shape.
func (k Kind) HeaderSize() int {
	switch k {
	case KindA:
		return HeaderASize
	case KindB:
		return HeaderBSize
	}
	return 0
}

// Header is a decoded packet header.
type Header struct {
	Kind  Kind
	Tag   Tag
	Size  uint32 // total framed size, header included
	Secs  uint32 // Header B only
	Usecs uint32 // Header B only
}

// PayloadOffset is the number of header bytes before the payload.
func (h Header) PayloadOffset() int { return h.Kind.HeaderSize() }

// PayloadLen is the number of payload bytes after the header.
func (h Header) PayloadLen() int { return int(h.Size) - h.PayloadOffset() }

// HasTime reports whether the header carries a timestamp.
func (h Header) HasTime() bool { return h.Kind == KindB }

// Time returns the timestamp of a Header B packet, or the zero time.
func (h Header) Time() time.Time {
	if !h.HasTime() {
		return time.Time{}
	}
	return time.Unix(int64(h.Secs), int64(h.Usecs)*int64(time.Microsecond)).UTC()
}

// SetTime stores t as seconds and microseconds.
func (h *Header) SetTime(t time.Time) {
	h.Secs = uint32(t.Unix())
	h.Usecs = uint32(t.Nanosecond() / int(time.Microsecond))
}

func (h Header) String() string {
	if h.Kind == KindB {
		return fmt.Sprintf("B %s size=%d time=%d.%06d", h.Tag, h.Size, h.Secs, h.Usecs)
	}
	return fmt.Sprintf("A %s size=%d", h.Tag, h.Size)
}

// PeekKind inspects the first 16 bits of buf. It never consumes anything, so
// calling it repeatedly on the same bytes gives the same answer.
func PeekKind(buf []byte) Kind {
	if len(buf) < 2 {
		return KindIncomplete
	}
	switch wire.U16At(buf) {
	case MagicA:
		return KindA
	case MagicB:
		return KindB
	}
	return KindUnrecognized
}

// DecodeHeader reads the header at the start of buf. A buffer too short for
// the header is ErrIncomplete; an unknown magic or a size smaller than the
// header itself is ErrCorrupt. The payload does not need to be present yet.
func DecodeHeader(buf []byte) (Header, error) {
	kind := PeekKind(buf)
	switch kind {
	case KindIncomplete:
		return Header{}, Errorf("decode header", 0, ErrIncomplete, "have %d bytes", len(buf))
	case KindUnrecognized:
		return Header{}, Errorf("decode header", 0, ErrCorrupt, "magic %#04x", wire.U16At(buf))
	}
	if len(buf) < kind.HeaderSize() {
		return Header{}, Errorf("decode header", 0, ErrIncomplete, "header %s needs %d bytes, have %d", kind, kind.HeaderSize(), len(buf))
	}
	r := wire.NewReader(buf)
	r.Skip(2)
	h := Header{Kind: kind}
	if kind == KindA {
		h.Tag = Tag(r.U8())
		h.Size = uint32(r.U8())
	} else {
		h.Tag = Tag(r.U16())
		h.Size = r.U32()
		h.Secs = r.U32()
		h.Usecs = r.U32()
	}
	if err := r.Err(); err != nil {
		return Header{}, Errorf("decode header", int64(r.Offset()), ErrIncomplete, "%v", err)
	}
	if int(h.Size) < kind.HeaderSize() {
		return Header{}, Errorf("decode header", 0, ErrCorrupt, "size %d smaller than header %s", h.Size, kind)
	}
	return h, nil
}

// Frame decodes the header at the start of buf and returns the payload. It
// reports ErrIncomplete until the whole packet is available.
func Frame(buf []byte) (Header, []byte, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Header{}, nil, err
	}
	if uint64(len(buf)) < uint64(h.Size) {
		return h, nil, Errorf("frame", 0, ErrIncomplete, "packet needs %d bytes, have %d", h.Size, len(buf))
	}
	return h, buf[h.PayloadOffset():h.Size], nil
}

// Append writes the header to dst. Size must already hold the total framed
// size.
func (h Header) Append(dst []byte) []byte {
	w := wire.AppendTo(dst)
	switch h.Kind {
	case KindA:
		w.U16(MagicA)
		w.U8(uint8(h.Tag))
		w.U8(uint8(h.Size))
	default:
		w.U16(MagicB)
		w.U16(uint16(h.Tag))
		w.U32(h.Size)
		w.U32(h.Secs)
		w.U32(h.Usecs)
	}
	return w.Bytes()
}

// BuildA frames payload behind a Header A.
func BuildA(tag Tag, payload []byte) ([]byte, error) {
	if tag > 0xFF {
		return nil, fmt.Errorf("packet: tag %s does not fit header A", tag)
	}
	if len(payload) > MaxPayloadA {
		return nil, fmt.Errorf("packet: payload of %d bytes exceeds header A limit %d", len(payload), MaxPayloadA)
	}
	h := Header{Kind: KindA, Tag: tag, Size: uint32(HeaderASize + len(payload))}
	out := h.Append(make([]byte, 0, h.Size))
	return append(out, payload...), nil
}

// BuildB frames payload behind a Header B stamped with ts.
func BuildB(tag Tag, ts time.Time, payload []byte) []byte {
	h := Header{Kind: KindB, Tag: tag, Size: uint32(HeaderBSize + len(payload))}
	if !ts.IsZero() {
		h.SetTime(ts)
	}
	out := h.Append(make([]byte, 0, h.Size))
	return append(out, payload...)
}
