package toc

import (
	"fmt"

	"example.com/radarwire/internal/packet"
	"example.com/radarwire/internal/wire"
)

const (
	// HeaderSize is the fixed part of an on-disk table, before the entries.
	HeaderSize = 80
	// EntrySize is one on-disk entry.
	EntrySize = 16
	// HeaderVersion is the layout written by this package. Zero is accepted
	// on read for files whose writer left the field unset.
	HeaderVersion = 1
)

// Header is the fixed part of the on-disk table of contents.
type Header struct {
	StartSecs   uint32
	EndSecs     uint32
	NumChannels uint8
	Version     uint32
	// Resolution occupies the first reserved word. Zero means unknown.
	Resolution uint32
	// OffsetToNextName is the absolute offset of a next-name packet, or 0.
	OffsetToNextName uint64
	// Size is the capacity of the entry array, Used the entries in use.
	Size uint32
	Used uint32
}

// Table is a header and its entry array as stored in a recording.
type Table struct {
	Header
	Entries []Entry
}

// EncodedSize is the on-disk size of a table with the given capacity.
func EncodedSize(capacity int) int { return HeaderSize + capacity*EntrySize }

// TableOf converts a snapshot into a table ready to be written.
func TableOf(s Snapshot, numChannels uint8, nextName uint64) Table {
	return Table{
		Header: Header{
			StartSecs:        s.Start,
			EndSecs:          s.End,
			NumChannels:      numChannels,
			Version:          HeaderVersion,
			Resolution:       s.Resolution,
			OffsetToNextName: nextName,
			Size:             uint32(s.Capacity),
			Used:             uint32(len(s.Entries)),
		},
		Entries: s.Entries,
	}
}

// Snapshot converts a decoded table back into index state.
func (t Table) Snapshot() Snapshot {
	res := t.Resolution
	if res == 0 {
		res = DefaultResolution
	}
	return Snapshot{
		Entries:    t.Entries,
		Capacity:   int(t.Size),
		Resolution: res,
		Start:      t.StartSecs,
		End:        t.EndSecs,
	}
}

// MarshalBinary writes the header followed by Size entries, unused slots
// zeroed.
func (t Table) MarshalBinary() ([]byte, error) {
	if len(t.Entries) > int(t.Size) {
		return nil, fmt.Errorf("%w: %d entries, capacity %d", ErrCapacity, len(t.Entries), t.Size)
	}
	w := wire.NewWriter(EncodedSize(int(t.Size)))
	w.U32(t.StartSecs)
	w.U32(t.EndSecs)
	w.U8(t.NumChannels)
	w.U8(0)
	w.U16(0)
	w.U32(t.Version)
	w.U32(t.Resolution)
	w.Zero(12)
	w.U64(t.OffsetToNextName)
	w.Zero(24)
	w.U32(t.Size)
	w.U32(uint32(len(t.Entries)))
	w.Zero(8)
	for _, e := range t.Entries {
		w.U32(e.Secs)
		w.U32(0)
		w.U64(e.Offset)
	}
	w.Zero((int(t.Size) - len(t.Entries)) * EntrySize)
	return w.Bytes(), nil
}

// UnmarshalBinary decodes a table. b may be longer than the table; the extra
// bytes are ignored so callers can pass the rest of a payload.
func (t *Table) UnmarshalBinary(b []byte) error {
	const op = "toc header"
	r := wire.NewReader(b)
	var h Header
	h.StartSecs = r.U32()
	h.EndSecs = r.U32()
	h.NumChannels = r.U8()
	r.Skip(3)
	h.Version = r.U32()
	h.Resolution = r.U32()
	r.Skip(12)
	h.OffsetToNextName = r.U64()
	r.Skip(24)
	h.Size = r.U32()
	h.Used = r.U32()
	r.Skip(8)
	if r.Err() != nil {
		return packet.Errorf(op, int64(len(b)), packet.ErrTruncated, "header needs %d bytes, have %d", HeaderSize, len(b))
	}
	if h.Version > HeaderVersion {
		return fmt.Errorf("%w: header version %d", ErrUnsupportedVersion, h.Version)
	}
	if h.Used > h.Size {
		return fmt.Errorf("%w: used %d, size %d", ErrCapacity, h.Used, h.Size)
	}
	if need := EncodedSize(int(h.Size)); len(b) < need {
		return packet.Errorf(op, int64(len(b)), packet.ErrTruncated, "%d entries need %d bytes, have %d", h.Size, need, len(b))
	}
	entries := make([]Entry, h.Used)
	for i := range entries {
		entries[i].Secs = r.U32()
		r.Skip(4)
		entries[i].Offset = r.U64()
	}
	t.Header = h
	t.Entries = entries
	return nil
}
