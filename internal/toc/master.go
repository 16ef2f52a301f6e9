package toc

import (
	"fmt"
	"time"

	"example.com/radarwire/internal/packet"
	"example.com/radarwire/internal/wire"
)

const (
	// MasterBlockSize is the encoded size of a MasterBlock.
	MasterBlockSize = 64
	// ProtocolVersion is the only master block layout understood.
	ProtocolVersion = 1
)

// Screen describes one recorded display.
type Screen struct {
	ID     uint8
	Depth  uint8
	Width  uint16
	Height uint16
}

func (s *Screen) put(w *wire.Writer) {
	w.U8(s.ID)
	w.U8(s.Depth)
	w.U16(0)
	w.U16(s.Width)
	w.U16(s.Height)
}

func (s *Screen) get(r *wire.Reader) {
	s.ID = r.U8()
	s.Depth = r.U8()
	r.Skip(2)
	s.Width = r.U16()
	s.Height = r.U16()
}

// MasterBlock opens every recording file and describes it as a whole.
type MasterBlock struct {
	HeaderSize      uint16
	ProtocolVersion uint8
	// ScreenMask has bit n set when Screens[n] was recorded.
	ScreenMask      uint8
	Screens         [3]Screen
	StartSecs       uint32
	StartUsecs      uint32
	EndSecs         uint32
	EndUsecs        uint32
	DurationSecs    uint32
	FramesPerSecond uint32
}

// NewMasterBlock returns a block for a recording starting at start.
func NewMasterBlock(start time.Time) MasterBlock {
	return MasterBlock{
		HeaderSize:      MasterBlockSize,
		ProtocolVersion: ProtocolVersion,
		StartSecs:       uint32(start.Unix()),
		StartUsecs:      uint32(start.Nanosecond() / 1000),
	}
}

// SetEnd records the end time and rounds the duration up to whole seconds.
func (m *MasterBlock) SetEnd(end time.Time) {
	m.EndSecs = uint32(end.Unix())
	m.EndUsecs = uint32(end.Nanosecond() / 1000)
	d := end.Sub(m.Start())
	if d < 0 {
		d = 0
	}
	m.DurationSecs = uint32((d + time.Second - 1) / time.Second)
}

func (m MasterBlock) Start() time.Time {
	return time.Unix(int64(m.StartSecs), int64(m.StartUsecs)*1000).UTC()
}

func (m MasterBlock) End() time.Time {
	return time.Unix(int64(m.EndSecs), int64(m.EndUsecs)*1000).UTC()
}

func (m MasterBlock) MarshalBinary() ([]byte, error) {
	w := wire.NewWriter(MasterBlockSize)
	w.U16(m.HeaderSize)
	w.U8(m.ProtocolVersion)
	w.U8(m.ScreenMask)
	m.Screens[0].put(w)
	m.Screens[1].put(w)
	w.U32(m.StartSecs)
	w.U32(m.StartUsecs)
	w.U32(m.EndSecs)
	w.U32(m.EndUsecs)
	w.U32(m.DurationSecs)
	w.U32(m.FramesPerSecond)
	m.Screens[2].put(w)
	w.Zero(12)
	return w.Bytes(), nil
}

// UnmarshalBinary decodes the first MasterBlockSize bytes of b. A protocol
// version other than ProtocolVersion is ErrUnsupportedVersion since nothing
// after the first word can be trusted.
func (m *MasterBlock) UnmarshalBinary(b []byte) error {
	if len(b) < MasterBlockSize {
		return packet.Errorf("master block", int64(len(b)), packet.ErrTruncated, "need %d bytes, have %d", MasterBlockSize, len(b))
	}
	r := wire.NewReader(b[:MasterBlockSize])
	var out MasterBlock
	out.HeaderSize = r.U16()
	out.ProtocolVersion = r.U8()
	if out.ProtocolVersion != ProtocolVersion {
		return fmt.Errorf("%w: master block protocol %d", ErrUnsupportedVersion, out.ProtocolVersion)
	}
	out.ScreenMask = r.U8()
	out.Screens[0].get(r)
	out.Screens[1].get(r)
	out.StartSecs = r.U32()
	out.StartUsecs = r.U32()
	out.EndSecs = r.U32()
	out.EndUsecs = r.U32()
	out.DurationSecs = r.U32()
	out.FramesPerSecond = r.U32()
	out.Screens[2].get(r)
	*m = out
	return r.Err()
}
