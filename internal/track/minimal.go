// Package track encodes the track report family: Minimal, Normal and the
// feature-mask Extended report, plus the alert logic message that shares the
// variant layout.
package track

import (
	"fmt"

	"example.com/radarwire/internal/packet"
	"example.com/radarwire/internal/wire"
)

// Status is the lifecycle state of a track.
type Status uint8

const (
	StatusDeleted     Status = 0
	StatusProvisional Status = 1
	StatusEstablished Status = 2
	StatusLost        Status = 3
	StatusPlot        Status = 4
	StatusUnknown     Status = 9
)

func (s Status) String() string {
	switch s {
	case StatusDeleted:
		return "deleted"
	case StatusProvisional:
		return "provisional"
	case StatusEstablished:
		return "established"
	case StatusLost:
		return "lost"
	case StatusPlot:
		return "plot"
	case StatusUnknown:
		return "unknown"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Validity gives the reason a track is flagged invalid.
type Validity uint8

const (
	ValidityNone            Validity = 0
	ValidityGeneral         Validity = 1
	ValidityConfidence      Validity = 2
	ValidityLost            Validity = 3
	ValiditySpeedBad        Validity = 10
	ValiditySpeedUnstable   Validity = 11
	ValiditySpeedLow        Validity = 12
	ValiditySpeedHigh       Validity = 13
	ValiditySpeedRadial     Validity = 14
	ValidityCourseBad       Validity = 20
	ValidityCourseUnstable  Validity = 21
	ValidityPositionInvalid Validity = 30
	ValidityPositionRange   Validity = 31
	ValidityPositionTerrain Validity = 32
)

// Flags is the target flag bitfield.
type Flags uint8

const (
	FlagSimulated    Flags = 0x01
	FlagTest         Flags = 0x02
	FlagManualInit   Flags = 0x04
	FlagOnGround     Flags = 0x08
	FlagFixed        Flags = 0x10
	FlagExtrapolated Flags = 0x20
	FlagFiltered     Flags = 0x40
)

// MinimalSize is the encoded size of a Minimal report.
const MinimalSize = 56

// Minimal is the smallest track report.
type Minimal struct {
	ID             uint32
	SenderID       uint8
	Status         Status
	NumCoasts      uint8
	IDTTM          uint8
	RangeMetres    float32
	AzimuthDegrees float32
	SpeedMps       float32
	CourseDegrees  float32
	SizeMetres     float32
	SizeDegrees    float32
	Weight         uint32
	Strength       uint32
	Flags          Flags
	Validity       Validity
	UniTrackType   uint8
	SourceIndex    uint8
}

func (m *Minimal) put(w *wire.Writer) {
	w.U32(m.ID)
	w.U8(m.SenderID)
	w.U8(uint8(m.Status))
	w.U8(m.NumCoasts)
	w.U8(m.IDTTM)
	w.F32(m.RangeMetres)
	w.F32(m.AzimuthDegrees)
	w.F32(m.SpeedMps)
	w.F32(m.CourseDegrees)
	w.F32(m.SizeMetres)
	w.F32(m.SizeDegrees)
	w.U32(m.Weight)
	w.U32(m.Strength)
	w.U8(uint8(m.Flags))
	w.U8(uint8(m.Validity))
	w.U8(m.UniTrackType)
	w.U8(m.SourceIndex)
	w.Zero(12)
}

func (m *Minimal) get(r *wire.Reader) {
	m.ID = r.U32()
	m.SenderID = r.U8()
	m.Status = Status(r.U8())
	m.NumCoasts = r.U8()
	m.IDTTM = r.U8()
	m.RangeMetres = r.F32()
	m.AzimuthDegrees = r.F32()
	m.SpeedMps = r.F32()
	m.CourseDegrees = r.F32()
	m.SizeMetres = r.F32()
	m.SizeDegrees = r.F32()
	m.Weight = r.U32()
	m.Strength = r.U32()
	m.Flags = Flags(r.U8())
	m.Validity = Validity(r.U8())
	m.UniTrackType = r.U8()
	m.SourceIndex = r.U8()
	r.Skip(12)
}

// MarshalBinary encodes the report in wire order.
func (m *Minimal) MarshalBinary() ([]byte, error) {
	w := wire.NewWriter(MinimalSize)
	m.put(w)
	return w.Bytes(), nil
}

// UnmarshalBinary decodes exactly MinimalSize bytes.
func (m *Minimal) UnmarshalBinary(b []byte) error {
	return decodeFixed("track minimal", b, MinimalSize, m.get)
}

func decodeFixed(op string, b []byte, size int, get func(*wire.Reader)) error {
	if len(b) < size {
		return packet.Errorf(op, int64(len(b)), packet.ErrTruncated, "need %d bytes, have %d", size, len(b))
	}
	if len(b) > size {
		return packet.Errorf(op, int64(size), packet.ErrSizeMismatch, "%d bytes, want %d", len(b), size)
	}
	r := wire.NewReader(b)
	get(r)
	return r.Err()
}
