package track

import "example.com/radarwire/internal/wire"

// NormalSize is the encoded size of a Normal report.
const NormalSize = MinimalSize + 56

// ClassType says how TrackClass is to be interpreted.
type ClassType uint8

const (
	ClassTypeMHT       ClassType = 0x00
	ClassTypeASTERIX   ClassType = 0x01
	ClassTypeGeoJSON   ClassType = 0x02
	ClassTypeAeroscope ClassType = 0x04
)

// Normal adds measured position, its standard deviations and classification
// to a Minimal report.
type Normal struct {
	Minimal
	XMetres         float32
	YMetres         float32
	MeasRange       float32
	MeasAzimuth     float32
	MeasSizeMetres  float32
	MeasSizeDegrees float32
	SDRange         float32
	SDAzimuth       float32
	SDRangeSize     float32
	SDAzimuthSize   float32
	// NumDetectionsPQ holds P hits (low byte) out of Q scans (high byte).
	NumDetectionsPQ uint16
	TrackClass      uint16
	TrackClassType  ClassType
}

// Hits splits NumDetectionsPQ.
func (n *Normal) Hits() (p, q uint8) {
	return uint8(n.NumDetectionsPQ), uint8(n.NumDetectionsPQ >> 8)
}

func (n *Normal) put(w *wire.Writer) {
	n.Minimal.put(w)
	w.F32(n.XMetres)
	w.F32(n.YMetres)
	w.F32(n.MeasRange)
	w.F32(n.MeasAzimuth)
	w.F32(n.MeasSizeMetres)
	w.F32(n.MeasSizeDegrees)
	w.F32(n.SDRange)
	w.F32(n.SDAzimuth)
	w.F32(n.SDRangeSize)
	w.F32(n.SDAzimuthSize)
	w.U16(n.NumDetectionsPQ)
	w.U16(n.TrackClass)
	w.U8(uint8(n.TrackClassType))
	w.Zero(1 + 2 + 8)
}

func (n *Normal) get(r *wire.Reader) {
	n.Minimal.get(r)
	n.XMetres = r.F32()
	n.YMetres = r.F32()
	n.MeasRange = r.F32()
	n.MeasAzimuth = r.F32()
	n.MeasSizeMetres = r.F32()
	n.MeasSizeDegrees = r.F32()
	n.SDRange = r.F32()
	n.SDAzimuth = r.F32()
	n.SDRangeSize = r.F32()
	n.SDAzimuthSize = r.F32()
	n.NumDetectionsPQ = r.U16()
	n.TrackClass = r.U16()
	n.TrackClassType = ClassType(r.U8())
	r.Skip(1 + 2 + 8)
}

func (n *Normal) MarshalBinary() ([]byte, error) {
	w := wire.NewWriter(NormalSize)
	n.put(w)
	return w.Bytes(), nil
}

func (n *Normal) UnmarshalBinary(b []byte) error {
	return decodeFixed("track normal", b, NormalSize, n.get)
}
