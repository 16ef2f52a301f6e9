package track

import (
	"time"

	"example.com/radarwire/internal/variant"
	"example.com/radarwire/internal/wire"
)

// Feature mask bits of the Extended report. Assignments are fixed forever;
// new blocks take the next free bit.
const (
	BitRadialSpeed  variant.Bit = 0
	BitAge          variant.Bit = 1
	BitLatLong      variant.Bit = 2
	BitMsgTime      variant.Bit = 3
	BitSensorData   variant.Bit = 4
	BitAltitude     variant.Bit = 5
	BitFusion       variant.Bit = 6
	BitSecondary    variant.Bit = 7
	BitLatLongMeas  variant.Bit = 8
	BitGate         variant.Bit = 9
	BitCPA          variant.Bit = 10
	BitThreat       variant.Bit = 11
	BitDescription  variant.Bit = 12
	BitAccel        variant.Bit = 13
	BitMotionStatus variant.Bit = 14
	BitEventTime    variant.Bit = 15
	BitVelocitySD   variant.Bit = 16
	BitIJMS         variant.Bit = 17
	BitMIL2525D     variant.Bit = 18
	BitAltitudeSD   variant.Bit = 19
	BitRST          variant.Bit = 20
	BitMHT          variant.Bit = 21
	// BitContinued marks a logical record split over several reports. It
	// carries no block.
	BitContinued variant.Bit = 31
)

// Block sizes on the wire.
const (
	radialSpeedSize  = 8
	ageSize          = 4
	latLongSize      = 8
	timestampSize    = 8
	SensorDataMax    = 128
	sensorDataSize   = 4 + SensorDataMax
	altitudeSize     = 4
	fusionSize       = 128
	secondarySize    = 128
	gateSize         = 16
	cpaSize          = 8
	threatSize       = 64
	DescriptionMax   = 62
	descriptionSize  = 2 + DescriptionMax
	accelSize        = 8
	motionStatusSize = 4
	velocitySDSize   = 8
	ijmsSize         = 4
	mil2525DSize     = 8
	altitudeSDSize   = 4
	rstSize          = 96
	mhtSize          = 64
)

const (
	MaxTrackIDs      = 8
	secondaryNameLen = 21
	threatNameLen    = 32
)

// Revision selects which block sizes a codec knows.
type Revision uint8

const (
	// Revision1 knows bits 0-16 and the continued flag.
	Revision1 Revision = 1
	// Revision2 adds IJMS, MIL-2525-D and altitude SD.
	Revision2 Revision = 2
	// Revision3 adds the RST and MHT blocks.
	Revision3 Revision = 3

	LatestRevision = Revision3
)

var revision1Sizes = variant.SizeTable{
	BitRadialSpeed:  radialSpeedSize,
	BitAge:          ageSize,
	BitLatLong:      latLongSize,
	BitMsgTime:      timestampSize,
	BitSensorData:   sensorDataSize,
	BitAltitude:     altitudeSize,
	BitFusion:       fusionSize,
	BitSecondary:    secondarySize,
	BitLatLongMeas:  latLongSize,
	BitGate:         gateSize,
	BitCPA:          cpaSize,
	BitThreat:       threatSize,
	BitDescription:  descriptionSize,
	BitAccel:        accelSize,
	BitMotionStatus: motionStatusSize,
	BitEventTime:    timestampSize,
	BitVelocitySD:   velocitySDSize,
	BitContinued:    0,
}

var revisionSizes = map[Revision]variant.SizeTable{
	Revision1: revision1Sizes,
	Revision2: revision1Sizes.Extend(variant.SizeTable{
		BitIJMS:       ijmsSize,
		BitMIL2525D:   mil2525DSize,
		BitAltitudeSD: altitudeSDSize,
	}),
}

func init() {
	revisionSizes[Revision3] = revisionSizes[Revision2].Extend(variant.SizeTable{
		BitRST: rstSize,
		BitMHT: mhtSize,
	})
}

// Sizes returns a copy of the block size table for rev. An unknown revision
// gets the latest table.
func Sizes(rev Revision) variant.SizeTable {
	t, ok := revisionSizes[rev]
	if !ok {
		t = revisionSizes[LatestRevision]
	}
	return t.Clone()
}

// SensorType identifies a kind of sensor in fusion and secondary blocks.
type SensorType uint32

const (
	SensorPrimary SensorType = 0x00000001
	SensorAIS     SensorType = 0x00000002
	SensorADSB    SensorType = 0x00000004
	SensorIFF     SensorType = 0x00000008
	SensorUser    SensorType = 0x00000010
	SensorOther   SensorType = 0x80000000
)

// RadialSpeed is positive towards the sensor.
type RadialSpeed struct {
	SpeedMps float32
	SD       float32
}

func (b *RadialSpeed) put(w *wire.Writer) { w.F32(b.SpeedMps); w.F32(b.SD) }
func (b *RadialSpeed) get(r *wire.Reader) { b.SpeedMps = r.F32(); b.SD = r.F32() }

// Age is counted in scans.
type Age struct {
	Scans uint32
}

func (b *Age) put(w *wire.Writer) { w.U32(b.Scans) }
func (b *Age) get(r *wire.Reader) { b.Scans = r.U32() }

// LatLong is a position in degrees, positive north and east.
type LatLong struct {
	LatDegs  float32
	LongDegs float32
}

func (b *LatLong) put(w *wire.Writer) { w.F32(b.LatDegs); w.F32(b.LongDegs) }
func (b *LatLong) get(r *wire.Reader) { b.LatDegs = r.F32(); b.LongDegs = r.F32() }

// Timestamp is seconds since the epoch plus microseconds.
type Timestamp struct {
	Secs  uint32
	Usecs uint32
}

// TimestampOf converts t.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp{Secs: uint32(t.Unix()), Usecs: uint32(t.Nanosecond() / 1000)}
}

func (b Timestamp) Time() time.Time {
	return time.Unix(int64(b.Secs), int64(b.Usecs)*1000).UTC()
}

func (b *Timestamp) put(w *wire.Writer) { w.U32(b.Secs); w.U32(b.Usecs) }
func (b *Timestamp) get(r *wire.Reader) { b.Secs = r.U32(); b.Usecs = r.U32() }

// SensorData is an opaque sensor-specific blob of up to SensorDataMax bytes.
type SensorData struct {
	Data []byte
}

func (b *SensorData) put(w *wire.Writer) {
	data := b.Data
	if len(data) > SensorDataMax {
		data = data[:SensorDataMax]
	}
	w.U32(uint32(len(data)))
	w.Raw(data)
	w.Zero(SensorDataMax - len(data))
}

func (b *SensorData) get(r *wire.Reader) {
	n := int(r.U32())
	raw := r.Bytes(SensorDataMax)
	if n > len(raw) {
		n = len(raw)
	}
	b.Data = append([]byte(nil), raw[:n]...)
}

type Altitude struct {
	Metres float32
}

func (b *Altitude) put(w *wire.Writer) { w.F32(b.Metres) }
func (b *Altitude) get(r *wire.Reader) { b.Metres = r.F32() }

// Fusion flag bits.
const (
	FusionAllCoasted    uint32 = 0x01
	FusionPSRToSSRSet   uint32 = 0x02
	FusionPSRToSSRValid uint32 = 0x04
)

// Fusion describes the sensors supporting a fused track. TrackIDs and the
// offsets are indexed by the rank of the bit in Sensors, not its position.
type Fusion struct {
	SensorTypes         SensorType
	Sensors             uint32
	TrackIDs            [MaxTrackIDs]uint32
	MaxRangeDiffMetres  float32
	Flags               uint32
	PSRToSSRRangeMetres float32
	PSRToSSRAziDegs     float32
	// Offsets of each contributing sensor from the fused position, in tenths
	// of metres, positive north and east.
	XOffsets [MaxTrackIDs]int16
	YOffsets [MaxTrackIDs]int16
}

// SensorTrackID returns the track ID reported by sensor index s.
func (b *Fusion) SensorTrackID(s uint) (uint32, bool) {
	if s >= 32 || b.Sensors&(1<<s) == 0 {
		return 0, false
	}
	rank := 0
	for i := uint(0); i < s; i++ {
		if b.Sensors&(1<<i) != 0 {
			rank++
		}
	}
	if rank >= MaxTrackIDs {
		return 0, false
	}
	return b.TrackIDs[rank], true
}

func (b *Fusion) put(w *wire.Writer) {
	w.U32(uint32(b.SensorTypes))
	w.U32(b.Sensors)
	for _, id := range b.TrackIDs {
		w.U32(id)
	}
	w.F32(b.MaxRangeDiffMetres)
	w.U32(b.Flags)
	w.F32(b.PSRToSSRRangeMetres)
	w.F32(b.PSRToSSRAziDegs)
	for _, x := range b.XOffsets {
		w.I16(x)
	}
	for _, y := range b.YOffsets {
		w.I16(y)
	}
	w.Zero(40)
}

func (b *Fusion) get(r *wire.Reader) {
	b.SensorTypes = SensorType(r.U32())
	b.Sensors = r.U32()
	for i := range b.TrackIDs {
		b.TrackIDs[i] = r.U32()
	}
	b.MaxRangeDiffMetres = r.F32()
	b.Flags = r.U32()
	b.PSRToSSRRangeMetres = r.F32()
	b.PSRToSSRAziDegs = r.F32()
	for i := range b.XOffsets {
		b.XOffsets[i] = r.I16()
	}
	for i := range b.YOffsets {
		b.YOffsets[i] = r.I16()
	}
	r.Skip(40)
}

// IFF validity flags of the secondary block.
const (
	IFFSPI         uint8 = 0x01
	IFFX           uint8 = 0x02
	IFFMode1       uint8 = 0x04
	IFFMode1Bit12  uint8 = 0x08
	IFFMode2       uint8 = 0x10
	IFFModeA       uint8 = 0x20
	IFFModeC       uint8 = 0x40
	IFFUncertain   uint8 = 0x80
	FieldAltRadar  uint8 = 0x01
	FieldAltFL     uint8 = 0x02
	FieldAltGeom   uint8 = 0x04
	FieldVRGeom    uint8 = 0x08
	FieldVRBaro    uint8 = 0x10
	StatusClimb    uint8 = 0x01
	StatusDescend  uint8 = 0x02
	StatusVRExceed uint8 = 0x04
)

// Secondary carries IFF, AIS or ADS-B information. IFF codes are octal
// digits packed three bits each.
type Secondary struct {
	SensorType          SensorType
	UniqueID            uint32
	Name                string
	TargetType          uint8
	TargetStatus        uint8
	TargetFlags         uint8
	IFFMode3A           uint16
	IFFMode2            uint16
	IFFMode1            uint8
	IFFFlags            uint8
	IFF12BitMode1       uint16
	TargetWidth         uint16
	TargetLength        uint16
	TargetDraught       float32
	TargetHeading       float32
	IFFMode3AConfidence uint16
	IFFMode2Confidence  uint16
	IFFMode1Confidence  uint8
	IFFConfidenceFlags  uint8
	CommsCapability     uint8
	IFFExtFlags         uint8
	IFFModeC            uint16
	IFFModeCConfidence  uint16
	FieldFlags          uint8
	StatusFlags         uint8
	AltitudeRadarMetres float32
	AltitudeFLMetres    float32
	AltitudeGeomMetres  float32
	VertRateGeom        float32
	VertRateBaro        float32
	TargetHeight        float32
}

func (b *Secondary) put(w *wire.Writer) {
	w.U32(uint32(b.SensorType))
	w.U32(b.UniqueID)
	name := b.Name
	if len(name) > secondaryNameLen-1 {
		name = name[:secondaryNameLen-1]
	}
	w.String(name, secondaryNameLen)
	w.U8(b.TargetType)
	w.U8(b.TargetStatus)
	w.U8(b.TargetFlags)
	w.U16(b.IFFMode3A)
	w.U16(b.IFFMode2)
	w.U8(b.IFFMode1)
	w.U8(b.IFFFlags)
	w.U16(b.IFF12BitMode1)
	w.U16(b.TargetWidth)
	w.U16(b.TargetLength)
	w.F32(b.TargetDraught)
	w.F32(b.TargetHeading)
	w.U16(b.IFFMode3AConfidence)
	w.U16(b.IFFMode2Confidence)
	w.U8(b.IFFMode1Confidence)
	w.U8(b.IFFConfidenceFlags)
	w.U8(b.CommsCapability)
	w.U8(b.IFFExtFlags)
	w.U16(b.IFFModeC)
	w.U16(b.IFFModeCConfidence)
	w.U8(b.FieldFlags)
	w.U8(b.StatusFlags)
	w.Zero(2)
	w.F32(b.AltitudeRadarMetres)
	w.F32(b.AltitudeFLMetres)
	w.F32(b.AltitudeGeomMetres)
	w.F32(b.VertRateGeom)
	w.F32(b.VertRateBaro)
	w.F32(b.TargetHeight)
	w.Zero(36)
}

func (b *Secondary) get(r *wire.Reader) {
	b.SensorType = SensorType(r.U32())
	b.UniqueID = r.U32()
	b.Name = r.String(secondaryNameLen)
	b.TargetType = r.U8()
	b.TargetStatus = r.U8()
	b.TargetFlags = r.U8()
	b.IFFMode3A = r.U16()
	b.IFFMode2 = r.U16()
	b.IFFMode1 = r.U8()
	b.IFFFlags = r.U8()
	b.IFF12BitMode1 = r.U16()
	b.TargetWidth = r.U16()
	b.TargetLength = r.U16()
	b.TargetDraught = r.F32()
	b.TargetHeading = r.F32()
	b.IFFMode3AConfidence = r.U16()
	b.IFFMode2Confidence = r.U16()
	b.IFFMode1Confidence = r.U8()
	b.IFFConfidenceFlags = r.U8()
	b.CommsCapability = r.U8()
	b.IFFExtFlags = r.U8()
	b.IFFModeC = r.U16()
	b.IFFModeCConfidence = r.U16()
	b.FieldFlags = r.U8()
	b.StatusFlags = r.U8()
	r.Skip(2)
	b.AltitudeRadarMetres = r.F32()
	b.AltitudeFLMetres = r.F32()
	b.AltitudeGeomMetres = r.F32()
	b.VertRateGeom = r.F32()
	b.VertRateBaro = r.F32()
	b.TargetHeight = r.F32()
	r.Skip(36)
}

// Gate is a search gate in range and azimuth.
type Gate struct {
	StartRangeMetres float32
	EndRangeMetres   float32
	StartAziDegs     float32
	EndAziDegs       float32
}

func (b *Gate) put(w *wire.Writer) {
	w.F32(b.StartRangeMetres)
	w.F32(b.EndRangeMetres)
	w.F32(b.StartAziDegs)
	w.F32(b.EndAziDegs)
}

func (b *Gate) get(r *wire.Reader) {
	b.StartRangeMetres = r.F32()
	b.EndRangeMetres = r.F32()
	b.StartAziDegs = r.F32()
	b.EndAziDegs = r.F32()
}

// CPA is the closest point of approach and the time until it.
type CPA struct {
	CPAMetres float32
	TCPASecs  float32
}

func (b *CPA) put(w *wire.Writer) { w.F32(b.CPAMetres); w.F32(b.TCPASecs) }
func (b *CPA) get(r *wire.Reader) { b.CPAMetres = r.F32(); b.TCPASecs = r.F32() }

type Threat struct {
	Name            string
	Type            uint8
	Level           uint8
	Flags           uint8
	SetterID        uint32
	LastChangedSecs uint32
}

func (b *Threat) put(w *wire.Writer) {
	name := b.Name
	if len(name) > threatNameLen-1 {
		name = name[:threatNameLen-1]
	}
	w.String(name, threatNameLen)
	w.U8(b.Type)
	w.U8(b.Level)
	w.U8(b.Flags)
	w.U8(0)
	w.U32(b.SetterID)
	w.U32(b.LastChangedSecs)
	w.Zero(20)
}

func (b *Threat) get(r *wire.Reader) {
	b.Name = r.String(threatNameLen)
	b.Type = r.U8()
	b.Level = r.U8()
	b.Flags = r.U8()
	r.Skip(1)
	b.SetterID = r.U32()
	b.LastChangedSecs = r.U32()
	r.Skip(20)
}

// Description is free text of at most DescriptionMax bytes.
type Description struct {
	Text string
}

func (b *Description) put(w *wire.Writer) {
	text := b.Text
	if len(text) > DescriptionMax {
		text = text[:DescriptionMax]
	}
	w.U16(uint16(len(text)))
	w.String(text, DescriptionMax)
}

func (b *Description) get(r *wire.Reader) {
	n := int(r.U16())
	raw := r.Bytes(DescriptionMax)
	if n > len(raw) {
		n = len(raw)
	}
	b.Text = wire.NewReader(raw[:n]).String(n)
}

type Accel struct {
	AccelMps    float32
	TurnRateDps float32
}

func (b *Accel) put(w *wire.Writer) { w.F32(b.AccelMps); w.F32(b.TurnRateDps) }
func (b *Accel) get(r *wire.Reader) { b.AccelMps = r.F32(); b.TurnRateDps = r.F32() }

type MotionStatus struct {
	Status uint16
}

func (b *MotionStatus) put(w *wire.Writer) { w.U16(b.Status); w.U16(0) }
func (b *MotionStatus) get(r *wire.Reader) { b.Status = r.U16(); r.Skip(2) }

type VelocitySD struct {
	SpeedSD  float32
	CourseSD float32
}

func (b *VelocitySD) put(w *wire.Writer) { w.F32(b.SpeedSD); w.F32(b.CourseSD) }
func (b *VelocitySD) get(r *wire.Reader) { b.SpeedSD = r.F32(); b.CourseSD = r.F32() }

type IJMS struct {
	Code string
}

func (b *IJMS) put(w *wire.Writer) { w.String(b.Code, ijmsSize) }
func (b *IJMS) get(r *wire.Reader) { b.Code = r.String(ijmsSize) }

// MIL2525D is a MIL-STD-2525D symbol.
type MIL2525D struct {
	Identity      uint8
	Set           uint8
	Entity        uint8
	EntityType    uint8
	EntitySubtype uint8
	Modifier1     uint8
	Modifier2     uint8
}

func (b *MIL2525D) put(w *wire.Writer) {
	w.Raw([]byte{b.Identity, b.Set, b.Entity, b.EntityType, b.EntitySubtype, b.Modifier1, b.Modifier2, 0})
}

func (b *MIL2525D) get(r *wire.Reader) {
	raw := r.Bytes(mil2525DSize)
	if len(raw) < mil2525DSize {
		return
	}
	b.Identity, b.Set, b.Entity, b.EntityType = raw[0], raw[1], raw[2], raw[3]
	b.EntitySubtype, b.Modifier1, b.Modifier2 = raw[4], raw[5], raw[6]
}

type AltitudeSD struct {
	SD float32
}

func (b *AltitudeSD) put(w *wire.Writer) { w.F32(b.SD) }
func (b *AltitudeSD) get(r *wire.Reader) { b.SD = r.F32() }

// RST holds gains and confidence from an RST tracker.
type RST struct {
	Model         uint8
	ExtendedCoast bool
	RangeGain     float32
	AzimuthGain   float32
	HeightGain    float32
	SpeedXGain    float32
	SpeedYGain    float32
	SpeedHGain    float32
	Confidence    float32
	VertRate      float32
}

func (b *RST) put(w *wire.Writer) {
	w.U8(b.Model)
	if b.ExtendedCoast {
		w.U8(1)
	} else {
		w.U8(0)
	}
	w.U16(0)
	for _, f := range []float32{b.RangeGain, b.AzimuthGain, b.HeightGain, b.SpeedXGain, b.SpeedYGain, b.SpeedHGain, b.Confidence, b.VertRate} {
		w.F32(f)
	}
	w.Zero(60)
}

func (b *RST) get(r *wire.Reader) {
	b.Model = r.U8()
	b.ExtendedCoast = r.U8() != 0
	r.Skip(2)
	for _, f := range []*float32{&b.RangeGain, &b.AzimuthGain, &b.HeightGain, &b.SpeedXGain, &b.SpeedYGain, &b.SpeedHGain, &b.Confidence, &b.VertRate} {
		*f = r.F32()
	}
	r.Skip(60)
}

// MHT holds extra fields from a multiple hypothesis tracker.
type MHT struct {
	RangeGain       float32
	AzimuthGain     float32
	RangeRateGain   float32
	AzimuthRateGain float32
	MeanWeight      float32
}

func (b *MHT) put(w *wire.Writer) {
	for _, f := range []float32{b.RangeGain, b.AzimuthGain, b.RangeRateGain, b.AzimuthRateGain, b.MeanWeight} {
		w.F32(f)
	}
	w.Zero(44)
}

func (b *MHT) get(r *wire.Reader) {
	for _, f := range []*float32{&b.RangeGain, &b.AzimuthGain, &b.RangeRateGain, &b.AzimuthRateGain, &b.MeanWeight} {
		*f = r.F32()
	}
	r.Skip(44)
}

// ModeString formats a packed IFF code as octal digits.
func ModeString(code uint16, digits int) string {
	out := make([]byte, digits)
	for i := digits - 1; i >= 0; i-- {
		out[i] = byte('0' + code&7)
		code >>= 3
	}
	return string(out)
}
