package track

import (
	"example.com/radarwire/internal/variant"
	"example.com/radarwire/internal/wire"
)

// Alert logic mask bits.
const (
	AlertBitRegionEnter      variant.Bit = 0
	AlertBitRegionLeave      variant.Bit = 1
	AlertBitRegionCreated    variant.Bit = 2
	AlertBitRegionLost       variant.Bit = 3
	AlertBitRegionIn         variant.Bit = 4
	AlertBitRegionWasFirstIn variant.Bit = 5
	AlertBitCPA              variant.Bit = 12
)

const (
	alertHeaderSize = 16
	groupNameLen    = 32
	regionNameLen   = 32
	alertRegionSize = 88
	alertCPASize    = 64

	// AlertLogicBaseSize is every byte before the mask.
	AlertLogicBaseSize = alertHeaderSize + 4 + groupNameLen
)

// AlertLogicSchema is the variant layout of an alert logic message.
var AlertLogicSchema = variant.Schema{
	Name:     "alert logic",
	BaseSize: AlertLogicBaseSize,
	Sizes: variant.SizeTable{
		AlertBitRegionEnter:      alertRegionSize,
		AlertBitRegionLeave:      alertRegionSize,
		AlertBitRegionCreated:    alertRegionSize,
		AlertBitRegionLost:       alertRegionSize,
		AlertBitRegionIn:         alertRegionSize,
		AlertBitRegionWasFirstIn: alertRegionSize,
		AlertBitCPA:              alertCPASize,
	},
}

// Alert is the header shared by every alert message.
type Alert struct {
	SenderID  uint32
	AlertID   uint32
	AlertType uint32
}

// Target is where a reporter saw the target when the rule fired.
type Target struct {
	ReporterType uint32
	ReporterID   uint32
	TargetID     uint32
	// RangeAziValid and LatLongValid say which position fields are set.
	RangeAziValid bool
	RangeMetres   float32
	AziDegs       float32
	LatLongValid  bool
	LatDegs       float32
	LongDegs      float32
	CourseDegs    float32
	SpeedMps      float32
}

func putBool32(w *wire.Writer, v bool) {
	if v {
		w.U32(1)
		return
	}
	w.U32(0)
}

func (t *Target) put(w *wire.Writer) {
	w.U32(t.ReporterType)
	w.U32(t.ReporterID)
	w.U32(t.TargetID)
	putBool32(w, t.RangeAziValid)
	w.F32(t.RangeMetres)
	w.F32(t.AziDegs)
	putBool32(w, t.LatLongValid)
	w.F32(t.LatDegs)
	w.F32(t.LongDegs)
	w.F32(t.CourseDegs)
	w.F32(t.SpeedMps)
}

func (t *Target) get(r *wire.Reader) {
	t.ReporterType = r.U32()
	t.ReporterID = r.U32()
	t.TargetID = r.U32()
	t.RangeAziValid = r.U32() != 0
	t.RangeMetres = r.F32()
	t.AziDegs = r.F32()
	t.LatLongValid = r.U32() != 0
	t.LatDegs = r.F32()
	t.LongDegs = r.F32()
	t.CourseDegs = r.F32()
	t.SpeedMps = r.F32()
}

// RegionEvent reports a target crossing or occupying a named region.
type RegionEvent struct {
	RegionName string
	Target
}

func (b *RegionEvent) put(w *wire.Writer) {
	w.String(truncName(b.RegionName, regionNameLen), regionNameLen)
	b.Target.put(w)
	w.Zero(12)
}

func (b *RegionEvent) get(r *wire.Reader) {
	b.RegionName = r.String(regionNameLen)
	b.Target.get(r)
	r.Skip(12)
}

// CPAEvent reports a closest-point-of-approach rule firing.
type CPAEvent struct {
	Target
	CPAMetres float32
	TCPASecs  float32
}

func (b *CPAEvent) put(w *wire.Writer) {
	b.Target.put(w)
	w.F32(b.CPAMetres)
	w.F32(b.TCPASecs)
	w.Zero(12)
}

func (b *CPAEvent) get(r *wire.Reader) {
	b.Target.get(r)
	b.CPAMetres = r.F32()
	b.TCPASecs = r.F32()
	r.Skip(12)
}

// AlertLogic is raised by a logic group. Only the events that fired are
// present.
type AlertLogic struct {
	Alert
	GroupID   uint32
	GroupName string

	RegionEnter      *RegionEvent
	RegionLeave      *RegionEvent
	RegionCreated    *RegionEvent
	RegionLost       *RegionEvent
	RegionIn         *RegionEvent
	RegionWasFirstIn *RegionEvent
	CPA              *CPAEvent
}

func (a *AlertLogic) regions() []struct {
	bit variant.Bit
	ev  **RegionEvent
} {
	return []struct {
		bit variant.Bit
		ev  **RegionEvent
	}{
		{AlertBitRegionEnter, &a.RegionEnter},
		{AlertBitRegionLeave, &a.RegionLeave},
		{AlertBitRegionCreated, &a.RegionCreated},
		{AlertBitRegionLost, &a.RegionLost},
		{AlertBitRegionIn, &a.RegionIn},
		{AlertBitRegionWasFirstIn, &a.RegionWasFirstIn},
	}
}

// MarshalBinary encodes the alert with its present events.
func (a *AlertLogic) MarshalBinary() ([]byte, error) {
	base := wire.NewWriter(AlertLogicBaseSize)
	base.U32(a.SenderID)
	base.U32(a.AlertID)
	base.U32(a.AlertType)
	base.U32(0)
	base.U32(a.GroupID)
	base.String(truncName(a.GroupName, groupNameLen), groupNameLen)

	blocks := make(map[variant.Bit][]byte)
	for _, reg := range a.regions() {
		if *reg.ev == nil {
			continue
		}
		w := wire.NewWriter(alertRegionSize)
		(*reg.ev).put(w)
		blocks[reg.bit] = w.Bytes()
	}
	if a.CPA != nil {
		w := wire.NewWriter(alertCPASize)
		a.CPA.put(w)
		blocks[AlertBitCPA] = w.Bytes()
	}
	return variant.Encode(AlertLogicSchema, base.Bytes(), blocks)
}

// UnmarshalBinary decodes an alert logic payload. Unknown rule bits leave
// the alert partially filled and return an error matching
// packet.ErrPartiallyUnderstood.
func (a *AlertLogic) UnmarshalBinary(b []byte) error {
	msg, err := variant.Decode(AlertLogicSchema, b)
	if msg == nil {
		return err
	}
	*a = AlertLogic{}
	r := wire.NewReader(msg.Base)
	a.SenderID = r.U32()
	a.AlertID = r.U32()
	a.AlertType = r.U32()
	r.Skip(4)
	a.GroupID = r.U32()
	a.GroupName = r.String(groupNameLen)

	for _, reg := range a.regions() {
		data, ok := msg.Block(reg.bit)
		if !ok {
			continue
		}
		ev := &RegionEvent{}
		ev.get(wire.NewReader(data))
		*reg.ev = ev
	}
	if data, ok := msg.Block(AlertBitCPA); ok {
		a.CPA = &CPAEvent{}
		a.CPA.get(wire.NewReader(data))
	}
	return err
}

// truncName leaves room for the terminating NUL of a fixed text field.
func truncName(s string, n int) string {
	if len(s) > n-1 {
		return s[:n-1]
	}
	return s
}
