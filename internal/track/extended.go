package track

import (
	"errors"
	"fmt"

	"example.com/radarwire/internal/packet"
	"example.com/radarwire/internal/variant"
	"example.com/radarwire/internal/wire"
)

const (
	netSizeLen = 4
	// ExtendedBaseSize is the Normal report plus the netSize field: every
	// byte before the feature mask.
	ExtendedBaseSize = NormalSize + netSizeLen
	// ExtendedMinSize is an Extended report with no blocks.
	ExtendedMinSize = ExtendedBaseSize + variant.MaskSize
)

// Schema returns the variant schema of the Extended report at rev.
func Schema(rev Revision) variant.Schema {
	return variant.Schema{Name: "track extended", BaseSize: ExtendedBaseSize, Sizes: Sizes(rev)}
}

// Extended is a Normal report plus optional blocks. A nil block is absent on
// the wire.
type Extended struct {
	Normal

	RadialSpeed  *RadialSpeed
	Age          *Age
	LatLong      *LatLong
	MsgTime      *Timestamp
	SensorData   *SensorData
	Altitude     *Altitude
	Fusion       *Fusion
	Secondary    *Secondary
	LatLongMeas  *LatLong
	Gate         *Gate
	CPA          *CPA
	Threat       *Threat
	Description  *Description
	Accel        *Accel
	MotionStatus *MotionStatus
	EventTime    *Timestamp
	VelocitySD   *VelocitySD
	IJMS         *IJMS
	MIL2525D     *MIL2525D
	AltitudeSD   *AltitudeSD
	RST          *RST
	MHT          *MHT

	// Continued means the logical record carries on in the next report.
	Continued bool

	// Undecoded is set after a partial decode: the mask bits from the first
	// unknown one upwards and the bytes they occupy.
	Undecoded *Undecoded
}

// Undecoded keeps what a decoder could not interpret so it can be forwarded
// untouched.
type Undecoded struct {
	Mask uint32
	Tail []byte
}

type block interface {
	put(*wire.Writer)
	get(*wire.Reader)
}

// slots maps every block-carrying bit to the field that holds it. alloc
// creates the block when decoding.
func (e *Extended) slots() []struct {
	bit   variant.Bit
	cur   block
	alloc func() block
} {
	type slot = struct {
		bit   variant.Bit
		cur   block
		alloc func() block
	}
	nilOr := func(present bool, b block) block {
		if present {
			return b
		}
		return nil
	}
	return []slot{
		{BitRadialSpeed, nilOr(e.RadialSpeed != nil, e.RadialSpeed), func() block { e.RadialSpeed = new(RadialSpeed); return e.RadialSpeed }},
		{BitAge, nilOr(e.Age != nil, e.Age), func() block { e.Age = new(Age); return e.Age }},
		{BitLatLong, nilOr(e.LatLong != nil, e.LatLong), func() block { e.LatLong = new(LatLong); return e.LatLong }},
		{BitMsgTime, nilOr(e.MsgTime != nil, e.MsgTime), func() block { e.MsgTime = new(Timestamp); return e.MsgTime }},
		{BitSensorData, nilOr(e.SensorData != nil, e.SensorData), func() block { e.SensorData = new(SensorData); return e.SensorData }},
		{BitAltitude, nilOr(e.Altitude != nil, e.Altitude), func() block { e.Altitude = new(Altitude); return e.Altitude }},
		{BitFusion, nilOr(e.Fusion != nil, e.Fusion), func() block { e.Fusion = new(Fusion); return e.Fusion }},
		{BitSecondary, nilOr(e.Secondary != nil, e.Secondary), func() block { e.Secondary = new(Secondary); return e.Secondary }},
		{BitLatLongMeas, nilOr(e.LatLongMeas != nil, e.LatLongMeas), func() block { e.LatLongMeas = new(LatLong); return e.LatLongMeas }},
		{BitGate, nilOr(e.Gate != nil, e.Gate), func() block { e.Gate = new(Gate); return e.Gate }},
		{BitCPA, nilOr(e.CPA != nil, e.CPA), func() block { e.CPA = new(CPA); return e.CPA }},
		{BitThreat, nilOr(e.Threat != nil, e.Threat), func() block { e.Threat = new(Threat); return e.Threat }},
		{BitDescription, nilOr(e.Description != nil, e.Description), func() block { e.Description = new(Description); return e.Description }},
		{BitAccel, nilOr(e.Accel != nil, e.Accel), func() block { e.Accel = new(Accel); return e.Accel }},
		{BitMotionStatus, nilOr(e.MotionStatus != nil, e.MotionStatus), func() block { e.MotionStatus = new(MotionStatus); return e.MotionStatus }},
		{BitEventTime, nilOr(e.EventTime != nil, e.EventTime), func() block { e.EventTime = new(Timestamp); return e.EventTime }},
		{BitVelocitySD, nilOr(e.VelocitySD != nil, e.VelocitySD), func() block { e.VelocitySD = new(VelocitySD); return e.VelocitySD }},
		{BitIJMS, nilOr(e.IJMS != nil, e.IJMS), func() block { e.IJMS = new(IJMS); return e.IJMS }},
		{BitMIL2525D, nilOr(e.MIL2525D != nil, e.MIL2525D), func() block { e.MIL2525D = new(MIL2525D); return e.MIL2525D }},
		{BitAltitudeSD, nilOr(e.AltitudeSD != nil, e.AltitudeSD), func() block { e.AltitudeSD = new(AltitudeSD); return e.AltitudeSD }},
		{BitRST, nilOr(e.RST != nil, e.RST), func() block { e.RST = new(RST); return e.RST }},
		{BitMHT, nilOr(e.MHT != nil, e.MHT), func() block { e.MHT = new(MHT); return e.MHT }},
	}
}

// Mask returns the feature mask implied by the blocks that are set.
func (e *Extended) Mask() uint32 {
	var mask uint32
	for _, s := range e.slots() {
		if s.cur != nil {
			mask |= s.bit.Mask()
		}
	}
	if e.Continued {
		mask |= BitContinued.Mask()
	}
	return mask
}

// NetSize is the encoded length of e at rev: the Normal report, netSize,
// mask and every present block.
func (e *Extended) NetSize(rev Revision) (int, error) {
	return Schema(rev).EncodedSize(e.Mask())
}

// MarshalBinary encodes e with the latest block table.
func (e *Extended) MarshalBinary() ([]byte, error) {
	return EncodeExtended(e, LatestRevision)
}

// UnmarshalBinary decodes b with the latest block table.
func (e *Extended) UnmarshalBinary(b []byte) error {
	out, err := DecodeExtended(b)
	if out != nil {
		*e = *out
	}
	return err
}

// EncodeExtended encodes e using the block sizes known at rev. A block newer
// than rev is an error rather than being silently dropped.
func EncodeExtended(e *Extended, rev Revision) ([]byte, error) {
	schema := Schema(rev)
	mask := e.Mask()
	netSize, err := schema.EncodedSize(mask)
	if err != nil {
		return nil, err
	}

	base := wire.NewWriter(ExtendedBaseSize)
	e.Normal.put(base)
	base.U32(uint32(netSize))

	blocks := make(map[variant.Bit][]byte)
	for _, s := range e.slots() {
		if s.cur == nil {
			continue
		}
		w := wire.NewWriter(schema.Sizes[s.bit])
		s.cur.put(w)
		blocks[s.bit] = w.Bytes()
	}
	if e.Continued {
		blocks[BitContinued] = nil
	}
	return variant.Encode(schema, base.Bytes(), blocks)
}

// Decoder decodes Extended reports with a chosen block table.
type Decoder struct {
	Revision Revision
	// Extra adds block sizes learned from a side channel, such as a peer's
	// advertised protocol version.
	Extra variant.SizeTable
}

func (d Decoder) schema() variant.Schema {
	s := Schema(d.Revision)
	if len(d.Extra) > 0 {
		s.Sizes = s.Sizes.Extend(d.Extra)
	}
	return s
}

// DecodeExtended decodes b with the latest block table.
func DecodeExtended(b []byte) (*Extended, error) {
	return Decoder{Revision: LatestRevision}.Decode(b)
}

// Decode parses one Extended report occupying all of b. The self-reported
// netSize must equal len(b) and the Normal-layer size plus the sizes of the
// set bits. A set bit the table does not know yields a partially filled report
// with Undecoded set and an error matching packet.ErrPartiallyUnderstood.
func (d Decoder) Decode(b []byte) (*Extended, error) {
	const op = "track extended"
	if len(b) < ExtendedMinSize {
		return nil, packet.Errorf(op, int64(len(b)), packet.ErrTruncated, "need at least %d bytes, have %d", ExtendedMinSize, len(b))
	}
	netSize := wire.U32At(b[NormalSize:])
	switch {
	case int64(netSize) > int64(len(b)):
		return nil, packet.Errorf(op, int64(len(b)), packet.ErrTruncated, "netSize %d, have %d bytes", netSize, len(b))
	case int64(netSize) < int64(len(b)):
		return nil, packet.Errorf(op, int64(NormalSize), packet.ErrSizeMismatch, "netSize %d, have %d bytes", netSize, len(b))
	}

	schema := d.schema()
	msg, err := variant.Decode(schema, b)
	var partial *variant.PartialError
	if err != nil && !errors.As(err, &partial) {
		return nil, err
	}

	e := &Extended{}
	r := wire.NewReader(msg.Base)
	e.Normal.get(r)
	if r.Err() != nil {
		return nil, fmt.Errorf("%s: %w", op, r.Err())
	}
	e.Continued = msg.Has(BitContinued)

	for _, s := range e.slots() {
		data, ok := msg.Block(s.bit)
		if !ok {
			continue
		}
		br := wire.NewReader(data)
		s.alloc().get(br)
		if br.Err() != nil {
			off, _ := msg.Offset(s.bit)
			return nil, packet.Errorf(op, int64(off), packet.ErrTruncated, "bit %d: %v", s.bit, br.Err())
		}
	}

	if partial != nil {
		var decoded uint32
		for _, bit := range msg.Bits() {
			decoded |= bit.Mask()
		}
		e.Undecoded = &Undecoded{Mask: msg.Mask &^ decoded, Tail: append([]byte(nil), msg.Tail...)}
		return e, err
	}
	// The blocks consumed all of b and len(b) == netSize, so netSize equals
	// the Normal layer plus the set blocks.
	return e, nil
}

// Blocks lists the bits present on e, in wire order.
func (e *Extended) Blocks() []variant.Bit {
	var out []variant.Bit
	for _, s := range e.slots() {
		if s.cur != nil {
			out = append(out, s.bit)
		}
	}
	if e.Continued {
		out = append(out, BitContinued)
	}
	return out
}
