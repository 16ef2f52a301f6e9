package asterix

import (
	"fmt"
	"math"
	"strings"
	"time"

	"example.com/radarwire/internal/packet"
	"example.com/radarwire/internal/track"
	"example.com/radarwire/internal/wire"
)

const (
	metresPerNM   = 1852.0
	metresPerFoot = 0.3048
	// blockHeader is CAT and LEN.
	blockHeader = 3
	day         = 24 * time.Hour
)

// SensorContext supplies what a CAT048 record leaves implicit.
type SensorContext struct {
	// Reference places the time of day on a date: the decoded time is the
	// one within twelve hours of Reference. Zero means now.
	Reference time.Time
}

// Options configures Encode.
type Options struct {
	SAC, SIC uint8
}

// Decode returns the first record of a CAT048 data block.
func Decode(b []byte, ctx SensorContext) (*track.Extended, error) {
	recs, err := decodeBlock(b, ctx, 1)
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

// DecodeBlock returns every record of a CAT048 data block.
func DecodeBlock(b []byte, ctx SensorContext) ([]*track.Extended, error) {
	return decodeBlock(b, ctx, 0)
}

func decodeBlock(b []byte, ctx SensorContext, limit int) ([]*track.Extended, error) {
	const op = "cat048 block"
	if len(b) < blockHeader {
		return nil, packet.Errorf(op, int64(len(b)), packet.ErrTruncated, "need %d header bytes, have %d", blockHeader, len(b))
	}
	if b[0] != Category {
		return nil, fmt.Errorf("%w: %d", ErrCategory, b[0])
	}
	n := int(wire.U16At(b[1:]))
	if n < blockHeader || n > len(b) {
		return nil, packet.Errorf(op, 1, packet.ErrSizeMismatch, "LEN %d, have %d bytes", n, len(b))
	}
	if ctx.Reference.IsZero() {
		ctx.Reference = time.Now()
	}
	body := b[blockHeader:n]
	r := wire.NewReader(body)
	var out []*track.Extended
	for r.Remaining() > 0 {
		t, err := decodeRecord(r, body, ctx)
		if err != nil {
			return out, packet.WithBase(err, blockHeader)
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if len(out) == 0 {
		return nil, packet.Errorf(op, blockHeader, packet.ErrTruncated, "block holds no record")
	}
	return out, nil
}

func decodeRecord(r *wire.Reader, buf []byte, ctx SensorContext) (*track.Extended, error) {
	frns, err := readFSPEC(r)
	if err != nil {
		return nil, err
	}
	t := &track.Extended{}
	t.Status = track.StatusEstablished
	t.TrackClassType = track.ClassTypeASTERIX
	sec := func() *track.Secondary {
		if t.Secondary == nil {
			t.Secondary = &track.Secondary{SensorType: track.SensorIFF}
		}
		return t.Secondary
	}

	for _, frn := range frns {
		v, err := readItem(r, buf, frn)
		if err != nil {
			return nil, err
		}
		switch frn {
		case frnSource:
			t.SenderID = v[1]
		case frnTimeOfDay:
			raw := uint32(v[0])<<16 | uint32(v[1])<<8 | uint32(v[2])
			ts := track.TimestampOf(resolveTimeOfDay(ctx.Reference, time.Duration(raw)*time.Second/128))
			t.MsgTime = &ts
		case frnDescriptor:
			if v[0]&0x10 != 0 {
				t.Flags |= track.FlagSimulated
			}
			if typ := v[0] >> 5; typ >= 2 {
				s := sec()
				if v[0]&0x04 != 0 {
					s.IFFFlags |= track.IFFSPI
				}
			}
			if len(v) > 1 && v[1]&0x80 != 0 {
				t.Flags |= track.FlagTest
			}
		case frnPolar:
			rho := float64(wire.U16At(v)) / 256 * metresPerNM
			theta := float64(wire.U16At(v[2:])) * 360 / 65536
			t.RangeMetres = float32(rho)
			t.AzimuthDegrees = float32(theta)
			t.MeasRange = t.RangeMetres
			t.MeasAzimuth = t.AzimuthDegrees
			rad := theta * math.Pi / 180
			t.XMetres = float32(rho * math.Sin(rad))
			t.YMetres = float32(rho * math.Cos(rad))
		case frnMode3A:
			word := wire.U16At(v)
			s := sec()
			s.IFFMode3A = word & 0x0FFF
			s.IFFFlags |= track.IFFModeA
			if word&0x8000 != 0 || word&0x4000 != 0 {
				s.IFFFlags |= track.IFFUncertain
			}
		case frnFlightLevel:
			word := wire.U16At(v)
			raw := int16(word<<2) >> 2
			metres := float32(float64(raw) / 4 * 100 * metresPerFoot)
			s := sec()
			s.IFFFlags |= track.IFFModeC
			s.IFFModeC = uint16(raw)
			s.FieldFlags |= track.FieldAltFL
			s.AltitudeFLMetres = metres
			t.Altitude = &track.Altitude{Metres: metres}
		case frnAddress:
			s := sec()
			s.UniqueID = uint32(v[0])<<16 | uint32(v[1])<<8 | uint32(v[2])
		case frnIdent:
			sec().Name = decodeIdent(v)
		case frnTrackNumber:
			t.ID = uint32(wire.U16At(v) & 0x0FFF)
		case frnVelocity:
			t.SpeedMps = float32(float64(wire.U16At(v)) / 16384 * metresPerNM)
			t.CourseDegrees = float32(float64(wire.U16At(v[2:])) * 360 / 65536)
		case frnStatus:
			if v[0]&0x80 != 0 {
				t.Status = track.StatusProvisional
			}
			switch (v[0] >> 1) & 0x03 {
			case 1:
				sec().StatusFlags |= track.StatusClimb
			case 2:
				sec().StatusFlags |= track.StatusDescend
			}
			if len(v) > 1 && v[1]&0x80 != 0 {
				t.Status = track.StatusDeleted
			}
		}
	}
	return t, nil
}

// resolveTimeOfDay picks the instant tod after a UTC midnight that lies
// closest to ref.
func resolveTimeOfDay(ref time.Time, tod time.Duration) time.Time {
	ref = ref.UTC()
	t := ref.Truncate(day).Add(tod)
	switch {
	case t.Sub(ref) > day/2:
		t = t.Add(-day)
	case ref.Sub(t) > day/2:
		t = t.Add(day)
	}
	return t
}

const identAlphabet = " ABCDEFGHIJKLMNOPQRSTUVWXYZ     " + "                " + "0123456789      "

func decodeIdent(v []byte) string {
	var bits uint64
	for _, b := range v[:6] {
		bits = bits<<8 | uint64(b)
	}
	var sb strings.Builder
	for i := 7; i >= 0; i-- {
		c := (bits >> (uint(i) * 6)) & 0x3F
		sb.WriteByte(identAlphabet[c])
	}
	return strings.TrimRight(sb.String(), " ")
}

func encodeIdent(s string) []byte {
	s = strings.ToUpper(s)
	var bits uint64
	for i := 0; i < 8; i++ {
		code := uint64(32)
		if i < len(s) {
			if j := strings.IndexByte(identAlphabet, s[i]); j > 0 {
				code = uint64(j)
			}
		}
		bits = bits<<6 | code
	}
	out := make([]byte, 6)
	for i := range out {
		out[i] = byte(bits >> (uint(5-i) * 8))
	}
	return out
}

func clampU16(v float64) uint16 {
	switch {
	case v <= 0:
		return 0
	case v >= math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(math.Round(v))
}

// angle16 converts degrees to the 360/2^16 unit, wrapping.
func angle16(deg float32) uint16 {
	d := math.Mod(float64(deg), 360)
	if d < 0 {
		d += 360
	}
	return uint16(int(math.Round(d*65536/360)) & 0xFFFF)
}

// Encode writes t as a CAT048 data block with a single record.
func Encode(t *track.Extended, opts Options) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("asterix: nil track")
	}
	s := t.Secondary
	frns := []int{frnSource, frnDescriptor, frnPolar, frnTrackNumber, frnVelocity, frnStatus}
	if t.MsgTime != nil {
		frns = append(frns, frnTimeOfDay)
	}
	if s != nil && s.IFFFlags&track.IFFModeA != 0 {
		frns = append(frns, frnMode3A)
	}
	if t.Altitude != nil || (s != nil && s.FieldFlags&track.FieldAltFL != 0) {
		frns = append(frns, frnFlightLevel)
	}
	if s != nil && s.UniqueID != 0 {
		frns = append(frns, frnAddress)
	}
	if s != nil && s.Name != "" {
		frns = append(frns, frnIdent)
	}
	present := make(map[int]bool, len(frns))
	for _, f := range frns {
		present[f] = true
	}

	w := wire.NewWriter(64)
	w.U8(Category)
	w.U16(0)
	appendFSPEC(w, frns)
	for frn := 1; frn <= frnStatus; frn++ {
		if !present[frn] {
			continue
		}
		switch frn {
		case frnSource:
			w.U8(opts.SAC)
			w.U8(opts.SIC)
		case frnTimeOfDay:
			ts := t.MsgTime.Time()
			tod := ts.Sub(ts.Truncate(day))
			raw := uint32(math.Round(tod.Seconds()*128)) & 0xFFFFFF
			w.U8(uint8(raw >> 16))
			w.U16(uint16(raw))
		case frnDescriptor:
			typ := uint8(1)
			if s != nil {
				typ = 3
			}
			b := typ << 5
			if t.Flags&track.FlagSimulated != 0 {
				b |= 0x10
			}
			if s != nil && s.IFFFlags&track.IFFSPI != 0 {
				b |= 0x04
			}
			if t.Flags&track.FlagTest != 0 {
				w.U8(b | 0x01)
				w.U8(0x80)
			} else {
				w.U8(b)
			}
		case frnPolar:
			w.U16(clampU16(float64(t.RangeMetres) / metresPerNM * 256))
			w.U16(angle16(t.AzimuthDegrees))
		case frnMode3A:
			word := s.IFFMode3A & 0x0FFF
			if s.IFFFlags&track.IFFUncertain != 0 {
				word |= 0x8000
			}
			w.U16(word)
		case frnFlightLevel:
			metres := float64(0)
			if s != nil && s.FieldFlags&track.FieldAltFL != 0 {
				metres = float64(s.AltitudeFLMetres)
			} else {
				metres = float64(t.Altitude.Metres)
			}
			quarters := int64(math.Round(metres / metresPerFoot / 100 * 4))
			quarters = max(min(quarters, 1<<13-1), -(1 << 13))
			w.U16(uint16(quarters) & 0x3FFF)
		case frnAddress:
			w.U8(uint8(s.UniqueID >> 16))
			w.U16(uint16(s.UniqueID))
		case frnIdent:
			w.Raw(encodeIdent(s.Name))
		case frnTrackNumber:
			w.U16(uint16(t.ID) & 0x0FFF)
		case frnVelocity:
			w.U16(clampU16(float64(t.SpeedMps) / metresPerNM * 16384))
			w.U16(angle16(t.CourseDegrees))
		case frnStatus:
			b := uint8(0)
			if t.Status == track.StatusProvisional {
				b |= 0x80
			}
			if s != nil {
				switch {
				case s.StatusFlags&track.StatusClimb != 0:
					b |= 1 << 1
				case s.StatusFlags&track.StatusDescend != 0:
					b |= 2 << 1
				}
			}
			if t.Status == track.StatusDeleted {
				w.U8(b | 0x01)
				w.U8(0x80)
			} else {
				w.U8(b)
			}
		}
	}
	out := w.Bytes()
	wire.PutU16(out[1:], uint16(len(out)))
	return out, nil
}

// Packet encodes t and frames it: Header A CAT048 when it fits, otherwise a
// Header B ASTERIX packet stamped with ts.
func Packet(t *track.Extended, opts Options, ts time.Time) ([]byte, error) {
	block, err := Encode(t, opts)
	if err != nil {
		return nil, err
	}
	if len(block) <= packet.MaxPayloadA {
		return packet.BuildA(packet.TagAsterixCat048, block)
	}
	return packet.BuildB(packet.TagAsterix, ts, block), nil
}

// Handles reports whether packets of tag carry ASTERIX data blocks.
func Handles(tag packet.Tag) bool {
	return tag == packet.TagAsterixCat048 || tag == packet.TagAsterix
}
