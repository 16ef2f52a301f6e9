package track

import (
	"encoding"
	"fmt"
	"time"

	"example.com/radarwire/internal/packet"
)

// TagOf returns the packet tag that carries v.
func TagOf(v encoding.BinaryMarshaler) (packet.Tag, error) {
	switch v.(type) {
	case *Minimal:
		return packet.TagTrackMin, nil
	case *Normal:
		return packet.TagTrackNorm, nil
	case *Extended:
		return packet.TagTrackExt, nil
	case *AlertLogic:
		return packet.TagAlertLogic, nil
	}
	return 0, fmt.Errorf("track: no packet tag for %T", v)
}

// Packet frames v behind a Header B stamped with ts.
func Packet(v encoding.BinaryMarshaler, ts time.Time) ([]byte, error) {
	tag, err := TagOf(v)
	if err != nil {
		return nil, err
	}
	payload, err := v.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return packet.BuildB(tag, ts, payload), nil
}

// Handles reports whether DecodePayload understands tag.
func Handles(tag packet.Tag) bool {
	switch tag {
	case packet.TagTrackMin, packet.TagTrackNorm, packet.TagTrackExt, packet.TagAlertLogic:
		return true
	}
	return false
}

// DecodePayload decodes the payload of a track or alert packet. The result is
// one of *Minimal, *Normal, *Extended or *AlertLogic. A partially understood
// Extended or AlertLogic is returned together with its error.
func DecodePayload(tag packet.Tag, payload []byte) (any, error) {
	switch tag {
	case packet.TagTrackMin:
		m := &Minimal{}
		return m, m.UnmarshalBinary(payload)
	case packet.TagTrackNorm:
		n := &Normal{}
		return n, n.UnmarshalBinary(payload)
	case packet.TagTrackExt:
		return DecodeExtended(payload)
	case packet.TagAlertLogic:
		a := &AlertLogic{}
		return a, a.UnmarshalBinary(payload)
	}
	return nil, fmt.Errorf("track: tag %s is not a track packet", tag)
}

// DecodePacket frames buf and decodes its payload. Offsets in decode errors
// are relative to the start of buf.
func DecodePacket(buf []byte) (packet.Header, any, error) {
	h, payload, err := packet.Frame(buf)
	if err != nil {
		return h, nil, err
	}
	v, err := DecodePayload(h.Tag, payload)
	return h, v, packet.WithBase(err, int64(h.PayloadOffset()))
}
