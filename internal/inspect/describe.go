// Package inspect turns recorded packets into JSON-friendly records for the
// CLI and the status server.
package inspect

import (
	"errors"
	"time"

	"example.com/radarwire/internal/bridge/asterix"
	"example.com/radarwire/internal/netpkt"
	"example.com/radarwire/internal/packet"
	"example.com/radarwire/internal/record"
	"example.com/radarwire/internal/track"
)

// Record describes one packet.
type Record struct {
	Offset int64      `json:"offset"`
	Kind   string     `json:"kind"`
	Tag    string     `json:"tag"`
	Size   uint32     `json:"size"`
	Time   *time.Time `json:"time,omitempty"`

	Track   any    `json:"track,omitempty"`
	Net     *Net   `json:"net,omitempty"`
	Partial bool   `json:"partial,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Net is the descriptor of a NET packet.
type Net struct {
	StreamIndex uint8  `json:"streamIndex"`
	Transport   string `json:"transport"`
	Sender      string `json:"sender,omitempty"`
	Stream      string `json:"stream,omitempty"`
	Compressed  bool   `json:"compressed"`
	Bytes       int    `json:"bytes"`
}

// Options controls how much of each payload Describe decodes.
type Options struct {
	// Decode turns on payload decoding; headers only otherwise.
	Decode bool
	// Reference dates ASTERIX time of day. The packet time is used when
	// zero.
	Reference time.Time
}

// Describe renders p. Payload decode failures are reported in Error rather
// than returned.
func Describe(p record.Packet, opts Options) Record {
	h := p.Header
	rec := Record{
		Offset: p.Offset,
		Kind:   h.Kind.String(),
		Tag:    h.Tag.String(),
		Size:   h.Size,
	}
	if h.HasTime() {
		t := h.Time()
		rec.Time = &t
	}
	if !opts.Decode {
		return rec
	}

	switch {
	case track.Handles(h.Tag):
		v, err := track.DecodePayload(h.Tag, p.Payload)
		if err == nil || errors.Is(err, packet.ErrPartiallyUnderstood) {
			rec.Track = v
		}
		rec.Partial = errors.Is(err, packet.ErrPartiallyUnderstood)
		if err != nil && !rec.Partial {
			rec.Error = err.Error()
		}
	case asterix.Handles(h.Tag):
		ref := opts.Reference
		if ref.IsZero() && h.HasTime() {
			ref = h.Time()
		}
		recs, err := asterix.DecodeBlock(p.Payload, asterix.SensorContext{Reference: ref})
		if err != nil {
			rec.Error = err.Error()
		}
		switch len(recs) {
		case 0:
		case 1:
			rec.Track = recs[0]
		default:
			rec.Track = recs
		}
	case h.Tag == packet.TagNet:
		var n netpkt.Net
		err := n.UnmarshalBinary(p.Payload)
		if err != nil {
			rec.Error = err.Error()
		}
		if err == nil || errors.Is(err, netpkt.ErrCaptureFailed) {
			rec.Net = &Net{
				StreamIndex: n.StreamIndex,
				Transport:   n.Transport.String(),
				Compressed:  n.Format == netpkt.Zlib,
				Bytes:       len(n.Payload),
			}
			if n.Sender.IsValid() {
				rec.Net.Sender = n.Sender.String()
			}
			if n.Stream.IsValid() {
				rec.Net.Stream = n.Stream.String()
			}
		}
	}
	return rec
}
