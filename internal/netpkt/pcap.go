package netpkt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"example.com/radarwire/internal/packet"
)

// PacketWriter receives framed NET packets. *record.Session implements it.
type PacketWriter interface {
	WritePacket(tag packet.Tag, secs, usecs uint32, payload []byte) error
}

// ImportStats counts what Import did with the capture.
type ImportStats struct {
	Frames  int
	Written int
	// Skipped frames carried no IPv4 UDP or TCP payload.
	Skipped int
	Streams int
	Bytes   int64
}

type flowKey struct {
	transport Transport
	src, dst  netip.AddrPort
}

// Importer converts pcap frames into NET packets. Streams are numbered in
// order of first appearance.
type Importer struct {
	format  Format
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
	streams map[flowKey]uint8

	eth layers.Ethernet
	ip4 layers.IPv4
	udp layers.UDP
	tcp layers.TCP
}

// NewImporter returns an importer for captures of the given link type.
func NewImporter(link layers.LinkType, format Format) (*Importer, error) {
	im := &Importer{format: format, streams: make(map[flowKey]uint8)}
	var first gopacket.LayerType
	switch link {
	case layers.LinkTypeEthernet:
		first = layers.LayerTypeEthernet
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		first = layers.LayerTypeIPv4
	default:
		return nil, fmt.Errorf("netpkt: unsupported link type %s", link)
	}
	im.parser = gopacket.NewDecodingLayerParser(first, &im.eth, &im.ip4, &im.udp, &im.tcp)
	im.parser.IgnoreUnsupported = true
	im.decoded = make([]gopacket.LayerType, 0, 4)
	return im, nil
}

// Convert decodes one captured frame. ok is false for frames that carry no
// IPv4 UDP or TCP payload.
func (im *Importer) Convert(data []byte) (n *Net, ok bool) {
	if err := im.parser.DecodeLayers(data, &im.decoded); err != nil {
		return nil, false
	}
	var (
		haveIP    bool
		transport Transport
		payload   []byte
		sport     uint16
		dport     uint16
		found     bool
	)
	for _, lt := range im.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			haveIP = true
		case layers.LayerTypeUDP:
			transport, payload, found = UDP, im.udp.Payload, true
			sport, dport = uint16(im.udp.SrcPort), uint16(im.udp.DstPort)
		case layers.LayerTypeTCP:
			transport, payload, found = TCP, im.tcp.Payload, true
			sport, dport = uint16(im.tcp.SrcPort), uint16(im.tcp.DstPort)
		}
	}
	if !haveIP || !found || len(payload) == 0 {
		return nil, false
	}
	src, _ := netip.AddrFromSlice(im.ip4.SrcIP.To4())
	dst, _ := netip.AddrFromSlice(im.ip4.DstIP.To4())
	key := flowKey{transport: transport, src: netip.AddrPortFrom(src, sport), dst: netip.AddrPortFrom(dst, dport)}
	idx, seen := im.streams[key]
	if !seen {
		// Stream numbers saturate at the last index.
		next := len(im.streams)
		if next > 0xFF {
			next = 0xFF
		}
		idx = uint8(next)
		im.streams[key] = idx
	}
	return &Net{
		StreamIndex: idx,
		Transport:   transport,
		Format:      im.format,
		Sender:      key.src,
		Stream:      key.dst,
		Payload:     append([]byte(nil), payload...),
	}, true
}

// Streams is the number of distinct flows seen so far.
func (im *Importer) Streams() int { return len(im.streams) }

// Import reads a pcap capture from r and writes one NET packet per UDP
// datagram or non-empty TCP segment, stamped with the capture time.
func Import(ctx context.Context, r io.Reader, w PacketWriter, format Format) (ImportStats, error) {
	var stats ImportStats
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return stats, fmt.Errorf("netpkt: read pcap header: %w", err)
	}
	im, err := NewImporter(pr.LinkType(), format)
	if err != nil {
		return stats, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("netpkt: frame %d: %w", stats.Frames+1, err)
		}
		stats.Frames++
		n, ok := im.Convert(data)
		if !ok {
			stats.Skipped++
			continue
		}
		payload, err := n.MarshalBinary()
		if err != nil {
			return stats, err
		}
		if err := w.WritePacket(packet.TagNet, uint32(ci.Timestamp.Unix()), uint32(ci.Timestamp.Nanosecond()/int(time.Microsecond)), payload); err != nil {
			return stats, err
		}
		stats.Written++
		stats.Bytes += int64(len(n.Payload))
	}
	stats.Streams = im.Streams()
	return stats, nil
}
