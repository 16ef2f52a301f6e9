package netpkt

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"example.com/radarwire/internal/packet"
)

func sampleNet(format Format) *Net {
	return &Net{
		StreamIndex: 2,
		Transport:   UDP,
		Format:      format,
		Sender:      netip.MustParseAddrPort("10.0.0.7:40001"),
		Stream:      netip.MustParseAddrPort("239.192.43.78:5080"),
		Payload:     bytes.Repeat([]byte("radar video "), 40),
	}
}

func TestNetRoundTrip(t *testing.T) {
	for _, format := range []Format{Raw, Zlib} {
		in := sampleNet(format)
		b, err := in.MarshalBinary()
		if err != nil {
			t.Fatalf("format %d: marshal: %v", format, err)
		}
		if format == Zlib && len(b) >= DescriptorSize+len(in.Payload) {
			t.Fatalf("zlib payload not compressed: %d bytes", len(b))
		}
		var out Net
		if err := out.UnmarshalBinary(b); err != nil {
			t.Fatalf("format %d: unmarshal: %v", format, err)
		}
		if out.Sender != in.Sender || out.Stream != in.Stream || out.StreamIndex != 2 || out.Transport != UDP || out.Format != format {
			t.Fatalf("format %d: descriptor mismatch: %+v", format, out)
		}
		if !bytes.Equal(out.Payload, in.Payload) {
			t.Fatalf("format %d: payload mismatch", format)
		}
	}
}

func TestNetDecodeErrors(t *testing.T) {
	raw, _ := sampleNet(Raw).MarshalBinary()
	z, _ := sampleNet(Zlib).MarshalBinary()

	tests := []struct {
		name string
		buf  []byte
		want error
	}{
		{"short descriptor", raw[:DescriptorSize-1], packet.ErrTruncated},
		{"raw missing byte", raw[:len(raw)-1], packet.ErrSizeMismatch},
		{"zlib damaged", append(append([]byte{}, z[:DescriptorSize]...), 0xde, 0xad), packet.ErrCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n Net
			if err := n.UnmarshalBinary(tt.buf); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}

	bad := append([]byte{}, raw...)
	bad[2] = 9
	var n Net
	if err := n.UnmarshalBinary(bad); !errors.Is(err, ErrFormat) {
		t.Fatalf("unknown format: got %v", err)
	}

	failed := append([]byte{}, raw[:DescriptorSize]...)
	copy(failed[4:8], []byte{0xff, 0xff, 0xff, 0xff})
	if err := n.UnmarshalBinary(failed); !errors.Is(err, ErrCaptureFailed) {
		t.Fatalf("capture failure: got %v", err)
	}
	if n.Stream.Port() != 5080 {
		t.Fatalf("descriptor not kept on capture failure: %+v", n)
	}
}

func TestNetPacketFraming(t *testing.T) {
	ts := time.Unix(1700000000, 500000).UTC()
	b, err := Packet(sampleNet(Zlib), ts)
	if err != nil {
		t.Fatal(err)
	}
	h, payload, err := packet.Frame(b)
	if err != nil {
		t.Fatal(err)
	}
	if h.Tag != packet.TagNet || h.Kind != packet.KindB || !h.Time().Equal(ts) {
		t.Fatalf("header %s", h)
	}
	var n Net
	if err := n.UnmarshalBinary(payload); err != nil {
		t.Fatal(err)
	}
}

type capture struct {
	tags     []packet.Tag
	secs     []uint32
	payloads [][]byte
}

func (c *capture) WritePacket(tag packet.Tag, secs, usecs uint32, payload []byte) error {
	c.tags = append(c.tags, tag)
	c.secs = append(c.secs, secs)
	c.payloads = append(c.payloads, payload)
	return nil
}

func frame(t *testing.T, src, dst string, sport, dport uint16, udp bool, data []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, SrcIP: net.ParseIP(src).To4(), DstIP: net.ParseIP(dst).To4()}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	var err error
	if udp {
		ip.Protocol = layers.IPProtocolUDP
		u := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
		if err := u.SetNetworkLayerForChecksum(ip); err != nil {
			t.Fatal(err)
		}
		err = gopacket.SerializeLayers(buf, opts, eth, ip, u, gopacket.Payload(data))
	} else {
		ip.Protocol = layers.IPProtocolTCP
		tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), Seq: 1, ACK: true, Window: 1024}
		if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
			t.Fatal(err)
		}
		err = gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(data))
	}
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestImportPcap(t *testing.T) {
	var file bytes.Buffer
	pw := pcapgo.NewWriter(&file)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatal(err)
	}
	base := time.Unix(1700000000, 0)
	frames := [][]byte{
		frame(t, "10.0.0.7", "239.192.43.78", 40001, 5080, true, []byte("first")),
		frame(t, "10.0.0.8", "10.0.0.1", 50000, 4000, false, []byte("segment")),
		frame(t, "10.0.0.7", "239.192.43.78", 40001, 5080, true, []byte("second")),
		frame(t, "10.0.0.8", "10.0.0.1", 50000, 4000, false, nil),
	}
	for i, f := range frames {
		ci := gopacket.CaptureInfo{Timestamp: base.Add(time.Duration(i) * time.Second), CaptureLength: len(f), Length: len(f)}
		if err := pw.WritePacket(ci, f); err != nil {
			t.Fatal(err)
		}
	}

	var out capture
	stats, err := Import(context.Background(), &file, &out, Zlib)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Frames != 4 || stats.Written != 3 || stats.Skipped != 1 || stats.Streams != 2 {
		t.Fatalf("stats %+v", stats)
	}

	want := []struct {
		index     uint8
		transport Transport
		payload   string
	}{
		{0, UDP, "first"},
		{1, TCP, "segment"},
		{0, UDP, "second"},
	}
	for i, w := range want {
		if out.tags[i] != packet.TagNet {
			t.Fatalf("packet %d tag %s", i, out.tags[i])
		}
		if out.secs[i] != uint32(base.Unix())+uint32(i) {
			t.Fatalf("packet %d secs %d", i, out.secs[i])
		}
		var n Net
		if err := n.UnmarshalBinary(out.payloads[i]); err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		if n.StreamIndex != w.index || n.Transport != w.transport || string(n.Payload) != w.payload {
			t.Fatalf("packet %d: got %d %s %q", i, n.StreamIndex, n.Transport, n.Payload)
		}
	}
	var first Net
	_ = first.UnmarshalBinary(out.payloads[0])
	if first.Sender != netip.MustParseAddrPort("10.0.0.7:40001") || first.Stream != netip.MustParseAddrPort("239.192.43.78:5080") {
		t.Fatalf("endpoints %s -> %s", first.Sender, first.Stream)
	}
}

func TestImportRejectsUnsupportedLink(t *testing.T) {
	var file bytes.Buffer
	pw := pcapgo.NewWriter(&file)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeIEEE802_11); err != nil {
		t.Fatal(err)
	}
	if _, err := Import(context.Background(), &file, &capture{}, Raw); err == nil {
		t.Fatal("expected unsupported link type")
	}
}
