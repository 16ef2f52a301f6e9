// Package netpkt encodes captured network traffic as NET packets: a 32-byte
// descriptor followed by the datagram or segment payload, optionally
// zlib-compressed.
package netpkt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/klauspost/compress/zlib"

	"example.com/radarwire/internal/packet"
	"example.com/radarwire/internal/wire"
)

// DescriptorSize is the fixed part of a NET payload.
const DescriptorSize = 32

// Transport is the captured protocol.
type Transport uint8

const (
	TCP Transport = 0
	UDP Transport = 1
)

func (t Transport) String() string {
	switch t {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	}
	return fmt.Sprintf("transport(%d)", uint8(t))
}

// Format is the payload encoding.
type Format uint8

const (
	Raw  Format = 0
	Zlib Format = 1
)

var (
	// ErrFormat is an unknown payload format.
	ErrFormat = errors.New("netpkt: unknown payload format")
	// ErrCaptureFailed marks a packet whose capture reported an error; the
	// descriptor is valid but there is no payload.
	ErrCaptureFailed = errors.New("netpkt: capture failed")
)

// Net is one captured datagram or TCP segment.
type Net struct {
	StreamIndex uint8
	Transport   Transport
	Format      Format
	// Sender is the source endpoint, Stream the server or multicast group.
	Sender netip.AddrPort
	Stream netip.AddrPort
	// Payload is always the uncompressed bytes.
	Payload []byte
}

func addr4(a netip.Addr) uint32 {
	if !a.Is4() {
		return 0
	}
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func fromAddr4(v uint32) netip.Addr {
	if v == 0 {
		return netip.Addr{}
	}
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// MarshalBinary encodes the descriptor and the payload in n.Format.
func (n *Net) MarshalBinary() ([]byte, error) {
	body := n.Payload
	switch n.Format {
	case Raw:
	case Zlib:
		var buf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&buf, zlib.BestSpeed)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(n.Payload); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		body = buf.Bytes()
	default:
		return nil, fmt.Errorf("%w: %d", ErrFormat, n.Format)
	}

	w := wire.NewWriter(DescriptorSize + len(body))
	w.U8(n.StreamIndex)
	w.U8(uint8(n.Transport))
	w.U8(uint8(n.Format))
	w.Zero(1)
	w.I32(int32(len(n.Payload)))
	w.U32(addr4(n.Sender.Addr()))
	w.U32(addr4(n.Stream.Addr()))
	w.U16(n.Sender.Port())
	w.U16(n.Stream.Port())
	w.Zero(12)
	w.Raw(body)
	return w.Bytes(), nil
}

// UnmarshalBinary decodes a NET payload, inflating it when compressed. A
// negative payload size in the descriptor returns ErrCaptureFailed with the
// descriptor fields filled in.
func (n *Net) UnmarshalBinary(b []byte) error {
	const op = "net packet"
	r := wire.NewReader(b)
	var out Net
	out.StreamIndex = r.U8()
	out.Transport = Transport(r.U8())
	out.Format = Format(r.U8())
	r.Skip(1)
	size := r.I32()
	sender := fromAddr4(r.U32())
	stream := fromAddr4(r.U32())
	senderPort := r.U16()
	streamPort := r.U16()
	r.Skip(12)
	if r.Err() != nil {
		return packet.Errorf(op, int64(len(b)), packet.ErrTruncated, "descriptor needs %d bytes, have %d", DescriptorSize, len(b))
	}
	out.Sender = netip.AddrPortFrom(sender, senderPort)
	out.Stream = netip.AddrPortFrom(stream, streamPort)
	body := b[DescriptorSize:]

	if size < 0 {
		*n = out
		return ErrCaptureFailed
	}
	switch out.Format {
	case Raw:
		if len(body) != int(size) {
			return packet.Errorf(op, DescriptorSize, packet.ErrSizeMismatch, "descriptor says %d payload bytes, have %d", size, len(body))
		}
		out.Payload = append([]byte(nil), body...)
	case Zlib:
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return packet.Errorf(op, DescriptorSize, packet.ErrCorrupt, "zlib: %v", err)
		}
		defer zr.Close()
		// One byte past the declared size shows an overlong stream.
		data, err := io.ReadAll(io.LimitReader(zr, int64(size)+1))
		if err != nil {
			return packet.Errorf(op, DescriptorSize, packet.ErrCorrupt, "zlib: %v", err)
		}
		if len(data) != int(size) {
			return packet.Errorf(op, DescriptorSize, packet.ErrSizeMismatch, "descriptor says %d payload bytes, inflated %d", size, len(data))
		}
		out.Payload = data
	default:
		return fmt.Errorf("%w: %d", ErrFormat, out.Format)
	}
	*n = out
	return nil
}

// Packet frames n behind a Header B NET packet stamped with ts.
func Packet(n *Net, ts time.Time) ([]byte, error) {
	payload, err := n.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return packet.BuildB(packet.TagNet, ts, payload), nil
}
