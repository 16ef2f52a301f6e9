package record

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"example.com/radarwire/internal/common"
	"example.com/radarwire/internal/packet"
	"example.com/radarwire/internal/toc"
)

const defaultResyncWindow = 64 * 1024

// Packet is one framed packet read from a recording.
type Packet struct {
	Offset  int64
	Header  packet.Header
	Payload []byte
}

// Reader iterates across the packets of a recording.
type Reader struct {
	path      string
	f         *os.File
	size      int64
	offset    int64
	dataStart int64

	header  fileHeader
	desc    Descriptor
	hasDesc bool

	// live readers wait for an incomplete tail instead of treating it as
	// damage.
	live bool

	resyncWindow int64
	resyncBuf    []byte

	metrics *common.Metrics
	events  *common.EventLog
}

// Open parses the header of the recording at path and positions the reader
// at the first data packet.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	hdr, err := readHeader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r := &Reader{
		path:         path,
		f:            f,
		size:         info.Size(),
		header:       hdr,
		resyncWindow: defaultResyncWindow,
	}
	r.dataStart = hdr.Size
	if d, n, ok := readDescriptor(f, hdr.Size, r.size); ok {
		r.desc, r.hasDesc = d, true
		r.dataStart += n
	}
	r.offset = r.dataStart
	return r, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// SetMetrics attaches a metrics recorder to the reader.
func (r *Reader) SetMetrics(m *common.Metrics) {
	r.metrics = m
	if r.metrics != nil {
		r.metrics.SetTotalBytes(r.size)
	}
}

// SetEventLog records resyncs and truncation in log.
func (r *Reader) SetEventLog(log *common.EventLog) { r.events = log }

func (r *Reader) Path() string { return r.path }

func (r *Reader) Size() int64 { return r.size }

// Offset is where the next call to Next starts.
func (r *Reader) Offset() int64 { return r.offset }

// DataStart is the offset of the first data packet.
func (r *Reader) DataStart() int64 { return r.dataStart }

func (r *Reader) Master() toc.MasterBlock { return r.header.Master }

// Table returns the table of contents as stored in the header.
func (r *Reader) Table() toc.Table { return r.header.Table }

// Descriptor returns the session descriptor, if the recording has one.
func (r *Reader) Descriptor() (Descriptor, bool) { return r.desc, r.hasDesc }

// NextName returns the file name linked from the header, if any.
func (r *Reader) NextName() (string, bool) {
	off := int64(r.header.Table.OffsetToNextName)
	if off == 0 || off >= r.size {
		return "", false
	}
	p, err := r.readAt(off)
	if err != nil || p.Header.Tag != packet.TagNextName {
		return "", false
	}
	return strings.TrimRight(string(p.Payload), "\x00"), true
}

// refresh picks up bytes appended since the last call.
func (r *Reader) refresh() error {
	info, err := r.f.Stat()
	if err != nil {
		return err
	}
	r.size = info.Size()
	return nil
}

// readAt reads the whole packet at off without moving the reader.
func (r *Reader) readAt(off int64) (Packet, error) {
	head, err := r.slice(off, packet.HeaderBSize)
	if err != nil {
		return Packet{}, err
	}
	h, err := packet.DecodeHeader(head)
	if err != nil {
		return Packet{}, packet.WithBase(err, off)
	}
	if off+int64(h.Size) > r.size {
		return Packet{}, packet.Errorf("read packet", off, packet.ErrIncomplete, "needs %d bytes, %d remain", h.Size, r.size-off)
	}
	buf := make([]byte, h.Size)
	if _, err := r.f.ReadAt(buf, off); err != nil {
		return Packet{}, err
	}
	return Packet{Offset: off, Header: h, Payload: buf[h.PayloadOffset():]}, nil
}

// slice reads up to n bytes at off, fewer near the end of the file.
func (r *Reader) slice(off int64, n int) ([]byte, error) {
	if off >= r.size {
		return nil, io.EOF
	}
	if rem := r.size - off; int64(n) > rem {
		n = int(rem)
	}
	buf := make([]byte, n)
	got, err := r.f.ReadAt(buf, off)
	if got == n {
		return buf, nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return buf[:got], err
}

// Next returns the next packet. It returns io.EOF at the end of the file.
// Any header that frames a packet inside the file is returned, including tags
// this build does not know; interpreting the payload is the caller's job.
// Damaged stretches are skipped with a warning and resync; a packet cut
// short by the end of the file ends iteration.
func (r *Reader) Next() (Packet, error) {
	if r.f == nil {
		return Packet{}, io.EOF
	}
	for {
		if r.offset >= r.size {
			return Packet{}, io.EOF
		}
		remaining := r.size - r.offset
		head, err := r.slice(r.offset, packet.HeaderBSize)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return Packet{}, err
		}
		h, err := packet.DecodeHeader(head)
		switch {
		case errors.Is(err, packet.ErrIncomplete):
			if r.live {
				return Packet{}, io.EOF
			}
			return Packet{}, r.truncated(remaining, "partial header")
		case err != nil:
			if err := r.resync(err.Error()); err != nil {
				return Packet{}, err
			}
			continue
		case int64(h.Size) > remaining:
			if r.live {
				return Packet{}, io.EOF
			}
			if err := r.resync(fmt.Sprintf("%s needs %d bytes, %d remain", h, h.Size, remaining)); err != nil {
				return Packet{}, err
			}
			continue
		}

		buf := make([]byte, h.Size)
		if _, err := r.f.ReadAt(buf, r.offset); err != nil {
			return Packet{}, err
		}
		p := Packet{Offset: r.offset, Header: h, Payload: buf[h.PayloadOffset():]}
		if r.metrics != nil {
			r.metrics.AddPacket(int64(h.Size))
		}
		r.offset += int64(h.Size)
		return p, nil
	}
}

func (r *Reader) truncated(n int64, reason string) error {
	common.Warnf("%s: %s at offset %d, %d trailing bytes ignored", r.path, reason, r.offset, n)
	r.logEvent(common.Event{Kind: common.EventTruncated, Offset: r.offset, Skip: n, Detail: reason})
	if r.metrics != nil {
		r.metrics.AddBytes(n)
	}
	r.offset = r.size
	return io.EOF
}

// resync moves the reader to the next plausible header after the current
// offset. It returns io.EOF when there is none.
func (r *Reader) resync(reason string) error {
	orig := r.offset
	common.Warnf("%s: corrupt data at offset %d: %s", r.path, orig, reason)
	if r.metrics != nil {
		r.metrics.IncResync()
	}
	start := orig + 1
	for start < r.size {
		window := r.resyncWindow
		if window < packet.HeaderBSize {
			window = packet.HeaderBSize
		}
		if rem := r.size - start; window > rem {
			window = rem
		}
		if int64(len(r.resyncBuf)) < window {
			r.resyncBuf = make([]byte, window)
		}
		buf := r.resyncBuf[:window]
		n, err := r.f.ReadAt(buf, start)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		buf = buf[:n]
		atEOF := start+int64(n) >= r.size

		i := packet.NextMagic(buf, 0)
		if i < 0 {
			if atEOF || n < 2 {
				break
			}
			// A magic may straddle the window boundary.
			start += int64(n) - 1
			continue
		}
		cand := start + int64(i)
		h, err := packet.DecodeHeader(buf[i:])
		if err != nil {
			if atEOF {
				break
			}
			start = cand
			if int64(i) == 0 {
				start++
			}
			continue
		}
		if int64(h.Size) > r.size-cand {
			start = cand + 1
			continue
		}
		skipped := cand - orig
		r.offset = cand
		if r.metrics != nil {
			r.metrics.AddCorrupt(skipped)
			r.metrics.AddBytes(skipped)
		}
		r.logEvent(common.Event{Kind: common.EventResync, Offset: orig, Skip: skipped, Detail: reason})
		common.Logf("%s: resync successful, new offset %d (%d bytes skipped)", r.path, cand, skipped)
		return nil
	}
	skipped := r.size - orig
	if r.metrics != nil {
		r.metrics.AddCorrupt(skipped)
	}
	return r.truncated(skipped, "no packet header found")
}

func (r *Reader) logEvent(ev common.Event) {
	ev.File = r.path
	if err := r.events.Append(ev); err != nil {
		common.Warnf("%s: event log: %v", r.path, err)
	}
}

// SeekOffset positions the reader at off. Offsets inside the header are
// moved to the first data packet.
func (r *Reader) SeekOffset(off int64) error {
	if off < 0 || off > r.size {
		return fmt.Errorf("seek offset %d outside file of %d bytes", off, r.size)
	}
	if off < r.dataStart {
		off = r.dataStart
	}
	r.offset = off
	return nil
}

// SeekTime positions the reader at the first packet stamped at or after
// secs, starting the scan from the table of contents floor entry.
func (r *Reader) SeekTime(secs uint32) error {
	start := r.dataStart
	if e, ok := r.header.Table.Snapshot().LookupFloor(secs); ok && int64(e.Offset) >= r.dataStart && int64(e.Offset) < r.size {
		start = int64(e.Offset)
	}
	r.offset = start
	for {
		p, err := r.Next()
		if err != nil {
			return err
		}
		if p.Header.HasTime() && p.Header.Secs >= secs {
			r.offset = p.Offset
			return nil
		}
	}
}
