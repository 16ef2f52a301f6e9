// Package record writes and reads recording files: a header packet carrying
// the master block and table of contents, a JSON session descriptor, then the
// recorded packets back to back.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"example.com/radarwire/internal/packet"
	"example.com/radarwire/internal/toc"
)

// FileExt is the extension given to recording files.
const FileExt = ".rwr"

var (
	// ErrClosed is returned by every Session call after Close.
	ErrClosed = errors.New("record: session closed")
	// ErrStaleIndex means the final header rewrite failed. Packet data is
	// intact; Reindex restores the table of contents.
	ErrStaleIndex = errors.New("record: closed with stale index")
	// ErrNotRecording means the file does not start with a header packet.
	ErrNotRecording = errors.New("record: not a recording")
	// ErrUnsupportedVersion is returned for master blocks or tables written
	// by a newer layout.
	ErrUnsupportedVersion = toc.ErrUnsupportedVersion
)

// Descriptor is the JSON session descriptor recorded after the header.
type Descriptor struct {
	SessionID     uuid.UUID `json:"sessionId"`
	Created       time.Time `json:"created"`
	Source        string    `json:"source,omitempty"`
	RewritePeriod string    `json:"rewritePeriod"`
	Capacity      int       `json:"capacity"`
	Resolution    uint32    `json:"resolution"`
}

// headerPacketSize is the framed size of the header for a given capacity.
func headerPacketSize(capacity int) int64 {
	return int64(packet.HeaderBSize + toc.MasterBlockSize + toc.EncodedSize(capacity))
}

// encodeHeader frames the master block and table as the TOC packet that
// opens every recording.
func encodeHeader(master toc.MasterBlock, table toc.Table) ([]byte, error) {
	mb, err := master.MarshalBinary()
	if err != nil {
		return nil, err
	}
	tb, err := table.MarshalBinary()
	if err != nil {
		return nil, err
	}
	payload := make([]byte, 0, len(mb)+len(tb))
	payload = append(payload, mb...)
	payload = append(payload, tb...)
	return packet.BuildB(packet.TagTOC, master.Start(), payload), nil
}

// fileHeader is the decoded header packet.
type fileHeader struct {
	Size   int64
	Master toc.MasterBlock
	Table  toc.Table
}

func readHeader(r io.ReaderAt, fileSize int64) (fileHeader, error) {
	var out fileHeader
	head := make([]byte, packet.HeaderBSize)
	if _, err := r.ReadAt(head, 0); err != nil {
		return out, fmt.Errorf("%w: %v", ErrNotRecording, err)
	}
	h, err := packet.DecodeHeader(head)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrNotRecording, err)
	}
	if h.Kind != packet.KindB || h.Tag != packet.TagTOC {
		return out, fmt.Errorf("%w: first packet is %s", ErrNotRecording, h)
	}
	if int64(h.Size) > fileSize {
		return out, packet.Errorf("read header", fileSize, packet.ErrTruncated, "header packet needs %d bytes, file has %d", h.Size, fileSize)
	}
	buf := make([]byte, h.Size)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return out, err
	}
	payload := buf[h.PayloadOffset():]
	if err := out.Master.UnmarshalBinary(payload); err != nil {
		return out, packet.WithBase(err, int64(h.PayloadOffset()))
	}
	if err := out.Table.UnmarshalBinary(payload[toc.MasterBlockSize:]); err != nil {
		return out, packet.WithBase(err, int64(h.PayloadOffset()+toc.MasterBlockSize))
	}
	out.Size = int64(h.Size)
	return out, nil
}

func encodeDescriptor(d Descriptor) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return packet.BuildB(packet.TagJSON, d.Created, data), nil
}

// readDescriptor decodes the descriptor packet at off. ok is false when the
// packet there is not a descriptor.
func readDescriptor(r io.ReaderAt, off, fileSize int64) (Descriptor, int64, bool) {
	var d Descriptor
	head := make([]byte, packet.HeaderBSize)
	if _, err := r.ReadAt(head, off); err != nil {
		return d, 0, false
	}
	h, err := packet.DecodeHeader(head)
	if err != nil || h.Kind != packet.KindB || h.Tag != packet.TagJSON || off+int64(h.Size) > fileSize {
		return d, 0, false
	}
	buf := make([]byte, h.Size)
	if _, err := r.ReadAt(buf, off); err != nil {
		return d, 0, false
	}
	if err := json.Unmarshal(buf[h.PayloadOffset():], &d); err != nil || d.SessionID == uuid.Nil {
		return d, 0, false
	}
	return d, int64(h.Size), true
}
