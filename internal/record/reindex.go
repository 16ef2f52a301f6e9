package record

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"example.com/radarwire/internal/common"
	"example.com/radarwire/internal/packet"
	"example.com/radarwire/internal/toc"
)

// Rebuild scans every packet of an open recording and returns the table of
// contents a session would have built while writing it.
func Rebuild(r *Reader) (*toc.Index, time.Time, error) {
	capacity := int(r.header.Table.Size)
	resolution := uint32(toc.DefaultResolution)
	last := r.header.Master.Start()
	if d, ok := r.Descriptor(); ok {
		if d.Resolution > 0 {
			resolution = d.Resolution
		}
		last = d.Created
	}
	index := toc.New(capacity, resolution)
	timed := false

	saved := r.offset
	defer func() { r.offset = saved }()
	r.offset = r.dataStart
	for {
		p, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, time.Time{}, err
		}
		if p.Header.Tag == packet.TagNextName {
			continue
		}
		if p.Header.HasTime() {
			last = p.Header.Time()
			timed = true
		}
		if timed {
			index.Record(uint32(last.Unix()), uint64(p.Offset))
		}
	}
	return index, last, nil
}

// Reindex rebuilds the table of contents of the recording at path and
// rewrites its header in place. It is the recovery for ErrStaleIndex. The
// next-file link and channel count are kept.
func Reindex(path string, events *common.EventLog) (toc.Snapshot, error) {
	r, err := Open(path)
	if err != nil {
		return toc.Snapshot{}, err
	}
	r.SetEventLog(events)
	index, last, err := Rebuild(r)
	hdr := r.header
	r.Close()
	if err != nil {
		return toc.Snapshot{}, fmt.Errorf("reindex %s: %w", path, err)
	}

	snap := index.Snapshot()
	master := hdr.Master
	master.SetEnd(last)
	table := toc.TableOf(snap, hdr.Table.NumChannels, hdr.Table.OffsetToNextName)
	head, err := encodeHeader(master, table)
	if err != nil {
		return snap, err
	}
	if int64(len(head)) != hdr.Size {
		return snap, fmt.Errorf("reindex %s: header size changed from %d to %d", path, hdr.Size, len(head))
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return snap, err
	}
	defer f.Close()
	if _, err := f.WriteAt(head, 0); err != nil {
		return snap, err
	}
	if err := f.Sync(); err != nil {
		return snap, err
	}
	common.Logf("%s: reindexed, %d entries at %ds resolution", path, len(snap.Entries), snap.Resolution)
	if err := events.Append(common.Event{Kind: common.EventReindex, File: path, Detail: fmt.Sprintf("%d entries", len(snap.Entries))}); err != nil {
		common.Warnf("%s: event log: %v", path, err)
	}
	return snap, nil
}
