// Package toc keeps the table of contents of a recording: a bounded array of
// (seconds, file offset) entries whose time resolution coarsens as the
// recording grows, so a fixed amount of header space covers any duration.
package toc

import (
	"errors"
	"sort"
	"sync"
)

// Defaults used when a recording does not say otherwise.
const (
	DefaultCapacity   = 5000
	DefaultResolution = 1

	minCapacity   = 2
	maxResolution = 1 << 31
)

var (
	// ErrUnsupportedVersion is returned for a header written by a newer layout.
	ErrUnsupportedVersion = errors.New("toc: unsupported version")
	// ErrCapacity means an on-disk header claims more entries than it has room
	// for.
	ErrCapacity = errors.New("toc: used exceeds capacity")
)

// Entry points at the first packet recorded at or after Secs.
type Entry struct {
	Secs   uint32
	Offset uint64
}

// Index is the in-memory table of contents. A single writer calls Record;
// any number of readers may call Snapshot or LookupFloor concurrently.
type Index struct {
	mu         sync.RWMutex
	entries    []Entry
	capacity   int
	resolution uint32
	start      uint32
	end        uint32
	seen       bool
}

// New returns an empty index. Capacities below two and a zero resolution are
// raised to the smallest workable values.
func New(capacity int, resolution uint32) *Index {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	if resolution == 0 {
		resolution = DefaultResolution
	}
	return &Index{
		entries:    make([]Entry, 0, capacity),
		capacity:   capacity,
		resolution: resolution,
	}
}

// Record notes that a packet stamped secs starts at offset. It reports whether
// an entry was added. The start time is the first call's, the end time the
// latest seen; a timestamp earlier than the last entry never enters the array.
func (x *Index) Record(secs uint32, offset uint64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.seen {
		x.start, x.end, x.seen = secs, secs, true
	} else if secs > x.end {
		x.end = secs
	}

	for {
		n := len(x.entries)
		if n > 0 {
			last := x.entries[n-1].Secs
			if secs < last || secs-last < x.resolution {
				return false
			}
		}
		if n < x.capacity {
			x.entries = append(x.entries, Entry{Secs: secs, Offset: offset})
			return true
		}
		x.compact()
	}
}

// compact doubles the resolution and keeps every other entry, starting with
// the first, in a fresh array so existing snapshots stay valid.
func (x *Index) compact() {
	if x.resolution < maxResolution {
		x.resolution *= 2
	}
	kept := make([]Entry, 0, x.capacity)
	for i := 0; i < len(x.entries); i += 2 {
		kept = append(kept, x.entries[i])
	}
	x.entries = kept
}

// Snapshot is a consistent read-only view of an index.
type Snapshot struct {
	Entries    []Entry
	Capacity   int
	Resolution uint32
	Start      uint32
	End        uint32
}

// Snapshot captures the current entries. The returned slice is never written
// to by the index.
func (x *Index) Snapshot() Snapshot {
	x.mu.RLock()
	defer x.mu.RUnlock()
	n := len(x.entries)
	return Snapshot{
		Entries:    x.entries[:n:n],
		Capacity:   x.capacity,
		Resolution: x.resolution,
		Start:      x.start,
		End:        x.end,
	}
}

// LookupFloor returns the entry with the greatest timestamp not after secs.
func (x *Index) LookupFloor(secs uint32) (Entry, bool) {
	return x.Snapshot().LookupFloor(secs)
}

// LookupFloor returns the entry with the greatest timestamp not after secs.
func (s Snapshot) LookupFloor(secs uint32) (Entry, bool) {
	i := sort.Search(len(s.Entries), func(i int) bool { return s.Entries[i].Secs > secs })
	if i == 0 {
		return Entry{}, false
	}
	return s.Entries[i-1], true
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

func (x *Index) Cap() int { return x.capacity }

func (x *Index) Resolution() uint32 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.resolution
}

// StartTime is the first recorded timestamp and EndTime the latest, zero when
// empty.
func (x *Index) StartTime() uint32 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.start
}

func (x *Index) EndTime() uint32 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.end
}

// Restore rebuilds an index from persisted state. Entries that step backwards
// or exceed capacity are dropped.
func Restore(s Snapshot) *Index {
	x := New(s.Capacity, s.Resolution)
	for _, e := range s.Entries {
		n := len(x.entries)
		if n == x.capacity || (n > 0 && e.Secs < x.entries[n-1].Secs) {
			continue
		}
		x.entries = append(x.entries, e)
	}
	x.start, x.end = s.Start, s.End
	x.seen = s.Start != 0 || s.End != 0 || len(x.entries) > 0
	return x
}
