package record

import (
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/radarwire/internal/common"
	"example.com/radarwire/internal/packet"
	"example.com/radarwire/internal/toc"
	"example.com/radarwire/internal/track"
)

var t0 = time.Unix(1700000000, 0).UTC()

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type failingHeader struct {
	calls int
}

func (f *failingHeader) WriteAt(p []byte, off int64) (int, error) {
	f.calls++
	return 0, errors.New("device unavailable")
}

func (f *failingHeader) Sync() error { return nil }

func trackPacket(t *testing.T, id uint32, ts time.Time) []byte {
	t.Helper()
	m := &track.Minimal{ID: id, Status: track.StatusEstablished, RangeMetres: float32(100 * id), AzimuthDegrees: 10}
	b, err := track.Packet(m, ts)
	require.NoError(t, err)
	return b
}

// writeRecording records n one-second-apart track packets and closes the
// session.
func writeRecording(t *testing.T, path string, n int, opts Options) *Session {
	t.Helper()
	clock := &fakeClock{now: t0}
	opts.Clock = clock.Now
	s, err := Create(path, opts)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, s.Append(trackPacket(t, uint32(i), t0.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, s.Close())
	return s
}

func TestSessionWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.rwr")
	clock := &fakeClock{now: t0}
	s, err := Create(path, Options{Capacity: 8, Resolution: 1, Source: "udp://:4000", Clock: clock.Now})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(trackPacket(t, uint32(i), t0.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, s.WritePacket(packet.TagAsterixCat048, 0, 0, []byte{1, 2, 3}))
	assert.EqualValues(t, 11, s.Packets())

	snap := s.Index().Snapshot()
	assert.Equal(t, uint32(2), snap.Resolution)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Close(), ErrClosed)
	assert.ErrorIs(t, s.Append(trackPacket(t, 99, t0)), ErrClosed)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	d, ok := r.Descriptor()
	require.True(t, ok)
	assert.Equal(t, s.ID(), d.SessionID)
	assert.Equal(t, "udp://:4000", d.Source)
	assert.Equal(t, 8, d.Capacity)

	master := r.Master()
	assert.Equal(t, t0, master.Start())
	assert.Equal(t, t0.Add(9*time.Second), master.End())
	assert.Equal(t, uint32(9), master.DurationSecs)

	table := r.Table()
	assert.Equal(t, uint32(toc.HeaderVersion), table.Version)
	assert.Equal(t, uint32(8), table.Size)
	assert.Equal(t, snap.Entries, table.Entries)
	assert.Equal(t, uint64(r.DataStart()), table.Entries[0].Offset)

	var got []Packet
	for {
		p, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, p)
	}
	require.Len(t, got, 11)
	assert.Equal(t, r.DataStart(), got[0].Offset)
	v, err := track.DecodePayload(got[3].Header.Tag, got[3].Payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), v.(*track.Minimal).ID)
	assert.Equal(t, packet.KindA, got[10].Header.Kind)
	assert.Equal(t, []byte{1, 2, 3}, got[10].Payload)
}

func TestAppendRejectsBadFraming(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.rwr")
	s, err := Create(path, Options{})
	require.NoError(t, err)
	defer s.Close()

	pkt := trackPacket(t, 1, t0)
	assert.Error(t, s.Append(pkt[:10]))
	assert.ErrorIs(t, s.Append(append(pkt, 0)), packet.ErrSizeMismatch)
	assert.EqualValues(t, 0, s.Packets())
}

func TestUntimedPacketsBeforeFirstTimeAreNotIndexed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.rwr")
	// Replayed data: the wall clock is well past the packet times.
	clock := &fakeClock{now: t0.Add(time.Hour)}
	s, err := Create(path, Options{Capacity: 8, Resolution: 1, Clock: clock.Now})
	require.NoError(t, err)
	require.NoError(t, s.WritePacket(packet.TagAsterixCat048, 0, 0, []byte{1, 2, 3}))
	assert.Empty(t, s.Index().Snapshot().Entries)
	require.NoError(t, s.Append(trackPacket(t, 1, t0)))
	require.NoError(t, s.Append(trackPacket(t, 2, t0.Add(time.Second))))
	require.NoError(t, s.WritePacket(packet.TagAsterixCat048, 0, 0, []byte{4}))
	require.NoError(t, s.Close())

	r, err := Open(path)
	require.NoError(t, err)
	first := uint64(r.DataStart()) + packet.HeaderASize + 3
	second := first + packet.HeaderBSize + 56
	want := []toc.Entry{
		{Secs: uint32(t0.Unix()), Offset: first},
		{Secs: uint32(t0.Unix()) + 1, Offset: second},
	}
	assert.Equal(t, want, r.Table().Entries)

	require.NoError(t, r.SeekTime(uint32(t0.Unix())))
	p, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(first), p.Offset)
	r.Close()

	snap, err := Reindex(path, nil)
	require.NoError(t, err)
	assert.Equal(t, want, snap.Entries)
}

func TestPeriodicFlushFailureKeepsRecording(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.rwr")
	clock := &fakeClock{now: t0}
	metrics := common.NewMetrics()
	events := common.NewEventLog(common.EventLogPath(path))
	s, err := Create(path, Options{RewritePeriod: time.Second, Metrics: metrics, Events: events, Clock: clock.Now})
	require.NoError(t, err)
	bad := &failingHeader{}
	s.hdr = bad

	for i := 0; i < 5; i++ {
		clock.Advance(2 * time.Second)
		require.NoError(t, s.Append(trackPacket(t, uint32(i), clock.Now())))
	}
	assert.Equal(t, 5, bad.calls)
	assert.EqualValues(t, 5, s.Packets())

	err = s.Close()
	require.ErrorIs(t, err, ErrStaleIndex)
	assert.ErrorIs(t, s.Close(), ErrClosed)

	snap := metrics.Snapshot()
	assert.EqualValues(t, 6, snap.Flushes)
	assert.EqualValues(t, 6, snap.FlushFails)
	assert.EqualValues(t, 5, snap.Packets)

	logged, err := common.ReadEventLog(events.Path())
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, common.EventStaleIndex, logged[0].Kind)

	// The packets are readable even though the table was never rewritten.
	r, err := Open(path)
	require.NoError(t, err)
	assert.Zero(t, r.Table().Used)
	n := 0
	for {
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		n++
	}
	r.Close()
	assert.Equal(t, 5, n)

	snapIdx, err := Reindex(path, events)
	require.NoError(t, err)
	assert.Len(t, snapIdx.Entries, 5)

	r, err = Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.EqualValues(t, 5, r.Table().Used)
	assert.Equal(t, t0.Add(10*time.Second), r.Master().End())
}

func TestPeriodicFlushWritesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.rwr")
	clock := &fakeClock{now: t0}
	s, err := Create(path, Options{RewritePeriod: 5 * time.Second, Clock: clock.Now})
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(trackPacket(t, uint32(i), t0.Add(time.Duration(i)*time.Second))))
	}
	r, err := Open(path)
	require.NoError(t, err)
	assert.Zero(t, r.Table().Used)
	r.Close()

	clock.Advance(6 * time.Second)
	require.NoError(t, s.Append(trackPacket(t, 3, t0.Add(3*time.Second))))
	r, err = Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.EqualValues(t, 4, r.Table().Used)
}

func TestFlushAsync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.rwr")
	s, err := Create(path, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Append(trackPacket(t, 1, t0)))
	require.NoError(t, <-s.FlushAsync())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, <-s.FlushAsync(), ErrClosed)
}

func TestLinkNext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.rwr")
	s, err := Create(path, Options{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(trackPacket(t, uint32(i), t0.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, s.LinkNext("rec-0002.rwr"))
	require.NoError(t, s.Close())

	r, err := Open(path)
	require.NoError(t, err)
	name, ok := r.NextName()
	r.Close()
	require.True(t, ok)
	assert.Equal(t, "rec-0002.rwr", name)
	next := r.Table().OffsetToNextName
	assert.NotZero(t, next)

	_, err = Reindex(path, nil)
	require.NoError(t, err)
	r, err = Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, next, r.Table().OffsetToNextName)
	name, ok = r.NextName()
	assert.True(t, ok)
	assert.Equal(t, "rec-0002.rwr", name)
}

func TestReindexMatchesSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.rwr")
	writeRecording(t, path, 50, Options{Capacity: 8})

	r, err := Open(path)
	require.NoError(t, err)
	before := r.Table()
	r.Close()

	snap, err := Reindex(path, nil)
	require.NoError(t, err)
	assert.Equal(t, before.Entries, snap.Entries)
	assert.Equal(t, before.Resolution, snap.Resolution)

	r, err = Open(path)
	require.NoError(t, err)
	defer r.Close()
	after := r.Table()
	assert.Equal(t, before.Header, after.Header)
	assert.Equal(t, before.Entries, after.Entries)
}

func TestOpenRejectsNewerMasterBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.rwr")
	writeRecording(t, path, 2, Options{})

	patchFile(t, path, packet.HeaderBSize+2, toc.ProtocolVersion+1)
	_, err := Open(path)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestOpenRejectsOtherFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.bin")
	writeFile(t, path, []byte("not a recording at all"))
	_, err := Open(path)
	assert.ErrorIs(t, err, ErrNotRecording)
}
