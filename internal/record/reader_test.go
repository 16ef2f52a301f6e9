package record

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/radarwire/internal/common"
	"example.com/radarwire/internal/packet"
	"example.com/radarwire/internal/track"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func patchFile(t *testing.T, path string, off int64, b byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteAt([]byte{b}, off)
	require.NoError(t, err)
}

func readAll(t *testing.T, r *Reader) []Packet {
	t.Helper()
	var out []Packet
	for {
		p, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, p)
	}
}

// spliceAfterFirst rewrites the recording at path with junk inserted after
// its first data packet and returns the junk's offset.
func spliceAfterFirst(t *testing.T, path string, junk []byte) int64 {
	t.Helper()
	r, err := Open(path)
	require.NoError(t, err)
	first, err := r.Next()
	require.NoError(t, err)
	at := r.Offset()
	r.Close()
	require.Equal(t, first.Offset+int64(first.Header.Size), at)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := append([]byte{}, data[:at]...)
	out = append(out, junk...)
	out = append(out, data[at:]...)
	writeFile(t, path, out)
	return at
}

func TestReaderResyncsOverGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.rwr")
	writeRecording(t, path, 4, Options{})
	junk := bytes.Repeat([]byte{0xEE}, 37)
	at := spliceAfterFirst(t, path, junk)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	metrics := common.NewMetrics()
	events := common.NewEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
	r.SetMetrics(metrics)
	r.SetEventLog(events)

	got := readAll(t, r)
	require.Len(t, got, 4)
	assert.Equal(t, at+int64(len(junk)), got[1].Offset)
	for i, p := range got {
		v, err := track.DecodePayload(p.Header.Tag, p.Payload)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), v.(*track.Minimal).ID)
	}

	snap := metrics.Snapshot()
	assert.EqualValues(t, 1, snap.Resyncs)
	assert.EqualValues(t, 1, snap.Corrupt)
	assert.EqualValues(t, len(junk), snap.Skipped)
	assert.EqualValues(t, 4, snap.Packets)

	logged, err := common.ReadEventLog(events.Path())
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, common.EventResync, logged[0].Kind)
	assert.Equal(t, at, logged[0].Offset)
	assert.EqualValues(t, len(junk), logged[0].Skip)
	assert.Equal(t, path, logged[0].File)
}

func TestReaderResyncAcrossWindows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.rwr")
	writeRecording(t, path, 3, Options{})
	junk := bytes.Repeat([]byte{0x11, 0x43}, 100)
	at := spliceAfterFirst(t, path, junk)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	r.resyncWindow = 20

	got := readAll(t, r)
	require.Len(t, got, 3)
	assert.Equal(t, at+int64(len(junk)), got[1].Offset)
}

func TestReaderReturnsUnregisteredTags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.rwr")
	s, err := Create(path, Options{})
	require.NoError(t, err)
	// A newer message type this build has no shape for.
	unknown := packet.BuildB(packet.Tag(0x117), t0, []byte{1, 2, 3, 4, 5, 6})
	require.NoError(t, s.Append(unknown))
	minimal := trackPacket(t, 7, t0.Add(time.Second))
	require.Len(t, minimal, 72)
	require.NoError(t, s.Append(minimal))
	require.NoError(t, s.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	metrics := common.NewMetrics()
	r.SetMetrics(metrics)

	got := readAll(t, r)
	require.Len(t, got, 2)
	assert.Equal(t, packet.Tag(0x117), got[0].Header.Tag)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, got[0].Payload)
	assert.Equal(t, packet.TagTrackMin, got[1].Header.Tag)
	assert.Len(t, got[1].Payload, 56)
	v, err := track.DecodePayload(got[1].Header.Tag, got[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), v.(*track.Minimal).ID)

	snap := metrics.Snapshot()
	assert.Zero(t, snap.Corrupt)
	assert.Zero(t, snap.Resyncs)
	assert.EqualValues(t, 2, snap.Packets)
}

func TestReaderResyncSkipsImplausibleCandidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.rwr")
	writeRecording(t, path, 3, Options{})
	// Garbage that contains a well-formed Header B with an unregistered tag.
	// Resync must not stop on it.
	junk := append(bytes.Repeat([]byte{0xEE}, 5), packet.BuildB(0x0FFF, t0, make([]byte, 8))...)
	at := spliceAfterFirst(t, path, junk)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	got := readAll(t, r)
	require.Len(t, got, 3)
	assert.Equal(t, at+int64(len(junk)), got[1].Offset)
}

func TestReaderTrailingPartialPacket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.rwr")
	writeRecording(t, path, 3, Options{})
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tail := trackPacket(t, 9, t0)[:10]
	writeFile(t, path, append(data, tail...))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	events := common.NewEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
	r.SetEventLog(events)

	got := readAll(t, r)
	assert.Len(t, got, 3)
	assert.Equal(t, r.Size(), r.Offset())
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)

	logged, err := common.ReadEventLog(events.Path())
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, common.EventTruncated, logged[0].Kind)
	assert.EqualValues(t, len(tail), logged[0].Skip)
}

func TestReaderTrailingPartialPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.rwr")
	writeRecording(t, path, 3, Options{})
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	full := trackPacket(t, 9, t0)
	writeFile(t, path, append(data, full[:len(full)-5]...))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Len(t, readAll(t, r), 3)

	// A live reader waits for the rest instead.
	r2, err := Open(path)
	require.NoError(t, err)
	defer r2.Close()
	r2.live = true
	assert.Len(t, readAll(t, r2), 3)
	last := r2.Offset()
	assert.Less(t, last, r2.Size())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write(full[len(full)-5:])
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, r2.refresh())
	got := readAll(t, r2)
	require.Len(t, got, 1)
	assert.Equal(t, last, got[0].Offset)
}

func TestSeek(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.rwr")
	writeRecording(t, path, 20, Options{Capacity: 4})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	for _, secs := range []int{0, 1, 7, 13, 19} {
		require.NoError(t, r.SeekTime(uint32(t0.Unix())+uint32(secs)))
		p, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, uint32(t0.Unix())+uint32(secs), p.Header.Secs, "seek to +%ds", secs)
	}
	assert.ErrorIs(t, r.SeekTime(uint32(t0.Unix())+100), io.EOF)

	require.NoError(t, r.SeekOffset(0))
	assert.Equal(t, r.DataStart(), r.Offset())
	assert.Error(t, r.SeekOffset(r.Size()+1))
	require.NoError(t, r.SeekOffset(r.Size()))
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestScanFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.rwr")
	b := filepath.Join(dir, "b.rwr")
	sa := writeRecording(t, a, 5, Options{Source: "radar-1"})

	s, err := Create(b, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Append(trackPacket(t, 1, t0)))
	require.NoError(t, s.WritePacket(packet.TagTrackNorm, uint32(t0.Unix()), 0, make([]byte, 10)))
	alert := &track.AlertLogic{Alert: track.Alert{SenderID: 1, AlertID: 2, AlertType: 3}, GroupName: "harbour"}
	pkt, err := track.Packet(alert, t0.Add(time.Second))
	require.NoError(t, err)
	require.NoError(t, s.Append(pkt))
	require.NoError(t, s.Close())

	sums, err := ScanFiles(context.Background(), []string{a, b}, 2, false)
	require.NoError(t, err)
	require.Len(t, sums, 2)

	assert.Equal(t, a, sums[0].Path)
	assert.Equal(t, sa.ID().String(), sums[0].SessionID)
	assert.Equal(t, "radar-1", sums[0].Source)
	assert.EqualValues(t, 5, sums[0].Packets)
	assert.EqualValues(t, 5, sums[0].ByTag[packet.TagTrackMin.String()])
	assert.EqualValues(t, 5, sums[0].Tracks)
	assert.Zero(t, sums[0].DecodeErrors)
	assert.Len(t, sums[0].SHA256, 64)
	assert.Equal(t, t0.Add(4*time.Second), sums[0].End)

	assert.EqualValues(t, 3, sums[1].Packets)
	assert.EqualValues(t, 3, sums[1].Tracks)
	assert.EqualValues(t, 1, sums[1].DecodeErrors)
	assert.EqualValues(t, 1, sums[1].ByTag[packet.TagAlertLogic.String()])

	_, err = ScanFiles(context.Background(), []string{filepath.Join(dir, "missing.rwr")}, 1, false)
	assert.Error(t, err)
}

func TestFollow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.rwr")
	s, err := Create(path, Options{})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Append(trackPacket(t, 0, t0)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	seen := make(chan uint32, 16)
	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, path, FollowOptions{PollInterval: 20 * time.Millisecond}, func(p Packet) error {
			v, err := track.DecodePayload(p.Header.Tag, p.Payload)
			if err != nil {
				return err
			}
			seen <- v.(*track.Minimal).ID
			return nil
		})
	}()

	for i := 1; i < 4; i++ {
		require.NoError(t, s.Append(trackPacket(t, uint32(i), t0.Add(time.Duration(i)*time.Second))))
	}
	for want := uint32(0); want < 4; want++ {
		select {
		case id := <-seen:
			assert.Equal(t, want, id)
		case <-ctx.Done():
			t.Fatalf("timed out waiting for packet %d", want)
		}
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
