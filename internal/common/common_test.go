package common

import (
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestEventLogAppendRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", EventLogPath("rec.rwr"))
	log := NewEventLog(path)
	for _, ev := range []Event{
		{Kind: EventResync, File: "rec.rwr", Offset: 4096, Skip: 12},
		{Kind: EventReindex, File: "rec.rwr", Detail: "40 entries"},
	} {
		if err := log.Append(ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := log.Append(Event{}); err == nil {
		t.Fatal("event without kind accepted")
	}
	var nilLog *EventLog
	if err := nilLog.Append(Event{Kind: EventResync}); err != nil {
		t.Fatalf("nil log: %v", err)
	}

	events, err := ReadEventLog(path)
	if err != nil {
		t.Fatalf("ReadEventLog: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].Offset != 4096 || events[0].Skip != 12 || events[0].Ts.IsZero() {
		t.Fatalf("first event %+v", events[0])
	}
	if events[1].Kind != EventReindex {
		t.Fatalf("second event %+v", events[1])
	}
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.SetTotalBytes(400)
	m.Start()
	m.AddPacket(100)
	m.AddPacket(0)
	m.AddPacket(100)
	m.IncResync()
	m.AddCorrupt(7)
	m.AddFlush(nil)
	m.AddFlush(os.ErrClosed)
	m.Stop()

	s := m.Snapshot()
	if s.Packets != 2 || s.Bytes != 200 || s.Resyncs != 1 || s.Corrupt != 1 || s.Skipped != 7 {
		t.Fatalf("snapshot %+v", s)
	}
	if s.Flushes != 2 || s.FlushFails != 1 {
		t.Fatalf("flush counts %+v", s)
	}
	if got := s.Completion(); got != 0.5 {
		t.Fatalf("completion %v", got)
	}
}

func TestMetricsCountReads(t *testing.T) {
	m := NewMetrics()
	m.SetTotalBytes(10)
	n, err := io.Copy(io.Discard, m.CountReads(strings.NewReader("0123456789")))
	if err != nil || n != 10 {
		t.Fatalf("copy: %d, %v", n, err)
	}
	m.IncPacket()
	s := m.Snapshot()
	if s.Bytes != 10 || s.Packets != 1 || s.Completion() != 1 {
		t.Fatalf("snapshot %+v", s)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:          "0 B",
		1023:       "1023 B",
		1536:       "1.50 KiB",
		1 << 20:    "1.00 MiB",
		2684354560: "2.50 GiB",
	}
	for in, want := range tests {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestRecordingFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.rwr", "a.RWR", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.rwr"), 0o755); err != nil {
		t.Fatal(err)
	}
	single := filepath.Join(dir, "notes.txt")

	got, err := RecordingFiles([]string{dir, single}, ".rwr")
	if err != nil {
		t.Fatalf("RecordingFiles: %v", err)
	}
	want := []string{filepath.Join(dir, "a.RWR"), filepath.Join(dir, "b.rwr"), single}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if _, err := RecordingFiles([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Fatal("missing path accepted")
	}
}

func TestSha256OfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abc")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	sum, n, err := Sha256OfFile(path)
	if err != nil {
		t.Fatal(err)
	}
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if sum != want || n != 3 {
		t.Fatalf("got %s (%d bytes)", sum, n)
	}
	h := NewHasher()
	h.Write([]byte("abc"))
	if h.Sum() != want {
		t.Fatalf("hasher %s", h.Sum())
	}
}
