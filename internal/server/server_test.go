package server

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"example.com/radarwire/internal/inspect"
	"example.com/radarwire/internal/record"
	"example.com/radarwire/internal/toc"
	"example.com/radarwire/internal/track"
)

var t0 = time.Unix(1700000000, 0).UTC()

type fakeRecorder struct {
	status Status
	index  *toc.Index
}

func (f *fakeRecorder) Status() Status { return f.status }

func (f *fakeRecorder) TOC() (toc.Snapshot, bool) {
	if f.index == nil {
		return toc.Snapshot{}, false
	}
	return f.index.Snapshot(), true
}

func writeRecording(t *testing.T, path string, n int) {
	t.Helper()
	s, err := record.Create(path, record.Options{Capacity: 4, Resolution: 1, Clock: func() time.Time { return t0 }})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		b, err := track.Packet(&track.Minimal{ID: uint32(i)}, t0.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Append(b); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

func newTestServer(t *testing.T, rec *fakeRecorder) (*httptest.Server, string) {
	t.Helper()
	out := t.TempDir()
	srv, err := NewServer(Options{OutputDir: out, StorageDir: t.TempDir(), Recorder: rec})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(NewRouter(srv))
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return ts, out
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestStatusAndTOC(t *testing.T) {
	rec := &fakeRecorder{status: Status{Listen: ":4000", Recording: "rec-1.rwr", Packets: 12, Rotations: 1}}
	ts, _ := newTestServer(t, rec)

	var st Status
	if code := getJSON(t, ts.URL+"/status", &st); code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	if st.Recording != "rec-1.rwr" || st.Packets != 12 || st.Rotations != 1 {
		t.Fatalf("status %+v", st)
	}

	if code := getJSON(t, ts.URL+"/toc", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("toc without recording: %d", code)
	}
	index := toc.New(4, 1)
	for i := uint32(0); i < 3; i++ {
		index.Record(1700000000+i, uint64(1000+100*i))
	}
	ts, _ = newTestServer(t, &fakeRecorder{index: index})
	var resp tocResponse
	if code := getJSON(t, ts.URL+"/toc", &resp); code != http.StatusOK {
		t.Fatalf("toc code %d", code)
	}
	if len(resp.Entries) != 3 || resp.Entries[2].Offset != 1200 || !resp.Start.Equal(t0) {
		t.Fatalf("toc %+v", resp)
	}
}

func TestRecordings(t *testing.T) {
	ts, out := newTestServer(t, &fakeRecorder{})
	writeRecording(t, filepath.Join(out, "rec-1.rwr"), 10)

	var list struct {
		Recordings []recordingRef `json:"recordings"`
	}
	if code := getJSON(t, ts.URL+"/recordings", &list); code != http.StatusOK {
		t.Fatalf("list code %d", code)
	}
	if len(list.Recordings) != 1 || list.Recordings[0].Name != "rec-1.rwr" {
		t.Fatalf("list %+v", list)
	}

	var sum record.Summary
	if code := getJSON(t, ts.URL+"/recordings/rec-1.rwr", &sum); code != http.StatusOK {
		t.Fatalf("summary code %d", code)
	}
	if sum.Packets != 10 || sum.Tracks != 10 || sum.Path != "rec-1.rwr" {
		t.Fatalf("summary %+v", sum)
	}

	for _, tc := range []struct {
		name string
		want int
	}{
		{"missing.rwr", http.StatusNotFound},
		{"notes.txt", http.StatusBadRequest},
		{".hidden.rwr", http.StatusBadRequest},
	} {
		if code := getJSON(t, ts.URL+"/recordings/"+tc.name, nil); code != tc.want {
			t.Errorf("%s: code %d, want %d", tc.name, code, tc.want)
		}
	}
}

func TestPacketsStream(t *testing.T) {
	ts, out := newTestServer(t, &fakeRecorder{})
	writeRecording(t, filepath.Join(out, "rec-1.rwr"), 10)

	resp, err := http.Get(ts.URL + "/recordings/rec-1.rwr/packets?from=1700000004&limit=3")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type %q", ct)
	}
	var recs []inspect.Record
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var rec inspect.Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		recs = append(recs, rec)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].Time == nil || recs[0].Time.Unix() != 1700000004 {
		t.Fatalf("first record %+v", recs[0])
	}
	if recs[0].Track == nil {
		t.Fatal("track not decoded")
	}

	if code := getJSON(t, ts.URL+"/recordings/rec-1.rwr/packets?limit=x", nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", code)
	}
}

func TestReportPDF(t *testing.T) {
	ts, out := newTestServer(t, &fakeRecorder{})
	writeRecording(t, filepath.Join(out, "rec-1.rwr"), 3)

	resp, err := http.Get(ts.URL + "/recordings/rec-1.rwr/report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/pdf" {
		t.Fatalf("code %d type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "rec-1.pdf") {
		t.Fatalf("disposition %q", resp.Header.Get("Content-Disposition"))
	}
	head := make([]byte, 5)
	if _, err := io.ReadFull(resp.Body, head); err != nil || string(head) != "%PDF-" {
		t.Fatalf("body starts %q: %v", head, err)
	}
}
