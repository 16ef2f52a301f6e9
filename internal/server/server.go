// Package server exposes the recorder's state and its recordings over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"example.com/radarwire/internal/common"
	"example.com/radarwire/internal/inspect"
	"example.com/radarwire/internal/record"
	"example.com/radarwire/internal/report"
	"example.com/radarwire/internal/toc"
)

// Status is the state of the running recorder.
type Status struct {
	Listen    string                 `json:"listen"`
	Recording string                 `json:"recording,omitempty"`
	SessionID string                 `json:"sessionId,omitempty"`
	Started   time.Time              `json:"started"`
	Rotations int                    `json:"rotations"`
	Packets   int64                  `json:"packets"`
	Size      int64                  `json:"size"`
	Wrapped   int64                  `json:"wrapped"`
	Metrics   common.MetricsSnapshot `json:"metrics"`
}

// Recorder is what the server reports on. The daemon implements it.
type Recorder interface {
	Status() Status
	// TOC returns the index of the open recording; ok is false between
	// recordings.
	TOC() (snap toc.Snapshot, ok bool)
}

// Options configures server creation.
type Options struct {
	// OutputDir holds the recordings the server lists.
	OutputDir string
	// StorageDir is where rendered reports are staged.
	StorageDir string
	Recorder   Recorder
}

// Server serves status and recording queries.
type Server struct {
	recorder  Recorder
	outputDir string
	workDir   string
}

// NewServer constructs a Server with a temporary workspace for reports.
func NewServer(opts Options) (*Server, error) {
	if opts.Recorder == nil {
		return nil, errors.New("server: recorder required")
	}
	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir = os.TempDir()
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(storageDir, "trackrecd-")
	if err != nil {
		return nil, err
	}
	return &Server{recorder: opts.Recorder, outputDir: opts.OutputDir, workDir: workDir}, nil
}

// Close removes any temporary state associated with the server.
func (s *Server) Close() error {
	if s == nil || s.workDir == "" {
		return nil
	}
	return os.RemoveAll(s.workDir)
}

func (s *Server) tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp(s.workDir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.recorder.Status())
}

type tocEntry struct {
	Time   time.Time `json:"time"`
	Offset uint64    `json:"offset"`
}

type tocResponse struct {
	Capacity   int        `json:"capacity"`
	Resolution uint32     `json:"resolution"`
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	Entries    []tocEntry `json:"entries"`
}

func (s *Server) handleTOC(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.recorder.TOC()
	if !ok {
		http.Error(w, "no recording open", http.StatusServiceUnavailable)
		return
	}
	resp := tocResponse{
		Capacity:   snap.Capacity,
		Resolution: snap.Resolution,
		Start:      unixTime(snap.Start),
		End:        unixTime(snap.End),
		Entries:    make([]tocEntry, len(snap.Entries)),
	}
	for i, e := range snap.Entries {
		resp.Entries[i] = tocEntry{Time: unixTime(e.Secs), Offset: e.Offset}
	}
	writeJSON(w, http.StatusOK, resp)
}

type recordingRef struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	paths, err := common.RecordingFiles([]string{s.outputDir}, record.FileExt)
	if err != nil {
		http.Error(w, fmt.Sprintf("list recordings: %v", err), http.StatusInternalServerError)
		return
	}
	refs := make([]recordingRef, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		refs = append(refs, recordingRef{Name: filepath.Base(p), Size: info.Size(), Modified: info.ModTime().UTC()})
	}
	writeJSON(w, http.StatusOK, struct {
		Recordings []recordingRef `json:"recordings"`
	}{refs})
}

// recordingPath maps a request name onto a file in the output directory.
func (s *Server) recordingPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid recording name %q", name)
	}
	if filepath.Ext(name) != record.FileExt {
		return "", fmt.Errorf("%q is not a recording", name)
	}
	p := filepath.Join(s.outputDir, name)
	if _, err := os.Stat(p); err != nil {
		return "", err
	}
	return p, nil
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (string, bool) {
	p, err := s.recordingPath(r.PathValue("name"))
	switch {
	case errors.Is(err, os.ErrNotExist):
		http.Error(w, "recording not found", http.StatusNotFound)
		return "", false
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return p, true
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	p, ok := s.resolve(w, r)
	if !ok {
		return
	}
	sum, err := record.Summarize(r.Context(), p, nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("summarize: %v", err), http.StatusInternalServerError)
		return
	}
	sum.Path = filepath.Base(p)
	writeJSON(w, http.StatusOK, sum)
}

// handlePackets streams the packets of a recording as NDJSON. from (unix
// seconds) seeks through the table of contents, limit bounds the count and
// decode=false lists headers only.
func (s *Server) handlePackets(w http.ResponseWriter, r *http.Request) {
	p, ok := s.resolve(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit := -1
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	opts := inspect.Options{Decode: q.Get("decode") != "false"}

	rd, err := record.Open(p)
	if err != nil {
		http.Error(w, fmt.Sprintf("open: %v", err), http.StatusInternalServerError)
		return
	}
	defer rd.Close()
	if v := q.Get("from"); v != "" {
		secs, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
		if err := rd.SeekTime(uint32(secs)); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, fmt.Sprintf("seek: %v", err), http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	writer := NewNDJSONWriter(w)
	for n := 0; limit < 0 || n < limit; n++ {
		if r.Context().Err() != nil {
			return
		}
		pkt, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			_ = writer.WriteObject(map[string]any{"type": "error", "error": err.Error()})
			return
		}
		if err := writer.WriteRecord(inspect.Describe(pkt, opts)); err != nil {
			common.Debugf("packets %s: %v", p, err)
			return
		}
	}
}

func (s *Server) handleReportPDF(w http.ResponseWriter, r *http.Request) {
	p, ok := s.resolve(w, r)
	if !ok {
		return
	}
	rep, err := report.Build(r.Context(), []string{p}, 1)
	if err != nil {
		http.Error(w, fmt.Sprintf("report: %v", err), http.StatusInternalServerError)
		return
	}
	rep.Tool = "trackrecd"
	out, err := s.tempPath("report-*.pdf")
	if err != nil {
		http.Error(w, fmt.Sprintf("report temp: %v", err), http.StatusInternalServerError)
		return
	}
	defer os.Remove(out)
	if err := report.SavePDF(rep, out); err != nil {
		http.Error(w, fmt.Sprintf("render pdf: %v", err), http.StatusInternalServerError)
		return
	}
	f, err := os.Open(out)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	name := strings.TrimSuffix(filepath.Base(p), record.FileExt) + ".pdf"
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = io.Copy(w, f)
}

func unixTime(secs uint32) time.Time {
	if secs == 0 {
		return time.Time{}
	}
	return time.Unix(int64(secs), 0).UTC()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
