// Package report renders recording summaries as JSON and PDF.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"

	"example.com/radarwire/internal/common"
	"example.com/radarwire/internal/record"
)

// Report covers a set of recordings.
type Report struct {
	Generated  time.Time        `json:"generated"`
	Tool       string           `json:"tool,omitempty"`
	Digest     string           `json:"digest"`
	Recordings []Recording      `json:"recordings"`
	Events     map[string]int64 `json:"events,omitempty"`
}

// Recording is one summary plus whatever its event log holds.
type Recording struct {
	record.Summary
	Events []common.Event `json:"events,omitempty"`
}

// Build scans paths and collects their event logs.
func Build(ctx context.Context, paths []string, workers int) (*Report, error) {
	sums, err := record.ScanFiles(ctx, paths, workers, false)
	if err != nil {
		return nil, err
	}
	rep := &Report{Generated: time.Now().UTC(), Events: make(map[string]int64)}
	for _, s := range sums {
		rec := Recording{Summary: s}
		evs, err := common.ReadEventLog(common.EventLogPath(s.Path))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		rec.Events = evs
		for _, ev := range evs {
			rep.Events[ev.Kind]++
		}
		rep.Recordings = append(rep.Recordings, rec)
	}
	rep.Digest = digest(rep.Recordings)
	return rep, nil
}

// digest hashes the content digests of every recording in order, so one
// value identifies the whole set.
func digest(recs []Recording) string {
	h := common.NewHasher()
	for _, r := range recs {
		h.Write([]byte(r.SHA256))
		h.Write([]byte{'\n'})
	}
	return h.Sum()
}

func SaveJSON(rep *Report, out string) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadJSON(path string) (*Report, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rep Report
	if err := json.Unmarshal(b, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}
