package record

import (
	"context"
	"errors"
	"io"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/radarwire/internal/common"
	"example.com/radarwire/internal/packet"
	"example.com/radarwire/internal/track"
)

// Summary describes one recording after a full scan.
type Summary struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
	SessionID string    `json:"sessionId,omitempty"`
	Source    string    `json:"source,omitempty"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	NextName  string    `json:"nextName,omitempty"`

	Packets    int64            `json:"packets"`
	ByTag      map[string]int64 `json:"byTag"`
	TOCEntries int              `json:"tocEntries"`
	Resolution uint32           `json:"resolution"`

	Tracks       int64 `json:"tracks"`
	Partial      int64 `json:"partial"`
	DecodeErrors int64 `json:"decodeErrors"`

	Metrics common.MetricsSnapshot `json:"metrics"`
}

// Summarize reads every packet of the recording at path.
func Summarize(ctx context.Context, path string, events *common.EventLog) (Summary, error) {
	s := Summary{Path: path, ByTag: make(map[string]int64)}
	sum, size, err := common.Sha256OfFile(path)
	if err != nil {
		return s, err
	}
	s.SHA256, s.Size = sum, size

	r, err := Open(path)
	if err != nil {
		return s, err
	}
	defer r.Close()
	m := common.NewMetrics()
	m.Start()
	r.SetMetrics(m)
	r.SetEventLog(events)

	master := r.Master()
	s.Start, s.End = master.Start(), master.End()
	table := r.Table()
	s.TOCEntries = int(table.Used)
	s.Resolution = table.Resolution
	if d, ok := r.Descriptor(); ok {
		s.SessionID = d.SessionID.String()
		s.Source = d.Source
	}
	if name, ok := r.NextName(); ok {
		s.NextName = name
	}

	for {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		p, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s, err
		}
		s.Packets++
		s.ByTag[p.Header.Tag.String()]++
		if p.Header.HasTime() && p.Header.Time().After(s.End) {
			s.End = p.Header.Time()
		}
		if !track.Handles(p.Header.Tag) {
			continue
		}
		s.Tracks++
		if _, err := track.DecodePayload(p.Header.Tag, p.Payload); err != nil {
			if errors.Is(err, packet.ErrPartiallyUnderstood) {
				s.Partial++
			} else {
				s.DecodeErrors++
				common.Debugf("%s: offset %d: %v", path, p.Offset, err)
			}
		}
	}
	m.Stop()
	s.Metrics = m.Snapshot()
	return s, nil
}

// ScanFiles summarizes paths with up to workers recordings in flight. Results
// keep the order of paths. Each file's events go to its own event log when
// withEvents is set.
func ScanFiles(ctx context.Context, paths []string, workers int, withEvents bool) ([]Summary, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	out := make([]Summary, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			var events *common.EventLog
			if withEvents {
				events = common.NewEventLog(common.EventLogPath(path))
			}
			s, err := Summarize(gctx, path, events)
			if err != nil {
				return err
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
