package common

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"
)

// Metrics counts what a reader or recorder has processed. All methods are safe
// for concurrent use.
type Metrics struct {
	mu            sync.Mutex
	start         time.Time
	end           time.Time
	bytes         int64
	totalBytes    int64
	packets       int64
	resyncs       int64
	corrupt       int64
	skipped       int64
	flushes       int64
	flushFailures int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Start() {
	m.mu.Lock()
	if m.start.IsZero() {
		m.start = time.Now()
		m.end = time.Time{}
	}
	m.mu.Unlock()
}

func (m *Metrics) Stop() {
	m.mu.Lock()
	if !m.start.IsZero() && m.end.IsZero() {
		m.end = time.Now()
	}
	m.mu.Unlock()
}

func (m *Metrics) AddPacket(size int64) {
	if size <= 0 {
		return
	}
	m.mu.Lock()
	m.bytes += size
	m.packets++
	m.mu.Unlock()
}

func (m *Metrics) AddBytes(n int64) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.bytes += n
	m.mu.Unlock()
}

// IncPacket counts a packet whose bytes are accounted for elsewhere, such as
// at the reader feeding it.
func (m *Metrics) IncPacket() {
	m.mu.Lock()
	m.packets++
	m.mu.Unlock()
}

// CountReads returns a reader that adds every byte read from r to the byte
// total.
func (m *Metrics) CountReads(r io.Reader) io.Reader {
	return &countingReader{r: r, m: m}
}

type countingReader struct {
	r io.Reader
	m *Metrics
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.m.AddBytes(int64(n))
	return n, err
}

func (m *Metrics) IncResync() {
	m.mu.Lock()
	m.resyncs++
	m.mu.Unlock()
}

// AddCorrupt counts one corrupt position and the bytes skipped to resync.
func (m *Metrics) AddCorrupt(skipped int64) {
	m.mu.Lock()
	m.corrupt++
	if skipped > 0 {
		m.skipped += skipped
	}
	m.mu.Unlock()
}

// AddFlush counts a header rewrite and whether it failed.
func (m *Metrics) AddFlush(err error) {
	m.mu.Lock()
	m.flushes++
	if err != nil {
		m.flushFailures++
	}
	m.mu.Unlock()
}

func (m *Metrics) SetTotalBytes(total int64) {
	if total < 0 {
		total = 0
	}
	m.mu.Lock()
	m.totalBytes = total
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Duration:   m.elapsedLocked(),
		Bytes:      m.bytes,
		TotalBytes: m.totalBytes,
		Packets:    m.packets,
		Resyncs:    m.resyncs,
		Corrupt:    m.corrupt,
		Skipped:    m.skipped,
		Flushes:    m.flushes,
		FlushFails: m.flushFailures,
	}
}

func (m *Metrics) elapsedLocked() time.Duration {
	if m.start.IsZero() {
		return 0
	}
	if !m.end.IsZero() {
		return m.end.Sub(m.start)
	}
	return time.Since(m.start)
}

type MetricsSnapshot struct {
	Duration   time.Duration `json:"duration"`
	Bytes      int64         `json:"bytes"`
	TotalBytes int64         `json:"totalBytes"`
	Packets    int64         `json:"packets"`
	Resyncs    int64         `json:"resyncs"`
	Corrupt    int64         `json:"corrupt"`
	Skipped    int64         `json:"skippedBytes"`
	Flushes    int64         `json:"flushes"`
	FlushFails int64         `json:"flushFailures"`
}

func (s MetricsSnapshot) ThroughputBytesPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Bytes) / s.Duration.Seconds()
}

func (s MetricsSnapshot) Completion() float64 {
	if s.TotalBytes <= 0 {
		return 0
	}
	ratio := float64(s.Bytes) / float64(s.TotalBytes)
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div := float64(unit)
	exp := 0
	for n := float64(b) / div; n >= unit && exp < 6; n /= unit {
		div *= unit
		exp++
	}
	prefixes := []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}
	return fmt.Sprintf("%.2f %s", float64(b)/div, prefixes[exp])
}

func formatProgressLine(s MetricsSnapshot) string {
	throughput := s.ThroughputBytesPerSecond() / (1024 * 1024)
	if s.TotalBytes > 0 {
		pct := s.Completion() * 100
		if math.IsNaN(pct) || math.IsInf(pct, 0) {
			pct = 0
		}
		return fmt.Sprintf("Progress: %6.2f%% (%s / %s) %d packets, %d resyncs %.2f MiB/s", pct, FormatBytes(s.Bytes), FormatBytes(s.TotalBytes), s.Packets, s.Resyncs, throughput)
	}
	return fmt.Sprintf("Processed: %s in %d packets %.2f MiB/s", FormatBytes(s.Bytes), s.Packets, throughput)
}

func StartProgressPrinter(w io.Writer, m *Metrics, interval time.Duration) func() {
	if m == nil || w == nil {
		return func() {}
	}
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		lastLen := 0
		for {
			select {
			case <-ticker.C:
				line := formatProgressLine(m.Snapshot())
				pad := lastLen - len(line)
				if pad > 0 {
					line += strings.Repeat(" ", pad)
				}
				fmt.Fprintf(w, "\r%s", line)
				lastLen = len(line)
			case <-done:
				if lastLen > 0 {
					fmt.Fprintf(w, "\r%s\r\n", strings.Repeat(" ", lastLen))
				}
				return
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
