package record

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/radarwire/internal/common"
	"example.com/radarwire/internal/packet"
	"example.com/radarwire/internal/toc"
)

// DefaultRewritePeriod bounds how often the header is rewritten while
// recording.
const DefaultRewritePeriod = 10 * time.Second

// Options configures a new recording.
type Options struct {
	Capacity      int
	Resolution    uint32
	RewritePeriod time.Duration
	Source        string
	NumChannels   uint8
	// SessionID is generated when zero.
	SessionID uuid.UUID

	Metrics *common.Metrics
	Events  *common.EventLog
	// Clock replaces time.Now, for tests.
	Clock func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Capacity <= 0 {
		o.Capacity = toc.DefaultCapacity
	}
	if o.Resolution == 0 {
		o.Resolution = toc.DefaultResolution
	}
	if o.RewritePeriod <= 0 {
		o.RewritePeriod = DefaultRewritePeriod
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.SessionID == uuid.Nil {
		o.SessionID = uuid.New()
	}
}

// headerWriter is where the header is rewritten. It is the file itself
// outside of tests.
type headerWriter interface {
	io.WriterAt
	Sync() error
}

// Session owns one recording file and its table of contents. All methods
// are serialized by the session.
type Session struct {
	mu   sync.Mutex
	path string
	opts Options
	f    *os.File
	hdr  headerWriter

	desc      Descriptor
	index     *toc.Index
	master    toc.MasterBlock
	nextName  uint64
	size      int64
	packets   int64
	lastTime  time.Time
	timed     bool
	lastFlush time.Time
	closed    bool
}

// Create starts a new recording at path, truncating any existing file.
func Create(path string, opts Options) (*Session, error) {
	opts.applyDefaults()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	now := opts.Clock().UTC()
	s := &Session{
		path:  path,
		opts:  opts,
		f:     f,
		hdr:   f,
		index: toc.New(opts.Capacity, opts.Resolution),
		desc: Descriptor{
			SessionID:     opts.SessionID,
			Created:       now,
			Source:        opts.Source,
			RewritePeriod: opts.RewritePeriod.String(),
			Capacity:      opts.Capacity,
			Resolution:    opts.Resolution,
		},
		master:    toc.NewMasterBlock(now),
		lastTime:  now,
		lastFlush: now,
	}
	s.master.SetEnd(now)

	head, err := s.encodeHeaderLocked()
	if err != nil {
		f.Close()
		return nil, err
	}
	desc, err := encodeDescriptor(s.desc)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := s.writeLocked(head); err != nil {
		f.Close()
		return nil, err
	}
	if err := s.writeLocked(desc); err != nil {
		f.Close()
		return nil, err
	}
	if opts.Metrics != nil {
		opts.Metrics.Start()
	}
	common.Debugf("recording %s started, session %s", path, s.desc.SessionID)
	return s, nil
}

func (s *Session) Path() string { return s.path }

// ID is the session identifier written in the descriptor.
func (s *Session) ID() uuid.UUID { return s.desc.SessionID }

// Index exposes the live table of contents for concurrent readers.
func (s *Session) Index() *toc.Index { return s.index }

// Size is the number of bytes written so far.
func (s *Session) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Packets is the number of packets appended so far.
func (s *Session) Packets() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packets
}

// Append writes one already framed packet. Header B packets are indexed by
// their own time; Header A packets use the last time seen.
func (s *Session) Append(pkt []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.appendLocked(pkt)
}

// WritePacket frames payload and appends it. Tags in the Header A range are
// framed without a timestamp.
func (s *Session) WritePacket(tag packet.Tag, secs, usecs uint32, payload []byte) error {
	var pkt []byte
	if tag <= 0xFF {
		var err error
		if pkt, err = packet.BuildA(tag, payload); err != nil {
			return err
		}
	} else {
		h := packet.Header{Kind: packet.KindB, Tag: tag, Size: uint32(packet.HeaderBSize + len(payload)), Secs: secs, Usecs: usecs}
		pkt = append(h.Append(make([]byte, 0, h.Size)), payload...)
	}
	return s.Append(pkt)
}

func (s *Session) appendLocked(pkt []byte) error {
	h, _, err := packet.Frame(pkt)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	if int(h.Size) != len(pkt) {
		return packet.Errorf("append", int64(h.Size), packet.ErrSizeMismatch, "packet declares %d bytes, got %d", h.Size, len(pkt))
	}
	if h.HasTime() {
		s.lastTime = h.Time()
		s.timed = true
	}
	offset := s.size
	if err := s.writeLocked(pkt); err != nil {
		return err
	}
	s.packets++
	// Header A packets take the time of the last Header B. Until one has
	// been seen there is no time to index them at.
	if s.timed {
		s.index.Record(uint32(s.lastTime.Unix()), uint64(offset))
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.AddPacket(int64(len(pkt)))
	}

	now := s.opts.Clock()
	if now.Sub(s.lastFlush) >= s.opts.RewritePeriod {
		if err := s.flushLocked(); err != nil {
			common.Warnf("%s: periodic index rewrite failed, recording continues: %v", s.path, err)
		}
	}
	return nil
}

func (s *Session) writeLocked(b []byte) error {
	n, err := s.f.WriteAt(b, s.size)
	s.size += int64(n)
	return err
}

// LinkNext appends a next-name packet naming the file that continues this
// recording and points the header at it.
func (s *Session) LinkNext(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	offset := s.size
	payload := append([]byte(name), 0)
	if err := s.writeLocked(packet.BuildB(packet.TagNextName, s.lastTime, payload)); err != nil {
		return err
	}
	s.nextName = uint64(offset)
	return nil
}

func (s *Session) encodeHeaderLocked() ([]byte, error) {
	table := toc.TableOf(s.index.Snapshot(), s.opts.NumChannels, s.nextName)
	return encodeHeader(s.master, table)
}

// Flush rewrites the header in place with the current table of contents.
func (s *Session) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.flushLocked()
}

// FlushAsync runs Flush on its own goroutine. The channel receives exactly
// one result.
func (s *Session) FlushAsync() <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.Flush()
	}()
	return done
}

func (s *Session) flushLocked() error {
	s.lastFlush = s.opts.Clock()
	s.master.SetEnd(s.lastTime)
	head, err := s.encodeHeaderLocked()
	if err == nil {
		_, err = s.hdr.WriteAt(head, 0)
	}
	if err == nil {
		err = s.hdr.Sync()
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.AddFlush(err)
	}
	return err
}

// Close performs a final header rewrite and closes the file. If the rewrite
// fails the error matches ErrStaleIndex; the packets already written are
// still readable.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	flushErr := s.flushLocked()
	closeErr := s.f.Close()
	if s.opts.Metrics != nil {
		s.opts.Metrics.Stop()
	}
	if flushErr != nil {
		common.Warnf("%s: closed with stale index: %v", s.path, flushErr)
		if err := s.opts.Events.Append(common.Event{Kind: common.EventStaleIndex, File: s.path, Detail: flushErr.Error()}); err != nil {
			common.Warnf("%s: event log: %v", s.path, err)
		}
		return fmt.Errorf("%w: %v", ErrStaleIndex, flushErr)
	}
	if closeErr != nil {
		return closeErr
	}
	common.Debugf("recording %s closed: %d packets, %s", s.path, s.packets, common.FormatBytes(s.size))
	return nil
}
