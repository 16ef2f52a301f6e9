package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"path/filepath"
	"sync"
	"time"

	"example.com/radarwire/internal/common"
	"example.com/radarwire/internal/config"
	"example.com/radarwire/internal/netpkt"
	"example.com/radarwire/internal/packet"
	"example.com/radarwire/internal/record"
	"example.com/radarwire/internal/server"
	"example.com/radarwire/internal/toc"
)

const fileTimeLayout = "20060102T150405Z"

// recorder writes received datagrams to a chain of recordings. It implements
// server.Recorder.
type recorder struct {
	cfg   config.Config
	local netip.AddrPort
	clock func() time.Time

	mu        sync.Mutex
	session   *record.Session
	metrics   *common.Metrics
	opened    time.Time
	started   time.Time
	rotations int
	wrapped   int64
	streams   map[netip.AddrPort]uint8
}

func newRecorder(cfg config.Config, local netip.AddrPort, clock func() time.Time) *recorder {
	if clock == nil {
		clock = time.Now
	}
	return &recorder{
		cfg:     cfg,
		local:   local,
		clock:   clock,
		started: clock().UTC(),
		streams: make(map[netip.AddrPort]uint8),
	}
}

func (r *recorder) fileName(t time.Time) string {
	return fmt.Sprintf("%s-%s%s", r.cfg.FilePrefix, t.UTC().Format(fileTimeLayout), record.FileExt)
}

func (r *recorder) openLocked(now time.Time) error {
	path := filepath.Join(r.cfg.OutputDir, r.fileName(now))
	opts := r.cfg.SessionOptions("udp:" + r.cfg.Listen)
	opts.Clock = r.clock
	opts.Metrics = common.NewMetrics()
	if r.cfg.EventLog {
		opts.Events = common.NewEventLog(common.EventLogPath(path))
	}
	s, err := record.Create(path, opts)
	if err != nil {
		return err
	}
	r.session = s
	r.metrics = opts.Metrics
	r.opened = now
	common.Logf("recording to %s (session %s)", path, s.ID())
	return nil
}

// rotateLocked links the current recording to a new one and closes it.
func (r *recorder) rotateLocked(now time.Time) error {
	old := r.session
	name := r.fileName(now)
	if old != nil && filepath.Base(old.Path()) == name {
		return fmt.Errorf("rotate: %s already open", name)
	}
	if err := r.openLocked(now); err != nil {
		return err
	}
	if old == nil {
		return nil
	}
	r.rotations++
	if err := old.LinkNext(name); err != nil {
		common.Warnf("%s: link to %s: %v", old.Path(), name, err)
	}
	if err := old.Close(); err != nil {
		common.Errorf("%s: %v", old.Path(), err)
	}
	return nil
}

func (r *recorder) rotateDueLocked(now time.Time) bool {
	every := r.cfg.RotateEvery.Std()
	return every > 0 && now.Sub(r.opened) >= every
}

// handleDatagram records one datagram. A datagram holding exactly one framed
// packet is stored as is; anything else is wrapped in a NET packet.
func (r *recorder) handleDatagram(data []byte, from netip.AddrPort) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock()
	if r.session == nil || r.rotateDueLocked(now) {
		if err := r.rotateLocked(now); err != nil {
			return err
		}
	}

	if h, _, err := packet.Frame(data); err == nil && int(h.Size) == len(data) {
		return r.session.Append(data)
	}
	n := &netpkt.Net{
		StreamIndex: r.streamLocked(from),
		Transport:   netpkt.UDP,
		Format:      netpkt.Raw,
		Sender:      from,
		Stream:      r.local,
		Payload:     data,
	}
	b, err := netpkt.Packet(n, now)
	if err != nil {
		return err
	}
	if err := r.session.Append(b); err != nil {
		return err
	}
	r.wrapped++
	return nil
}

// streamLocked numbers senders by first appearance, saturating at 255.
func (r *recorder) streamLocked(from netip.AddrPort) uint8 {
	if idx, ok := r.streams[from]; ok {
		return idx
	}
	idx := uint8(255)
	if len(r.streams) < 255 {
		idx = uint8(len(r.streams))
	}
	r.streams[from] = idx
	return idx
}

// tick rotates an idle recording once its period has passed.
func (r *recorder) tick() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock()
	if r.session == nil || !r.rotateDueLocked(now) {
		return nil
	}
	return r.rotateLocked(now)
}

// close flushes and closes the open recording.
func (r *recorder) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil
	}
	err := r.session.Close()
	r.session = nil
	return err
}

// serve reads datagrams until ctx is done.
func (r *recorder) serve(ctx context.Context, conn net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, r.cfg.MaxDatagram)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		var from netip.AddrPort
		if ua, ok := addr.(*net.UDPAddr); ok {
			from = unmap(ua.AddrPort())
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		if err := r.handleDatagram(data, from); err != nil {
			common.Warnf("datagram from %s dropped: %v", addr, err)
		}
	}
}

func unmap(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// runRotation calls tick every interval until ctx is done.
func (r *recorder) runRotation(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := r.tick(); err != nil {
				common.Errorf("rotate: %v", err)
			}
		}
	}
}

func (r *recorder) Status() server.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := server.Status{
		Listen:    r.cfg.Listen,
		Started:   r.started,
		Rotations: r.rotations,
		Wrapped:   r.wrapped,
	}
	if r.session != nil {
		st.Recording = filepath.Base(r.session.Path())
		st.SessionID = r.session.ID().String()
		st.Packets = r.session.Packets()
		st.Size = r.session.Size()
		st.Metrics = r.metrics.Snapshot()
	}
	return st
}

func (r *recorder) TOC() (toc.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return toc.Snapshot{}, false
	}
	return r.session.Index().Snapshot(), true
}
