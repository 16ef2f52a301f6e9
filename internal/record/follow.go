package record

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fsnotify/fsnotify"

	"example.com/radarwire/internal/common"
)

// FollowOptions tunes Follow.
type FollowOptions struct {
	// FromEnd skips the packets already in the file.
	FromEnd bool
	// PollInterval re-checks the file size even without notifications, which
	// some filesystems never deliver.
	PollInterval time.Duration
}

// Follow tails a recording that is still being written, calling fn for each
// packet once it is complete. It returns when ctx is done, when fn fails, or
// when the file is removed or renamed.
func Follow(ctx context.Context, path string, opts FollowOptions, fn func(Packet) error) error {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	r, err := Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	r.live = true
	if opts.FromEnd {
		r.offset = r.size
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("follow %s: %w", path, err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("follow %s: %w", path, err)
	}

	drain := func() error {
		if err := r.refresh(); err != nil {
			return err
		}
		for {
			p, err := r.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := fn(p); err != nil {
				return err
			}
		}
	}
	if err := drain(); err != nil {
		return err
	}

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			switch {
			case event.Has(fsnotify.Write):
				if err := drain(); err != nil {
					return err
				}
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				common.Logf("%s: no longer present, follow stopped", path)
				return drain()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			common.Warnf("%s: fsnotify error: %v", path, err)
		case <-ticker.C:
			if err := drain(); err != nil {
				return err
			}
		}
	}
}
