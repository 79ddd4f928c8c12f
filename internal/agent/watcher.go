package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrReplyTimeout is returned when the tool never answers within the
// configured window.
var ErrReplyTimeout = errors.New("no reply from tool")

// Watcher polls the exchange directory for the tool's reply. Polling, not
// inotify: the directory is usually a network mount where change
// notifications are unreliable.
type Watcher struct {
	dir      string
	patterns []string
	interval time.Duration
	timeout  time.Duration
	settle   time.Duration
}

func NewWatcher(cfg *Config) *Watcher {
	return &Watcher{
		dir:      cfg.ExchangeDir,
		patterns: cfg.ReplyPatterns,
		interval: cfg.ScanInterval,
		timeout:  cfg.ReplyTimeout,
		settle:   cfg.SettleDelay,
	}
}

// WaitForReply blocks until a reply file appears, the window elapses, or
// the context is cancelled. A reply is any file matching the patterns,
// modified after start, that is not the descriptor itself (ownName). When
// several qualify, the most recently modified wins. After a hit, the
// watcher waits the settle delay and re-resolves so a reply still being
// written is read whole.
func (w *Watcher) WaitForReply(ctx context.Context, ownName string, start time.Time) (string, error) {
	deadline := time.Now().Add(w.timeout)

	for {
		if found := w.scan(ownName, start); found != "" {
			if w.settle > 0 {
				select {
				case <-time.After(w.settle):
				case <-ctx.Done():
					return "", ctx.Err()
				}
			}
			// The tool may still be replacing the file; take the final name.
			if settled := w.scan(ownName, start); settled != "" {
				return settled, nil
			}
			return found, nil
		}

		if time.Now().After(deadline) {
			return "", ErrReplyTimeout
		}
		select {
		case <-time.After(w.interval):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (w *Watcher) scan(ownName string, start time.Time) string {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return ""
	}

	var best string
	var bestMod time.Time
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.EqualFold(name, ownName) {
			continue
		}
		if !w.matches(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().After(start) {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = name
			bestMod = info.ModTime()
		}
	}
	if best == "" {
		return ""
	}
	return filepath.Join(w.dir, best)
}

func (w *Watcher) matches(name string) bool {
	for _, p := range w.patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
