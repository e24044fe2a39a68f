package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce coalesces bursts of file events (an editor save touches a file
// several times) into a single reload.
const debounce = 250 * time.Millisecond

// Catalog owns the current plugin Set, reloads it on request and notifies
// subscribers with every newly built Set.
//
// Catalog is safe for concurrent use.
type Catalog struct {
	dir       string
	suffix    string
	languages []string

	refresh chan struct{}

	mu      sync.RWMutex
	current Set
	loaded  bool

	subsMu sync.Mutex
	subs   map[int]chan Set
	nextID int
}

// New creates a Catalog for plugin folders under dir whose names end in
// suffix. Nothing is loaded until Reload or Run is called.
func New(dir, suffix string, languages []string) *Catalog {
	return &Catalog{
		dir:       dir,
		suffix:    suffix,
		languages: languages,
		refresh:   make(chan struct{}, 1),
		subs:      make(map[int]chan Set),
	}
}

// Dir returns the plugins directory.
func (c *Catalog) Dir() string { return c.dir }

// Current returns the most recently loaded Set. ok is false until the first
// successful load.
func (c *Catalog) Current() (Set, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.loaded
}

// Refresh requests an asynchronous reload. Requests made while one is
// already pending are merged. Run must be running for the reload to happen.
func (c *Catalog) Refresh() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

// Subscribe returns a channel that receives every new Set. The channel keeps
// only the latest Set; a slow reader skips intermediate ones. Call the
// returned func to unsubscribe.
func (c *Catalog) Subscribe() (<-chan Set, func()) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	id := c.nextID
	c.nextID++
	ch := make(chan Set, 1)
	c.subs[id] = ch
	return ch, func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

// Reload loads the catalog synchronously and publishes it. On error the
// previous Set stays current and nothing is published.
func (c *Catalog) Reload() error {
	set, err := Load(c.dir, c.suffix, c.languages)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.current = set
	c.loaded = true
	c.mu.Unlock()

	slog.Info("catalog: loaded", "dir", c.dir, "plugins", len(set))
	c.publish(set)
	return nil
}

func (c *Catalog) publish(set Set) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- set:
		default:
			// Replace the unread Set with the newer one.
			select {
			case <-ch:
			default:
			}
			ch <- set
		}
	}
}

// Run performs the initial load, then serves Refresh requests until ctx is
// cancelled. When watch is true the plugins directory is also watched and
// any change to it triggers a reload.
func (c *Catalog) Run(ctx context.Context, watch bool) error {
	if err := c.Reload(); err != nil {
		slog.Error("catalog: initial load failed", "err", err)
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	var w *fsnotify.Watcher
	if watch {
		var err error
		w, err = fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		defer w.Close()
		c.watchTree(w)
		events, errs = w.Events, w.Errors
		slog.Info("catalog: watching for changes", "dir", c.dir)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case <-c.refresh:
			if err := c.Reload(); err != nil {
				slog.Error("catalog: reload failed, keeping previous catalog", "err", err)
			}
			if w != nil {
				c.watchTree(w)
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			slog.Debug("catalog: change detected on disk")
			c.Refresh()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Error("catalog: watcher error", "err", err)
		}
	}
}

// watchTree adds the plugins directory and every plugin folder in it to w.
// fsnotify is not recursive, and adding an already watched path is a no-op.
func (c *Catalog) watchTree(w *fsnotify.Watcher) {
	if err := w.Add(c.dir); err != nil {
		slog.Warn("catalog: cannot watch plugins directory", "dir", c.dir, "err", err)
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), c.suffix) {
			_ = w.Add(filepath.Join(c.dir, e.Name()))
		}
	}
}

// relevant reports whether ev can change the catalog: a JSON file written or
// removed, or a folder created, removed or renamed.
func relevant(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return false
	}
	if strings.HasSuffix(ev.Name, ".json") {
		return true
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}
