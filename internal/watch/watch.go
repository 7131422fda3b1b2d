// Package watch implements C9: the filesystem change driver. It accepts a
// root path and a filter (default *.md/*.markdown, hidden directories
// excluded), coalesces bursts within a debounce window, and emits
// FileChanged events onto the bus. The driver is a leaf component; it
// takes no references into the store (spec §4.9). The backend is pluggable
// (the original implementation's watch-backend-factory pattern); the one
// concrete implementation here uses fsnotify.
package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kittclouds/kiln/internal/eventbus"
)

// ChangeKind enumerates the kinds of filesystem change FileChanged
// carries.
type ChangeKind string

const (
	Created  ChangeKind = "created"
	Modified ChangeKind = "modified"
	Deleted  ChangeKind = "deleted"
	Moved    ChangeKind = "moved"
)

// FileChangedPayload is the typed payload published for eventbus.FileChanged.
type FileChangedPayload struct {
	Path string
	Kind ChangeKind
	From string // set only when Kind == Moved
	To   string // set only when Kind == Moved
}

// Backend abstracts the OS-level notification mechanism so the driver's
// debounce/coalescing logic has exactly one caller-facing shape
// regardless of platform.
type Backend interface {
	Watch(root string) (<-chan BackendEvent, error)
	Close() error
}

// BackendEvent is a raw, un-debounced notification from a Backend.
type BackendEvent struct {
	Path string
	Op   ChangeKind
}

// FsnotifyBackend wraps github.com/fsnotify/fsnotify.
type FsnotifyBackend struct {
	watcher *fsnotify.Watcher
}

// NewFsnotifyBackend constructs the default OS backend.
func NewFsnotifyBackend() (*FsnotifyBackend, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &FsnotifyBackend{watcher: w}, nil
}

func (b *FsnotifyBackend) Watch(root string) (<-chan BackendEvent, error) {
	if err := addRecursive(b.watcher, root); err != nil {
		return nil, err
	}
	out := make(chan BackendEvent, 256)
	go func() {
		defer close(out)
		for {
			select {
			case evt, ok := <-b.watcher.Events:
				if !ok {
					return
				}
				kind, ok := translateOp(evt.Op)
				if !ok {
					continue
				}
				if evt.Op&fsnotify.Create != 0 {
					if st := statIsDir(evt.Name); st {
						_ = b.watcher.Add(evt.Name)
					}
				}
				out <- BackendEvent{Path: evt.Name, Op: kind}
			case _, ok := <-b.watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *FsnotifyBackend) Close() error { return b.watcher.Close() }

func translateOp(op fsnotify.Op) (ChangeKind, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return Created, true
	case op&fsnotify.Write != 0:
		return Modified, true
	case op&fsnotify.Remove != 0:
		return Deleted, true
	case op&fsnotify.Rename != 0:
		return Moved, true
	default:
		return "", false
	}
}

// Filter decides whether a path should be watched/surfaced. The default
// accepts *.md and *.markdown and excludes hidden directories.
type Filter func(path string) bool

// DefaultFilter implements the spec §4.9 default: .md/.markdown files,
// hidden directories excluded.
func DefaultFilter(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return false
		}
	}
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown"
}

// Driver coalesces raw backend events within Debounce and emits
// FileChanged onto Bus.
type Driver struct {
	Backend  Backend
	Bus      *eventbus.Bus
	Filter   Filter
	Debounce time.Duration

	mu      sync.Mutex
	pending map[string]FileChangedPayload
	timers  map[string]*time.Timer
}

// NewDriver constructs a Driver with the given collaborators.
func NewDriver(backend Backend, bus *eventbus.Bus, filter Filter, debounce time.Duration) *Driver {
	if filter == nil {
		filter = DefaultFilter
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Driver{
		Backend:  backend,
		Bus:      bus,
		Filter:   filter,
		Debounce: debounce,
		pending:  make(map[string]FileChangedPayload),
		timers:   make(map[string]*time.Timer),
	}
}

// Start begins watching root; it returns once the initial watch is
// established. Events are delivered asynchronously onto the bus.
func (d *Driver) Start(root string) error {
	events, err := d.Backend.Watch(root)
	if err != nil {
		return err
	}
	go func() {
		for evt := range events {
			if !d.Filter(evt.Path) {
				continue
			}
			d.coalesce(evt)
		}
	}()
	return nil
}

// coalesce collapses bursts for the same path within the debounce
// window to the latest kind, per spec §4.9.
func (d *Driver) coalesce(evt BackendEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending[evt.Path] = FileChangedPayload{Path: evt.Path, Kind: evt.Op}

	if t, ok := d.timers[evt.Path]; ok {
		t.Stop()
	}
	path := evt.Path
	d.timers[evt.Path] = time.AfterFunc(d.Debounce, func() {
		d.flush(path)
	})
}

func (d *Driver) flush(path string) {
	d.mu.Lock()
	payload, ok := d.pending[path]
	delete(d.pending, path)
	delete(d.timers, path)
	d.mu.Unlock()
	if !ok {
		return
	}
	d.Bus.Publish(nil, eventbus.Event{Kind: eventbus.FileChanged, Payload: payload})
}

func (d *Driver) Close() error {
	return d.Backend.Close()
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() != "." && strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func statIsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
