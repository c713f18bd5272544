// Package scan discovers files to enqueue, either once by walking a folder or
// continuously by watching it.
package scan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Filter matches file names against an extension allow-list.
// An empty Filter matches every file.
type Filter map[string]struct{}

// NewFilter builds a filter from extensions such as "csv", ".TXT" or "*.log".
func NewFilter(exts []string) Filter {
	f := make(Filter, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(e, "*")))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		f[e] = struct{}{}
	}
	return f
}

// Match reports whether path has an allowed extension.
func (f Filter) Match(path string) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Walk returns the regular files under dir that match exts, sorted by path.
// Subdirectories are only visited when recursive is set. Hidden entries are
// skipped.
func Walk(dir string, recursive bool, exts []string) ([]string, error) {
	f := NewFilter(exts)
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && f.Match(path) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Watcher reports files created or rewritten under a folder. Events for the
// same path are coalesced until the path has been quiet for the debounce
// interval.
type Watcher struct {
	w        *fsnotify.Watcher
	filter   Filter
	debounce time.Duration
	out      chan string
	errs     chan error

	mu      sync.Mutex
	pending map[string]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Watch starts watching dir. Paths are delivered on Files until ctx is done or
// Close is called.
func Watch(ctx context.Context, dir string, recursive bool, exts []string, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		w:        fw,
		filter:   NewFilter(exts),
		debounce: debounce,
		out:      make(chan string, 64),
		errs:     make(chan error, 8),
		pending:  make(map[string]time.Time),
		cancel:   cancel,
	}
	if err := w.add(dir, recursive); err != nil {
		cancel()
		_ = fw.Close()
		return nil, err
	}
	w.wg.Add(2)
	go w.events(ctx, recursive)
	go w.flush(ctx)
	return w, nil
}

// Files delivers debounced paths. It is closed when the watcher stops.
func (w *Watcher) Files() <-chan string { return w.out }

// Errors delivers non-fatal watcher errors. Errors are dropped when nobody reads.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops the watcher and waits for its goroutines.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.w.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) add(dir string, recursive bool) error {
	if !recursive {
		return w.w.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.w.Add(path); err != nil && path == dir {
			return err
		}
		return nil
	})
}

func (w *Watcher) events(ctx context.Context, recursive bool) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			fi, err := os.Stat(ev.Name)
			if err != nil {
				continue
			}
			if fi.IsDir() {
				if recursive && ev.Has(fsnotify.Create) {
					_ = w.add(ev.Name, true)
				}
				continue
			}
			if !w.filter.Match(ev.Name) {
				continue
			}
			w.mu.Lock()
			w.pending[ev.Name] = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func (w *Watcher) flush(ctx context.Context) {
	defer w.wg.Done()
	defer close(w.out)
	tick := w.debounce / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			var ready []string
			w.mu.Lock()
			for p, at := range w.pending {
				if now.Sub(at) >= w.debounce {
					ready = append(ready, p)
					delete(w.pending, p)
				}
			}
			w.mu.Unlock()
			sort.Strings(ready)
			for _, p := range ready {
				select {
				case w.out <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
