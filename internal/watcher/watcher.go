// Package watcher observes a working tree for file changes and hands
// debounced, coalesced paths to an ingest worker. It generalizes the
// single repo-wide debounce timer a file-watching dashboard needs into a
// per-path debounce state machine: each path moves independently between
// idle and pending, so a burst of edits to one file never delays noticing
// a change to an unrelated file.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chronolog/chronolog/internal/ignore"
)

// DefaultDebounce is how long a path must go quiet before it's enqueued,
// matching the settle time a human edit-and-save cycle needs.
const DefaultDebounce = 500 * time.Millisecond

// DefaultQueueSize bounds the number of distinct pending paths the watcher
// will hold before enqueue blocks the fsnotify event loop.
const DefaultQueueSize = 1024

// Watcher watches root recursively (skipping paths ignore.Filter excludes)
// and emits relative paths on Events once each has gone quiet for the
// debounce interval. A path already queued is not re-queued until the
// consumer calls Done for it — editing a file repeatedly while ingest is
// still processing its previous version coalesces into one more pass, not
// one per keystroke.
type Watcher struct {
	root     string
	filter   *ignore.Filter
	debounce time.Duration
	log      *slog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	queued  map[string]bool

	events   chan string
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	sendWg   sync.WaitGroup // in-flight debounce-timer sends; waited on before events closes

	ignoreFileRel string
	onIgnoreFile  func()
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option { return func(w *Watcher) { w.debounce = d } }

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) Option { return func(w *Watcher) { w.events = make(chan string, n) } }

// WithLogger overrides the watcher's logger.
func WithLogger(l *slog.Logger) Option { return func(w *Watcher) { w.log = l } }

// WithIgnoreReload calls onChange, bypassing the normal debounce/ingest
// path, whenever relPath (typically ".chronologignore") itself changes on
// disk. The watcher still reports relPath on Events as usual, so a caller
// that also wants the ignore file's own history tracked gets both.
func WithIgnoreReload(relPath string, onChange func()) Option {
	return func(w *Watcher) { w.ignoreFileRel = relPath; w.onIgnoreFile = onChange }
}

// New builds a Watcher rooted at root. Call Start to begin watching.
func New(root string, filter *ignore.Filter, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: creating fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:     root,
		filter:   filter,
		debounce: DefaultDebounce,
		log:      slog.Default(),
		fsw:      fsw,
		pending:  make(map[string]*time.Timer),
		queued:   make(map[string]bool),
		events:   make(chan string, DefaultQueueSize),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Events returns the channel of relative paths ready for ingest.
func (w *Watcher) Events() <-chan string { return w.events }

// Start walks root adding a recursive fsnotify watch on every non-ignored
// directory, then launches the dedicated watcher goroutine. Ingest runs on
// a separate goroutine altogether, reading from Events.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watchTree(w.root); err != nil {
		return fmt.Errorf("watcher: walking %s: %w", w.root, err)
	}

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop halts the watcher: the event source is closed, pending debounce
// timers are flushed (their paths enqueued one last time), and the events
// channel is closed so a draining consumer reads everything already queued
// and then sees end-of-stream. Stop is idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(w.doStop)
}

func (w *Watcher) doStop() {
	close(w.stop)
	w.wg.Wait()

	if err := w.fsw.Close(); err != nil {
		w.log.Warn("closing fsnotify watcher", "err", err)
	}

	// The event loop has exited, so no new timers can appear. Flush every
	// timer that hadn't fired yet; timers caught mid-fire finish their own
	// send and are waited out below.
	w.mu.Lock()
	var flush []string
	for rel, t := range w.pending {
		if t.Stop() {
			w.sendWg.Done()
			flush = append(flush, rel)
		}
	}
	w.pending = make(map[string]*time.Timer)
	w.mu.Unlock()

	for _, rel := range flush {
		w.enqueue(rel)
	}

	w.sendWg.Wait()
	close(w.events)
}

// Done clears the coalescing state for path, allowing a subsequent change
// to it to be enqueued again. The ingest worker calls this as it starts
// processing path, so a change that lands while path is being ingested is
// queued for one more pass.
func (w *Watcher) Done(relPath string) {
	w.mu.Lock()
	delete(w.queued, relPath)
	w.mu.Unlock()
}

func (w *Watcher) watchTree(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil //nolint:nilerr // skip unreadable entries rather than aborting the whole walk
		}
		if !info.IsDir() {
			return nil
		}
		rel := w.relPath(path)
		if rel != "." && w.filter.Match(rel, true) {
			return filepath.SkipDir
		}
		if addErr := w.fsw.Add(path); addErr != nil {
			w.log.Warn("watching directory", "dir", path, "err", addErr)
		}
		return nil
	})
}

func (w *Watcher) relPath(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error", "err", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if strings.HasSuffix(ev.Name, ".tmp") || strings.HasSuffix(ev.Name, "~") {
		return
	}

	rel := w.relPath(ev.Name)
	if rel == w.ignoreFileRel && w.onIgnoreFile != nil {
		w.onIgnoreFile()
	}
	if w.filter.Match(rel, isDirHint(ev.Name)) {
		return
	}

	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if addErr := w.watchTree(ev.Name); addErr != nil {
				w.log.Warn("watching new directory", "dir", ev.Name, "err", addErr)
			}
			return
		}
	}

	// Delete events skip the debounce state machine entirely: a delete
	// marker fires immediately rather than waiting out the quiescence
	// window a save debounces for.
	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.mu.Lock()
		if t, ok := w.pending[rel]; ok {
			if t.Stop() {
				w.sendWg.Done()
			}
			delete(w.pending, rel)
		}
		w.mu.Unlock()
		w.enqueue(rel)
		return
	}

	w.debounceFire(rel)
}

func isDirHint(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// debounceFire resets path's debounce timer, so a burst of writes to the
// same path only ever schedules one enqueue, deferred to debounce after the
// last write. Every armed timer holds a sendWg ticket, released either by
// the deadline callback below or by whoever successfully stops the timer.
func (w *Watcher) debounceFire(relPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[relPath]; ok {
		if t.Stop() {
			w.sendWg.Done()
		}
	}
	w.sendWg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		defer w.sendWg.Done()
		w.mu.Lock()
		// A reset may have replaced this timer in pending between firing
		// and acquiring the lock; only clear the slot if it's still ours.
		if w.pending[relPath] == t {
			delete(w.pending, relPath)
		}
		w.mu.Unlock()
		w.enqueue(relPath)
	})
	w.pending[relPath] = t
}

func (w *Watcher) enqueue(relPath string) {
	w.mu.Lock()
	if w.queued[relPath] {
		w.mu.Unlock()
		return
	}
	w.queued[relPath] = true
	w.mu.Unlock()

	select {
	case w.events <- relPath:
	case <-w.stop:
		// Shutting down: deliver if the queue still has room rather than
		// block forever against a consumer that may already be draining.
		select {
		case w.events <- relPath:
		default:
			w.log.Warn("dropping change observed during shutdown", "path", relPath)
		}
	}
}
