// Package watcher keeps the report stores healthy while an external
// ingestion process replaces them underneath the server.
//
// It notices store file changes (periodic scan plus fsnotify wake), waits
// for the new file to stop changing, recreates any report indexes the
// replacement dropped, refreshes planner statistics daily, and remembers
// what it last saw across restarts.
package watcher

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	billy "github.com/go-git/go-billy/v5"

	"github.com/agentic-research/prodhub/internal/store"
)

// EventKind labels what the watcher just did.
type EventKind string

const (
	EventChanged  EventKind = "changed"
	EventHealed   EventKind = "healed"
	EventAnalyzed EventKind = "analyzed"
	EventUnstable EventKind = "unstable"
)

// Event is one observation published on the watcher's channel.
type Event struct {
	Kind   EventKind
	Detail string
	At     time.Time
}

// analyzeEvery is how often planner statistics are refreshed.
const analyzeEvery = 24 * time.Hour

// Watcher scans the store files on an interval and reacts to changes.
type Watcher struct {
	mgr       *store.Manager
	fs        billy.Filesystem
	statePath string
	interval  time.Duration
	policy    StabilizePolicy
	onChange  func()
	log       *slog.Logger

	events  chan Event
	trigger chan struct{}

	mu    sync.Mutex
	state State

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Watcher over mgr's stores. onChange is invoked after every
// confirmed store change (the result cache hooks in here); pass nil when
// nothing needs clearing.
func New(mgr *store.Manager, fs billy.Filesystem, statePath string, interval time.Duration, policy StabilizePolicy, onChange func(), log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	if onChange == nil {
		onChange = func() {}
	}
	return &Watcher{
		mgr:       mgr,
		fs:        fs,
		statePath: statePath,
		interval:  interval,
		policy:    policy,
		onChange:  onChange,
		log:       log,
		events:    make(chan Event, 16),
		trigger:   make(chan struct{}, 1),
	}
}

// Events exposes the watcher's observation stream. The channel is
// buffered and sends never block; a slow consumer loses events, not the
// watcher.
func (w *Watcher) Events() <-chan Event { return w.events }

// TriggerNow requests an immediate scan outside the interval.
func (w *Watcher) TriggerNow() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Start launches the watch loop. It returns immediately; Stop tears the
// loop down.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.state = LoadState(w.fs, w.statePath)

	notify := w.startNotify()

	go func() {
		defer close(w.done)
		if notify != nil {
			defer func() { _ = notify.Close() }()
		}

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		// One scan up front so a change during downtime is caught
		// without waiting a full interval.
		w.scan(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.scan(ctx)
			case <-w.trigger:
				w.scan(ctx)
			case ev, ok := <-w.notifyEvents(notify):
				if !ok {
					notify = nil
					continue
				}
				if w.relevant(ev) {
					w.scan(ctx)
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

// startNotify wires fsnotify on the store directories so replacements
// wake the loop immediately. Failure is tolerable; the interval scan
// still covers everything.
func (w *Watcher) startNotify() *fsnotify.Watcher {
	nw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn("watcher: fsnotify unavailable, interval scan only", "error", err)
		return nil
	}
	dirs := map[string]bool{
		filepath.Dir(w.mgr.LivePath()):    true,
		filepath.Dir(w.mgr.ArchivePath()): true,
	}
	for dir := range dirs {
		if err := nw.Add(dir); err != nil {
			w.log.Warn("watcher: cannot watch directory", "dir", dir, "error", err)
		}
	}
	return nw
}

func (w *Watcher) notifyEvents(nw *fsnotify.Watcher) <-chan fsnotify.Event {
	if nw == nil {
		return nil
	}
	return nw.Events
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	name := filepath.Base(ev.Name)
	return name == filepath.Base(w.mgr.LivePath()) || name == filepath.Base(w.mgr.ArchivePath())
}

// scan is one pass: detect change, stabilize, heal, analyze, persist.
func (w *Watcher) scan(ctx context.Context) {
	live := store.StatFile(w.fs, w.mgr.LivePath())
	archive := store.StatFile(w.fs, w.mgr.ArchivePath())

	w.mu.Lock()
	prev := w.state
	w.mu.Unlock()

	liveChanged := live != prev.Live
	archiveChanged := archive != prev.Archive
	if !liveChanged && !archiveChanged {
		w.maybeAnalyze(ctx, prev)
		return
	}

	w.log.Info("watcher: store change detected",
		"live_changed", liveChanged, "archive_changed", archiveChanged)

	if liveChanged && live.Exists() {
		settled, err := WaitStable(ctx, w.fs, w.mgr.LivePath(), w.policy)
		if err != nil {
			w.log.Warn("watcher: live store not settling, deferring", "error", err)
			w.emit(Event{Kind: EventUnstable, Detail: w.mgr.LivePath(), At: time.Now()})
			return
		}
		live = settled
	}
	if archiveChanged && archive.Exists() {
		settled, err := WaitStable(ctx, w.fs, w.mgr.ArchivePath(), w.policy)
		if err != nil {
			w.log.Warn("watcher: archive store not settling, deferring", "error", err)
			w.emit(Event{Kind: EventUnstable, Detail: w.mgr.ArchivePath(), At: time.Now()})
			return
		}
		archive = settled
	}

	w.onChange()
	w.emit(Event{Kind: EventChanged, Detail: w.mgr.Version(), At: time.Now()})

	// Healing itself touches a file; re-stat afterwards so the next scan
	// does not see our own writes as a change.
	if liveChanged && live.Exists() {
		w.heal(ctx, "live", w.mgr.GetWritable)
		live = store.StatFile(w.fs, w.mgr.LivePath())
	}
	if archiveChanged && archive.Exists() {
		w.heal(ctx, "archive", w.mgr.GetWritableArchive)
		archive = store.StatFile(w.fs, w.mgr.ArchivePath())
	}

	w.mu.Lock()
	w.state.Live = live
	w.state.Archive = archive
	st := w.state
	w.mu.Unlock()

	if err := SaveState(w.fs, w.statePath, st); err != nil {
		w.log.Warn("watcher: state not persisted", "error", err)
	}
}

func (w *Watcher) heal(ctx context.Context, label string, open func() (*sql.DB, error)) {
	db, err := open()
	if err != nil {
		w.log.Warn("watcher: cannot open store for healing", "store", label, "error", err)
		return
	}
	created, err := HealIndexes(ctx, db)
	if err != nil {
		w.log.Warn("watcher: index healing failed", "store", label, "error", err)
		return
	}
	if len(created) > 0 {
		w.log.Info("watcher: recreated indexes", "store", label, "indexes", created)
		w.emit(Event{Kind: EventHealed, Detail: label + ":" + strings.Join(created, ","), At: time.Now()})
	}
}

// maybeAnalyze refreshes planner statistics once a day per store. The
// live and archive stores carry separate clocks, so a long-untouched
// archive still gets its turn.
func (w *Watcher) maybeAnalyze(ctx context.Context, prev State) {
	if time.Since(prev.LastAnalyze) >= analyzeEvery {
		if w.analyze(ctx, "live", w.mgr.GetWritable) {
			w.mu.Lock()
			w.state.LastAnalyze = time.Now()
			w.mu.Unlock()
			w.persistState()
		}
	}
	if w.mgr.ArchivePresent() && time.Since(prev.LastArchiveAnalyze) >= analyzeEvery {
		if w.analyze(ctx, "archive", w.mgr.GetWritableArchive) {
			w.mu.Lock()
			w.state.LastArchiveAnalyze = time.Now()
			w.mu.Unlock()
			w.persistState()
		}
	}
}

func (w *Watcher) analyze(ctx context.Context, label string, open func() (*sql.DB, error)) bool {
	db, err := open()
	if err != nil {
		w.log.Warn("watcher: cannot open store for analyze", "store", label, "error", err)
		return false
	}
	if err := Analyze(ctx, db); err != nil {
		w.log.Warn("watcher: analyze failed", "store", label, "error", err)
		return false
	}
	w.log.Info("watcher: planner statistics refreshed", "store", label)
	w.emit(Event{Kind: EventAnalyzed, Detail: label, At: time.Now()})
	return true
}

func (w *Watcher) persistState() {
	w.mu.Lock()
	st := w.state
	w.mu.Unlock()
	if err := SaveState(w.fs, w.statePath, st); err != nil {
		w.log.Warn("watcher: state not persisted", "error", err)
	}
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
	}
}
