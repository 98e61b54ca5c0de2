// Package watch reruns generation when the project configuration, policies
// or scripts change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
	"github.com/wpkernel/wpkernel-sub000/pkg/telemetry"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 300 * time.Millisecond

// Trigger describes why the handler runs.
type Trigger struct {
	// Initial is set for the run made when watching starts.
	Initial bool

	// Files are the changed paths, sorted. Empty for the initial run.
	Files []string
}

// Watcher serializes handler runs over debounced filesystem changes. While a
// run is in progress further changes are coalesced into one queued rerun.
type Watcher struct {
	// Paths are files or directories. Directories are watched recursively.
	// Paths that do not exist are skipped.
	Paths []string

	Debounce time.Duration
	Handler  func(ctx context.Context, t Trigger) error
	Logger   zerolog.Logger
	Metrics  *telemetry.Metrics
}

// target is one watched path.
type target struct {
	path string
	dir  bool
}

// Run makes the initial run and then watches until ctx is cancelled. Handler
// errors are logged and do not stop the loop. Run returns after the last
// handler run finished.
func (w *Watcher) Run(ctx context.Context) error {
	if w.Handler == nil {
		return engine.NewDeveloperError("watcher requires a handler", nil)
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return engine.NewEnvironmentalError("failed to create watcher", err)
	}
	defer watcher.Close()

	targets, err := w.add(watcher)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return engine.NewValidationError("nothing to watch: none of the watched paths exist", nil).
			WithDetail("paths", w.Paths)
	}

	var (
		changed = make(map[string]struct{})
		timer   *time.Timer
		timerC  <-chan time.Time
		running bool
		queued  bool
		done    = make(chan error, 1)
	)

	start := func(t Trigger) {
		running = true
		go func() { done <- w.Handler(ctx, t) }()
	}
	drain := func() []string {
		files := make([]string, 0, len(changed))
		for f := range changed {
			files = append(files, f)
		}
		sort.Strings(files)
		clear(changed)
		return files
	}

	start(Trigger{Initial: true})

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			if running {
				<-done
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event, targets) {
				continue
			}
			if event.Has(fsnotify.Create) {
				w.watchNewDirectory(watcher, event.Name)
			}
			w.Logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Change detected")
			changed[event.Name] = struct{}{}

			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.Metrics.RecordWatchTrigger()
			if running {
				queued = true
				continue
			}
			start(Trigger{Files: drain()})

		case err := <-done:
			running = false
			if err != nil {
				w.Logger.Error().Err(err).Msg("Generation failed; waiting for changes")
			}
			if queued {
				queued = false
				start(Trigger{Files: drain()})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.Logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// add registers every existing path. Files are watched through their parent
// directory so editors that replace files by rename keep being seen.
func (w *Watcher) add(watcher *fsnotify.Watcher) ([]target, error) {
	var targets []target
	for _, p := range w.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, engine.NewEnvironmentalError("failed to resolve "+p, err)
		}
		info, err := os.Stat(abs)
		if errors.Is(err, fs.ErrNotExist) {
			w.Logger.Debug().Str("path", abs).Msg("Skipping missing watch path")
			continue
		}
		if err != nil {
			return nil, engine.NewEnvironmentalError("failed to inspect "+abs, err)
		}

		if info.IsDir() {
			if err := watchTree(watcher, abs); err != nil {
				return nil, err
			}
			targets = append(targets, target{path: abs, dir: true})
			continue
		}
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return nil, engine.NewEnvironmentalError(fmt.Sprintf("failed to watch %s", abs), err)
		}
		targets = append(targets, target{path: abs})
	}
	return targets, nil
}

func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := watcher.Add(p); err != nil {
			return engine.NewEnvironmentalError("failed to watch "+p, err)
		}
		return nil
	})
}

func (w *Watcher) watchNewDirectory(watcher *fsnotify.Watcher, p string) {
	info, err := os.Stat(p)
	if err != nil || !info.IsDir() {
		return
	}
	if err := watchTree(watcher, p); err != nil {
		w.Logger.Warn().Err(err).Str("path", p).Msg("Failed to watch directory")
	}
}

// relevant reports whether event touches a watched file or a path under a
// watched directory. Chmod-only events are ignored.
func relevant(event fsnotify.Event, targets []target) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	for _, t := range targets {
		if !t.dir {
			if event.Name == t.path {
				return true
			}
			continue
		}
		rel, err := filepath.Rel(t.path, event.Name)
		if err == nil && rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel) {
			return true
		}
	}
	return false
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
