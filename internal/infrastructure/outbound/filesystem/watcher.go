package filesystem

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sophialabs/traceharness/internal/infrastructure/ports"
)

// Watcher calls onChange once a burst of YAML file events under a directory
// tree has been quiet for the debounce interval.
type Watcher struct {
	debounce time.Duration
	logger   ports.Logger
	fs       *fsnotify.Watcher
	onChange func()

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher watches rootDir and every directory below it, including ones
// created later.
func NewWatcher(rootDir string, debounce time.Duration, logger ports.Logger, onChange func()) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		debounce: debounce,
		logger:   logger,
		fs:       fs,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	if err := w.watchTree(rootDir); err != nil {
		_ = fs.Close()
		return nil, err
	}
	return w, nil
}

// Start runs the event loop in a goroutine.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop ends the event loop and waits for it. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fs.Close()
	})
	w.wg.Wait()
}

func (w *Watcher) run() {
	defer w.wg.Done()

	var pending *time.Timer
	var fire <-chan time.Time
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !isYAMLFile(ev.Name) {
				if ev.Has(fsnotify.Create) {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						_ = w.watchTree(ev.Name)
					}
				}
				continue
			}
			w.logger.Debug("case file changed", "file", ev.Name, "op", ev.Op.String())
			if pending != nil {
				pending.Stop()
			}
			pending = time.NewTimer(w.debounce)
			fire = pending.C

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)

		case <-fire:
			fire = nil
			w.logger.Info("case files changed, re-running suite")
			w.onChange()
		}
	}
}

func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fs.Add(path)
		}
		return nil
	})
}
