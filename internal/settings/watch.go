package settings

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettleDelay coalesces the burst of events editors produce on save.
const DefaultSettleDelay = 250 * time.Millisecond

// Watcher re-applies the seed file whenever it changes on disk.
type Watcher struct {
	service     *Service
	path        string
	logger      *slog.Logger
	settleDelay time.Duration

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	timer   *time.Timer
	applied chan struct{} // signalled after each apply attempt, for tests
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher watches the directory containing path. Watching the directory
// survives editors that replace the file via rename.
func NewWatcher(service *Service, path string, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("resolve settings file: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch settings dir: %w", err)
	}

	return &Watcher{
		service:     service,
		path:        abs,
		logger:      logger,
		settleDelay: DefaultSettleDelay,
		watcher:     fw,
		applied:     make(chan struct{}, 1),
		done:        make(chan struct{}),
	}, nil
}

// Start processes events until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.processEvents(ctx)
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule(ctx)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("settings watcher error", "error", err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.settleDelay, func() { w.apply(ctx) })
}

func (w *Watcher) apply(ctx context.Context) {
	snap, err := w.service.ApplySeed(ctx, w.path)
	if err != nil {
		w.logger.Warn("failed to apply settings file", "path", w.path, "error", err)
	} else {
		w.logger.Info("settings file reloaded", "path", w.path, "version", snap.Version)
	}

	select {
	case w.applied <- struct{}{}:
	default:
	}
}

// Stop ends watching and releases the fsnotify handle. Safe to call once.
func (w *Watcher) Stop() error {
	close(w.done)

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
