package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize settings watcher")

const reloadDebounce = 100 * time.Millisecond

// Watcher reloads the settings file whenever it changes on disk.
type Watcher struct {
	path     string
	onChange func(Settings)
	log      *zap.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher watches the directory holding path, so editors that replace
// the file by rename are seen too. onChange runs on the watcher goroutine
// with the freshly loaded settings; files that fail to load are logged and
// skipped.
func NewWatcher(path string, onChange func(Settings), log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Watcher{path: filepath.Clean(path), onChange: onChange, log: log, watcher: fw}, nil
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(reloadDebounce)
		case <-pending:
			pending = nil
			s, err := LoadSettings(w.path)
			if err != nil {
				w.log.Warn("settings reload failed", zap.String("path", w.path), zap.Error(err))
				continue
			}
			w.log.Info("settings reloaded", zap.String("path", w.path))
			if w.onChange != nil {
				w.onChange(s)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("settings watcher error", zap.Error(err))
		}
	}
}
