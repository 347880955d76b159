package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/popguard/internal/config"
)

// configWatcher reloads the config file when it changes. The parent
// directory is watched so that editors replacing the file are seen too.
type configWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	apply   func(*config.Config)
	logger  *zap.Logger
}

func newConfigWatcher(path string, logger *zap.Logger, apply func(*config.Config)) (*configWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize filesystem watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	return &configWatcher{
		path:    filepath.Clean(path),
		watcher: w,
		apply:   apply,
		logger:  logger.Named("config"),
	}, nil
}

// Run handles events until ctx is done, then closes the watcher.
func (w *configWatcher) Run(ctx context.Context) {
	defer func() { _ = w.watcher.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// reload keeps the previous configuration when the new file is invalid.
func (w *configWatcher) reload() {
	cfg, err := config.LoadWithFile(w.path)
	if err != nil {
		w.logger.Warn("ignoring invalid config change", zap.Error(err))
		return
	}
	w.apply(cfg)
}
