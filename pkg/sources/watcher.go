// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package sources

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher re-syncs a Loader whenever its file changes.
type Watcher struct {
	loader   *Loader
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger
	onSync   func(changed bool, err error)

	timerMu sync.Mutex
	timer   *time.Timer

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Debounce time.Duration

	// OnSync is called after every reload attempt. Optional.
	OnSync func(changed bool, err error)
}

// NewWatcher creates a watcher for loader's file. Call Start to begin watching.
func NewWatcher(loader *Loader, cfg WatcherConfig) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		loader:   loader,
		watcher:  fw,
		debounce: cfg.Debounce,
		logger:   loader.logger,
		onSync:   cfg.OnSync,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start watches the directory holding the file, since editors often replace files
// rather than write them in place.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.loader.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.logger.Info("Started sources hot-reload watcher",
		zap.String("path", w.loader.Path()),
		zap.Duration("debounce", w.debounce))

	w.started.Store(true)
	go w.watchLoop(ctx)
	return nil
}

// Stop ends the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
	if w.started.Load() {
		<-w.doneCh
	}

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.doneCh)

	target := filepath.Clean(w.loader.Path())
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.schedule(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))

		case <-w.stopCh:
			w.logger.Info("Stopping sources hot-reload watcher")
			return

		case <-ctx.Done():
			w.logger.Info("Sources hot-reload context cancelled")
			return
		}
	}
}

// schedule delays the reload until changes settle.
func (w *Watcher) schedule(ctx context.Context) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}

		changed, err := w.loader.Sync(ctx)
		if err != nil {
			w.logger.Error("Sources reload failed, keeping previous sources", zap.Error(err))
		} else if changed {
			w.logger.Info("Sources reloaded", zap.String("path", w.loader.Path()))
		}
		if w.onSync != nil {
			w.onSync(changed, err)
		}
	})
}
