// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package hooks

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads filesystem hooks: new scripts register, edits
// re-register, deletions unregister. Rapid editor events are debounced.
type Watcher struct {
	engine  *Engine
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	debounce       time.Duration
	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex

	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool
	stopMu  sync.Mutex
}

// NewWatcher creates a hook directory watcher.
func NewWatcher(engine *Engine, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		engine:         engine,
		watcher:        fsw,
		logger:         logger,
		debounce:       500 * time.Millisecond,
		debounceTimers: make(map[string]*time.Timer),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}, nil
}

// Start begins watching the given hook directories. Directories that
// do not exist are skipped.
func (w *Watcher) Start(ctx context.Context, dirs []string) error {
	watched := 0
	for _, dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			w.logger.Debug("not watching hook directory",
				zap.String("dir", dir), zap.Error(err))
			continue
		}
		watched++
	}
	w.logger.Info("started hook watcher", zap.Int("directories", watched))

	go w.watchLoop(ctx)
	return nil
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("hook watcher error", zap.Error(err))

		case <-w.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if !strings.HasSuffix(base, ".sh") || strings.HasPrefix(base, ".") || strings.Contains(base, "~") {
		return
	}

	w.debounceKey(event.Name, func() {
		switch {
		case event.Op&fsnotify.Remove == fsnotify.Remove,
			event.Op&fsnotify.Rename == fsnotify.Rename:
			w.engine.Unregister(event.Name)
			w.logger.Info("hook removed", zap.String("file", event.Name))

		case event.Op&fsnotify.Write == fsnotify.Write,
			event.Op&fsnotify.Create == fsnotify.Create:
			def, ok := parseHookFile(event.Name)
			if !ok {
				return
			}
			if err := w.engine.Register(def); err != nil {
				w.logger.Warn("hook reload failed",
					zap.String("file", event.Name), zap.Error(err))
				return
			}
			w.logger.Info("hook reloaded",
				zap.String("file", event.Name),
				zap.String("kind", string(def.Kind)))
		}
	})
}

func (w *Watcher) debounceKey(key string, callback func()) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.debounceTimers[key]; exists {
		timer.Stop()
	}
	w.debounceTimers[key] = time.AfterFunc(w.debounce, func() {
		callback()
		w.debounceMu.Lock()
		delete(w.debounceTimers, key)
		w.debounceMu.Unlock()
	})
}

// Stop stops the watcher. Idempotent.
func (w *Watcher) Stop() error {
	w.stopMu.Lock()
	defer w.stopMu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)

	select {
	case <-w.doneCh:
	case <-time.After(5 * time.Second):
		w.logger.Warn("hook watcher stop timed out")
	}
	return w.watcher.Close()
}
