package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/signalsfoundry/road-router/internal/logging"
)

const reloadDebounce = 100 * time.Millisecond

// Watcher reloads a config file when it changes and publishes the engine
// section to subscribers. Invalid edits are logged and ignored.
type Watcher struct {
	path        string
	log         logging.Logger
	mu          sync.RWMutex
	current     Config
	subscribers []chan EngineConfig
	watcher     *fsnotify.Watcher
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewWatcher loads path and starts watching its directory.
func NewWatcher(path string, log logging.Logger) (*Watcher, error) {
	if log == nil {
		log = logging.Noop()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg, err := Load(absPath)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Editors replace files by rename, so the directory is watched.
	if err := fw.Add(filepath.Dir(absPath)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:    absPath,
		log:     log.With(logging.String("config", absPath)),
		current: *cfg,
		watcher: fw,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go w.watchLoop(ctx)
	return w, nil
}

// Current returns the last successfully loaded configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe returns a channel that receives the engine section after every
// successful reload. The current value is delivered immediately. Slow
// consumers only ever see the latest value.
func (w *Watcher) Subscribe() <-chan EngineConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan EngineConfig, 1)
	ch <- w.current.Engine
	w.subscribers = append(w.subscribers, ch)
	return ch
}

// Close stops watching. Subscriber channels are left open.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.done)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

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
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() { w.reload(ctx) })
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn(ctx, "config watcher error", logging.Err(err))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn(ctx, "config reload failed; keeping previous settings", logging.Err(err))
		return
	}

	w.mu.Lock()
	w.current = *cfg
	subscribers := make([]chan EngineConfig, len(w.subscribers))
	copy(subscribers, w.subscribers)
	w.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg.Engine:
		default:
		}
	}
	w.log.Info(ctx, "configuration reloaded",
		logging.Policy(cfg.Engine.Policy),
		logging.Float64("lookahead_min", cfg.Engine.LookaheadMin),
		logging.Int("workers", cfg.Engine.Workers),
	)
}
