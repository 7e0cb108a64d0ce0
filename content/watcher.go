package content

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher invalidates the context cache when files under the local source
// directory change. Events are debounced so a burst of writes triggers one
// invalidation.
type Watcher struct {
	dir      string
	cache    *Cache
	debounce time.Duration
	logger   *zap.Logger
	fs       *fsnotify.Watcher
}

// NewWatcher builds a watcher over dir that invalidates cache on change.
func NewWatcher(dir string, cache *Cache, logger *zap.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Watcher{
		dir:      dir,
		cache:    cache,
		debounce: 500 * time.Millisecond,
		logger:   logger,
		fs:       fs,
	}, nil
}

// Run blocks, invalidating the cache on debounced change events, until ctx
// is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fs.Close()

	var timer *time.Timer
	pending := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case <-pending:
			w.logger.Info("local content changed, invalidating context cache",
				zap.String("dir", w.dir))
			w.cache.Invalidate()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}
