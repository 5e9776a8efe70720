// Package outbox watches a directory and sends image files dropped into it.
package outbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultSettle is how long a file must stay unchanged before it is sent.
const DefaultSettle = 200 * time.Millisecond

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
}

// IsImage reports whether path has an accepted image extension.
func IsImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// SendFunc delivers the contents of a settled image file.
type SendFunc func(path string, data []byte) error

// Watcher sends every image file created or rewritten in a directory.
type Watcher struct {
	dir    string
	send   SendFunc
	settle time.Duration
	log    zerolog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a watcher for dir. settle <= 0 selects DefaultSettle.
func New(dir string, send SendFunc, settle time.Duration, logger zerolog.Logger) *Watcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Watcher{
		dir:     dir,
		send:    send,
		settle:  settle,
		log:     logger.With().Str("component", "outbox").Str("dir", dir).Logger(),
		pending: make(map[string]*time.Timer),
	}
}

// Run watches until ctx is done. The directory is created if missing.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create outbox: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Info().Msg("watching outbox")

	defer w.stopPending()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !IsImage(event.Name) {
				continue
			}
			w.debounce(ctx, event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) debounce(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.deliver(path)
	})
}

func (w *Watcher) deliver(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.log.Warn().Err(err).Str("file", path).Msg("read failed")
		return
	}
	if len(data) == 0 {
		return
	}
	if err := w.send(path, data); err != nil {
		w.log.Warn().Err(err).Str("file", path).Msg("send failed")
		return
	}
	w.log.Info().Str("file", filepath.Base(path)).Int("bytes", len(data)).Msg("image sent")
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

// ReadImage loads an image file for a manual send. It rejects paths
// without an accepted extension and empty files.
func ReadImage(path string) ([]byte, error) {
	if !IsImage(path) {
		return nil, fmt.Errorf("%s: not an image file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: empty file", path)
	}
	return data, nil
}
