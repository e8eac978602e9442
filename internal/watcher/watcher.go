package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"assurance/internal/logger"
	"assurance/internal/pipeline"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reports which scan definitions saw filesystem changes under one
// of their roots. Events carry the definition id.
type Watcher struct {
	fw      *fsnotify.Watcher
	mu      sync.RWMutex
	roots   map[string]string
	filter  *pipeline.Filter
	eventCh chan string
	doneCh  chan struct{}
	once    sync.Once
}

func New(bufferSize int, filter *pipeline.Filter) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		fw:      fw,
		roots:   make(map[string]string),
		filter:  filter,
		eventCh: make(chan string, bufferSize),
		doneCh:  make(chan struct{}),
	}
	go w.run()

	return w, nil
}

// Watch adds every directory below the given roots, attributing their
// events to definitionID.
func (w *Watcher) Watch(definitionID string, roots ...string) error {
	for _, root := range roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("failed to resolve path: %w", err)
		}

		if _, err := os.Stat(absRoot); err != nil {
			return fmt.Errorf("root directory not found: %w", err)
		}

		w.mu.Lock()
		w.roots[absRoot] = definitionID
		w.mu.Unlock()

		if err := w.addRecursive(absRoot); err != nil {
			return err
		}

		logger.Log.Info("watching root",
			zap.String("definition", definitionID),
			zap.String("dir", absRoot))
	}

	return nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}

		if path != dir && w.ignored(path, true) {
			return filepath.SkipDir
		}

		if err := w.fw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		logger.Log.Debug("watching directory",
			zap.String("path", path))

		return nil
	})
}

// owner returns the definition whose root contains path, along with the
// slash-separated path relative to that root.
func (w *Watcher) owner(path string) (string, string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for root, id := range w.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return id, filepath.ToSlash(rel), true
	}

	return "", "", false
}

func (w *Watcher) ignored(path string, isDir bool) bool {
	if strings.HasSuffix(path, ".assurance.tmp") {
		return true
	}

	_, rel, ok := w.owner(path)
	if !ok || rel == "." {
		return false
	}

	return w.filter.Ignore(rel, isDir)
}

func (w *Watcher) run() {
	defer close(w.eventCh)

	for {
		select {
		case <-w.doneCh:
			logger.Log.Info("watcher stopping")
			return

		case fsEvent, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !relevant(fsEvent.Op) {
				continue
			}

			isDir := false
			if info, err := os.Lstat(fsEvent.Name); err == nil && info.IsDir() {
				isDir = true
			}
			if w.ignored(fsEvent.Name, isDir) {
				continue
			}

			if isDir && fsEvent.Op.Has(fsnotify.Create) {
				if err := w.addRecursive(fsEvent.Name); err != nil {
					logger.Log.Warn("failed to watch new directory",
						zap.String("path", fsEvent.Name),
						zap.Error(err))
				}
			}

			id, _, ok := w.owner(fsEvent.Name)
			if !ok {
				continue
			}

			select {
			case w.eventCh <- id:
			default:
				logger.Log.Warn("event channel is full, dropping event",
					zap.String("path", fsEvent.Name))
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}

			logger.Log.Error("watcher error",
				zap.Error(err))
		}
	}
}

func (w *Watcher) Events() <-chan string {
	return w.eventCh
}

func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.doneCh)
		_ = w.fw.Close()
	})
}

func relevant(op fsnotify.Op) bool {
	return op.Has(fsnotify.Create) || op.Has(fsnotify.Write) ||
		op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) || op.Has(fsnotify.Chmod)
}
