package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stewardlabs/steward/internal/logging"
)

// ActivitySource reports the most recent artifact activity for a run.
type ActivitySource interface {
	LastActivity() time.Time
}

// NoActivity is an ActivitySource for runs without artifact directories.
type NoActivity struct{}

func (NoActivity) LastActivity() time.Time { return time.Time{} }

// ArtifactWatcher tracks the newest modification time under a set of
// artifact directories. It seeds from a filesystem scan and then follows
// fsnotify events, so a tick never walks the tree.
type ArtifactWatcher struct {
	watcher *fsnotify.Watcher
	logger  *logging.Logger

	mu     sync.RWMutex
	latest time.Time
}

// NewArtifactWatcher creates a watcher over the given directories.
// Directories that do not exist yet are skipped; the scan seed still
// covers everything present at construction time.
func NewArtifactWatcher(dirs []string, logger *logging.Logger) (*ArtifactWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &ArtifactWatcher{watcher: fsw, logger: logger}

	for _, dir := range dirs {
		if _, statErr := os.Stat(dir); statErr != nil {
			continue
		}
		if addErr := fsw.Add(dir); addErr != nil {
			logger.Warn("watching artifact directory failed", "dir", dir, "error", addErr)
			continue
		}
		w.observe(ScanLatestMtime(dir))
	}
	return w, nil
}

// Start consumes filesystem events until the context is canceled.
func (w *ArtifactWatcher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
					w.observe(time.Now())
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("artifact watcher error", "error", err)
			}
		}
	}()
}

// LastActivity returns the newest observed artifact timestamp.
func (w *ArtifactWatcher) LastActivity() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.latest
}

// Close stops the underlying fsnotify watcher.
func (w *ArtifactWatcher) Close() error {
	return w.watcher.Close()
}

func (w *ArtifactWatcher) observe(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t.After(w.latest) {
		w.latest = t
	}
}

// ScanLatestMtime walks a directory tree and returns the newest file
// modification time, zero if the tree is empty or missing.
func ScanLatestMtime(dir string) time.Time {
	var latest time.Time
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	return latest
}
