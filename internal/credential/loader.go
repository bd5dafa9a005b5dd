package credential

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"recording-relay/internal/common/logging"
)

// Loader feeds a Store from a token file: once at startup and again every
// time the file changes.
type Loader struct {
	path          string
	store         *Store
	logger        logging.Logger
	retryInterval time.Duration
}

// NewLoader creates a loader for the token file at path
func NewLoader(path string, store *Store, logger logging.Logger) *Loader {
	return &Loader{
		path:          filepath.Clean(path),
		store:         store,
		logger:        logging.OrGlobal(logger).WithFields(logging.String("component", "credential")),
		retryInterval: 5 * time.Second,
	}
}

// LoadOnce reads the token file and stores its content. A missing or
// unreadable file leaves the store untouched; polling then fails with
// credential_unavailable until the watcher sees a usable file.
func (l *Loader) LoadOnce() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read token file %s: %w", l.path, err)
	}
	l.store.Set(string(data))
	l.logger.Info("Token loaded", logging.String("path", l.path), logging.Int("bytes", len(data)))
	return nil
}

// Watch re-reads the token file whenever it is written, created or renamed
// into place. The parent directory is watched so editors and secret agents
// that replace the file atomically are picked up. A directory that does not
// exist yet is retried until it appears. Watch blocks until ctx is done.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create token watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(l.path)
	watching, err := l.addWhenPresent(ctx, watcher, dir)
	if err != nil || !watching {
		return err
	}

	l.logger.Info("Watching token file", logging.String("path", l.path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != l.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := l.LoadOnce(); err != nil {
				// Rename away from the path or a half-written file; the next event retries.
				l.logger.Debug("Token reload skipped", logging.Err(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("Token watcher error", logging.Err(err))
		}
	}
}

// addWhenPresent adds dir to the watcher, polling while it does not exist.
// It reports false when ctx ends first.
func (l *Loader) addWhenPresent(ctx context.Context, watcher *fsnotify.Watcher, dir string) (bool, error) {
	err := watcher.Add(dir)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("watch %s: %w", dir, err)
	}

	l.logger.Warn("Token directory missing, waiting for it to appear",
		logging.String("dir", dir),
		logging.Duration("retry_interval", l.retryInterval),
	)

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, nil
		case <-ticker.C:
		}

		err := watcher.Add(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("watch %s: %w", dir, err)
		}

		// The file may have been written before the watch was in place.
		if err := l.LoadOnce(); err != nil {
			l.logger.Debug("Token not present yet", logging.Err(err))
		}
		return true, nil
	}
}
