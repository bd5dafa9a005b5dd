// Package relay delivers staged recordings to the remote relay host and removes
// the local copy once the transfer is confirmed.
package relay

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"recording-relay/internal/common/logging"
	"recording-relay/internal/models"
)

// Config controls an Uploader
type Config struct {
	// ScanInterval is how often the directory is rescanned for leftovers
	ScanInterval time.Duration
	// QueueSize bounds pending paths; overflow waits for the next scan
	QueueSize int
}

// DefaultConfig returns the uploader defaults
func DefaultConfig() Config {
	return Config{
		ScanInterval: 30 * time.Second,
		QueueSize:    1024,
	}
}

// Stats counts uploader outcomes since start
type Stats struct {
	Destination string `json:"destination"`
	Transferred int64  `json:"transferred"`
	Failed      int64  `json:"failed"`
	Pending     int    `json:"pending"`
	LastError   string `json:"last_error,omitempty"`
}

// Uploader relays files from one destination directory. Files reach it through
// Enqueue, directory events and periodic rescans; each path is handled by one
// worker at a time.
type Uploader struct {
	dest       models.Destination
	transferer Transferer
	config     Config
	logger     logging.Logger

	queue chan string

	mu        sync.Mutex
	pending   map[string]struct{}
	lastError string

	transferred atomic.Int64
	failed      atomic.Int64
}

// NewUploader creates an uploader for dest
func NewUploader(dest models.Destination, transferer Transferer, config Config, logger logging.Logger) *Uploader {
	defaults := DefaultConfig()
	if config.ScanInterval <= 0 {
		config.ScanInterval = defaults.ScanInterval
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}

	return &Uploader{
		dest:       dest,
		transferer: transferer,
		config:     config,
		logger: logging.OrGlobal(logger).WithFields(
			logging.String("component", "relay"),
			logging.String("destination", dest.Name),
		),
		queue:   make(chan string, config.QueueSize),
		pending: make(map[string]struct{}),
	}
}

// Destination returns the destination this uploader serves
func (u *Uploader) Destination() models.Destination {
	return u.dest
}

// Enqueue schedules path for transfer. It returns false when the path is
// already pending, is not eligible, or the queue is full.
func (u *Uploader) Enqueue(path string) bool {
	if !eligible(path) {
		return false
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.pending[path]; ok {
		return false
	}
	select {
	case u.queue <- path:
		u.pending[path] = struct{}{}
		return true
	default:
		u.logger.Warn("Relay queue full, leaving file for the next scan", logging.String("path", path))
		return false
	}
}

// eligible skips hidden names, which cover in-progress downloads
func eligible(path string) bool {
	name := filepath.Base(path)
	return name != "" && !strings.HasPrefix(name, ".")
}

// Scan enqueues every visible regular file in the directory
func (u *Uploader) Scan() int {
	entries, err := os.ReadDir(u.dest.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			u.logger.Error("Failed to scan staging directory", err)
		}
		return 0
	}

	queued := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if u.Enqueue(filepath.Join(u.dest.Dir, entry.Name())) {
			queued++
		}
	}
	return queued
}

// Run watches the directory and transfers files until ctx is cancelled
func (u *Uploader) Run(ctx context.Context) error {
	if err := os.MkdirAll(u.dest.Dir, 0o755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(u.dest.Dir); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		u.work(ctx)
	}()

	u.logger.Info("Relay uploader started",
		logging.String("dir", u.dest.Dir),
		logging.Duration("scan_interval", u.config.ScanInterval),
	)

	u.Scan()
	ticker := time.NewTicker(u.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			u.logger.Info("Relay uploader stopped")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				wg.Wait()
				return nil
			}
			// Files are published by rename, which shows up as Create
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.Mode().IsRegular() {
					u.Enqueue(event.Name)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				wg.Wait()
				return nil
			}
			u.logger.Error("Staging directory watcher error", err)
		case <-ticker.C:
			u.Scan()
		}
	}
}

func (u *Uploader) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-u.queue:
			u.handle(ctx, path)
		}
	}
}

// Drain transfers everything currently queued and returns when the queue is
// empty. It is meant for one-shot runs where Run is not started.
func (u *Uploader) Drain(ctx context.Context) {
	for ctx.Err() == nil {
		select {
		case path := <-u.queue:
			u.handle(ctx, path)
		default:
			return
		}
	}
}

func (u *Uploader) handle(ctx context.Context, path string) {
	u.process(ctx, path)
	u.mu.Lock()
	delete(u.pending, path)
	u.mu.Unlock()
}

// process transfers one file and deletes it only after the transfer succeeded
func (u *Uploader) process(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		// already delivered or removed
		return
	}

	remoteName := RemoteName(filepath.Base(path))
	logger := u.logger.WithFields(logging.String("file", remoteName))

	if err := u.transferer.Transfer(ctx, path, remoteName); err != nil {
		u.failed.Add(1)
		u.mu.Lock()
		u.lastError = err.Error()
		u.mu.Unlock()
		logger.Error("Relay transfer failed, file kept for retry", err)
		return
	}

	u.transferred.Add(1)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Error("Transferred file could not be removed and will be sent again", err)
		return
	}
	logger.Info("Recording relayed")
}

// Stats returns uploader counters
func (u *Uploader) Stats() Stats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return Stats{
		Destination: u.dest.Name,
		Transferred: u.transferred.Load(),
		Failed:      u.failed.Load(),
		Pending:     len(u.pending),
		LastError:   u.lastError,
	}
}
