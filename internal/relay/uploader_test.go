package relay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"recording-relay/internal/common/logging"
	"recording-relay/internal/models"
)

// fakeTransferer copies files into a directory standing in for the relay host
type fakeTransferer struct {
	mu       sync.Mutex
	remote   string
	fail     bool
	calls    []string
	inFlight int
	maxSeen  int
	delay    time.Duration
}

func (f *fakeTransferer) Transfer(ctx context.Context, localPath, remoteName string) error {
	f.mu.Lock()
	f.calls = append(f.calls, remoteName)
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	fail := f.fail
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if fail {
		return fmt.Errorf("relay unreachable")
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(f.remote, remoteName), data, 0o644)
}

func (f *fakeTransferer) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeTransferer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTransferer) snapshot() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), f.maxSeen
}

func newTestUploader(t *testing.T, tr *fakeTransferer, scan time.Duration) (*Uploader, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "site1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	tr.remote = t.TempDir()
	u := NewUploader(models.Destination{Name: "site1", Dir: dir}, tr, Config{ScanInterval: scan}, logging.NewNopLogger())
	return u, dir
}

func runUploader(t *testing.T, u *Uploader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func publish(t *testing.T, dir, name, content string) string {
	t.Helper()
	tmp := filepath.Join(dir, "."+name+".part-1")
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	final := filepath.Join(dir, name)
	require.NoError(t, os.Rename(tmp, final))
	return final
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestUploader_EnqueueTransfersAndDeletes(t *testing.T) {
	tr := &fakeTransferer{}
	u, dir := newTestUploader(t, tr, time.Hour)
	runUploader(t, u)

	path := publish(t, dir, "+1555_2024-03-01T10:00:00Z.mp3", "audio-bytes")
	u.Enqueue(path)

	require.Eventually(t, func() bool { return !exists(path) }, 2*time.Second, 10*time.Millisecond)

	got, err := os.ReadFile(filepath.Join(tr.remote, "+1555_2024-03-01T100000Z.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(got))
	assert.EqualValues(t, 1, u.Stats().Transferred)
}

func TestUploader_WatchPicksUpRenamedFiles(t *testing.T) {
	tr := &fakeTransferer{}
	u, dir := newTestUploader(t, tr, time.Hour)
	runUploader(t, u)

	// give the watcher a moment to register before publishing
	require.Eventually(t, func() bool {
		path := publish(t, dir, "watched.mp3", "x")
		time.Sleep(20 * time.Millisecond)
		return !exists(path)
	}, 2*time.Second, 50*time.Millisecond)

	assert.True(t, exists(filepath.Join(tr.remote, "watched.mp3")))
}

func TestUploader_StartupScanSendsLeftovers(t *testing.T) {
	tr := &fakeTransferer{}
	u, dir := newTestUploader(t, tr, time.Hour)

	left := publish(t, dir, "left-over.mp3", "from a previous run")
	hidden := filepath.Join(dir, ".in-progress.mp3.part-9")
	require.NoError(t, os.WriteFile(hidden, []byte("partial"), 0o644))

	runUploader(t, u)

	require.Eventually(t, func() bool { return !exists(left) }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, exists(hidden), "temp files are never relayed")
	calls, _ := tr.snapshot()
	assert.Equal(t, []string{"left-over.mp3"}, calls)
}

func TestUploader_FailureKeepsFileUntilRescan(t *testing.T) {
	tr := &fakeTransferer{fail: true}
	u, dir := newTestUploader(t, tr, 50*time.Millisecond)
	runUploader(t, u)

	path := publish(t, dir, "retry.mp3", "payload")
	u.Enqueue(path)

	require.Eventually(t, func() bool { return u.Stats().Failed >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, exists(path), "file stays after a failed transfer")
	assert.Contains(t, u.Stats().LastError, "relay unreachable")

	tr.setFail(false)
	require.Eventually(t, func() bool { return !exists(path) }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, exists(filepath.Join(tr.remote, "retry.mp3")))
}

func TestUploader_NoDuplicateInFlight(t *testing.T) {
	tr := &fakeTransferer{delay: 50 * time.Millisecond}
	u, dir := newTestUploader(t, tr, 10*time.Millisecond)

	path := publish(t, dir, "once.mp3", "x")
	assert.True(t, u.Enqueue(path))
	assert.False(t, u.Enqueue(path), "already pending")

	runUploader(t, u)
	for i := 0; i < 5; i++ {
		u.Enqueue(path)
		u.Scan()
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return !exists(path) }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	calls, maxSeen := tr.snapshot()
	assert.Len(t, calls, 1)
	assert.Equal(t, 1, maxSeen)
}

func TestUploader_EnqueueRejectsHidden(t *testing.T) {
	u := NewUploader(models.Destination{Name: "a", Dir: t.TempDir()}, &fakeTransferer{}, Config{}, logging.NewNopLogger())
	assert.False(t, u.Enqueue(filepath.Join(u.Destination().Dir, ".x.part-1")))
	assert.Equal(t, 0, u.Stats().Pending)
}

func TestUploader_QueueFull(t *testing.T) {
	dir := t.TempDir()
	u := NewUploader(models.Destination{Name: "a", Dir: dir}, &fakeTransferer{}, Config{QueueSize: 1}, logging.NewNopLogger())
	assert.True(t, u.Enqueue(filepath.Join(dir, "1.mp3")))
	assert.False(t, u.Enqueue(filepath.Join(dir, "2.mp3")))
}

func TestUploader_DrainWithoutRun(t *testing.T) {
	tr := &fakeTransferer{}
	u, dir := newTestUploader(t, tr, time.Hour)

	first := publish(t, dir, "a.mp3", "one")
	second := publish(t, dir, "b.mp3", "two")
	require.Equal(t, 2, u.Scan())

	u.Drain(context.Background())

	assert.False(t, exists(first))
	assert.False(t, exists(second))
	assert.Equal(t, 2, tr.callCount())
	assert.Equal(t, 0, u.Stats().Pending)
}

func TestUploader_DrainStopsOnCancel(t *testing.T) {
	tr := &fakeTransferer{}
	u, dir := newTestUploader(t, tr, time.Hour)
	publish(t, dir, "a.mp3", "one")
	require.Equal(t, 1, u.Scan())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	u.Drain(ctx)

	assert.Zero(t, tr.callCount())
	assert.Equal(t, 1, u.Stats().Pending)
}
