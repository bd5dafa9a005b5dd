// Package fetcher downloads recordings into a destination directory and
// publishes them atomically by rename.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"unicode"

	"recording-relay/internal/common/errors"
	commonhttp "recording-relay/internal/common/http"
	"recording-relay/internal/common/logging"
	"recording-relay/internal/common/ratelimit"
	"recording-relay/internal/models"
)

// DefaultExtension is used when none is configured
const DefaultExtension = "mp3"

// TempPrefix marks in-progress downloads. Watchers ignore dot files.
const TempPrefix = "."

// CredentialSource supplies the current bearer token
type CredentialSource interface {
	Get() (string, bool)
}

// Stats counts fetch outcomes since start
type Stats struct {
	Fetched int64 `json:"fetched"`
	Failed  int64 `json:"failed"`
	Bytes   int64 `json:"bytes"`
}

// Fetcher performs authenticated downloads
type Fetcher struct {
	client    *http.Client
	creds     CredentialSource
	limiter   ratelimit.Limiter
	extension string
	logger    logging.Logger

	fetched atomic.Int64
	failed  atomic.Int64
	bytes   atomic.Int64
}

// New creates a fetcher. limiter and logger may be nil.
func New(client *http.Client, creds CredentialSource, limiter ratelimit.Limiter, extension string, logger logging.Logger) *Fetcher {
	if client == nil {
		client = commonhttp.NewHTTPClient()
	}
	extension = strings.TrimPrefix(extension, ".")
	if extension == "" {
		extension = DefaultExtension
	}
	return &Fetcher{
		client:    client,
		creds:     creds,
		limiter:   limiter,
		extension: extension,
		logger:    logging.OrGlobal(logger).WithFields(logging.String("component", "fetcher")),
	}
}

// Fetch downloads item.DownloadURL into dest.Dir and returns the published path.
// On any failure nothing is left at the final path.
func (f *Fetcher) Fetch(ctx context.Context, item models.Recording, dest models.Destination) (string, error) {
	path, n, err := f.fetch(ctx, item, dest)
	if err != nil {
		f.failed.Add(1)
		return "", err
	}

	f.fetched.Add(1)
	f.bytes.Add(n)
	f.logger.WithContext(ctx).Info("Recording downloaded",
		logging.String("destination", dest.Name),
		logging.String("caller", item.Caller),
		logging.String("path", path),
		logging.Int64("bytes", n),
	)
	return path, nil
}

func (f *Fetcher) fetch(ctx context.Context, item models.Recording, dest models.Destination) (string, int64, error) {
	if item.DownloadURL == "" {
		return "", 0, errors.FetchError("recording has no download url", nil).WithContext("recording_id", item.ID)
	}
	u, err := url.Parse(item.DownloadURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", 0, errors.FetchError(fmt.Sprintf("invalid download url %q", item.DownloadURL), err)
	}

	token, ok := f.creds.Get()
	if !ok {
		return "", 0, errors.FetchError("no credential for download",
			errors.CredentialUnavailableError("authentication token not available"))
	}

	if f.limiter != nil {
		if err := f.limiter.WaitForKey(ctx, u.Host); err != nil {
			return "", 0, errors.FetchError("rate limiter wait aborted", err)
		}
	}

	if err := os.MkdirAll(dest.Dir, 0o755); err != nil {
		return "", 0, errors.FetchError("failed to create destination directory", err)
	}

	req, err := commonhttp.NewBearerRequest(ctx, item.DownloadURL, token, "")
	if err != nil {
		return "", 0, errors.FetchError("failed to build download request", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", 0, errors.FetchError("download request failed", err)
	}
	defer commonhttp.Drain(resp.Body)

	if err := commonhttp.CheckStatus(resp); err != nil {
		return "", 0, errors.FetchError("download endpoint returned an error", err).
			WithCode(strconv.Itoa(resp.StatusCode))
	}

	path := filepath.Join(dest.Dir, FileName(item, f.extension))
	n, err := writeFileAtomic(path, resp.Body, resp.ContentLength)
	if err != nil {
		return "", 0, errors.FetchError("failed to write recording", err)
	}
	return path, n, nil
}

// writeFileAtomic streams r into a hidden temp file next to path, syncs it and
// renames it into place. want is the expected length, or -1 when unknown.
func writeFileAtomic(path string, r io.Reader, want int64) (int64, error) {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, TempPrefix+filepath.Base(path)+".part-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmpFile, r)
	if err != nil {
		_ = tmpFile.Close()
		return n, err
	}
	if want >= 0 && n != want {
		_ = tmpFile.Close()
		return n, fmt.Errorf("short body: got %d of %d bytes", n, want)
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return n, err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return n, err
	}
	if err := tmpFile.Close(); err != nil {
		return n, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return n, err
	}
	committed = true
	return n, nil
}

// Stats returns fetch counters
func (f *Fetcher) Stats() Stats {
	return Stats{
		Fetched: f.fetched.Load(),
		Failed:  f.failed.Load(),
		Bytes:   f.bytes.Load(),
	}
}

// FileName returns "{caller}_{timestamp}.{ext}" with unsafe characters normalized
func FileName(item models.Recording, extension string) string {
	if extension == "" {
		extension = DefaultExtension
	}
	return SanitizeComponent(item.Caller) + "_" + SanitizeComponent(item.Timestamp) + "." + extension
}

// SanitizeComponent drops ':' and replaces path separators, characters illegal
// on common filesystems and control characters with '_'. An empty or dot-only
// result becomes "unknown".
func SanitizeComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == ':':
			continue
		case strings.ContainsRune(`/\*?"<>|`, r), unicode.IsControl(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.TrimSpace(b.String())
	if strings.Trim(out, ".") == "" {
		return "unknown"
	}
	// A leading dot would hide the file from the relay watcher
	if out[0] == '.' {
		out = "_" + out[1:]
	}
	return out
}
