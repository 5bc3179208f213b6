package acquire

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/franz/cratekeeper/internal/meta"
	"github.com/franz/cratekeeper/internal/util"
)

// SourceKind is the closed set of acquisition sources
type SourceKind string

const (
	SourceCatalog        SourceKind = "catalog"
	SourceDirectURL      SourceKind = "direct_url"
	SourceCollectionSync SourceKind = "collection_sync"
	SourceLocal          SourceKind = "local"
)

// ParseSourceKind validates a source name from the CLI or config
func ParseSourceKind(s string) (SourceKind, error) {
	switch SourceKind(s) {
	case SourceCatalog, SourceDirectURL, SourceCollectionSync, SourceLocal:
		return SourceKind(s), nil
	}
	return "", fmt.Errorf("%w: unknown source %q", util.ErrInvalidConfig, s)
}

// Trusted reports whether a source's identification is authoritative.
// Trusted sources skip the confidence gate and get a larger retry budget.
func (k SourceKind) Trusted() bool {
	return k == SourceCatalog || k == SourceCollectionSync
}

// ValidateLocator checks a locator's shape for this source kind before a
// job is accepted into the queue
func (k SourceKind) ValidateLocator(locator string) error {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return fmt.Errorf("%w: empty locator", util.ErrInvalidLocator)
	}

	switch k {
	case SourceCatalog:
		// Catalog ids are opaque but never look like URLs or paths
		if strings.Contains(locator, "/") || strings.Contains(locator, "\\") {
			return fmt.Errorf("%w: catalog locator %q must be a release id", util.ErrInvalidLocator, locator)
		}
	case SourceDirectURL:
		u, err := url.Parse(locator)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %q is not an http(s) url", util.ErrInvalidLocator, locator)
		}
	case SourceCollectionSync:
		if strings.ContainsAny(locator, "/\\") {
			return fmt.Errorf("%w: sync locator %q must be a bare directory name", util.ErrInvalidLocator, locator)
		}
	case SourceLocal:
		info, err := os.Stat(locator)
		if err != nil {
			return fmt.Errorf("%w: %v", util.ErrInvalidLocator, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %q is not a directory", util.ErrInvalidLocator, locator)
		}
	default:
		return fmt.Errorf("%w: unknown source %q", util.ErrInvalidLocator, string(k))
	}
	return nil
}

// ProgressSink receives download progress snapshots
type ProgressSink interface {
	Progress(percent float64, bytesPerSec float64, eta time.Duration)
}

// Fetcher downloads one locator into a fresh staging directory and
// returns its path. Implementations wrap transient failures in FetchError
// so the controller's retry budget applies only where retrying can help.
type Fetcher interface {
	Fetch(ctx context.Context, locator, qualityHint string, sink ProgressSink) (string, error)
}

// FetchError classifies a fetch failure for the retry policy
type FetchError struct {
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	return e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTransient feeds util.IsRetryableError's classification hook
func (e *FetchError) IsTransient() bool {
	return e.Transient
}

func transientErr(format string, args ...any) error {
	return &FetchError{Transient: true, Err: fmt.Errorf(format, args...)}
}

func permanentErr(format string, args ...any) error {
	return &FetchError{Transient: false, Err: fmt.Errorf(format, args...)}
}

// stagingDir creates a fresh per-fetch directory under root wrapping a
// single child carrying the release's display name. Validation later
// compares album tags against that name, so it must survive staging.
func stagingDir(root, name string) (string, error) {
	name = sanitizeFilename(name)
	dir := filepath.Join(root, "dl-"+uuid.NewString()[:8], name)
	if err := util.EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// removeStaging discards a fetched directory together with its per-fetch
// wrapper
func removeStaging(dir string) {
	os.RemoveAll(dir)
	removeStagingWrapper(dir)
}

// removeStagingWrapper drops the dl- wrapper once its contents are gone.
// A non-empty wrapper is left alone.
func removeStagingWrapper(dir string) {
	if parent := filepath.Dir(dir); strings.HasPrefix(filepath.Base(parent), "dl-") {
		os.Remove(parent)
	}
}

// DirectURLFetcher downloads a single archive or audio file over HTTP
type DirectURLFetcher struct {
	StagingRoot string
	Client      *http.Client
}

func NewDirectURLFetcher(stagingRoot string) *DirectURLFetcher {
	return &DirectURLFetcher{
		StagingRoot: stagingRoot,
		Client:      &http.Client{Timeout: 30 * time.Minute},
	}
}

func (f *DirectURLFetcher) Fetch(ctx context.Context, locator, qualityHint string, sink ProgressSink) (string, error) {
	name := filepath.Base(strings.Split(locator, "?")[0])
	if name == "" || name == "/" || name == "." {
		name = "download"
	}

	dir, err := stagingDir(f.StagingRoot, strings.TrimSuffix(name, filepath.Ext(name)))
	if err != nil {
		return "", err
	}

	if err := downloadFile(ctx, f.Client, locator, filepath.Join(dir, name), sink); err != nil {
		removeStaging(dir)
		return "", err
	}
	return dir, nil
}

// downloadFile streams a URL to disk through a .part file, reporting
// progress along the way
func downloadFile(ctx context.Context, client *http.Client, rawURL, dest string, sink ProgressSink) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return permanentErr("invalid request for %s: %v", rawURL, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return transientErr("request failed: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return transientErr("server returned %s", resp.Status)
	default:
		return permanentErr("server returned %s", resp.Status)
	}

	tempPath := dest + ".part"
	out, err := os.Create(tempPath)
	if err != nil {
		return permanentErr("failed to create %s: %v", tempPath, err)
	}

	counter := &progressWriter{
		total: resp.ContentLength,
		sink:  sink,
		start: time.Now(),
	}
	_, err = io.Copy(io.MultiWriter(out, counter), resp.Body)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempPath)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return transientErr("download interrupted: %v", err)
	}

	if err := os.Rename(tempPath, dest); err != nil {
		os.Remove(tempPath)
		return permanentErr("failed to finalize download: %v", err)
	}
	counter.flush()
	return nil
}

// CollectionSyncFetcher copies a staged release from a peer library's
// export directory
type CollectionSyncFetcher struct {
	StagingRoot string
	PeerRoot    string
}

func NewCollectionSyncFetcher(stagingRoot, peerRoot string) *CollectionSyncFetcher {
	return &CollectionSyncFetcher{StagingRoot: stagingRoot, PeerRoot: peerRoot}
}

func (f *CollectionSyncFetcher) Fetch(ctx context.Context, locator, qualityHint string, sink ProgressSink) (string, error) {
	src := filepath.Join(f.PeerRoot, locator)
	info, err := os.Stat(src)
	if err != nil {
		// The peer export may still be in progress
		return "", transientErr("peer release %s not available: %v", locator, err)
	}
	if !info.IsDir() {
		return "", permanentErr("peer release %s is not a directory", locator)
	}

	dir, err := stagingDir(f.StagingRoot, locator)
	if err != nil {
		return "", err
	}

	total, _ := util.DirSize(src)
	var copied int64
	start := time.Now()

	err = filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if err := copyFile(path, filepath.Join(dir, rel)); err != nil {
			return err
		}
		copied += fi.Size()
		reportCopyProgress(sink, copied, total, start)
		return nil
	})
	if err != nil {
		removeStaging(dir)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", transientErr("sync copy failed: %v", err)
	}
	return dir, nil
}

// LocalFetcher takes ownership of a directory already on disk, typically
// a settled watch-folder drop
type LocalFetcher struct {
	StagingRoot string
}

func NewLocalFetcher(stagingRoot string) *LocalFetcher {
	return &LocalFetcher{StagingRoot: stagingRoot}
}

func (f *LocalFetcher) Fetch(ctx context.Context, locator, qualityHint string, sink ProgressSink) (string, error) {
	if _, err := os.Stat(locator); err != nil {
		return "", permanentErr("local drop vanished: %v", err)
	}

	dir, err := stagingDir(f.StagingRoot, filepath.Base(filepath.Clean(locator)))
	if err != nil {
		return "", err
	}
	// Move, not copy: the drop folder hands ownership to the pipeline
	if err := util.MoveDir(locator, dir); err != nil {
		removeStaging(dir)
		return "", permanentErr("failed to take ownership of %s: %v", locator, err)
	}
	if sink != nil {
		sink.Progress(100, 0, 0)
	}
	return dir, nil
}

// HasAudio reports whether a directory contains at least one audio file.
// The watcher uses it to tell release drops from stray files.
func HasAudio(dir string) bool {
	found := false
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.Mode().IsRegular() && meta.IsAudioFile(path) {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

func copyFile(src, dst string) error {
	if err := util.EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dst)
	}
	return err
}
