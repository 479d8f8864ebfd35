package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"

	"github.com/jbweber/kiln/internal/progress"
	"github.com/jbweber/kiln/internal/release"
	"github.com/jbweber/kiln/internal/retry"
)

// Default download limits.
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultTimeout        = 15 * time.Minute
	DefaultRetries        = 3
)

const partSuffix = ".part"

// DownloadConfig bounds a single artifact download.
type DownloadConfig struct {
	ConnectTimeout time.Duration
	Timeout        time.Duration
	Retries        int
}

func (c DownloadConfig) withDefaults() DownloadConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retries < 0 {
		c.Retries = DefaultRetries
	}
	return c
}

// Entry describes the outcome of Ensure.
type Entry struct {
	Path     string
	Hit      bool  // served from cache without a download
	Bytes    int64 // bytes downloaded, zero on a hit
	Attempts int   // download attempts made
}

// Cache stores verified artifacts on local disk.
type Cache struct {
	client     *http.Client
	retries    int
	retryDelay time.Duration
	userAgent  string
	log        logr.Logger
	progress   progress.Reporter
}

// Option configures a Cache.
type Option func(*Cache)

// WithHTTPClient replaces the HTTP client built from DownloadConfig.
func WithHTTPClient(c *http.Client) Option {
	return func(cache *Cache) { cache.client = c }
}

// WithLogger sets the cache's logger.
func WithLogger(l logr.Logger) Option {
	return func(cache *Cache) { cache.log = l }
}

// WithProgress sets the reporter used while downloading.
func WithProgress(r progress.Reporter) Option {
	return func(cache *Cache) {
		if r != nil {
			cache.progress = r
		}
	}
}

// WithRetryDelay sets the initial backoff between download attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(cache *Cache) { cache.retryDelay = d }
}

// WithUserAgent sets the User-Agent header for downloads.
func WithUserAgent(ua string) Option {
	return func(cache *Cache) { cache.userAgent = ua }
}

// NewCache creates a cache whose downloads follow cfg.
func NewCache(cfg DownloadConfig, opts ...Option) *Cache {
	cfg = cfg.withDefaults()
	c := &Cache{
		client:     newHTTPClient(cfg),
		retries:    cfg.Retries,
		retryDelay: 2 * time.Second,
		userAgent:  "kiln",
		log:        logr.Discard(),
		progress:   progress.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newHTTPClient(cfg DownloadConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout
	return &http.Client{Transport: transport, Timeout: cfg.Timeout}
}

// Ensure returns a verified local copy of the artifact, downloading it when
// the cache has no usable entry.
func (c *Cache) Ensure(ctx context.Context, desc release.Descriptor) (Entry, error) {
	path := desc.CachePath
	log := c.log.WithValues("artifact", desc.FileName())

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Entry{}, fmt.Errorf("failed to create cache directory: %w", err)
	}

	hit, err := c.checkExisting(ctx, path, log)
	if err != nil {
		return Entry{}, err
	}
	if hit {
		log.Info("using cached artifact", "path", path)
		return Entry{Path: path, Hit: true}, nil
	}

	part := path + partSuffix
	log.Info("downloading artifact", "url", desc.URL)
	n, attempts, err := c.download(ctx, desc.URL, part, log)
	if err != nil {
		_ = os.Remove(part)
		return Entry{}, &DownloadError{URL: desc.URL, Attempts: attempts, Err: err}
	}

	if err := VerifyContext(ctx, part); err != nil {
		_ = os.Remove(part)
		if ctx.Err() != nil {
			return Entry{}, ctx.Err()
		}
		return Entry{}, &IntegrityError{Path: path, Err: err}
	}

	if err := os.Rename(part, path); err != nil {
		_ = os.Remove(part)
		return Entry{}, fmt.Errorf("failed to move artifact into cache: %w", err)
	}

	log.Info("artifact cached", "path", path, "bytes", n, "attempts", attempts)
	return Entry{Path: path, Bytes: n, Attempts: attempts}, nil
}

// checkExisting reports whether path holds a usable entry. Empty and corrupt
// files are deleted.
func (c *Cache) checkExisting(ctx context.Context, path string, log logr.Logger) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat cache entry: %w", err)
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("cache entry %s is not a regular file", path)
	}

	if info.Size() == 0 {
		log.Info("removing empty cache entry", "path", path)
		if err := os.Remove(path); err != nil {
			return false, fmt.Errorf("failed to remove empty cache entry: %w", err)
		}
		return false, nil
	}

	verr := VerifyContext(ctx, path)
	if verr == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	log.Info("cached artifact is corrupt, removing", "path", path, "error", verr.Error())
	if err := os.Remove(path); err != nil {
		return false, &IntegrityError{Path: path, Err: errors.Join(verr, err)}
	}
	return false, nil
}

func (c *Cache) download(ctx context.Context, url, dest string, log logr.Logger) (int64, int, error) {
	var written int64
	var attempts int

	err := retry.Do(ctx, func(attempt int) error {
		attempts = attempt
		n, err := c.fetch(ctx, url, dest)
		if err != nil {
			_ = os.Remove(dest)
			return err
		}
		written = n
		return nil
	},
		retry.WithMaxRetries(c.retries),
		retry.WithInitialDelay(c.retryDelay),
		retry.WithOnRetry(func(attempt int, err error) {
			log.Info("download attempt failed, retrying", "attempt", attempt, "error", err.Error())
		}),
	)
	return written, attempts, err
}

func (c *Cache) fetch(ctx context.Context, url, dest string) (n int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, retry.Fatal(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("HTTP %d", resp.StatusCode)
		if retry.RetryableStatus(resp.StatusCode) {
			return 0, statusErr
		}
		return 0, retry.Fatal(statusErr)
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, retry.Fatal(fmt.Errorf("failed to create %s: %w", dest, err))
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", dest, cerr)
		}
	}()

	c.progress.Start("Downloading "+filepath.Base(url), resp.ContentLength)
	defer c.progress.Stop()

	n, err = io.Copy(io.MultiWriter(f, progress.Writer(c.progress)), resp.Body)
	if err != nil {
		return n, fmt.Errorf("transfer interrupted after %d bytes: %w", n, err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return n, fmt.Errorf("short transfer: got %d of %d bytes", n, resp.ContentLength)
	}
	return n, nil
}
