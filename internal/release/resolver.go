package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/jbweber/kiln/internal/retry"
)

const (
	metadataTimeout    = 10 * time.Second
	metadataRetries    = 2
	maxMetadataBytes   = 1 << 20
	defaultUserAgent   = "kiln"
	metadataRetryDelay = 1 * time.Second
)

// ResolutionError reports that a channel's version could not be determined
// from any metadata source.
type ResolutionError struct {
	Channel Channel
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s channel: %v", e.Channel, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// metadata is the one field of the channel document we read.
type metadata struct {
	OVA string `json:"ova"`
}

// Resolver fetches channel metadata from a primary endpoint with a fallback
// mirror.
type Resolver struct {
	client     *http.Client
	endpoints  Endpoints
	log        logr.Logger
	userAgent  string
	retryDelay time.Duration
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *Resolver) { r.client = c }
}

// WithLogger sets the resolver's logger.
func WithLogger(l logr.Logger) ResolverOption {
	return func(r *Resolver) { r.log = l }
}

// WithUserAgent sets the User-Agent header sent with metadata requests.
func WithUserAgent(ua string) ResolverOption {
	return func(r *Resolver) { r.userAgent = ua }
}

// WithRetryDelay sets the initial delay between retries against one source.
func WithRetryDelay(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.retryDelay = d }
}

// NewResolver creates a resolver for the given endpoints.
func NewResolver(endpoints Endpoints, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		client:     &http.Client{Timeout: metadataTimeout},
		endpoints:  endpoints.WithDefaults(),
		log:        logr.Discard(),
		userAgent:  defaultUserAgent,
		retryDelay: metadataRetryDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the version currently published on channel.
func (r *Resolver) Resolve(ctx context.Context, channel Channel) (string, error) {
	sources := []string{
		expand(r.endpoints.MetadataPrimary, channel, "", ""),
		expand(r.endpoints.MetadataFallback, channel, "", ""),
	}

	var errs []error
	for i, src := range sources {
		version, err := r.fetchVersion(ctx, src)
		if err == nil {
			r.log.V(1).Info("resolved channel", "channel", channel, "version", version, "source", src)
			return version, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", src, err))
		if ctx.Err() != nil {
			break
		}
		if i == 0 {
			r.log.Info("primary metadata source failed, trying fallback", "channel", channel, "error", err.Error())
		}
	}

	return "", &ResolutionError{Channel: channel, Err: errors.Join(errs...)}
}

// Versions maps each resolved channel to its version. Unresolved optional
// channels are absent.
type Versions map[Channel]string

// Available reports whether channel resolved.
func (v Versions) Available(channel Channel) bool {
	_, ok := v[channel]
	return ok
}

// ResolveAll resolves every channel. It fails only when the stable channel
// cannot be resolved; other failures are returned in the second value so
// callers can show why a channel is unavailable.
func (r *Resolver) ResolveAll(ctx context.Context) (Versions, map[Channel]error, error) {
	versions := make(Versions)
	failures := make(map[Channel]error)

	for _, ch := range Channels() {
		v, err := r.Resolve(ctx, ch)
		if err != nil {
			if ch.Mandatory() {
				return nil, nil, err
			}
			r.log.Info("channel unavailable", "channel", ch, "error", err.Error())
			failures[ch] = err
			continue
		}
		versions[ch] = v
	}
	return versions, failures, nil
}

// fetchVersion reads and validates the version from a single source,
// retrying transient failures.
func (r *Resolver) fetchVersion(ctx context.Context, src string) (string, error) {
	var version string
	err := retry.Do(ctx, func(int) error {
		v, err := r.fetchOnce(ctx, src)
		if err != nil {
			return err
		}
		version = v
		return nil
	},
		retry.WithMaxRetries(metadataRetries),
		retry.WithInitialDelay(r.retryDelay),
	)
	if err != nil {
		return "", err
	}
	return version, nil
}

func (r *Resolver) fetchOnce(ctx context.Context, src string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", retry.Fatal(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("HTTP %d", resp.StatusCode)
		if retry.RetryableStatus(resp.StatusCode) {
			return "", statusErr
		}
		return "", retry.Fatal(statusErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", retry.Fatal(fmt.Errorf("empty response body"))
	}

	var doc metadata
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", retry.Fatal(fmt.Errorf("failed to decode metadata: %w", err))
	}

	version := strings.TrimSpace(doc.OVA)
	if err := ValidateVersion(version); err != nil {
		return "", retry.Fatal(err)
	}
	return version, nil
}
