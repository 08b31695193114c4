// Package fetch provides the cached, de-duplicated lookup plumbing for
// remote author resolution: a single-flight response cache, bounded HTTP
// execution with transient retry, and a spaced single-concurrency queue for
// low-priority lookups.
package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/codeGROOVE-dev/sfcache"
	"github.com/codeGROOVE-dev/sfcache/pkg/store/null"
)

// UserAgent is the browser User-Agent string used for all requests.
const UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:146.0) Gecko/20100101 Firefox/146.0"

// Cacher is the single-flight cache surface lookups run through. Concurrent
// callers for one key share a single in-flight fetch.
type Cacher interface {
	GetSet(ctx context.Context, key string, fetch func(context.Context) ([]byte, error), ttl ...time.Duration) ([]byte, error)
	TTL() time.Duration
}

// Cache wraps sfcache for lookup caching. The default construction is
// memory-only: entries live for the session and are gone on process exit,
// which is the intended retention for resolved identities.
type Cache struct {
	*sfcache.TieredCache[string, []byte]

	ttl time.Duration
}

// NewMemory creates a session-lifetime in-memory Cache. A ttl of zero means
// entries never expire within the session.
func NewMemory(ttl time.Duration) *Cache {
	var opts []sfcache.Option
	if ttl > 0 {
		opts = append(opts, sfcache.TTL(ttl))
	}
	tc, err := sfcache.NewTiered[string, []byte](null.New[string, []byte](), opts...)
	if err != nil {
		panic("sfcache.NewTiered with null store: " + err.Error())
	}
	return &Cache{TieredCache: tc, ttl: ttl}
}

// TTL returns the default TTL for cache entries.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// HTTPError represents a non-success HTTP response.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d fetching %s", e.StatusCode, e.URL)
}

// NewClient builds the HTTP client used for resolver lookups.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // needed for corporate proxies
		},
	}
}

// Do executes the request with a bounded transient retry and returns the
// response body. Non-200 statuses map to *HTTPError.
func Do(ctx context.Context, client *http.Client, req *http.Request, logger *slog.Logger) ([]byte, error) {
	return retry.DoWithData(
		func() ([]byte, error) {
			resp, err := client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close() //nolint:errcheck // intentional

			if resp.StatusCode != http.StatusOK {
				return nil, &HTTPError{StatusCode: resp.StatusCode, URL: req.URL.String()}
			}
			return io.ReadAll(resp.Body)
		},
		retry.Context(ctx),
		retry.Attempts(2),                     // single retry
		retry.Delay(200*time.Millisecond),     // delay before retry
		retry.MaxJitter(100*time.Millisecond), // small jitter
		retry.RetryIf(isRetryableError),       // only retry transient errors
		retry.OnRetry(func(n uint, err error) {
			if logger != nil {
				logger.Debug("retrying HTTP request", "attempt", n+1, "url", req.URL.String(), "error", err)
			}
		}),
	)
}

// isRetryableError returns true for transient errors worth one more attempt.
func isRetryableError(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false // other 4xx errors are permanent
		}
	}
	// Network errors, timeouts, etc. are retryable.
	return true
}
