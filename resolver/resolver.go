// Package resolver resolves comment authors through the feed's remote
// endpoints: the user API, the per-comment API, and plain profile pages.
// Every lookup runs through a single-flight session cache, so each key hits
// the network at most once no matter how many comments share an author.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/feedtools-dev/muzzle/fetch"
	"github.com/feedtools-dev/muzzle/htmlutil"
	"github.com/feedtools-dev/muzzle/normalize"
	"github.com/feedtools-dev/muzzle/profile"
)

// CountsTimeout bounds one profile page fetch. Count lookups are best-effort
// enrichment and must never stall an evaluation pass.
const CountsTimeout = 2500 * time.Millisecond

// CommentRef addresses one comment within its container for the per-comment
// endpoint.
type CommentRef struct {
	Slug        string // container author's path segment
	ContainerID string // numeric container id
	CommentID   string // numeric comment id
}

func (r CommentRef) valid() bool {
	return r.Slug != "" && r.ContainerID != "" && r.CommentID != ""
}

func (r CommentRef) key() string {
	return r.Slug + "/" + r.ContainerID + "/" + r.CommentID
}

func splitCommentKey(key string) (slug, containerID, commentID string, ok bool) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// Client performs cached remote author lookups against one feed origin.
type Client struct {
	origin     *url.URL
	httpClient *http.Client
	logger     *slog.Logger
	cfg        config

	users    *fetch.Lookup[profile.Record]
	comments *fetch.Lookup[profile.Identity]
	counts   *fetch.Lookup[profile.Record]
	queue    *fetch.Queue
	onCounts func(username string)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient sets a custom HTTP client, typically one carrying a session
// cookie jar.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// OnCounts registers a callback invoked after each queued count lookup
// settles, successfully or not. Callers use it to re-evaluate the affected
// author.
func OnCounts(fn func(username string)) Option {
	return func(c *Client) { c.onCounts = fn }
}

// config collects construction knobs that feed the lookups rather than the
// Client itself.
type config struct {
	cacheTTL      time.Duration
	failTTL       time.Duration
	countsSpacing time.Duration
}

// WithCacheTTL bounds how long resolved lookups live. Zero means the whole
// session.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) { c.cfg.cacheTTL = d }
}

// WithFailTTL allows a failed count lookup to be retried after d. Zero keeps
// the failure for the whole session.
func WithFailTTL(d time.Duration) Option {
	return func(c *Client) { c.cfg.failTTL = d }
}

// WithCountsSpacing sets the minimum gap between queued profile page fetches.
func WithCountsSpacing(d time.Duration) Option {
	return func(c *Client) { c.cfg.countsSpacing = d }
}

// New creates a Client for the given feed origin, e.g. "https://mokum.place".
func New(origin string, opts ...Option) (*Client, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be an absolute URL", origin)
	}

	c := &Client{
		origin:     u,
		httpClient: fetch.NewClient(10 * time.Second),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.users = fetch.NewLookup("user", fetch.NewMemory(c.cfg.cacheTTL), c.fetchUser,
		fetch.WithLookupLogger[profile.Record](c.logger))
	c.comments = fetch.NewLookup("comment", fetch.NewMemory(c.cfg.cacheTTL), c.fetchCommentAuthor,
		fetch.WithLookupLogger[profile.Identity](c.logger))
	c.counts = fetch.NewLookup("counts", fetch.NewMemory(c.cfg.cacheTTL), c.fetchCounts,
		fetch.MemoizeFailures[profile.Record](c.cfg.failTTL),
		fetch.WithLookupLogger[profile.Record](c.logger))
	c.queue = fetch.NewQueue(c.cfg.countsSpacing, c.runCounts, fetch.WithQueueLogger(c.logger))
	return c, nil
}

// Close discards pending queued lookups.
func (c *Client) Close() {
	c.queue.Close()
}

// User resolves a username through the user API endpoint.
func (c *Client) User(ctx context.Context, username string) (*profile.Record, fetch.State) {
	return c.users.Get(ctx, normalize.Username(username))
}

// CommentAuthor resolves the author identity of one comment through the
// per-comment endpoint. The returned identity may carry only a user id when
// the payload elides the user object; callers fall back to the embedded
// store for the name.
func (c *Client) CommentAuthor(ctx context.Context, ref CommentRef) (*profile.Identity, fetch.State) {
	if !ref.valid() {
		return nil, fetch.StateEmpty
	}
	return c.comments.Get(ctx, ref.key())
}

// Counts resolves subscriber and subscription counts by scraping the user's
// profile page. Failures are memoized; a user whose page cannot be read is
// not refetched this session.
func (c *Client) Counts(ctx context.Context, username string) (*profile.Record, fetch.State) {
	return c.counts.Get(ctx, normalize.Username(username))
}

// CountsReady reports whether a count lookup for username has settled
// (resolved, confirmed empty, or memoized as failed). Reading counts for a
// ready username never issues a request; an unready username belongs on the
// queue instead.
func (c *Client) CountsReady(username string) bool {
	username = normalize.Username(username)
	return c.counts.Settled(username) || c.counts.Failed(username)
}

// RequestCounts enqueues a background count lookup for username. Duplicate
// requests for a queued or in-flight username are dropped.
func (c *Client) RequestCounts(username string) {
	username = normalize.Username(username)
	if username == "" || c.counts.Failed(username) {
		return
	}
	c.queue.Enqueue(username)
}

func (c *Client) runCounts(username string) {
	ctx, cancel := context.WithTimeout(context.Background(), CountsTimeout)
	defer cancel()
	_, state := c.counts.Get(ctx, username)
	c.logger.Debug("count lookup settled", "username", username, "state", int(state))
	if c.onCounts != nil {
		c.onCounts(username)
	}
}

// get fetches one URL with the session client and shared retry policy.
func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", fetch.UserAgent)
	req.Header.Set("Accept", "application/json, text/html")
	return fetch.Do(ctx, c.httpClient, req, c.logger)
}

// notFound reports whether err is a definitive absence rather than a
// transport problem.
func notFound(err error) bool {
	var httpErr *fetch.HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return httpErr.StatusCode == http.StatusNotFound || httpErr.StatusCode == http.StatusGone
}

type userPayload struct {
	User struct {
		Name               string      `json:"name"`
		DisplayName        string      `json:"display_name"`
		Status             string      `json:"status"`
		PrivateSubfeedURL  string      `json:"private_subfeed_url"`
		SubscribersCount   *int        `json:"subscribers_count"`
		SubscriptionsCount *int        `json:"subscriptions_count"`
		ID                 json.Number `json:"id"`
	} `json:"user"`
}

func (c *Client) fetchUser(ctx context.Context, username string) (*profile.Record, error) {
	body, err := c.get(ctx, c.origin.JoinPath("api", "v1", "users", username).String())
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var payload userPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode user payload: %w", err)
	}
	if payload.User.Name == "" {
		return nil, nil
	}

	rec := &profile.Record{
		DisplayName:   payload.User.DisplayName,
		Subscribers:   payload.User.SubscribersCount,
		Subscriptions: payload.User.SubscriptionsCount,
	}
	switch profile.Status(payload.User.Status) {
	case profile.StatusPublic, profile.StatusPrivate, profile.StatusRestricted:
		rec.Status = profile.Status(payload.User.Status)
	default:
		if payload.User.PrivateSubfeedURL != "" {
			rec.Status = profile.StatusPrivate
		}
	}
	c.logger.DebugContext(ctx, "resolved user", "username", username, "status", string(rec.Status))
	return rec, nil
}

type commentPayload struct {
	Comment struct {
		UserID json.Number `json:"user_id"`
		User   *struct {
			Name        string `json:"name"`
			DisplayName string `json:"display_name"`
		} `json:"user"`
	} `json:"comment"`
	Users []struct {
		ID          json.Number `json:"id"`
		Name        string      `json:"name"`
		DisplayName string      `json:"display_name"`
	} `json:"users"`
}

func (c *Client) fetchCommentAuthor(ctx context.Context, key string) (*profile.Identity, error) {
	slug, containerID, commentID, ok := splitCommentKey(key)
	if !ok {
		return nil, nil
	}
	body, err := c.get(ctx, c.origin.JoinPath("api", "v1", "posts", slug, containerID, "comments", commentID).String())
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var payload commentPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode comment payload: %w", err)
	}

	id := profile.Identity{UserID: payload.Comment.UserID.String()}
	if payload.Comment.User != nil {
		id.Username = normalize.Username(payload.Comment.User.Name)
		id.DisplayName = payload.Comment.User.DisplayName
	}
	if id.Username == "" && id.UserID != "" {
		// Some payloads elide the user object but list participants in a
		// sidecar array.
		for _, u := range payload.Users {
			if u.ID.String() == id.UserID {
				id.Username = normalize.Username(u.Name)
				id.DisplayName = u.DisplayName
				break
			}
		}
	}
	if id.Username == "" && id.UserID == "" {
		return nil, nil
	}
	c.logger.DebugContext(ctx, "resolved comment author", "comment", key, "username", id.Username, "user_id", id.UserID)
	return &id, nil
}

func (c *Client) fetchCounts(ctx context.Context, username string) (*profile.Record, error) {
	body, err := c.get(ctx, c.origin.JoinPath(username).String())
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	rec := htmlutil.ProfileCounts(string(body))
	if rec == nil {
		return nil, nil
	}
	return rec, nil
}
