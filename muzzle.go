// Package muzzle hides feed comments from blocked authors. The engine walks
// feed item nodes, resolves each author through page scraping, the embedded
// store, and cached remote lookups, evaluates the rule sets, and toggles a
// hidden marker class on matching items. Unknown authors are never hidden;
// when the network path is unreachable everything stays visible.
package muzzle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/html"

	"github.com/feedtools-dev/muzzle/badge"
	"github.com/feedtools-dev/muzzle/decision"
	"github.com/feedtools-dev/muzzle/embedded"
	"github.com/feedtools-dev/muzzle/fetch"
	"github.com/feedtools-dev/muzzle/htmlutil"
	"github.com/feedtools-dev/muzzle/normalize"
	"github.com/feedtools-dev/muzzle/profile"
	"github.com/feedtools-dev/muzzle/resolver"
	"github.com/feedtools-dev/muzzle/rules"
	"github.com/feedtools-dev/muzzle/schedule"
	"github.com/feedtools-dev/muzzle/scrape"
	"github.com/feedtools-dev/muzzle/settings"
)

// HiddenClass is the marker class the engine toggles on hidden item nodes.
// The embedding surface decides what the class looks like.
const HiddenClass = "muzzle-hidden"

// passTimeout bounds the remote lookups of one re-evaluation pass.
const passTimeout = 10 * time.Second

// Resolver is the remote lookup surface the engine depends on.
type Resolver interface {
	User(ctx context.Context, username string) (*profile.Record, fetch.State)
	CommentAuthor(ctx context.Context, ref resolver.CommentRef) (*profile.Identity, fetch.State)
	Counts(ctx context.Context, username string) (*profile.Record, fetch.State)
	CountsReady(username string) bool
	RequestCounts(username string)
	Close()
}

// Mutation describes one structural change in the observed tree. Target is
// the nearest affected node; Root is the document root, used when the change
// cannot be scoped to an item or container.
type Mutation struct {
	Target *html.Node
	Root   *html.Node
}

// HiddenItem describes one currently hidden feed item.
type HiddenItem struct {
	ItemID   string   `json:"item_id"`
	Username string   `json:"username,omitempty"`
	Reasons  []string `json:"reasons"`
}

// Engine evaluates feed items against the blocklist rules. One engine serves
// one document at a time; passes are serialized by an internal mutex.
type Engine struct {
	scraper  *scrape.Scraper
	client   Resolver
	store    *settings.Store
	logger   *slog.Logger
	reporter *badge.Reporter

	rules atomic.Pointer[rules.Rules]

	coalescer *schedule.Coalescer
	burst     *schedule.Burst

	trackVisibility bool

	mu      sync.Mutex
	root    *html.Node
	scopes  map[string]*html.Node      // scope key -> node to re-evaluate
	visible map[string]bool            // item ids released by MarkVisible
	waiting map[string]map[string]bool // username -> scope keys awaiting counts
	hidden  map[string]HiddenItem      // item id -> current hide decision
	learned map[string]bool            // usernames already auto-persisted
}

type engineConfig struct {
	markup       *scrape.Markup
	resolver     Resolver
	resolverOpts []resolver.Option
	store        *settings.Store
	notifier     badge.Notifier
	logger       *slog.Logger
	debounce     time.Duration
	track        bool
}

// Option configures an Engine.
type Option func(*engineConfig)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) { c.logger = logger }
}

// WithMarkup overrides the scraped markup conventions.
func WithMarkup(m scrape.Markup) Option {
	return func(c *engineConfig) { c.markup = &m }
}

// WithResolver substitutes the remote lookup client. The caller wires count
// completion back through CountsResolved.
func WithResolver(r Resolver) Option {
	return func(c *engineConfig) { c.resolver = r }
}

// WithResolverOptions passes options to the default resolver client.
func WithResolverOptions(opts ...resolver.Option) Option {
	return func(c *engineConfig) { c.resolverOpts = append(c.resolverOpts, opts...) }
}

// WithSettings attaches a persisted settings store. The engine loads rules
// from it and re-evaluates on every change notification.
func WithSettings(s *settings.Store) Option {
	return func(c *engineConfig) { c.store = s }
}

// WithBadgeNotifier sets the surface that receives hidden-count reports.
func WithBadgeNotifier(n badge.Notifier) Option {
	return func(c *engineConfig) { c.notifier = n }
}

// WithDebounce overrides the mutation coalescing window.
func WithDebounce(d time.Duration) Option {
	return func(c *engineConfig) { c.debounce = d }
}

// TrackVisibility defers remote lookups for an item until MarkVisible is
// called for it. Without this option every item is fetch-eligible
// immediately.
func TrackVisibility() Option {
	return func(c *engineConfig) { c.track = true }
}

// New creates an Engine for a feed served from origin.
func New(ctx context.Context, origin string, opts ...Option) (*Engine, error) {
	cfg := engineConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	scraperOpts := []scrape.Option{scrape.WithLogger(cfg.logger)}
	if cfg.markup != nil {
		scraperOpts = append(scraperOpts, scrape.WithMarkup(*cfg.markup))
	}
	scraper, err := scrape.New(origin, scraperOpts...)
	if err != nil {
		return nil, fmt.Errorf("scraper: %w", err)
	}

	notifier := cfg.notifier
	if notifier == nil {
		notifier = badge.NotifierFunc(func(badge.Report) error { return nil })
	}

	e := &Engine{
		scraper:         scraper,
		store:           cfg.store,
		logger:          cfg.logger,
		reporter:        badge.NewReporter(notifier, badge.WithLogger(cfg.logger)),
		trackVisibility: cfg.track,
		scopes:          make(map[string]*html.Node),
		visible:         make(map[string]bool),
		waiting:         make(map[string]map[string]bool),
		hidden:          make(map[string]HiddenItem),
		learned:         make(map[string]bool),
	}
	e.rules.Store(rules.Empty())
	e.coalescer = schedule.NewCoalescer(e.reevaluate, cfg.debounce)
	e.burst = schedule.NewBurst(e.reevaluate)

	if cfg.resolver != nil {
		e.client = cfg.resolver
	} else {
		client, err := resolver.New(origin,
			append([]resolver.Option{
				resolver.WithLogger(cfg.logger),
				resolver.OnCounts(e.CountsResolved),
			}, cfg.resolverOpts...)...)
		if err != nil {
			return nil, fmt.Errorf("resolver: %w", err)
		}
		e.client = client
	}

	if e.store != nil {
		if err := e.Reload(ctx); err != nil {
			return nil, err
		}
		e.store.Watch(func(v settings.Values) {
			e.rules.Store(rules.FromValues(v))
			e.coalescer.Schedule(treeScope)
		})
	}
	return e, nil
}

// Reload re-reads rules from the settings store.
func (e *Engine) Reload(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	values, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	e.rules.Store(rules.FromValues(values))
	return nil
}

// Rules returns the current rule snapshot.
func (e *Engine) Rules() *rules.Rules {
	return e.rules.Load()
}

// Close stops timers and discards queued lookups. The settings store is the
// caller's to close.
func (e *Engine) Close() {
	e.coalescer.Stop()
	e.burst.Stop()
	e.reporter.Close()
	e.client.Close()
}

const treeScope = "tree"

// Apply runs a full evaluation pass over root in document order. Safe to
// call repeatedly; unchanged inputs produce unchanged output.
func (e *Engine) Apply(ctx context.Context, root *html.Node) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.root = root
	e.scopes[treeScope] = root
	e.applyScope(ctx, root)
}

// Observe schedules a coalesced re-evaluation of the smallest scope
// containing the mutation: the enclosing item, else the enclosing container,
// else the whole tree.
func (e *Engine) Observe(m Mutation) {
	e.mu.Lock()
	key, node := e.scopeOf(m)
	if m.Root != nil {
		e.root = m.Root
	}
	e.scopes[key] = node
	e.mu.Unlock()
	e.coalescer.Schedule(key)
}

// Expand schedules burst re-checks of scope, for content the host inserts
// asynchronously after an expansion action.
func (e *Engine) Expand(scope *html.Node) {
	if scope == nil {
		return
	}
	key := e.registerScope(scope)
	e.burst.Fire(key)
}

// MarkVisible releases deferred remote lookups for an item and schedules its
// re-evaluation. A no-op unless visibility tracking is configured.
func (e *Engine) MarkVisible(itemID string) {
	if !e.trackVisibility || itemID == "" {
		return
	}
	e.mu.Lock()
	if e.visible[itemID] {
		e.mu.Unlock()
		return
	}
	e.visible[itemID] = true
	key := itemScope(itemID)
	_, known := e.scopes[key]
	e.mu.Unlock()
	if known {
		e.coalescer.Schedule(key)
	} else {
		e.coalescer.Schedule(treeScope)
	}
}

// CountsResolved re-evaluates every scope that was waiting on a count lookup
// for username. Wired as the resolver's count completion callback.
func (e *Engine) CountsResolved(username string) {
	username = normalize.Username(username)
	e.mu.Lock()
	keys := e.waiting[username]
	delete(e.waiting, username)
	e.mu.Unlock()
	for key := range keys {
		e.coalescer.Schedule(key)
	}
}

// Hidden returns the currently hidden items, newest decision last not
// guaranteed; order is unspecified.
func (e *Engine) Hidden() []HiddenItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]HiddenItem, 0, len(e.hidden))
	for _, item := range e.hidden {
		out = append(out, item)
	}
	return out
}

// HiddenCount returns the number of currently hidden items.
func (e *Engine) HiddenCount() int {
	return e.reporter.Count()
}

// scopeOf maps a mutation to its re-evaluation scope. Caller holds e.mu.
func (e *Engine) scopeOf(m Mutation) (string, *html.Node) {
	markup := e.scraper.Markup()
	if m.Target != nil {
		if item := htmlutil.Ancestor(m.Target, markup.Item); item != nil {
			if id := e.scraper.ItemID(item); id != "" {
				return itemScope(id), item
			}
			return nodeScope(item), item
		}
		if container := htmlutil.Ancestor(m.Target, markup.Container); container != nil {
			if id := htmlutil.Attr(container, markup.ContainerID); id != "" {
				return "container:" + id, container
			}
			return nodeScope(container), container
		}
	}
	if m.Root != nil {
		return treeScope, m.Root
	}
	return treeScope, e.root
}

func (e *Engine) registerScope(node *html.Node) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := nodeScope(node)
	markup := e.scraper.Markup()
	if htmlutil.HasClass(node, markup.Item) {
		if id := e.scraper.ItemID(node); id != "" {
			key = itemScope(id)
		}
	} else if htmlutil.HasClass(node, markup.Container) {
		if id := htmlutil.Attr(node, markup.ContainerID); id != "" {
			key = "container:" + id
		}
	}
	e.scopes[key] = node
	return key
}

func itemScope(id string) string    { return "item:" + id }
func nodeScope(n *html.Node) string { return fmt.Sprintf("node:%p", n) }

// reevaluate is the coalescer and burst callback.
func (e *Engine) reevaluate(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
	defer cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	node := e.scopes[key]
	if node == nil {
		node = e.root
	}
	if node == nil {
		return
	}
	e.applyScope(ctx, node)
}

// applyScope evaluates every item under node. A full-tree pass also prunes
// registry entries for items the host has since removed, so the badge count
// never outlives the nodes it describes. Caller holds e.mu.
func (e *Engine) applyScope(ctx context.Context, node *html.Node) {
	var idx *embedded.Index
	if e.root != nil {
		idx = embedded.FromDocument(e.root)
	}

	rs := e.rules.Load()
	seen := make(map[string]bool)
	for _, item := range e.scraper.Items(node) {
		if itemID := e.evaluateItem(ctx, item, idx, rs); itemID != "" {
			seen[itemID] = true
		}
	}
	if node == e.root {
		for itemID := range e.hidden {
			if !seen[itemID] {
				delete(e.hidden, itemID)
				e.reporter.Show(itemID)
			}
		}
	}
	e.filterLikes(node, idx, rs)
}

// evaluateItem resolves one item's author, applies the decision to the node,
// and returns the item's id for registry reconciliation. Caller holds e.mu.
func (e *Engine) evaluateItem(ctx context.Context, item *html.Node, idx *embedded.Index, rs *rules.Rules) string {
	id := e.scraper.Author(item)
	id.Username = normalize.Username(id.Username)

	// Embedded store: comment id -> user id -> names, at zero network cost.
	if id.UserID == "" && id.ItemID != "" {
		id.UserID = idx.UserIDByCommentID(id.ItemID)
	}
	if id.Username == "" && id.UserID != "" {
		id.Username = normalize.Username(idx.UsernameByUserID(id.UserID))
	}
	if id.DisplayName == "" && id.UserID != "" {
		id.DisplayName = idx.DisplayNameByUserID(id.UserID)
	}
	if id.DisplayName == "" && id.Username != "" {
		id.DisplayName = idx.DisplayNameByUsername(id.Username)
	}

	rec := &profile.Record{}
	if id.Username != "" {
		rec.Merge(idx.RecordByUsername(id.Username))
	}

	fetchable := e.fetchEligible(id.ItemID)

	// Remote comment lookup is the last resort for the author's name. It is
	// keyed by the comment itself, so it runs regardless of visibility.
	if id.Username == "" {
		if slug, containerID := e.scraper.Container(item); slug != "" && containerID != "" && id.ItemID != "" {
			ref := resolver.CommentRef{Slug: slug, ContainerID: containerID, CommentID: id.ItemID}
			if remote, state := e.client.CommentAuthor(ctx, ref); state == fetch.StateResolved {
				if remote.Username == "" && remote.UserID != "" {
					remote.Username = normalize.Username(idx.UsernameByUserID(remote.UserID))
				}
				id.Username = normalize.Username(remote.Username)
				if id.DisplayName == "" {
					id.DisplayName = remote.DisplayName
				}
				if id.UserID == "" {
					id.UserID = remote.UserID
				}
			}
		}
	}

	// The user endpoint fills the bot rule's status field and doubles as the
	// only remote source for a display name. Fetch when either consumer still
	// needs it.
	needProfile := rs.BlockBots && !profileComplete(rec)
	needDisplay := id.DisplayName == "" && rec.DisplayName == "" && len(rs.BlockedDisplayNames) > 0
	if id.Username != "" && fetchable && (needProfile || needDisplay) {
		if remote, state := e.client.User(ctx, id.Username); state == fetch.StateResolved {
			rec.Merge(remote)
		}
		// Count lookups only ever run on the spaced queue; a pass reads
		// settled results and defers the rest.
		if rs.BlockBots && (rec.Subscribers == nil || rec.Subscriptions == nil) {
			if e.client.CountsReady(id.Username) {
				if counts, state := e.client.Counts(ctx, id.Username); state == fetch.StateResolved {
					rec.Merge(counts)
				}
			} else {
				e.deferCounts(id)
			}
		}
	}
	if id.DisplayName == "" {
		id.DisplayName = rec.DisplayName
	}

	e.applyDecision(ctx, item, id, decision.Evaluate(id, rec, rs))
	return id.ItemID
}

// profileComplete reports whether rec already answers the bot rule.
func profileComplete(rec *profile.Record) bool {
	return rec.Status != profile.StatusUnknown && rec.Subscribers != nil && rec.Subscriptions != nil
}

// fetchEligible reports whether remote lookups may run for an item. Caller
// holds e.mu.
func (e *Engine) fetchEligible(itemID string) bool {
	if !e.trackVisibility {
		return true
	}
	return itemID != "" && e.visible[itemID]
}

// deferCounts queues a background count lookup and remembers which scope to
// re-evaluate when it settles. Caller holds e.mu.
func (e *Engine) deferCounts(id profile.Identity) {
	key := treeScope
	if id.ItemID != "" {
		key = itemScope(id.ItemID)
	}
	if e.waiting[id.Username] == nil {
		e.waiting[id.Username] = make(map[string]bool)
	}
	e.waiting[id.Username][key] = true
	e.client.RequestCounts(id.Username)
}

// applyDecision toggles the hidden class and bookkeeping for one item.
// Caller holds e.mu.
func (e *Engine) applyDecision(ctx context.Context, item *html.Node, id profile.Identity, d decision.Decision) {
	if d.Hide {
		htmlutil.AddClass(item, HiddenClass)
		if id.ItemID != "" {
			if _, already := e.hidden[id.ItemID]; !already {
				e.logger.InfoContext(ctx, "hiding comment",
					"item", id.ItemID,
					"username", id.Username,
					"display_name", id.DisplayName,
					"reasons", d.Reasons)
			}
			e.hidden[id.ItemID] = HiddenItem{ItemID: id.ItemID, Username: id.Username, Reasons: d.Reasons}
			e.reporter.Hide(id.ItemID, id.Username)
		}
		e.autoLearn(ctx, id, d)
		return
	}

	htmlutil.RemoveClass(item, HiddenClass)
	if id.ItemID != "" {
		delete(e.hidden, id.ItemID)
		e.reporter.Show(id.ItemID)
	}
}

// autoLearn persists the username to the blocked list when a display name or
// bot match should stick to the account. Caller holds e.mu.
func (e *Engine) autoLearn(ctx context.Context, id profile.Identity, d decision.Decision) {
	if e.store == nil || id.Username == "" || e.learned[id.Username] {
		return
	}
	rs := e.rules.Load()
	learn := false
	for _, reason := range d.Reasons {
		switch reason {
		case decision.ReasonBlockedDisplayName:
			learn = learn || rs.AutoLearnDisplayNames
		case decision.ReasonBot:
			learn = learn || rs.PersistBotMatches
		}
	}
	if !learn {
		return
	}
	e.learned[id.Username] = true
	if err := e.store.AddBlockedUser(ctx, id.Username); err != nil {
		e.logger.Warn("persisting learned block failed", "username", id.Username, "error", err)
	}
}

// filterLikes removes blocked users' links from likes lists under node.
// Caller holds e.mu.
func (e *Engine) filterLikes(node *html.Node, idx *embedded.Index, rs *rules.Rules) {
	for _, like := range e.scraper.LikeLinks(node) {
		id := profile.Identity{
			Username:    normalize.Username(like.Username),
			DisplayName: idx.DisplayNameByUsername(like.Username),
		}
		d := decision.Evaluate(id, idx.RecordByUsername(like.Username), rs)
		if !d.Hide || like.Node.Parent == nil {
			continue
		}
		e.logger.Debug("removing like link", "username", id.Username, "reasons", d.Reasons)
		like.Node.Parent.RemoveChild(like.Node)
	}
}
