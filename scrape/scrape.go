// Package scrape recovers best-effort author identity from feed item nodes,
// independent of the page's embedded data. Markup conventions are treated
// abstractly: items are nodes with attributes and links, located by
// configurable class names.
package scrape

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/feedtools-dev/muzzle/htmlutil"
	"github.com/feedtools-dev/muzzle/profile"
)

// Markup names the structural conventions of the scraped feed.
type Markup struct {
	Item        string // class marking one feed item
	Meta        string // class of the item sub-region holding byline links
	Body        string // class of the item's text region
	Container   string // class of the item's container (post)
	ContainerID string // container attribute holding the container id
	Timestamp   string // class of the container's permalink anchor
	Likes       string // class of a container's likes list
}

// DefaultMarkup is the convention set used when none is supplied.
var DefaultMarkup = Markup{
	Item:        "feed-comment",
	Meta:        "feed-comment-meta",
	Body:        "feed-comment-text",
	Container:   "feed-post",
	ContainerID: "data-post-id",
	Timestamp:   "feed-post-permalink",
	Likes:       "feed-post-likes",
}

// reservedPaths are single-segment paths that match the user-path shape but
// never name a user.
var reservedPaths = map[string]bool{
	"s":      true,
	"filter": true,
	"users":  true,
	"api":    true,
}

var (
	userPathRE   = regexp.MustCompile(`^/[A-Za-z0-9_][A-Za-z0-9_-]*$`)
	itemAnchorRE = regexp.MustCompile(`^c(\d+)`)
	containerRE  = regexp.MustCompile(`^/([^/]+)/(\d+)`)
)

// Scraper extracts identity hints from feed item nodes.
type Scraper struct {
	origin *url.URL
	logger *slog.Logger
	markup Markup
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithMarkup overrides the markup conventions.
func WithMarkup(m Markup) Option {
	return func(s *Scraper) { s.markup = m }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scraper) { s.logger = logger }
}

// New creates a Scraper for a feed served from origin (scheme://host).
func New(origin string, opts ...Option) (*Scraper, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, err
	}
	s := &Scraper{origin: u, logger: slog.Default(), markup: DefaultMarkup}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Markup returns the scraper's markup conventions.
func (s *Scraper) Markup() Markup { return s.markup }

// Items collects the feed item nodes under root in document order. When root
// itself is an item it is the only result.
func (s *Scraper) Items(root *html.Node) []*html.Node {
	var items []*html.Node
	htmlutil.CollectByClass(root, s.markup.Item, &items)
	return items
}

// ItemID recovers the item id from an in-item anchor name or a same-page
// permalink fragment. Returns "" when neither convention matches.
func (s *Scraper) ItemID(item *html.Node) string {
	var anchors []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			anchors = append(anchors, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(item)

	for _, a := range anchors {
		if name := htmlutil.Attr(a, "name"); name != "" {
			if m := itemAnchorRE.FindStringSubmatch(name); m != nil {
				return m[1]
			}
		}
	}
	for _, a := range anchors {
		href := htmlutil.Attr(a, "href")
		if !strings.Contains(href, "#c") {
			continue
		}
		u, err := url.Parse(href)
		if err != nil {
			continue
		}
		if m := itemAnchorRE.FindStringSubmatch(u.Fragment); m != nil {
			return m[1]
		}
	}
	return ""
}

// Author recovers a partial identity for the item's author. The byline
// region is scanned first for a same-origin user link; links inside the
// item's text region are a fallback, accepted only when their text looks
// like an @-mention. Any field of the result may be empty.
func (s *Scraper) Author(item *html.Node) profile.Identity {
	id := profile.Identity{ItemID: s.ItemID(item)}

	meta := htmlutil.FindByClass(item, s.markup.Meta)
	if meta == nil {
		return id
	}

	for _, link := range htmlutil.Links(meta) {
		if s.insideBody(link, item) {
			continue
		}
		if name := s.userFromLink(link); name != "" {
			id.Username = name
			return id
		}
	}

	// Some expanded items only carry the author link inside the text body.
	if body := htmlutil.FindByClass(item, s.markup.Body); body != nil {
		for _, link := range htmlutil.Links(body) {
			text := htmlutil.Text(link)
			if text != "" && !strings.HasPrefix(text, "@") {
				continue
			}
			if name := s.userFromLink(link); name != "" {
				id.Username = name
				return id
			}
		}
	}
	return id
}

// insideBody reports whether n sits inside the item's text region.
func (s *Scraper) insideBody(n, item *html.Node) bool {
	for cur := n; cur != nil && cur != item; cur = cur.Parent {
		if cur.Type == html.ElementNode && htmlutil.HasClass(cur, s.markup.Body) {
			return true
		}
	}
	return false
}

// userFromLink returns the username named by a same-origin user-shaped link,
// or "".
func (s *Scraper) userFromLink(link *html.Node) string {
	u, err := url.Parse(htmlutil.Attr(link, "href"))
	if err != nil {
		return ""
	}
	resolved := s.origin.ResolveReference(u)
	if !sameHost(resolved, s.origin) {
		return ""
	}
	if !userPathRE.MatchString(resolved.Path) {
		return ""
	}
	name := strings.TrimPrefix(resolved.Path, "/")
	if reservedPaths[name] {
		return ""
	}
	return name
}

// Container identifies the item's parent container: the owner slug and the
// container id needed for a by-item remote lookup. Either may be "".
func (s *Scraper) Container(item *html.Node) (slug, containerID string) {
	container := htmlutil.Ancestor(item, s.markup.Container)
	if container == nil {
		return "", ""
	}
	containerID = htmlutil.Attr(container, s.markup.ContainerID)

	href := ""
	if permalink := htmlutil.FindByClass(container, s.markup.Timestamp); permalink != nil {
		href = htmlutil.Attr(permalink, "href")
	} else if containerID != "" {
		for _, a := range htmlutil.Links(container) {
			if strings.Contains(htmlutil.Attr(a, "href"), "/"+containerID) {
				href = htmlutil.Attr(a, "href")
				break
			}
		}
	}
	if href == "" {
		return "", containerID
	}

	u, err := url.Parse(href)
	if err != nil {
		return "", containerID
	}
	resolved := s.origin.ResolveReference(u)
	if m := containerRE.FindStringSubmatch(resolved.Path); m != nil {
		slug = m[1]
		if containerID == "" {
			containerID = m[2]
		}
	}
	return slug, containerID
}

// LikeLink is one user link inside a likes list.
type LikeLink struct {
	Node     *html.Node
	Username string
}

// LikeLinks collects user links from every likes list under scope.
func (s *Scraper) LikeLinks(scope *html.Node) []LikeLink {
	var lists []*html.Node
	htmlutil.CollectByClass(scope, s.markup.Likes, &lists)

	var out []LikeLink
	for _, list := range lists {
		for _, link := range htmlutil.Links(list) {
			if name := s.userFromLink(link); name != "" {
				out = append(out, LikeLink{Node: link, Username: name})
			}
		}
	}
	return out
}

func sameHost(a, b *url.URL) bool {
	return strings.TrimPrefix(strings.ToLower(a.Host), "www.") ==
		strings.TrimPrefix(strings.ToLower(b.Host), "www.")
}
