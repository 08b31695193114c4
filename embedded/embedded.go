// Package embedded parses the structured store blob a feed page embeds once
// per load, exposing identity lookup tables at zero network cost. The blob is
// authoritative when present but can be absent or malformed; both degrade to
// a nil Index, never an error.
package embedded

import (
	"encoding/json"
	"strings"

	"golang.org/x/net/html"

	"github.com/feedtools-dev/muzzle/normalize"
	"github.com/feedtools-dev/muzzle/profile"
)

// StoreAttr marks the script element carrying the embedded store blob.
const StoreAttr = "data-js-react-on-rails-store"

// Index holds lookup tables built from one parse of the blob. An Index is
// built fresh each evaluation pass; the blob changes as the feed grows.
type Index struct {
	displayNameByUserID   map[string]string
	usernameByUserID      map[string]string
	displayNameByUsername map[string]string
	recordByUsername      map[string]*profile.Record
	userIDByCommentID     map[string]string
}

type blob struct {
	RiverManager *riverManager `json:"river_manager"`
}

type riverManager struct {
	Users   map[string]*storeUser `json:"users"`
	Entries []storeEntry          `json:"entries"`
}

type storeUser struct {
	ID                json.Number `json:"id"`
	Name              string      `json:"name"`
	DisplayName       string      `json:"display_name"`
	Status            string      `json:"status"`
	PrivateSubfeedURL string      `json:"private_subfeed_url"`
	Counts            storeCounts `json:"counts"`
}

// storeCounts tolerates the count key variants seen in the wild.
type storeCounts struct {
	Subscribers       *int `json:"subscribers"`
	SubscribersCount  *int `json:"subscribers_count"`
	SubscriberCount   *int `json:"subscriber_count"`
	Subscriptions     *int `json:"subscriptions"`
	SubscriptionsCnt  *int `json:"subscriptions_count"`
	SubscriptionCount *int `json:"subscription_count"`
}

func (c storeCounts) subscribers() *int {
	return coalesce(c.Subscribers, c.SubscribersCount, c.SubscriberCount)
}

func (c storeCounts) subscriptions() *int {
	return coalesce(c.Subscriptions, c.SubscriptionsCnt, c.SubscriptionCount)
}

func coalesce(values ...*int) *int {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

type storeEntry struct {
	Comments []storeComment `json:"comments"`
}

type storeComment struct {
	ID     json.Number `json:"id"`
	UserID json.Number `json:"user_id"`
}

// Parse builds an Index from the raw blob. Returns nil when the blob is
// empty, malformed, or lacks the feed store section.
func Parse(data []byte) *Index {
	if len(data) == 0 {
		return nil
	}
	var b blob
	if err := json.Unmarshal(data, &b); err != nil {
		return nil
	}
	if b.RiverManager == nil {
		return nil
	}

	idx := &Index{
		displayNameByUserID:   make(map[string]string),
		usernameByUserID:      make(map[string]string),
		displayNameByUsername: make(map[string]string),
		recordByUsername:      make(map[string]*profile.Record),
		userIDByCommentID:     make(map[string]string),
	}

	for _, user := range b.RiverManager.Users {
		if user == nil || user.ID.String() == "" {
			continue
		}
		id := user.ID.String()
		if user.DisplayName != "" {
			idx.displayNameByUserID[id] = user.DisplayName
		}
		if user.Name != "" {
			idx.usernameByUserID[id] = user.Name
			key := normalize.Username(user.Name)
			if user.DisplayName != "" {
				idx.displayNameByUsername[key] = user.DisplayName
			}
			idx.recordByUsername[key] = userRecord(user)
		}
	}

	for _, entry := range b.RiverManager.Entries {
		for _, comment := range entry.Comments {
			if comment.ID.String() == "" || comment.UserID.String() == "" {
				continue
			}
			idx.userIDByCommentID[comment.ID.String()] = comment.UserID.String()
		}
	}

	return idx
}

func userRecord(u *storeUser) *profile.Record {
	rec := &profile.Record{
		DisplayName:   u.DisplayName,
		Subscribers:   u.Counts.subscribers(),
		Subscriptions: u.Counts.subscriptions(),
	}
	switch {
	case u.Status == string(profile.StatusPrivate):
		rec.Status = profile.StatusPrivate
	case u.Status == string(profile.StatusRestricted):
		rec.Status = profile.StatusRestricted
	case u.Status == string(profile.StatusPublic):
		rec.Status = profile.StatusPublic
	case u.PrivateSubfeedURL != "":
		// A private subfeed URL implies a private feed even without an
		// explicit status field.
		rec.Status = profile.StatusPrivate
	}
	return rec
}

// FromDocument locates the embedded store script in a parsed page and builds
// an Index from its text content. Returns nil when no store is present.
func FromDocument(root *html.Node) *Index {
	script := findStoreScript(root)
	if script == nil {
		return nil
	}
	var text strings.Builder
	for c := script.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			text.WriteString(c.Data)
		}
	}
	return Parse([]byte(text.String()))
}

func findStoreScript(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "script" {
		for _, attr := range n.Attr {
			if attr.Key == StoreAttr {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findStoreScript(c); found != nil {
			return found
		}
	}
	return nil
}

// DisplayNameByUserID returns the display name for a user id, if known.
func (idx *Index) DisplayNameByUserID(id string) string {
	if idx == nil {
		return ""
	}
	return idx.displayNameByUserID[id]
}

// UsernameByUserID returns the username for a user id, if known.
func (idx *Index) UsernameByUserID(id string) string {
	if idx == nil {
		return ""
	}
	return idx.usernameByUserID[id]
}

// DisplayNameByUsername returns the display name for a normalized username.
func (idx *Index) DisplayNameByUsername(username string) string {
	if idx == nil {
		return ""
	}
	return idx.displayNameByUsername[normalize.Username(username)]
}

// RecordByUsername returns the accumulated record for a normalized username,
// or nil when the store has none.
func (idx *Index) RecordByUsername(username string) *profile.Record {
	if idx == nil {
		return nil
	}
	return idx.recordByUsername[normalize.Username(username)]
}

// UserIDByCommentID returns the author's user id for a comment id, if the
// store listed that comment.
func (idx *Index) UserIDByCommentID(id string) string {
	if idx == nil {
		return ""
	}
	return idx.userIDByCommentID[id]
}
