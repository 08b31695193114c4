// Package rules holds one immutable snapshot of the matching rule sets.
// A snapshot is built from persisted settings and swapped wholesale when the
// configuration changes; it is never mutated in place.
package rules

import (
	"github.com/feedtools-dev/muzzle/normalize"
	"github.com/feedtools-dev/muzzle/settings"
)

// Rules is one consistent snapshot of rule sets and matching options. All
// set members are normalized, non-empty strings.
type Rules struct {
	BlockedUsernames     map[string]bool
	BlockedDisplayNames  map[string]bool
	WhitelistedUsernames map[string]bool

	AutoLearnDisplayNames bool
	BlockBots             bool
	PersistBotMatches     bool
}

// FromValues builds a snapshot from persisted settings, normalizing every
// list entry and dropping entries that normalize to the empty string.
func FromValues(v settings.Values) *Rules {
	return &Rules{
		BlockedUsernames:      normalize.Set(v.BlockedUsers, normalize.Username),
		BlockedDisplayNames:   normalize.Set(v.BlockedDisplayNames, normalize.DisplayName),
		WhitelistedUsernames:  normalize.Set(v.WhitelistedUsers, normalize.Username),
		AutoLearnDisplayNames: v.AutoMapUsernames,
		BlockBots:             v.BlockBotsByDefault,
		PersistBotMatches:     v.PersistBotUsers,
	}
}

// Empty returns a snapshot with no rules and default options, used before
// settings have loaded.
func Empty() *Rules {
	return FromValues(settings.Values{AutoMapUsernames: true, BlockBotsByDefault: true})
}
