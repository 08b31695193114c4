// Package decision implements the pure matching logic that decides whether a
// comment author should be hidden. It has no I/O; callers supply an identity,
// whatever profile data is known, and a rule snapshot.
package decision

import (
	"github.com/feedtools-dev/muzzle/normalize"
	"github.com/feedtools-dev/muzzle/profile"
	"github.com/feedtools-dev/muzzle/rules"
)

// Reasons a comment can be hidden, in evaluation order.
const (
	ReasonBlockedUsername    = "blocked username"
	ReasonBlockedDisplayName = "blocked display name"
	ReasonBot                = "bot rule"
)

// Decision is the outcome of evaluating one author.
type Decision struct {
	Hide    bool
	Reasons []string
}

// Evaluate applies the rule snapshot to one author. The whitelist wins over
// every block rule. Reasons are reported in a fixed order so repeated
// evaluations of the same inputs produce identical output.
func Evaluate(id profile.Identity, rec *profile.Record, r *rules.Rules) Decision {
	username := normalize.Username(id.Username)
	if username != "" && r.WhitelistedUsernames[username] {
		return Decision{}
	}

	var d Decision
	if username != "" && r.BlockedUsernames[username] {
		d.Hide = true
		d.Reasons = append(d.Reasons, ReasonBlockedUsername)
	}

	display := normalize.DisplayName(id.DisplayName)
	if display == "" && rec != nil {
		display = normalize.DisplayName(rec.DisplayName)
	}
	if display != "" && r.BlockedDisplayNames[display] {
		d.Hide = true
		d.Reasons = append(d.Reasons, ReasonBlockedDisplayName)
	}

	if r.BlockBots && rec.LooksAutomated() {
		d.Hide = true
		d.Reasons = append(d.Reasons, ReasonBot)
	}
	return d
}
