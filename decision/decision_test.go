package decision

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/feedtools-dev/muzzle/profile"
	"github.com/feedtools-dev/muzzle/rules"
	"github.com/feedtools-dev/muzzle/settings"
)

func ruleSet(v settings.Values) *rules.Rules {
	return rules.FromValues(v)
}

func TestEvaluate(t *testing.T) {
	blocked := ruleSet(settings.Values{
		BlockedUsers:        []string{"spammer"},
		BlockedDisplayNames: []string{"total spam"},
		WhitelistedUsers:    []string{"friend"},
		BlockBotsByDefault:  true,
	})

	bot := &profile.Record{
		Status:        profile.StatusPrivate,
		Subscribers:   profile.Count(0),
		Subscriptions: profile.Count(0),
	}

	tests := []struct {
		name string
		id   profile.Identity
		rec  *profile.Record
		r    *rules.Rules
		want Decision
	}{
		{
			name: "clean author passes",
			id:   profile.Identity{Username: "alice"},
			r:    blocked,
			want: Decision{},
		},
		{
			name: "blocked username",
			id:   profile.Identity{Username: "@Spammer"},
			r:    blocked,
			want: Decision{Hide: true, Reasons: []string{ReasonBlockedUsername}},
		},
		{
			name: "blocked display name",
			id:   profile.Identity{Username: "fresh", DisplayName: "  Total Spam "},
			r:    blocked,
			want: Decision{Hide: true, Reasons: []string{ReasonBlockedDisplayName}},
		},
		{
			name: "display name from record",
			id:   profile.Identity{Username: "fresh"},
			rec:  &profile.Record{DisplayName: "Total Spam"},
			r:    blocked,
			want: Decision{Hide: true, Reasons: []string{ReasonBlockedDisplayName}},
		},
		{
			name: "bot rule",
			id:   profile.Identity{Username: "zerobot"},
			rec:  bot,
			r:    blocked,
			want: Decision{Hide: true, Reasons: []string{ReasonBot}},
		},
		{
			name: "bot rule disabled",
			id:   profile.Identity{Username: "zerobot"},
			rec:  bot,
			r:    ruleSet(settings.Values{}),
			want: Decision{},
		},
		{
			name: "whitelist beats every rule",
			id:   profile.Identity{Username: "Friend", DisplayName: "total spam"},
			rec:  bot,
			r: ruleSet(settings.Values{
				BlockedUsers:        []string{"friend"},
				BlockedDisplayNames: []string{"total spam"},
				WhitelistedUsers:    []string{"friend"},
				BlockBotsByDefault:  true,
			}),
			want: Decision{},
		},
		{
			name: "multiple reasons in order",
			id:   profile.Identity{Username: "spammer", DisplayName: "total spam"},
			rec:  bot,
			r:    blocked,
			want: Decision{Hide: true, Reasons: []string{ReasonBlockedUsername, ReasonBlockedDisplayName, ReasonBot}},
		},
		{
			name: "no profile data only name rules apply",
			id:   profile.Identity{Username: "spammer"},
			rec:  nil,
			r:    blocked,
			want: Decision{Hide: true, Reasons: []string{ReasonBlockedUsername}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.id, tc.rec, tc.r)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Evaluate() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
