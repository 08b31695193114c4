package rules

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/feedtools-dev/muzzle/settings"
)

func TestFromValuesNormalizes(t *testing.T) {
	r := FromValues(settings.Values{
		BlockedUsers:        []string{"@Alice", "bob ", "", "  "},
		BlockedDisplayNames: []string{"  Spam Bot  ", "Ads"},
		WhitelistedUsers:    []string{"@Carol"},
	})

	if diff := cmp.Diff(map[string]bool{"alice": true, "bob": true}, r.BlockedUsernames); diff != "" {
		t.Errorf("blocked usernames mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]bool{"spam bot": true, "ads": true}, r.BlockedDisplayNames); diff != "" {
		t.Errorf("blocked display names mismatch (-want +got):\n%s", diff)
	}
	if !r.WhitelistedUsernames["carol"] {
		t.Errorf("whitelisted usernames = %v, want carol present", r.WhitelistedUsernames)
	}
}

func TestFromValuesOptions(t *testing.T) {
	r := FromValues(settings.Values{AutoMapUsernames: true, BlockBotsByDefault: false, PersistBotUsers: true})
	if !r.AutoLearnDisplayNames || r.BlockBots || !r.PersistBotMatches {
		t.Errorf("options = %+v", r)
	}
}

func TestEmpty(t *testing.T) {
	r := Empty()
	if len(r.BlockedUsernames) != 0 || len(r.BlockedDisplayNames) != 0 || len(r.WhitelistedUsernames) != 0 {
		t.Errorf("expected empty rule sets, got %+v", r)
	}
	if !r.BlockBots || !r.AutoLearnDisplayNames {
		t.Errorf("defaults = %+v", r)
	}
}
