package htmlutil

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/feedtools-dev/muzzle/profile"
)

// Pre-compiled patterns for profile page scraping.
var (
	subscribersRE   = regexp.MustCompile(`(?i)(\d+(?:,\d+)*)\s*subscriber`)
	subscriptionsRE = regexp.MustCompile(`(?i)(\d+(?:,\d+)*)\s*subscription`)
	privateRE       = regexp.MustCompile(`(?i)(?:this\s+)?(?:feed|account)\s+is\s+private|class="[^"]*\bfeed-private\b`)
	restrictedRE    = regexp.MustCompile(`(?i)(?:this\s+)?(?:feed|account)\s+is\s+restricted|class="[^"]*\bfeed-restricted\b`)
)

// ProfileCounts extracts subscriber/subscription counts and a feed
// visibility marker from a profile page. Fields that cannot be recovered
// stay absent on the returned record; a page with nothing recoverable yields
// an empty record, never an error.
func ProfileCounts(page string) *profile.Record {
	rec := &profile.Record{}

	if m := subscribersRE.FindStringSubmatch(page); len(m) > 1 {
		if n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil {
			rec.Subscribers = profile.Count(n)
		}
	}
	if m := subscriptionsRE.FindStringSubmatch(page); len(m) > 1 {
		if n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil {
			rec.Subscriptions = profile.Count(n)
		}
	}

	switch {
	case privateRE.MatchString(page):
		rec.Status = profile.StatusPrivate
	case restrictedRE.MatchString(page):
		rec.Status = profile.StatusRestricted
	}

	return rec
}
