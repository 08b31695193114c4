// Package profile defines the common types for feed author resolution.
package profile

// Identity is the partially-known author tuple for one feed item. Fields are
// assembled incrementally from multiple sources; any field may be empty, and
// no single source is authoritative.
type Identity struct {
	Username    string `json:",omitempty"` // Handle (without @ prefix)
	DisplayName string `json:",omitempty"` // Human-readable name
	UserID      string `json:",omitempty"` // Platform user id
	ItemID      string `json:",omitempty"` // Feed item (comment) id
}

// Status describes the visibility of a user's feed.
type Status string

// Feed visibility states. StatusUnknown means no source has reported one.
const (
	StatusUnknown    Status = ""
	StatusPublic     Status = "public"
	StatusPrivate    Status = "private"
	StatusRestricted Status = "restricted"
)

// Record holds accumulated account data for one user. Counts are pointers so
// that "unknown" is distinct from a known zero.
type Record struct {
	Subscribers   *int   `json:",omitempty"`
	Subscriptions *int   `json:",omitempty"`
	DisplayName   string `json:",omitempty"`
	Status        Status `json:",omitempty"`
}

// Merge fills absent fields of r from other. A field already present on r is
// never overwritten, and a field absent on other never clears one on r.
func (r *Record) Merge(other *Record) {
	if other == nil {
		return
	}
	if r.Status == StatusUnknown {
		r.Status = other.Status
	}
	if r.DisplayName == "" {
		r.DisplayName = other.DisplayName
	}
	if r.Subscribers == nil {
		r.Subscribers = other.Subscribers
	}
	if r.Subscriptions == nil {
		r.Subscriptions = other.Subscriptions
	}
}

// Count returns a pointer to n, for building Records in one expression.
func Count(n int) *int { return &n }
