package profile

// LooksAutomated reports whether the record matches the broadcast-account
// heuristic: a private or restricted feed with both subscriber and
// subscription counts known to be zero. A count that is merely unknown never
// classifies as automated.
func (r *Record) LooksAutomated() bool {
	if r == nil {
		return false
	}
	if r.Status != StatusPrivate && r.Status != StatusRestricted {
		return false
	}
	if r.Subscribers == nil || r.Subscriptions == nil {
		return false
	}
	return *r.Subscribers == 0 && *r.Subscriptions == 0
}
