package types

import "time"

// Lease is the ledger row behind one issued access card.  The card number
// doubles as the credential itself, so leases are keyed by it.
type Lease struct {
	CardNo    string
	GrantID   string
	HolderID  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the lease's validity window has passed at now.
func (l Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
