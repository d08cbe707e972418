package types

type GrantRequest struct {
	GrantID  string `json:"accessId"`
	HolderID string `json:"userId"`
	Prefix   string `json:"prefix"`

	// OverrideTimeout is a validity override in seconds.  Honored only
	// when the server runs with the test token enabled.
	OverrideTimeout float64 `json:"overrideTimeout,omitempty"`
}

type GrantResponse struct {
	AccessKey string `json:"accessKey"`
	CreatedAt string `json:"createdAt"`
	ExpiresAt string `json:"expiresAt"`
}

// DoorStat is one door's entry in the public stats response: either an
// active-card count or an error indicator, never both.
type DoorStat struct {
	Door        string `json:"door"`
	ActiveCards *int   `json:"activeCards,omitempty"`
	Error       string `json:"error,omitempty"`
}

type UsageLogEntry struct {
	Door      string `json:"door"`
	AccessKey string `json:"accessKey"`
	UsedAt    string `json:"usedAt"`
}

type UsageLogError struct {
	Door  string `json:"door"`
	Error string `json:"error"`
}

type UsageLogResponse struct {
	Errors  []UsageLogError `json:"errors"`
	Entries []UsageLogEntry `json:"entries"`
}
