package account

import "time"

// Status describes the outcome of an account's most recent store discovery.
type Status string

const (
	// StatusActive means the last discovery succeeded; the store set may
	// still be empty for a credential with no assigned locations.
	StatusActive Status = "active"
	// StatusError means the last discovery failed; StoreIDs holds the
	// previously known set, which may be stale or empty.
	StatusError Status = "error"
)

// Account is one franchisee credential pair and the stores it controls.
// StoreIDs is written only by discovery and only by full replacement.
type Account struct {
	Name         string
	ClientID     string
	ClientSecret string
	StoreIDs     []string
	Status       Status
	DiscoveredAt time.Time
	LastError    string
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (a Account) Clone() Account {
	out := a
	if a.StoreIDs != nil {
		out.StoreIDs = append([]string(nil), a.StoreIDs...)
	}
	return out
}

// HasStore reports whether id is in the discovered store set.
func (a Account) HasStore(id string) bool {
	for _, s := range a.StoreIDs {
		if s == id {
			return true
		}
	}
	return false
}
