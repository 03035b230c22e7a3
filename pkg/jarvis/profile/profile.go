// Package profile implements the durable per-user record (name, interests,
// goals) keyed by the chat-transport identity, and its SQL-backed store.
package profile

import (
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned when no profile matches the lookup.
var ErrNotFound = errors.New("profile not found")

// Profile is the identity record of one chat user.
// ID is assigned by the store and ExternalID is the transport identity;
// both are immutable once created.
type Profile struct {
	ID          int64     `json:"id"`
	ExternalID  int64     `json:"external_id"`
	DisplayName string    `json:"display_name"`
	Interests   []string  `json:"interests"`
	Goals       []string  `json:"goals"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers never share the backing arrays.
func (p Profile) Clone() Profile {
	out := p
	out.Interests = cloneSeq(p.Interests)
	out.Goals = cloneSeq(p.Goals)
	return out
}

// Persisted reports whether the profile has a store-assigned ID.
func (p Profile) Persisted() bool { return p.ID != 0 }

func cloneSeq(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}
