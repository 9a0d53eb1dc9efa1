// Package identity carries the authenticated caller through the request
// path. Authentication itself happens upstream (the hosted auth service the
// game client signs in against); this service trusts the identity it is
// handed and never verifies credentials on its own.
package identity

import "strings"

// FallbackName is the leaderboard label used when a player has no usable
// email address.
const FallbackName = "You"

// User is the identity collaborator's view of the current caller.
type User struct {
	ID            string
	Email         string
	EmailVerified bool
}

// Authenticated reports whether the user carries a stable identifier.
func (u User) Authenticated() bool {
	return u.ID != ""
}

// DisplayName derives the leaderboard label from the email local part,
// falling back to a fixed literal. Informational only; later batches
// overwrite it.
func (u User) DisplayName() string {
	if at := strings.Index(u.Email, "@"); at > 0 {
		return u.Email[:at]
	}
	return FallbackName
}
