// Package identity defines the signed-in principal as reported by the
// external identity service. The local system never creates identities on
// its own; it only keeps read-only references handed out by the service.
package identity

import "time"

// Identity represents a signed-in principal.
type Identity struct {
	// ID is the identifier assigned by the identity service.
	ID string

	// Email is the identifier the account was registered and signs in with.
	Email string

	CreatedAt time.Time
}
