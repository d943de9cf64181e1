package models

// UsersCollection is the document store collection holding profile records.
const UsersCollection = "users"

// Profile is the per-identity document created at registration time.
type Profile struct {
	SavedItems []string `json:"savedItems"`
}

// NewProfile returns a profile with an empty, non-nil saved items list so it
// is stored as {"savedItems":[]}.
func NewProfile() Profile {
	return Profile{SavedItems: []string{}}
}

type CredentialsRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type IdentityResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type SessionResponse struct {
	Status   string            `json:"status"`
	Version  uint64            `json:"version"`
	Identity *IdentityResponse `json:"identity,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	StorageTypeUnknown = iota
	StorageTypePostgresql
	StorageTypeFile
	StorageTypeMemory
)

const (
	IdentityProviderMemory = "memory"
	IdentityProviderKratos = "kratos"
)

const (
	ProvisioningSequenced  = "sequenced"
	ProvisioningConcurrent = "concurrent"
)
