// Package auth is the facade the rest of the application uses to register,
// sign in and sign out. Every operation forwards to the external identity
// service; registration additionally provisions the profile record in the
// document store. The facade never touches the session state itself: the
// session holder picks the change up from the identity service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/patric-chuzhbe/sessionauth/internal/identity"
	"github.com/patric-chuzhbe/sessionauth/internal/logger"
	"github.com/patric-chuzhbe/sessionauth/internal/models"
)

type identityService interface {
	CreateAccount(ctx context.Context, identifier, secret string) (*identity.Identity, error)
	SignIn(ctx context.Context, identifier, secret string) (*identity.Identity, error)
	SignOut(ctx context.Context) error
}

type accountRemover interface {
	DeleteAccount(ctx context.Context, identityID string) error
}

type documentStore interface {
	SetDocument(ctx context.Context, collection, key string, body any) error
}

// ProvisioningMode selects how Register orders account creation and profile
// provisioning.
type ProvisioningMode int

const (
	// ProvisioningSequenced creates the profile only once the account exists.
	ProvisioningSequenced ProvisioningMode = iota

	// ProvisioningConcurrent issues both requests at once, regardless of
	// each other's outcome, and reports every failure.
	ProvisioningConcurrent
)

var (
	ErrAccountCreation     = errors.New("account creation failed")
	ErrProfileProvisioning = errors.New("profile provisioning failed")
	ErrCompensation        = errors.New("removing the account after failed provisioning failed")
)

// Auth is the authentication facade.
type Auth struct {
	identities identityService
	documents  documentStore

	mode       ProvisioningMode
	compensate bool
}

type Option func(*Auth)

func WithProvisioningMode(mode ProvisioningMode) Option {
	return func(a *Auth) {
		a.mode = mode
	}
}

// WithCompensation makes a sequenced Register delete the freshly created
// account when its profile cannot be written. It needs an identity service
// that can delete accounts.
func WithCompensation(enabled bool) Option {
	return func(a *Auth) {
		a.compensate = enabled
	}
}

func New(identities identityService, documents documentStore, opts ...Option) *Auth {
	a := &Auth{
		identities: identities,
		documents:  documents,
		mode:       ProvisioningSequenced,
	}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Authenticate signs identifier in. The identity service's result is
// returned as is.
func (a *Auth) Authenticate(ctx context.Context, identifier, secret string) (*identity.Identity, error) {
	return a.identities.SignIn(ctx, identifier, secret)
}

// Deauthenticate signs the current identity out. The identity service's
// result is returned as is.
func (a *Auth) Deauthenticate(ctx context.Context) error {
	return a.identities.SignOut(ctx)
}

// Register creates an account for identifier and its profile record
// users/<identifier> with an empty saved items list.
//
// Errors wrap ErrAccountCreation or ErrProfileProvisioning; the identity
// service and document store errors stay reachable through errors.Is. When
// the account was created but its profile was not, the identity is returned
// along with the error unless compensation removed the account.
func (a *Auth) Register(ctx context.Context, identifier, secret string) (*identity.Identity, error) {
	if a.mode == ProvisioningConcurrent {
		return a.registerConcurrently(ctx, identifier, secret)
	}

	return a.registerSequentially(ctx, identifier, secret)
}

func (a *Auth) registerSequentially(ctx context.Context, identifier, secret string) (*identity.Identity, error) {
	created, err := a.identities.CreateAccount(ctx, identifier, secret)
	if err != nil {
		logger.Log.Debugln("Error calling the `a.identities.CreateAccount()`: ", err)
		return nil, fmt.Errorf("%w: %w", ErrAccountCreation, err)
	}

	err = a.provisionProfile(ctx, identifier)
	if err == nil {
		return created, nil
	}

	if !a.compensate {
		return created, err
	}

	remover, ok := a.identities.(accountRemover)
	if !ok {
		return created, multierr.Append(err, fmt.Errorf("%w: identity service cannot delete accounts", ErrCompensation))
	}
	if removeErr := remover.DeleteAccount(ctx, created.ID); removeErr != nil {
		logger.Log.Debugln("Error calling the `remover.DeleteAccount()`: ", removeErr)
		return created, multierr.Append(err, fmt.Errorf("%w: %w", ErrCompensation, removeErr))
	}
	logger.Log.Infoln("removed account after failed profile provisioning", "identity", created.ID)

	return nil, err
}

func (a *Auth) registerConcurrently(ctx context.Context, identifier, secret string) (*identity.Identity, error) {
	var (
		wg         sync.WaitGroup
		created    *identity.Identity
		accountErr error
		profileErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		created, accountErr = a.identities.CreateAccount(ctx, identifier, secret)
		if accountErr != nil {
			logger.Log.Debugln("Error calling the `a.identities.CreateAccount()`: ", accountErr)
			accountErr = fmt.Errorf("%w: %w", ErrAccountCreation, accountErr)
		}
	}()
	go func() {
		defer wg.Done()
		profileErr = a.provisionProfile(ctx, identifier)
	}()
	wg.Wait()

	return created, multierr.Combine(accountErr, profileErr)
}

func (a *Auth) provisionProfile(ctx context.Context, identifier string) error {
	err := a.documents.SetDocument(ctx, models.UsersCollection, identifier, models.NewProfile())
	if err != nil {
		logger.Log.Debugln("Error calling the `a.documents.SetDocument()`: ", err)
		return fmt.Errorf("%w: %w", ErrProfileProvisioning, err)
	}

	return nil
}
