// Package memoryidp is an in-process identity service. Secrets are bcrypt
// hashed and signed-in sessions are represented by HS256 tokens, so expiry
// and revocation behave like they do against a real provider.
package memoryidp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/patric-chuzhbe/sessionauth/internal/identity"
	"github.com/patric-chuzhbe/sessionauth/internal/identityservice"
)

// MinSecretLength is the shortest secret CreateAccount accepts.
const MinSecretLength = 6

type account struct {
	identity   *identity.Identity
	secretHash []byte
}

// Claims are the claims of a session token.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Provider is the in-memory identity service.
type Provider struct {
	*identityservice.Tracker

	// mu guards accounts and sessionToken. Tracker.Set is called with mu
	// held; the lock order is mu, then the Tracker lock.
	mu           sync.Mutex
	accounts     map[string]*account
	sessionToken string

	signingKey []byte
	tokenTTL   time.Duration
	now        func() time.Time
}

type Option func(*Provider)

// WithClock overrides the time source used for token issuing and checks.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

func New(signingKey []byte, tokenTTL time.Duration, opts ...Option) *Provider {
	p := &Provider{
		Tracker:    identityservice.NewTracker(),
		accounts:   map[string]*account{},
		signingKey: signingKey,
		tokenTTL:   tokenTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// CreateAccount registers identifier and signs the new account in.
func (p *Provider) CreateAccount(ctx context.Context, identifier, secret string) (*identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(secret) < MinSecretLength {
		return nil, identityservice.ErrWeakSecret
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("in internal/identityservice/memoryidp/memoryidp.go/CreateAccount(): error while `bcrypt.GenerateFromPassword()` calling: %w", err)
	}

	p.mu.Lock()
	if _, exists := p.accounts[identifier]; exists {
		p.mu.Unlock()
		return nil, identityservice.ErrAccountExists
	}
	id := &identity.Identity{
		ID:        uuid.New().String(),
		Email:     identifier,
		CreatedAt: p.now(),
	}
	p.accounts[identifier] = &account{identity: id, secretHash: hash}
	p.mu.Unlock()

	if err := p.startSession(id); err != nil {
		return nil, err
	}

	return id, nil
}

// SignIn checks the secret and makes the account the signed-in identity.
func (p *Provider) SignIn(ctx context.Context, identifier, secret string) (*identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	acc, ok := p.accounts[identifier]
	p.mu.Unlock()
	if !ok {
		return nil, identityservice.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(acc.secretHash, []byte(secret)); err != nil {
		return nil, identityservice.ErrInvalidCredentials
	}

	if err := p.startSession(acc.identity); err != nil {
		return nil, err
	}

	return acc.identity, nil
}

// SignOut ends the current session. Signing out without a session is a no-op.
func (p *Provider) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.endSessionLocked()

	return nil
}

// Refresh verifies the current session token and signs out when it is no
// longer valid.
func (p *Provider) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	token := p.sessionToken
	p.mu.Unlock()
	if token == "" {
		return nil
	}

	if _, err := p.verify(token); err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()

		// a newer session may have replaced the one just checked
		if p.sessionToken == token {
			p.endSessionLocked()
		}
	}

	return nil
}

// DeleteAccount removes the account with the given identity ID.
func (p *Provider) DeleteAccount(ctx context.Context, identityID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var found string
	for key, acc := range p.accounts {
		if acc.identity.ID == identityID {
			found = key
			break
		}
	}
	if found == "" {
		return identityservice.ErrAccountNotFound
	}
	delete(p.accounts, found)

	if current := p.Current(); current != nil && current.ID == identityID {
		p.endSessionLocked()
	}

	return nil
}

// SessionToken returns the token of the current session, if any.
func (p *Provider) SessionToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.sessionToken
}

func (p *Provider) startSession(id *identity.Identity) error {
	now := p.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.tokenTTL)),
		},
		Email: id.Email,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey)
	if err != nil {
		return fmt.Errorf("in internal/identityservice/memoryidp/memoryidp.go/startSession(): error while `SignedString()` calling: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.sessionToken = token
	p.Set(id)

	return nil
}

// endSessionLocked clears the session and notifies. p.mu must be held, so the
// token and the published identity change together.
func (p *Provider) endSessionLocked() {
	if p.sessionToken == "" {
		return
	}
	p.sessionToken = ""
	p.Set(nil)
}

func (p *Provider) verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	// expiry is checked against p.now below
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return p.signingKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("session token is not valid")
	}
	if !claims.VerifyExpiresAt(p.now(), true) {
		return nil, errors.New("session token expired")
	}

	return claims, nil
}
