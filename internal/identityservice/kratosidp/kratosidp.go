// Package kratosidp adapts Ory Kratos to the identity service contract used
// by the session holder and the auth facade. It drives the native (API)
// self-service flows with the password method and keeps the resulting
// session token in memory only.
package kratosidp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	kratos "github.com/ory/kratos-client-go"

	"github.com/patric-chuzhbe/sessionauth/internal/identity"
	"github.com/patric-chuzhbe/sessionauth/internal/identityservice"
)

const passwordMethod = "password"

// Kratos UI message IDs relevant to registration.
var (
	msgDuplicateIdentifier = []byte("4000007")
	msgPasswordPolicy      = []byte("4000005")
)

// Client talks to the Kratos public API and, when configured, the admin API.
type Client struct {
	*identityservice.Tracker

	frontend *kratos.APIClient
	admin    *kratos.APIClient

	// mu guards sessionToken; the lock order is mu, then the Tracker lock.
	mu           sync.Mutex
	sessionToken string
}

// New creates a client for the public API at publicURL. adminURL may be
// empty, in which case DeleteAccount is unavailable.
func New(publicURL, adminURL string, timeout time.Duration) *Client {
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	c := &Client{
		Tracker:  identityservice.NewTracker(),
		frontend: newAPIClient(publicURL, httpClient),
	}
	if adminURL != "" {
		c.admin = newAPIClient(adminURL, httpClient)
	}

	return c
}

func newAPIClient(baseURL string, httpClient *http.Client) *kratos.APIClient {
	configuration := kratos.NewConfiguration()
	configuration.Servers = []kratos.ServerConfiguration{
		{URL: baseURL},
	}
	configuration.HTTPClient = httpClient

	return kratos.NewAPIClient(configuration)
}

// CreateAccount runs a native registration flow. Kratos issues a session
// for the new identity, which becomes the signed-in identity.
func (c *Client) CreateAccount(ctx context.Context, identifier, secret string) (*identity.Identity, error) {
	flow, resp, err := c.frontend.FrontendAPI.CreateNativeRegistrationFlow(ctx).Execute()
	if err != nil {
		return nil, unavailable(resp, err)
	}

	body := kratos.UpdateRegistrationFlowBody{
		UpdateRegistrationFlowWithPasswordMethod: &kratos.UpdateRegistrationFlowWithPasswordMethod{
			Method:   passwordMethod,
			Password: secret,
			Traits:   map[string]interface{}{"email": identifier},
		},
	}
	result, resp, err := c.frontend.FrontendAPI.
		UpdateRegistrationFlow(ctx).
		Flow(flow.GetId()).
		UpdateRegistrationFlowBody(body).
		Execute()
	if err != nil {
		return nil, registrationError(resp, err)
	}

	kratosIdentity := result.GetIdentity()
	id := toIdentity(&kratosIdentity, identifier)
	if token := result.GetSessionToken(); token != "" {
		c.startSession(token, id)
	}

	return id, nil
}

// SignIn runs a native login flow with the password method.
func (c *Client) SignIn(ctx context.Context, identifier, secret string) (*identity.Identity, error) {
	flow, resp, err := c.frontend.FrontendAPI.CreateNativeLoginFlow(ctx).Execute()
	if err != nil {
		return nil, unavailable(resp, err)
	}

	body := kratos.UpdateLoginFlowBody{
		UpdateLoginFlowWithPasswordMethod: &kratos.UpdateLoginFlowWithPasswordMethod{
			Method:     passwordMethod,
			Identifier: identifier,
			Password:   secret,
		},
	}
	result, resp, err := c.frontend.FrontendAPI.
		UpdateLoginFlow(ctx).
		Flow(flow.GetId()).
		UpdateLoginFlowBody(body).
		Execute()
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized) {
			return nil, identityservice.ErrInvalidCredentials
		}
		return nil, unavailable(resp, err)
	}

	kratosSession := result.GetSession()
	kratosIdentity := kratosSession.GetIdentity()
	id := toIdentity(&kratosIdentity, identifier)
	c.startSession(result.GetSessionToken(), id)

	return id, nil
}

// SignOut revokes the current session token. Without a session it does
// nothing.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	token := c.sessionToken
	c.mu.Unlock()
	if token == "" {
		return nil
	}

	resp, err := c.frontend.FrontendAPI.
		PerformNativeLogout(ctx).
		PerformNativeLogoutBody(kratos.PerformNativeLogoutBody{SessionToken: token}).
		Execute()
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			// the token is already dead server-side
			c.endSession(token)
		}
		return unavailable(resp, err)
	}

	c.endSession(token)

	return nil
}

// Refresh asks Kratos whether the current session is still active and signs
// out locally when it is not.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	token := c.sessionToken
	c.mu.Unlock()
	if token == "" {
		return nil
	}

	kratosSession, resp, err := c.frontend.FrontendAPI.ToSession(ctx).XSessionToken(token).Execute()
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			c.endSession(token)
			return nil
		}
		return unavailable(resp, err)
	}

	if !kratosSession.GetActive() {
		c.endSession(token)
	}

	return nil
}

// DeleteAccount removes an identity through the admin API.
func (c *Client) DeleteAccount(ctx context.Context, identityID string) error {
	if c.admin == nil {
		return identityservice.ErrAdminNotConfigured
	}

	resp, err := c.admin.IdentityAPI.DeleteIdentity(ctx, identityID).Execute()
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return identityservice.ErrAccountNotFound
		}
		return unavailable(resp, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if current := c.Current(); current != nil && current.ID == identityID && c.sessionToken != "" {
		c.sessionToken = ""
		c.Set(nil)
	}

	return nil
}

// startSession and endSession publish while holding c.mu, so the token and
// the published identity always change together.
func (c *Client) startSession(token string, id *identity.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessionToken = token
	c.Set(id)
}

func (c *Client) endSession(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// a newer session replaced the one being ended
	if token == "" || c.sessionToken != token {
		return
	}
	c.sessionToken = ""
	c.Set(nil)
}

func toIdentity(kratosIdentity *kratos.Identity, fallbackEmail string) *identity.Identity {
	email := fallbackEmail
	if traits, ok := kratosIdentity.GetTraits().(map[string]interface{}); ok {
		if value, ok := traits["email"].(string); ok && value != "" {
			email = value
		}
	}

	return &identity.Identity{
		ID:        kratosIdentity.GetId(),
		Email:     email,
		CreatedAt: kratosIdentity.GetCreatedAt(),
	}
}

func registrationError(resp *http.Response, err error) error {
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		return unavailable(resp, err)
	}

	body := errorBody(err)
	switch {
	case bytes.Contains(body, msgDuplicateIdentifier):
		return identityservice.ErrAccountExists
	case bytes.Contains(body, msgPasswordPolicy):
		return identityservice.ErrWeakSecret
	default:
		return fmt.Errorf("%w: %w", identityservice.ErrRejected, err)
	}
}

func unavailable(resp *http.Response, err error) error {
	if resp != nil {
		return fmt.Errorf("%w: kratos returned status %d: %w", identityservice.ErrUnavailable, resp.StatusCode, err)
	}

	return fmt.Errorf("%w: %w", identityservice.ErrUnavailable, err)
}

func errorBody(err error) []byte {
	var apiErr *kratos.GenericOpenAPIError
	if errors.As(err, &apiErr) {
		return apiErr.Body()
	}

	return nil
}
