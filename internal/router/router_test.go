package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/sessionauth/internal/auth"
	"github.com/patric-chuzhbe/sessionauth/internal/db/memorystorage"
	"github.com/patric-chuzhbe/sessionauth/internal/guard"
	"github.com/patric-chuzhbe/sessionauth/internal/identity"
	"github.com/patric-chuzhbe/sessionauth/internal/identityservice"
	"github.com/patric-chuzhbe/sessionauth/internal/identityservice/memoryidp"
	"github.com/patric-chuzhbe/sessionauth/internal/ipchecker"
	"github.com/patric-chuzhbe/sessionauth/internal/mockstorage"
	"github.com/patric-chuzhbe/sessionauth/internal/models"
	"github.com/patric-chuzhbe/sessionauth/internal/session"
)

type testStack struct {
	server   *httptest.Server
	client   *resty.Client
	holder   *session.Holder
	storage  *memorystorage.MemoryStorage
	provider *memoryidp.Provider
}

type setupOption func(*setupOptions)

type setupOptions struct {
	trustedSubnet string
	authOptions   []auth.Option
}

func withTrustedSubnet(subnet string) setupOption {
	return func(options *setupOptions) {
		options.trustedSubnet = subnet
	}
}

func withAuthOptions(opts ...auth.Option) setupOption {
	return func(options *setupOptions) {
		options.authOptions = append(options.authOptions, opts...)
	}
}

func setupTestRouter(t *testing.T, opts ...setupOption) *testStack {
	t.Helper()

	options := &setupOptions{}
	for _, opt := range opts {
		opt(options)
	}

	provider := memoryidp.New([]byte("router-test-key"), time.Hour)
	storage, err := memorystorage.New()
	require.NoError(t, err)
	holder := session.New(provider)
	t.Cleanup(holder.Close)

	checker, err := ipchecker.New(options.trustedSubnet)
	require.NoError(t, err)

	router := New(
		auth.New(provider, storage, options.authOptions...),
		holder,
		guard.New(holder),
		checker,
		storage,
	)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	client := resty.New().
		SetBaseURL(server.URL).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}))

	return &testStack{
		server:   server,
		client:   client,
		holder:   holder,
		storage:  storage,
		provider: provider,
	}
}

func credentials(email, password string) models.CredentialsRequest {
	return models.CredentialsRequest{Email: email, Password: password}
}

func TestGetRoot(t *testing.T) {
	stack := setupTestRouter(t)

	resp, err := stack.client.R().Get("/")

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "sessionauth", resp.String())
}

func TestGetPing(t *testing.T) {
	stack := setupTestRouter(t)

	resp, err := stack.client.R().Get("/ping")

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
}

func TestSessionLifecycle(t *testing.T) {
	stack := setupTestRouter(t)

	var before models.SessionResponse
	resp, err := stack.client.R().SetResult(&before).Get("/api/session")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "signed_out", before.Status)
	assert.Nil(t, before.Identity)

	resp, err = stack.client.R().Get("/api/account")
	require.NoError(t, err)
	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode())
	assert.Equal(t, "/", resp.Header().Get("Location"))

	var created models.IdentityResponse
	resp, err = stack.client.R().
		SetBody(credentials("b@x.com", "secret-pw")).
		SetResult(&created).
		Post("/api/signup")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode())
	assert.Equal(t, "b@x.com", created.Email)
	assert.NotEmpty(t, created.ID)

	var profile models.Profile
	found, err := stack.storage.GetDocument(context.Background(), models.UsersCollection, "b@x.com", &profile)
	require.NoError(t, err)
	require.True(t, found)
	assert.NotNil(t, profile.SavedItems)
	assert.Empty(t, profile.SavedItems)

	var after models.SessionResponse
	_, err = stack.client.R().SetResult(&after).Get("/api/session")
	require.NoError(t, err)
	assert.Equal(t, "signed_in", after.Status)
	assert.Greater(t, after.Version, before.Version)
	require.NotNil(t, after.Identity)
	assert.Equal(t, created.ID, after.Identity.ID)

	var account models.IdentityResponse
	resp, err = stack.client.R().SetResult(&account).Get("/api/account")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, created, account)

	resp, err = stack.client.R().Post("/api/logout")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode())
	assert.False(t, stack.holder.Current().Present())

	var signedIn models.IdentityResponse
	resp, err = stack.client.R().
		SetBody(credentials("b@x.com", "secret-pw")).
		SetResult(&signedIn).
		Post("/api/login")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, created.ID, signedIn.ID)
}

func TestPostSignupErrors(t *testing.T) {
	stack := setupTestRouter(t)

	_, err := stack.client.R().SetBody(credentials("taken@x.com", "secret-pw")).Post("/api/signup")
	require.NoError(t, err)

	tests := []struct {
		name string
		body any
		code int
	}{
		{name: "malformed body", body: `{"email":`, code: http.StatusBadRequest},
		{name: "missing password", body: credentials("c@x.com", ""), code: http.StatusBadRequest},
		{name: "weak secret", body: credentials("c@x.com", "pw"), code: http.StatusBadRequest},
		{name: "account exists", body: credentials("taken@x.com", "secret-pw"), code: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body models.ErrorResponse
			resp, err := stack.client.R().
				SetHeader("Content-Type", "application/json").
				SetBody(tt.body).
				SetError(&body).
				Post("/api/signup")

			require.NoError(t, err)
			assert.Equal(t, tt.code, resp.StatusCode())
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestPostSignupConcurrentProvisioning(t *testing.T) {
	stack := setupTestRouter(t, withAuthOptions(auth.WithProvisioningMode(auth.ProvisioningConcurrent)))

	resp, err := stack.client.R().SetBody(credentials("d@x.com", "secret-pw")).Post("/api/signup")

	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode())
	assert.NotEmpty(t, stack.provider.SessionToken())

	found, err := stack.storage.GetDocument(context.Background(), models.UsersCollection, "d@x.com", &models.Profile{})
	require.NoError(t, err)
	assert.True(t, found)
}

func TestPostLoginInvalidCredentials(t *testing.T) {
	stack := setupTestRouter(t)

	resp, err := stack.client.R().SetBody(credentials("nobody@x.com", "secret-pw")).Post("/api/login")

	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())
	assert.False(t, stack.holder.Current().Present())
}

func TestTrustedSubnet(t *testing.T) {
	stack := setupTestRouter(t, withTrustedSubnet("192.0.2.0/24"))

	resp, err := stack.client.R().Get("/api/session")

	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode())
}

type nopRestrictor struct{}

func (nopRestrictor) Restrict(h http.Handler) http.Handler {
	return h
}

func newMockedServer(t *testing.T, identities *mockstorage.IdentityServiceMock, documents *mockstorage.DocumentStoreMock) *resty.Client {
	t.Helper()

	holder := session.New(identities)
	t.Cleanup(holder.Close)

	server := httptest.NewServer(New(
		auth.New(identities, documents),
		holder,
		guard.New(holder),
		nopRestrictor{},
		documents,
	))
	t.Cleanup(server.Close)

	return resty.New().SetBaseURL(server.URL)
}

func TestStatusMapping(t *testing.T) {
	created := &identity.Identity{ID: "id-1", Email: "b@x.com"}

	tests := []struct {
		name      string
		path      string
		configure func(*mockstorage.IdentityServiceMock, *mockstorage.DocumentStoreMock)
		code      int
	}{
		{
			name: "signup with identity service down",
			path: "/api/signup",
			configure: func(identities *mockstorage.IdentityServiceMock, _ *mockstorage.DocumentStoreMock) {
				identities.On("CreateAccount", mock.Anything, "b@x.com", "secret-pw").
					Return(nil, identityservice.ErrUnavailable)
			},
			code: http.StatusServiceUnavailable,
		},
		{
			name: "signup rejected",
			path: "/api/signup",
			configure: func(identities *mockstorage.IdentityServiceMock, _ *mockstorage.DocumentStoreMock) {
				identities.On("CreateAccount", mock.Anything, "b@x.com", "secret-pw").
					Return(nil, identityservice.ErrRejected)
			},
			code: http.StatusBadRequest,
		},
		{
			name: "signup with failed profile",
			path: "/api/signup",
			configure: func(identities *mockstorage.IdentityServiceMock, documents *mockstorage.DocumentStoreMock) {
				identities.On("CreateAccount", mock.Anything, "b@x.com", "secret-pw").Return(created, nil)
				documents.On("SetDocument", mock.Anything, models.UsersCollection, "b@x.com", mock.Anything).
					Return(errors.New("disk full"))
			},
			code: http.StatusInternalServerError,
		},
		{
			name: "login with identity service down",
			path: "/api/login",
			configure: func(identities *mockstorage.IdentityServiceMock, _ *mockstorage.DocumentStoreMock) {
				identities.On("SignIn", mock.Anything, "b@x.com", "secret-pw").
					Return(nil, identityservice.ErrUnavailable)
			},
			code: http.StatusServiceUnavailable,
		},
		{
			name: "logout with identity service down",
			path: "/api/logout",
			configure: func(identities *mockstorage.IdentityServiceMock, _ *mockstorage.DocumentStoreMock) {
				identities.On("SignOut", mock.Anything).Return(identityservice.ErrUnavailable)
			},
			code: http.StatusServiceUnavailable,
		},
		{
			name: "logout failure",
			path: "/api/logout",
			configure: func(identities *mockstorage.IdentityServiceMock, _ *mockstorage.DocumentStoreMock) {
				identities.On("SignOut", mock.Anything).Return(errors.New("boom"))
			},
			code: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identities := &mockstorage.IdentityServiceMock{}
			documents := &mockstorage.DocumentStoreMock{}
			tt.configure(identities, documents)
			client := newMockedServer(t, identities, documents)

			resp, err := client.R().SetBody(credentials("b@x.com", "secret-pw")).Post(tt.path)

			require.NoError(t, err)
			assert.Equal(t, tt.code, resp.StatusCode())
			identities.AssertExpectations(t)
			documents.AssertExpectations(t)
		})
	}
}

func TestGetSessionReflectsNotifications(t *testing.T) {
	identities := &mockstorage.IdentityServiceMock{}
	documents := &mockstorage.DocumentStoreMock{}
	client := newMockedServer(t, identities, documents)

	var unknown models.SessionResponse
	_, err := client.R().SetResult(&unknown).Get("/api/session")
	require.NoError(t, err)
	assert.Equal(t, "unknown", unknown.Status)
	assert.Zero(t, unknown.Version)

	identities.Emit(&identity.Identity{ID: "id-7", Email: "a@x.com"})

	resp, err := client.R().Get("/api/session")
	require.NoError(t, err)
	var signedIn models.SessionResponse
	require.NoError(t, json.Unmarshal(resp.Body(), &signedIn))
	assert.Equal(t, "signed_in", signedIn.Status)
	assert.Equal(t, uint64(1), signedIn.Version)
	assert.Equal(t, "a@x.com", signedIn.Identity.Email)
}

func TestGetPingFailure(t *testing.T) {
	identities := &mockstorage.IdentityServiceMock{}
	documents := &mockstorage.DocumentStoreMock{}
	documents.On("Ping", mock.Anything).Return(errors.New("down"))
	client := newMockedServer(t, identities, documents)

	resp, err := client.R().Get("/ping")

	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode())
}

// signOutAfterFirstRead reports a signed-in session once and signed out on
// every later read.
type signOutAfterFirstRead struct {
	mu    sync.Mutex
	reads int
}

func (s *signOutAfterFirstRead) Current() session.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	if s.reads == 1 {
		return session.Snapshot{
			Status:   session.StatusSignedIn,
			Identity: &identity.Identity{ID: "id-9", Email: "a@x.com"},
			Version:  1,
		}
	}

	return session.Snapshot{Status: session.StatusSignedOut, Version: 2}
}

func TestGetAccountUsesAdmittedSnapshot(t *testing.T) {
	sessions := &signOutAfterFirstRead{}
	documents := &mockstorage.DocumentStoreMock{}
	server := httptest.NewServer(New(
		auth.New(&mockstorage.IdentityServiceMock{}, documents),
		sessions,
		guard.New(sessions),
		nopRestrictor{},
		documents,
	))
	defer server.Close()

	var account models.IdentityResponse
	resp, err := resty.New().R().SetResult(&account).Get(server.URL + "/api/account")

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, models.IdentityResponse{ID: "id-9", Email: "a@x.com"}, account)

	var after models.SessionResponse
	_, err = resty.New().R().SetResult(&after).Get(server.URL + "/api/session")
	require.NoError(t, err)
	assert.Equal(t, "signed_out", after.Status)
}

func TestGetAccountWithoutGuardRedirects(t *testing.T) {
	r := &Router{sessions: &signOutAfterFirstRead{}}

	rec := httptest.NewRecorder()
	r.GetAccount(rec, httptest.NewRequest(http.MethodGet, "/api/account", nil))

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}
